package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
)

// queryRemote serves the `remote` dataset type: the configured path is the
// URL of the real dataset on an arki-server (`<server>/dataset/<name>`), and
// a data query becomes a GET against `<path>/query`. The response is a plain MD
// stream; with data requested, payloads arrive inline after each record.
func (d *Dataset) queryRemote(ctx context.Context, q query.DataQuery, consumer func(*metadata.Metadata) error) error {
	u, err := url.Parse(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("dataset: %w: remote url %q: %v", errs.ErrConfigError, d.cfg.Path, err)
	}
	u = u.JoinPath("query")
	values := u.Query()
	if q.Matcher != nil && !q.Matcher.Empty() {
		values.Set("matcher", q.Matcher.String())
	}
	if q.WithData {
		values.Set("data", "1")
	}
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("dataset: %w: remote query %s: %v", errs.ErrDataUnavailable, u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dataset: %w: remote query %s: HTTP %d", errs.ErrDataUnavailable, u, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dataset: read remote response: %w", err)
	}
	items, deleted, err := metadata.ReadAll(body, d.cfg.Path)
	if err != nil {
		return err
	}
	for i, md := range items {
		if deleted[i] {
			continue
		}
		if err := consumer(md); err != nil {
			return err
		}
	}
	return nil
}
