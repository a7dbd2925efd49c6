package metadata

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// A metadata group (MG) bundle carries a run of MD/!D bundles as a single
// envelope, optionally gzip-compressed contains an optional compressed list
// of MD/!D items", used when shipping query results over a byte query
// channel). The group payload starts with a one-byte compression flag.
const (
	groupFlagPlain      = 0
	groupFlagCompressed = 1
)

// WriteGroup writes an MG envelope wrapping items (paired with deleted
// flags, same length) to w. compress selects whether the inner stream is
// gzipped, which byte queries use to cut transfer size for large result
// sets.
func WriteGroup(w io.Writer, items []*Metadata, deletedFlags []bool, compress bool) error {
	if len(items) != len(deletedFlags) {
		return fmt.Errorf("metadata: WriteGroup: %d items but %d deleted flags", len(items), len(deletedFlags))
	}
	var body []byte
	for i, md := range items {
		if deletedFlags[i] {
			body = append(body, md.EncodeDeleted()...)
		} else {
			body = append(body, md.Encode()...)
		}
	}

	var payload []byte
	if compress {
		var gz bytes.Buffer
		zw := gzip.NewWriter(&gz)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("metadata: WriteGroup: gzip write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("metadata: WriteGroup: gzip close: %w", err)
		}
		payload = append([]byte{groupFlagCompressed}, gz.Bytes()...)
	} else {
		payload = append([]byte{groupFlagPlain}, body...)
	}

	_, err := w.Write(codec.EncodeBundle(codec.TagGroup, 0, payload))
	return err
}

// ReadGroup decodes the payload of an MG bundle (as returned in
// codec.Bundle.Payload once the caller has already peeled off the MG
// envelope with codec.ReadBundle), invoking callback for each MD/!D item in
// order. origin supplies the BaseDir for any BLOB source inside, same as
// Read. Iteration stops at the first callback error or decode failure.
func ReadGroup(payload []byte, origin string, callback func(md *Metadata, deleted bool) error) error {
	if len(payload) == 0 {
		return fmt.Errorf("metadata: ReadGroup: %w: empty group payload", errs.ErrMalformedInput)
	}
	flag, body := payload[0], payload[1:]

	switch flag {
	case groupFlagPlain:
		// body is used as-is.
	case groupFlagCompressed:
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("metadata: ReadGroup: gzip reader: %w", err)
		}
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("metadata: ReadGroup: gzip read: %w", err)
		}
		if err := zr.Close(); err != nil {
			return fmt.Errorf("metadata: ReadGroup: gzip close: %w", err)
		}
		body = decompressed
	default:
		return fmt.Errorf("metadata: ReadGroup: %w: unknown group flag %d", errs.ErrMalformedInput, flag)
	}

	for len(body) > 0 {
		md, deleted, rest, err := ReadOne(body, origin)
		if err != nil {
			return fmt.Errorf("metadata: ReadGroup: %w", err)
		}
		body = rest
		if err := callback(md, deleted); err != nil {
			return err
		}
	}
	return nil
}
