package dataset

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/scanner"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
)

// QueryData implements query.Reader: prune segments through the manifest (or
// the step's path mapping for iseg), evaluate the indexable predicate in
// SQL, filter residuals in memory, and stream matches in offset order — or
// through a sort buffer when the query carries a sorter.
func (d *Dataset) QueryData(ctx context.Context, q query.DataQuery, consumer func(*metadata.Metadata) error) error {
	switch d.cfg.Type {
	case TypeDiscard:
		return nil
	case TypeOutbound:
		return fmt.Errorf("dataset: %w: outbound datasets are write-only", errs.ErrConfigError)
	case TypeFile:
		return d.queryFile(q, consumer)
	case TypeRemote:
		return d.queryRemote(ctx, q, consumer)
	}

	release, err := d.locks.AcquireRead()
	if err != nil {
		return err
	}
	defer release()

	emit := consumer
	if q.WithData {
		emit = func(md *metadata.Metadata) error {
			buf, err := query.Inline(md, d.reader)
			if err != nil {
				return err
			}
			md.SetInlineData(buf)
			return consumer(md)
		}
	}
	var sink func(*metadata.Metadata) error
	var flush func() error
	if q.Sorter != nil {
		sb := query.NewSortBuffer(q.Sorter, emit)
		sink, flush = sb.Add, sb.Flush
	} else {
		sink, flush = emit, func() error { return nil }
	}

	segments, err := d.prunedSegments(q.Matcher)
	if err != nil {
		return err
	}
	for _, relpath := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.querySegment(relpath, q.Matcher, sink); err != nil {
			return err
		}
	}
	return flush()
}

// prunedSegments lists segments that could hold a match: manifest entries
// filtered by their recorded reftime span, or — without a manifest —
// filesystem segments filtered by the span their path implies.
func (d *Dataset) prunedSegments(m *matcher.Matcher) ([]string, error) {
	if d.manifest != nil {
		entries, err := d.manifest.Entries()
		if err != nil {
			return nil, err
		}
		var out []string
		for _, e := range entries {
			if m.MatchInterval(e.MinReftime, e.MaxReftime) {
				out = append(out, e.RelPath)
			}
		}
		return out, nil
	}
	all, err := d.Segments()
	if err != nil {
		return nil, err
	}
	if m.Empty() {
		return all, nil
	}
	var out []string
	for _, relpath := range all {
		if d.stepit.PathMatches(relpath, m) {
			out = append(out, relpath)
		}
	}
	return out, nil
}

func (d *Dataset) querySegment(relpath string, m *matcher.Matcher, sink func(*metadata.Metadata) error) error {
	items, deleted, err := segment.ReadSidecar(d.cfg.Path, relpath)
	if err != nil {
		return err
	}

	if d.cfg.Type == TypeIseg || d.cfg.Type == TypeOndisk2 {
		return d.queryIsegSegment(relpath, m, items, deleted, sink)
	}

	for i, md := range items {
		if deleted[i] {
			continue
		}
		if m.Match(md) {
			if err := sink(md); err != nil {
				return err
			}
		}
	}
	return nil
}

// queryIsegSegment evaluates the indexable part in SQL against the segment's
// own index and the residual in memory, resolving each hit to the sidecar
// record at the same offset.
func (d *Dataset) queryIsegSegment(relpath string, m *matcher.Matcher, items []*metadata.Metadata, deleted []bool, sink func(*metadata.Metadata) error) error {
	idx, err := d.segmentIndex(relpath)
	if err != nil {
		return err
	}
	where, args, residual, err := query.BuildSegmentWhere(m, idx, d.cfg.IndexCodes)
	if err != nil {
		return err
	}
	rows, err := idx.Query(where, args)
	if err != nil {
		return err
	}

	byOffset := make(map[int64]*metadata.Metadata, len(items))
	for i, md := range items {
		if deleted[i] {
			continue
		}
		if src, ok := md.Source(); ok {
			byOffset[src.Offset] = md
		}
	}

	for _, row := range rows {
		md, ok := byOffset[row.Offset]
		if !ok {
			d.log.Warn("index row has no sidecar record",
				zap.String("dataset", d.cfg.Name),
				zap.String("segment", relpath),
				zap.Int64("offset", row.Offset))
			continue
		}
		if residual.Match(md) {
			if err := sink(md); err != nil {
				return err
			}
		}
	}
	return nil
}

// queryFile serves the `file` dataset type: a bare file queried in place,
// scanned on every query.
func (d *Dataset) queryFile(q query.DataQuery, consumer func(*metadata.Metadata) error) error {
	dir := filepath.Dir(d.cfg.Path)
	rel := filepath.Base(d.cfg.Path)
	handled, err := scanner.Scan(d.cfg.Path, dir, rel, func(md *metadata.Metadata) error {
		if !q.Matcher.Match(md) {
			return nil
		}
		if q.WithData {
			buf, err := query.Inline(md, segment.NewReader())
			if err != nil {
				return err
			}
			md.SetInlineData(buf)
		}
		return consumer(md)
	}, d.cfg.Format)
	if err != nil {
		return err
	}
	if !handled {
		return fmt.Errorf("dataset: %w: no scanner for %q", errs.ErrConfigError, d.cfg.Path)
	}
	return nil
}

// QuerySummary implements query.Reader: filter the dataset summary by the
// predicate, rebuilding the caches when they are missing.
func (d *Dataset) QuerySummary(ctx context.Context, m *matcher.Matcher) (*summary.Summary, error) {
	switch d.cfg.Type {
	case TypeDiscard:
		return summary.New(), nil
	case TypeOutbound:
		return nil, fmt.Errorf("dataset: %w: outbound datasets are write-only", errs.ErrConfigError)
	case TypeFile, TypeRemote:
		return d.summarize(ctx, m)
	}

	release, err := d.locks.AcquireRead()
	if err != nil {
		return nil, err
	}
	defer release()

	whole, ok := d.cache.LoadDataset()
	if !ok {
		whole, err = d.RebuildSummaries()
		if err != nil {
			return nil, err
		}
	}
	out := summary.New()
	whole.Filter(m, out)
	return out, nil
}

// summarize is the fallback summary path for dataset types with no caches:
// run the data query and aggregate.
func (d *Dataset) summarize(ctx context.Context, m *matcher.Matcher) (*summary.Summary, error) {
	s := summary.New()
	err := d.QueryData(ctx, query.DataQuery{Matcher: m}, func(md *metadata.Metadata) error {
		size := int64(0)
		if src, ok := md.Source(); ok {
			size = src.Size
			if src.Style() == "INLINE" {
				size = src.InlineSize
			}
		}
		return s.Add(md, size)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RebuildSummaries recomputes the whole-dataset and per-month summary caches
// from the segment sidecars, storing per-segment `.summary` sidecars along
// the way. Segment failures are collected rather than aborting the rebuild.
func (d *Dataset) RebuildSummaries() (*summary.Summary, error) {
	segments, err := d.Segments()
	if err != nil {
		return nil, err
	}
	whole := summary.New()
	months := make(map[[2]uint16]*summary.Summary)
	var failures error

	for _, relpath := range segments {
		items, deleted, err := segment.ReadSidecar(d.cfg.Path, relpath)
		if err != nil {
			failures = multierr.Append(failures, fmt.Errorf("segment %s: %w", relpath, err))
			continue
		}
		segSum := summary.New()
		for i, md := range items {
			if deleted[i] {
				continue
			}
			size := int64(0)
			if src, ok := md.Source(); ok {
				size = src.Size
				if src.Style() == "INLINE" {
					size = src.InlineSize
				}
			}
			if err := segSum.Add(md, size); err != nil {
				failures = multierr.Append(failures, fmt.Errorf("segment %s: %w", relpath, err))
				continue
			}
			rt, _ := md.Reftime()
			key := [2]uint16{rt.Min().Year, uint16(rt.Min().Month)}
			ms, ok := months[key]
			if !ok {
				ms = summary.New()
				months[key] = ms
			}
			_ = ms.Add(md, size)
		}
		if err := summary.StoreSegment(d.cfg.Path, relpath, segSum); err != nil {
			failures = multierr.Append(failures, err)
		}
		whole.Merge(segSum)
	}

	if err := d.cache.StoreDataset(whole); err != nil {
		failures = multierr.Append(failures, err)
	}
	for key, ms := range months {
		if err := d.cache.StoreMonth(key[0], uint8(key[1]), ms); err != nil {
			failures = multierr.Append(failures, err)
		}
	}
	if failures != nil {
		d.log.Warn("summary rebuild had failures", zap.String("dataset", d.cfg.Name), zap.Error(failures))
	}
	return whole, nil
}
