package dataset

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/index"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/scanner"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Outcome is the result of Acquire: OK, a duplicate the caller may reroute,
// or a failure the caller routes to `error`.
type Outcome int

const (
	AcquireOK Outcome = iota
	AcquireDuplicate
	AcquireError
)

func (o Outcome) String() string {
	switch o {
	case AcquireOK:
		return "ok"
	case AcquireDuplicate:
		return "duplicate"
	case AcquireError:
		return "error"
	}
	return "unknown"
}

// savedState remembers the attributes Acquire mutates so a failed acquire
// can restore them exactly — including removing an assigned-dataset the
// metadata never had.
type savedState struct {
	src    types.Item
	hadSrc bool
	ads    types.Item
	hadAds bool
}

func save(md *metadata.Metadata) savedState {
	var s savedState
	s.src, s.hadSrc = md.Get(types.CodeSource)
	s.ads, s.hadAds = md.Get(types.CodeAssignedDataset)
	return s
}

func (s savedState) restore(md *metadata.Metadata) {
	if s.hadSrc {
		md.Set(s.src)
	} else {
		md.Unset(types.CodeSource)
	}
	if s.hadAds {
		md.Set(s.ads)
	} else {
		md.Unset(types.CodeAssignedDataset)
	}
}

// PackFlagPath is the per-segment flag created when a replace leaves a
// superseded record behind: the segment holds dead bytes until the next
// repack.
func PackFlagPath(root, relpath string) string {
	return root + "/" + relpath + ".needs-pack"
}

// Acquire routes one message into this dataset. On success the metadata's
// source points at the stored location and assigned-dataset names this
// dataset; on failure the metadata is restored, annotated, and the outcome
// tells the dispatcher where to try next.
func (d *Dataset) Acquire(ctx context.Context, md *metadata.Metadata, data []byte) (Outcome, error) {
	switch d.cfg.Type {
	case TypeDiscard:
		return AcquireOK, nil
	case TypeRemote, TypeFile:
		return d.fail(md, save(md), fmt.Errorf("dataset: %w: %s datasets are read-only", errs.ErrConfigError, d.cfg.Type))
	}

	saved := save(md)
	if err := scanner.Validate(d.cfg.Format, data); err != nil {
		return d.fail(md, saved, err)
	}

	relpath, err := d.target.PathOf(md)
	if err != nil {
		return d.fail(md, saved, err)
	}

	if d.cfg.Type == TypeOutbound {
		// Bytes only: no index, no sidecar, no summaries.
		if err := d.appendBytes(relpath, md, data); err != nil {
			return d.fail(md, saved, err)
		}
		return AcquireOK, nil
	}

	ctx, release, err := d.locks.AcquireAppend(ctx)
	if err != nil {
		return d.fail(md, saved, err)
	}
	defer release()

	if d.cfg.Smallfiles {
		return d.acquireSmallfile(md, saved, relpath, data)
	}

	w, err := d.segmentWriter(relpath)
	if err != nil {
		return d.fail(md, saved, err)
	}
	p, err := w.BeginAppend()
	if err != nil {
		return d.fail(md, saved, err)
	}
	if err := w.Append(p, md, data); err != nil {
		_ = w.Rollback(p)
		return d.fail(md, saved, err)
	}

	outcome, err := d.finishAppend(md, relpath, int64(len(data)))
	if err != nil {
		_ = w.Rollback(p)
		if outcome == AcquireDuplicate {
			saved.restore(md)
			md.AddNote(now(), fmt.Sprintf("duplicate of an existing record in dataset %s", d.cfg.Name))
			return AcquireDuplicate, err
		}
		return d.fail(md, saved, err)
	}
	if err := w.Commit(p); err != nil {
		return d.fail(md, saved, err)
	}
	return AcquireOK, nil
}

// finishAppend runs the index insert and sidecar/summary/manifest upkeep
// inside the surrounding append transaction: the bytes are on disk but the
// Pending is still open, so any failure here truncates them away.
func (d *Dataset) finishAppend(md *metadata.Metadata, relpath string, size int64) (Outcome, error) {
	src, _ := md.Source()
	rt, ok := md.Reftime()
	if !ok {
		return AcquireError, fmt.Errorf("dataset: %w: metadata has no reftime", errs.ErrMalformedInput)
	}

	uniqueKey := ""
	if len(d.cfg.UniqueCodes) > 0 {
		uniqueKey = md.UniqueKey(d.cfg.UniqueCodes)
	}

	replacedOffset := int64(-1)
	var idx *index.Segment
	if d.cfg.Type == TypeIseg || d.cfg.Type == TypeOndisk2 {
		var err error
		idx, err = d.segmentIndex(relpath)
		if err != nil {
			return AcquireError, err
		}
		entry := index.MDEntry{
			Offset:    src.Offset,
			Size:      size,
			NotesBlob: types.EncodeNotes(md.Notes()),
			Reftime:   rt.Min().SQLText(),
			Attrs:     d.indexedAttrs(md),
			UniqueKey: uniqueKey,
			HasUnique: uniqueKey != "",
		}
		_, err = idx.Insert(entry)
		if errs.Is(err, errs.ErrDuplicateInsert) {
			if !d.cfg.Replace {
				return AcquireDuplicate, err
			}
			old, found, lookupErr := idx.GetByUniqueKey(uniqueKey)
			if lookupErr != nil {
				return AcquireError, lookupErr
			}
			if found {
				if err := idx.DeleteByOffset(old.Offset); err != nil {
					return AcquireError, err
				}
				replacedOffset = old.Offset
			}
			if _, err := idx.Insert(entry); err != nil {
				return AcquireError, err
			}
		} else if err != nil {
			return AcquireError, err
		}
	}

	// From here on a failure must also remove the row just inserted, or the
	// truncated bytes would leave a dangling index entry.
	undo := func(err error) (Outcome, error) {
		if idx != nil {
			_ = idx.DeleteByOffset(src.Offset)
		}
		return AcquireError, err
	}

	if err := d.updateSidecar(md, relpath, replacedOffset); err != nil {
		return undo(err)
	}
	if replacedOffset >= 0 {
		if err := os.WriteFile(PackFlagPath(d.cfg.Path, relpath), nil, 0o644); err != nil {
			return undo(err)
		}
	}

	d.updateSummaries(md, relpath, size, rt)
	if err := d.updateManifest(relpath, rt); err != nil {
		return undo(err)
	}

	md.Set(types.NewAssignedDataset(d.cfg.Name, d.stableID(md, src)))
	return AcquireOK, nil
}

// updateSidecar appends the new record, or — on a replace — rewrites the
// sidecar with the superseded record turned into a `!D` tombstone and the
// new record appended.
func (d *Dataset) updateSidecar(md *metadata.Metadata, relpath string, replacedOffset int64) error {
	if replacedOffset < 0 {
		return segment.AppendSidecar(d.cfg.Path, relpath, md)
	}
	items, deleted, err := segment.ReadSidecar(d.cfg.Path, relpath)
	if err != nil {
		return err
	}
	for i, item := range items {
		if src, ok := item.Source(); ok && src.Offset == replacedOffset {
			deleted[i] = true
		}
	}
	items = append(items, md)
	deleted = append(deleted, false)
	return segment.RewriteSidecarFlagged(d.cfg.Path, relpath, items, deleted)
}

func (d *Dataset) acquireSmallfile(md *metadata.Metadata, saved savedState, relpath string, data []byte) (Outcome, error) {
	// Small payloads live inside the sidecar stream: the source becomes INLINE
	// and no data segment is written.
	md.Set(types.NewSourceInline(d.cfg.Format, int64(len(data))))
	md.SetInlineData(data)
	if err := segment.AppendSidecar(d.cfg.Path, relpath, md); err != nil {
		return d.fail(md, saved, err)
	}
	rt, ok := md.Reftime()
	if !ok {
		return d.fail(md, saved, fmt.Errorf("dataset: %w: metadata has no reftime", errs.ErrMalformedInput))
	}
	d.updateSummaries(md, relpath, int64(len(data)), rt)
	if err := d.updateManifest(relpath, rt); err != nil {
		return d.fail(md, saved, err)
	}
	md.Set(types.NewAssignedDataset(d.cfg.Name, fmt.Sprintf("%s:inline", relpath)))
	return AcquireOK, nil
}

func (d *Dataset) appendBytes(relpath string, md *metadata.Metadata, data []byte) error {
	w, err := d.segmentWriter(relpath)
	if err != nil {
		return err
	}
	p, err := w.BeginAppend()
	if err != nil {
		return err
	}
	if err := w.Append(p, md, data); err != nil {
		_ = w.Rollback(p)
		return err
	}
	return w.Commit(p)
}

func (d *Dataset) indexedAttrs(md *metadata.Metadata) map[types.Code]types.Item {
	attrs := make(map[types.Code]types.Item, len(d.cfg.IndexCodes))
	for _, code := range d.cfg.IndexCodes {
		if item, ok := md.Get(code); ok {
			attrs[code] = item
		}
	}
	return attrs
}

func (d *Dataset) updateSummaries(md *metadata.Metadata, relpath string, size int64, rt types.Reftime) {
	s, ok := summary.LoadSegment(d.cfg.Path, relpath)
	if !ok {
		s = summary.New()
	}
	if err := s.Add(md, size); err == nil {
		if err := summary.StoreSegment(d.cfg.Path, relpath, s); err != nil {
			d.log.Warn("store segment summary failed", zap.String("segment", relpath), zap.Error(err))
		}
	}
	d.cache.Invalidate(rt.Min())
}

func (d *Dataset) updateManifest(relpath string, rt types.Reftime) error {
	if d.manifest == nil {
		return nil
	}
	e, found, err := d.manifest.Get(relpath)
	if err != nil {
		return err
	}
	if !found {
		e = index.Entry{RelPath: relpath, MinReftime: rt.Min(), MaxReftime: rt.Max()}
	} else {
		if rt.Min().Compare(e.MinReftime) < 0 {
			e.MinReftime = rt.Min()
		}
		if rt.Max().Compare(e.MaxReftime) > 0 {
			e.MaxReftime = rt.Max()
		}
	}
	e.MTime = time.Now().UTC()
	if err := d.manifest.Put(e); err != nil {
		return err
	}
	return d.manifest.Flush()
}

// stableID derives the assigned-dataset id: the string form of the unique
// tuple when one is configured (hashed to keep it printable), else the
// stored location.
func (d *Dataset) stableID(md *metadata.Metadata, src types.Source) string {
	if len(d.cfg.UniqueCodes) > 0 {
		return fmt.Sprintf("%016x", xxh3.HashString(md.UniqueKey(d.cfg.UniqueCodes)))
	}
	return fmt.Sprintf("%s:%d", src.RelPath, src.Offset)
}

func (d *Dataset) fail(md *metadata.Metadata, saved savedState, err error) (Outcome, error) {
	saved.restore(md)
	md.AddNote(now(), fmt.Sprintf("acquire to dataset %s failed: %v", d.cfg.Name, err))
	d.log.Warn("acquire failed", zap.String("dataset", d.cfg.Name), zap.Error(err))
	return AcquireError, err
}

func now() types.Time {
	t := time.Now().UTC()
	return types.Time{
		Year: uint16(t.Year()), Month: uint8(t.Month()), Day: uint8(t.Day()),
		Hour: uint8(t.Hour()), Minute: uint8(t.Minute()), Second: uint8(t.Second()),
	}
}
