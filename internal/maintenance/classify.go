// Package maintenance walks a dataset, classifies every segment against its
// index, and repairs what the classification found: the repacker rewrites
// segments with dead records and archives aged ones, the fixer rebuilds
// indices from data. Both agents work segment by segment under the dataset's
// check lock; one segment's failure never blocks the others.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// State classifies one segment.
type State int

const (
	StateOK State = iota
	StateToPack
	StateToIndex
	StateToRescan
	StateToDeindex
	StateToArchive
	StateToDelete
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateToPack:
		return "TO_PACK"
	case StateToIndex:
		return "TO_INDEX"
	case StateToRescan:
		return "TO_RESCAN"
	case StateToDeindex:
		return "TO_DEINDEX"
	case StateToArchive:
		return "TO_ARCHIVE"
	case StateToDelete:
		return "TO_DELETE"
	case StateDeleted:
		return "DELETED"
	}
	return "unknown"
}

// SegmentReport is one segment's classification and the evidence for it.
type SegmentReport struct {
	RelPath string
	State   State
	Reason  string
}

// Checker classifies a dataset's segments.
type Checker struct {
	ds  *dataset.Dataset
	log *zap.Logger

	// now anchors the archive/delete age computation; tests pin it.
	now time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger installs a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// WithNow pins the reference instant used for age-based states.
func WithNow(t time.Time) Option {
	return func(c *Checker) { c.now = t }
}

// NewChecker builds a checker over ds.
func NewChecker(ds *dataset.Dataset, opts ...Option) *Checker {
	c := &Checker{ds: ds, log: zap.NewNop(), now: time.Now().UTC()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify walks filesystem and index side by side and merges the two sorted
// sequences into per-segment states. The fs-only and index-only sides come
// out of a set difference.
func (c *Checker) Classify(ctx context.Context) ([]SegmentReport, error) {
	cfg := c.ds.Config()

	onDisk, err := dataset.ScanSegments(cfg.Path, cfg.Format)
	if err != nil {
		return nil, err
	}
	indexed, err := c.indexedSegments()
	if err != nil {
		return nil, err
	}

	diskSet := mapset.NewSet(onDisk...)
	indexSet := mapset.NewSet(indexed...)

	var reports []SegmentReport
	for _, relpath := range onDisk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !indexSet.Contains(relpath) {
			reports = append(reports, SegmentReport{RelPath: relpath, State: StateToIndex, Reason: "data file exists, no index entry"})
			continue
		}
		reports = append(reports, c.inspect(relpath))
	}
	for _, relpath := range indexed {
		if !diskSet.Contains(relpath) {
			reports = append(reports, SegmentReport{RelPath: relpath, State: StateToDeindex, Reason: "index references a file that no longer exists"})
		}
	}
	return reports, nil
}

// indexedSegments lists segments the index layer knows: manifest entries for
// simple/ondisk2, `.index` sidecars for iseg.
func (c *Checker) indexedSegments() ([]string, error) {
	cfg := c.ds.Config()
	if m := c.ds.Manifest(); m != nil {
		entries, err := m.Entries()
		if err != nil {
			return nil, err
		}
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.RelPath
		}
		return out, nil
	}
	// iseg: a segment is indexed iff its.index sidecar exists.
	all, err := dataset.ScanSegments(cfg.Path, cfg.Format)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, relpath := range all {
		if _, err := os.Stat(filepath.Join(cfg.Path, relpath+".index")); err == nil {
			out = append(out, relpath)
		}
	}
	return out, nil
}

// inspect examines a segment that is both on disk and indexed.
func (c *Checker) inspect(relpath string) SegmentReport {
	cfg := c.ds.Config()
	report := SegmentReport{RelPath: relpath, State: StateOK}

	items, deleted, err := segment.ReadSidecar(cfg.Path, relpath)
	if err != nil {
		return SegmentReport{RelPath: relpath, State: StateToRescan, Reason: fmt.Sprintf("unreadable sidecar: %v", err)}
	}
	if len(items) == 0 {
		return SegmentReport{RelPath: relpath, State: StateToRescan, Reason: "no sidecar metadata"}
	}

	info, err := os.Stat(filepath.Join(cfg.Path, relpath))
	if err != nil {
		return SegmentReport{RelPath: relpath, State: StateToDeindex, Reason: "data file vanished during inspection"}
	}

	// Age-based states take precedence over content states: a segment due for
	// deletion is not worth repacking first.
	_, maxT, haveSpan := reftimeSpan(items, deleted)
	if haveSpan {
		if cfg.DeleteAge > 0 && c.olderThan(maxT, cfg.DeleteAge) {
			return SegmentReport{RelPath: relpath, State: StateToDelete, Reason: fmt.Sprintf("newest reftime %s is past delete age", maxT.SQLText())}
		}
		if cfg.ArchiveAge > 0 && c.olderThan(maxT, cfg.ArchiveAge) {
			return SegmentReport{RelPath: relpath, State: StateToArchive, Reason: fmt.Sprintf("newest reftime %s is past archive age", maxT.SQLText())}
		}
	}

	if !info.IsDir() {
		if r, ok := c.inspectConcat(relpath, info, items, deleted); ok {
			return r
		}
	}

	// Tombstones or an explicit pack flag mean dead bytes to reclaim.
	for _, dead := range deleted {
		if dead {
			return SegmentReport{RelPath: relpath, State: StateToPack, Reason: "sidecar holds deleted records"}
		}
	}
	if _, err := os.Stat(dataset.PackFlagPath(cfg.Path, relpath)); err == nil {
		return SegmentReport{RelPath: relpath, State: StateToPack, Reason: "pack flag set"}
	}

	// A data file modified after its sidecar means the two can disagree;
	// rescanning is idempotent, so classify conservatively (the mtime-newer-
	// but-valid ambiguity resolved toward TO_RESCAN).
	if si, err := os.Stat(filepath.Join(cfg.Path, relpath+".metadata")); err == nil {
		if info.ModTime().After(si.ModTime()) {
			return SegmentReport{RelPath: relpath, State: StateToRescan, Reason: "data file modified after its metadata"}
		}
	}

	// A manifest that recorded a content hash gets it verified.
	if m := c.ds.Manifest(); m != nil && !info.IsDir() {
		if e, found, err := m.Get(relpath); err == nil && found && e.Checksum != "" {
			if e.Checksum != SegmentChecksum(cfg.Path, relpath) {
				return SegmentReport{RelPath: relpath, State: StateToRescan, Reason: "segment content does not match manifest checksum"}
			}
		}
	}
	return report
}

// inspectConcat checks the offset/size bookkeeping of a concatenated
// segment: offsets must be strictly increasing, extents must stay inside the
// file, and a hole between the cumulative offset and the next entry's offset
// means reclaimable bytes.
func (c *Checker) inspectConcat(relpath string, info os.FileInfo, items []*metadata.Metadata, deleted []bool) (SegmentReport, bool) {
	var cursor int64
	var hole bool
	for i, md := range items {
		src, ok := md.Source()
		if !ok {
			return SegmentReport{RelPath: relpath, State: StateToRescan, Reason: "sidecar record has no source"}, true
		}
		if src.Offset < cursor {
			return SegmentReport{RelPath: relpath, State: StateToRescan, Reason: "sidecar offsets not increasing"}, true
		}
		if src.Offset+src.Size > info.Size() {
			return SegmentReport{RelPath: relpath, State: StateToRescan,
				Reason: fmt.Sprintf("record %d extends past end of data (%d+%d > %d)", i, src.Offset, src.Size, info.Size())}, true
		}
		if src.Offset > cursor {
			hole = true
		}
		cursor = src.Offset + src.Size
	}
	if cursor < info.Size() {
		// Trailing bytes no metadata accounts for: the index does not know about
		// them, so the segment and index disagree.
		return SegmentReport{RelPath: relpath, State: StateToRescan,
			Reason: fmt.Sprintf("data has %d trailing bytes past the last record", info.Size()-cursor)}, true
	}
	if hole {
		return SegmentReport{RelPath: relpath, State: StateToPack, Reason: "gaps between records"}, true
	}
	return SegmentReport{}, false
}

func (c *Checker) olderThan(t types.Time, ageDays int) bool {
	cutoff := c.now.AddDate(0, 0, -ageDays)
	asStd := time.Date(int(t.Year), time.Month(t.Month), int(t.Day), int(t.Hour), int(t.Minute), int(t.Second), 0, time.UTC)
	return asStd.Before(cutoff)
}

func reftimeSpan(items []*metadata.Metadata, deleted []bool) (min, max types.Time, ok bool) {
	var m types.Merger
	for i, md := range items {
		if deleted[i] {
			continue
		}
		if rt, has := md.Reftime(); has {
			m.Add(rt)
		}
	}
	rt, has := m.Result()
	if !has {
		return min, max, false
	}
	return rt.Min(), rt.Max(), true
}
