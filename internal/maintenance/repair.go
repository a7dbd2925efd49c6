package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/fsutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/index"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/scanner"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Report is the outcome of one agent run: which segments were repaired,
// which were only reported (mock mode), which were skipped by an interlock,
// and which failed.
type Report struct {
	Classified []SegmentReport
	Repaired   []string
	Skipped    []string
	Failed     []string
	Err        error
}

// Repacker reclaims dead bytes and rolls aged segments into the archive .
// With Fix false it is the mock agent: classify, report, touch nothing.
type Repacker struct {
	Checker *Checker
	Fix     bool
}

// Run classifies and, with Fix set, repairs TO_PACK/TO_DEINDEX/ TO_ARCHIVE
// segments. The whole run is skipped while the `.dontpack` interlock is set.
func (r *Repacker) Run(ctx context.Context) (Report, error) {
	ds := r.Checker.ds
	cfg := ds.Config()

	if dataset.HasDontpackFlag(cfg.Path) {
		return Report{Skipped: []string{cfg.Path}}, fmt.Errorf("maintenance: dataset %s: index out of sync (.dontpack set), run a fix first", cfg.Name)
	}

	ctx, release, err := ds.Locks().AcquireCheck(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()

	reports, err := r.Checker.Classify(ctx)
	if err != nil {
		return Report{}, err
	}
	out := Report{Classified: reports}
	if !r.Fix {
		return out, nil
	}

	for _, sr := range reports {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var repairErr error
		switch sr.State {
		case StateToPack:
			repairErr = repack(ds, sr.RelPath)
		case StateToDeindex:
			repairErr = deindex(ds, sr.RelPath)
		case StateToArchive:
			repairErr = archive(ds, sr.RelPath)
		default:
			continue
		}
		if repairErr != nil {
			out.Failed = append(out.Failed, sr.RelPath)
			out.Err = multierr.Append(out.Err, fmt.Errorf("segment %s: %w", sr.RelPath, repairErr))
			r.Checker.log.Warn("repack repair failed", zap.String("dataset", cfg.Name), zap.String("segment", sr.RelPath), zap.Error(repairErr))
			continue
		}
		out.Repaired = append(out.Repaired, sr.RelPath)
	}
	return out, nil
}

// Fixer rebuilds indices from data.
type Fixer struct {
	Checker *Checker
	Fix     bool
}

// Run classifies and, with Fix set, repairs TO_INDEX/TO_RESCAN/
// TO_DEINDEX/TO_DELETE segments. A fully successful fix clears the
// `.dontpack` interlock.
func (f *Fixer) Run(ctx context.Context) (Report, error) {
	ds := f.Checker.ds
	cfg := ds.Config()

	ctx, release, err := ds.Locks().AcquireCheck(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()

	reports, err := f.Checker.Classify(ctx)
	if err != nil {
		return Report{}, err
	}
	out := Report{Classified: reports}
	if !f.Fix {
		return out, nil
	}

	for _, sr := range reports {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var repairErr error
		switch sr.State {
		case StateToIndex, StateToRescan:
			repairErr = rescan(ds, sr.RelPath)
		case StateToDeindex:
			repairErr = deindex(ds, sr.RelPath)
		case StateToDelete:
			repairErr = remove(ds, sr.RelPath)
		default:
			continue
		}
		if repairErr != nil {
			out.Failed = append(out.Failed, sr.RelPath)
			out.Err = multierr.Append(out.Err, fmt.Errorf("segment %s: %w", sr.RelPath, repairErr))
			f.Checker.log.Warn("fix repair failed", zap.String("dataset", cfg.Name), zap.String("segment", sr.RelPath), zap.Error(repairErr))
			continue
		}
		out.Repaired = append(out.Repaired, sr.RelPath)
	}

	if len(out.Failed) == 0 {
		if err := dataset.RemoveDontpackFlag(cfg.Path); err != nil {
			out.Err = multierr.Append(out.Err, err)
		}
	}
	return out, out.Err
}

// RemoveAll deletes every segment and its index traces, the `arki-check
// --remove-all --fix` operation.
func RemoveAll(ctx context.Context, c *Checker) error {
	ds := c.ds
	ctx, release, err := ds.Locks().AcquireCheck(ctx)
	if err != nil {
		return err
	}
	defer release()

	segments, err := dataset.ScanSegments(ds.Config().Path, ds.Config().Format)
	if err != nil {
		return err
	}
	var failures error
	for _, relpath := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := remove(ds, relpath); err != nil {
			failures = multierr.Append(failures, fmt.Errorf("segment %s: %w", relpath, err))
		}
	}
	return failures
}

// repack rewrites a segment dropping deleted records, then reindexes it.
func repack(ds *dataset.Dataset, relpath string) error {
	cfg := ds.Config()
	items, deleted, err := segment.ReadSidecar(cfg.Path, relpath)
	if err != nil {
		return err
	}

	dataPath := filepath.Join(cfg.Path, relpath)
	old, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("maintenance: read segment %q: %w", dataPath, err)
	}

	var packed []byte
	var alive []*metadata.Metadata
	for i, md := range items {
		if deleted[i] {
			continue
		}
		src, ok := md.Source()
		if !ok || src.Offset+src.Size > int64(len(old)) {
			return fmt.Errorf("maintenance: segment %s: record %d out of bounds", relpath, i)
		}
		newOffset := int64(len(packed))
		packed = append(packed, old[src.Offset:src.Offset+src.Size]...)
		md.SetSource(src.Format, cfg.Path, relpath, newOffset, src.Size)
		alive = append(alive, md)
	}

	if err := fsutil.WriteFileAtomic(dataPath, packed); err != nil {
		return err
	}
	if err := segment.RewriteSidecar(cfg.Path, relpath, alive); err != nil {
		return err
	}
	if err := reindexFromSidecar(ds, relpath, alive); err != nil {
		return err
	}
	if err := rebuildSegmentSummary(ds, relpath, alive); err != nil {
		return err
	}
	if err := refreshManifest(ds, relpath, alive); err != nil {
		return err
	}
	_ = os.Remove(dataset.PackFlagPath(cfg.Path, relpath))
	ds.SummaryCache().InvalidateAll()
	ds.ResetCaches()
	return nil
}

// rescan rebuilds a segment's metadata and index from its data bytes.
func rescan(ds *dataset.Dataset, relpath string) error {
	cfg := ds.Config()
	dataPath := filepath.Join(cfg.Path, relpath)

	var items []*metadata.Metadata
	handled, err := scanner.Scan(dataPath, cfg.Path, relpath, func(md *metadata.Metadata) error {
		items = append(items, md)
		return nil
	}, cfg.Format)
	if err != nil {
		return err
	}
	if !handled {
		return fmt.Errorf("maintenance: no scanner handles format %q for segment %s", cfg.Format, relpath)
	}

	if err := segment.RewriteSidecar(cfg.Path, relpath, items); err != nil {
		return err
	}
	if err := reindexFromSidecar(ds, relpath, items); err != nil {
		return err
	}
	if err := rebuildSegmentSummary(ds, relpath, items); err != nil {
		return err
	}
	if err := refreshManifest(ds, relpath, items); err != nil {
		return err
	}
	ds.SummaryCache().InvalidateAll()
	ds.ResetCaches()
	return nil
}

// deindex removes every index trace of a segment whose data is gone.
func deindex(ds *dataset.Dataset, relpath string) error {
	cfg := ds.Config()
	if m := ds.Manifest(); m != nil {
		if err := m.Remove(relpath); err != nil {
			return err
		}
		if err := m.Flush(); err != nil {
			return err
		}
	}
	for _, sibling := range []string{".index", ".metadata", ".summary"} {
		if err := os.Remove(filepath.Join(cfg.Path, relpath+sibling)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	ds.SummaryCache().InvalidateAll()
	return nil
}

// remove unlinks an aged-out segment and its index rows (TO_DELETE).
func remove(ds *dataset.Dataset, relpath string) error {
	cfg := ds.Config()
	if err := os.RemoveAll(filepath.Join(cfg.Path, relpath)); err != nil {
		return err
	}
	return deindex(ds, relpath)
}

// archive moves a segment and its siblings under `.archive/last/`,
// preserving the relative layout.
func archive(ds *dataset.Dataset, relpath string) error {
	cfg := ds.Config()
	destRoot := filepath.Join(cfg.Path, ".archive", "last")
	if err := os.MkdirAll(filepath.Dir(filepath.Join(destRoot, relpath)), 0o755); err != nil {
		return err
	}
	for _, suffix := range []string{"", ".metadata", ".summary", ".index"} {
		src := filepath.Join(cfg.Path, relpath+suffix)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, filepath.Join(destRoot, relpath+suffix)); err != nil {
			return err
		}
	}
	if err := compressArchived(destRoot, relpath, cfg.GzGroupsize); err != nil {
		return err
	}
	if m := ds.Manifest(); m != nil {
		if err := m.Remove(relpath); err != nil {
			return err
		}
		if err := m.Flush(); err != nil {
			return err
		}
	}
	ds.SummaryCache().InvalidateAll()
	return nil
}

// compressArchived packs a just-archived concatenated segment into the gzip
// + seek-index form, grouping groupSize messages per block. The uncompressed
// offset space is unchanged, so the sidecar's sources stay valid; the plain
// data file is removed once the compressed pair exists. Directory segments
// and segments with no sidecar are left as moved.
func compressArchived(root, relpath string, groupSize int) error {
	dataPath := filepath.Join(root, relpath)
	info, err := os.Stat(dataPath)
	if err != nil || info.IsDir() {
		return nil
	}
	items, deleted, err := segment.ReadSidecar(root, relpath)
	if err != nil || len(items) == 0 {
		return nil
	}
	var offsets, sizes []int64
	for i, md := range items {
		if deleted[i] {
			continue
		}
		src, ok := md.Source()
		if !ok {
			return nil
		}
		offsets = append(offsets, src.Offset)
		sizes = append(sizes, src.Size)
	}
	if len(offsets) == 0 {
		return nil
	}
	if err := segment.Compress(root, relpath, offsets, sizes, groupSize); err != nil {
		return err
	}
	return os.Remove(dataPath)
}

// reindexFromSidecar drops and reinserts every index row for a segment.
func reindexFromSidecar(ds *dataset.Dataset, relpath string, items []*metadata.Metadata) error {
	cfg := ds.Config()
	if cfg.Type != dataset.TypeIseg && cfg.Type != dataset.TypeOndisk2 {
		return nil
	}
	idxPath := filepath.Join(cfg.Path, relpath+".index")
	idx, err := index.OpenSegment(idxPath, cfg.IndexCodes, cfg.UniqueCodes)
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.DeleteAll(); err != nil {
		return err
	}
	for _, md := range items {
		src, ok := md.Source()
		if !ok {
			continue
		}
		rt, ok := md.Reftime()
		if !ok {
			continue
		}
		attrs := make(map[types.Code]types.Item, len(cfg.IndexCodes))
		for _, code := range cfg.IndexCodes {
			if item, has := md.Get(code); has {
				attrs[code] = item
			}
		}
		uniqueKey := ""
		if len(cfg.UniqueCodes) > 0 {
			uniqueKey = md.UniqueKey(cfg.UniqueCodes)
		}
		_, err := idx.Insert(index.MDEntry{
			Offset:    src.Offset,
			Size:      src.Size,
			NotesBlob: types.EncodeNotes(md.Notes()),
			Reftime:   rt.Min().SQLText(),
			Attrs:     attrs,
			UniqueKey: uniqueKey,
			HasUnique: uniqueKey != "",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func rebuildSegmentSummary(ds *dataset.Dataset, relpath string, items []*metadata.Metadata) error {
	cfg := ds.Config()
	s := summary.New()
	for _, md := range items {
		size := int64(0)
		if src, ok := md.Source(); ok {
			size = src.Size
		}
		if err := s.Add(md, size); err != nil {
			return err
		}
	}
	return summary.StoreSegment(cfg.Path, relpath, s)
}

func refreshManifest(ds *dataset.Dataset, relpath string, items []*metadata.Metadata) error {
	m := ds.Manifest()
	if m == nil {
		return nil
	}
	var merger types.Merger
	for _, md := range items {
		if rt, ok := md.Reftime(); ok {
			merger.Add(rt)
		}
	}
	rt, ok := merger.Result()
	if !ok {
		if err := m.Remove(relpath); err != nil {
			return err
		}
		return m.Flush()
	}
	if err := m.Put(index.Entry{
		RelPath:    relpath,
		MinReftime: rt.Min(),
		MaxReftime: rt.Max(),
		MTime:      time.Now().UTC(),
		Checksum:   SegmentChecksum(ds.Config().Path, relpath),
	}); err != nil {
		return err
	}
	return m.Flush()
}

// SegmentChecksum hashes a segment's data bytes; the manifest records it so
// a later check can detect content drift without re-deriving the whole
// index. Empty for directory segments and unreadable files.
func SegmentChecksum(root, relpath string) string {
	buf, err := os.ReadFile(filepath.Join(root, relpath))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.Hash(buf))
}
