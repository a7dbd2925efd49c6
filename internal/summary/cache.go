package summary

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tysonmote/gommap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/fsutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Cache manages a dataset's persisted summaries: the whole-dataset `summary`
// file at the dataset root and the per-month `.summaries/YYYY-MM.summary`
// files. Invalidation is by reftime range: any insert or delete with reftime
// T drops the dataset summary and T's month file; the next load of a dropped
// file misses, and rebuilding and storing it again is up to the caller.
type Cache struct {
	root string
}

// NewCache returns the cache manager for the dataset rooted at root.
func NewCache(root string) *Cache {
	return &Cache{root: root}
}

func (c *Cache) datasetPath() string {
	return filepath.Join(c.root, "summary")
}

func (c *Cache) monthPath(year uint16, month uint8) string {
	return filepath.Join(c.root, ".summaries", fmt.Sprintf("%04d-%02d.summary", year, month))
}

// SegmentPath returns the sidecar `.summary` path for a segment relpath.
func SegmentPath(root, relpath string) string {
	return filepath.Join(root, relpath+".summary")
}

// LoadDataset returns the cached whole-dataset summary, or (nil, false) when
// no valid cache file exists.
func (c *Cache) LoadDataset() (*Summary, bool) {
	return load(c.datasetPath())
}

// LoadMonth returns the cached summary for (year, month), or (nil, false).
func (c *Cache) LoadMonth(year uint16, month uint8) (*Summary, bool) {
	return load(c.monthPath(year, month))
}

// load memory-maps the cache file read-only rather than slurping it: the
// month caches are re-scanned on every summary query that touches their
// month, and the mapping lets repeated scans share the page cache without a
// copy per read.
func load(path string) (*Summary, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil, false
	}
	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		return nil, false
	}
	defer mm.UnsafeUnmap()

	s, err := Decode(mm)
	if err != nil {
		return nil, false
	}
	return s, true
}

// StoreDataset persists s as the whole-dataset summary cache.
func (c *Cache) StoreDataset(s *Summary) error {
	return store(c.datasetPath(), s)
}

// StoreMonth persists s as the cache for (year, month).
func (c *Cache) StoreMonth(year uint16, month uint8, s *Summary) error {
	return store(c.monthPath(year, month), s)
}

func store(path string, s *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("summary: mkdir cache dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, s.Encode()); err != nil {
		return fmt.Errorf("summary: store cache %q: %w", path, err)
	}
	return nil
}

// Invalidate drops the dataset summary and the month cache covering t.
func (c *Cache) Invalidate(t types.Time) {
	_ = os.Remove(c.datasetPath())
	if !t.IsNow() {
		_ = os.Remove(c.monthPath(t.Year, t.Month))
	}
}

// InvalidateAll drops every cache file, used by maintenance after a repack
// or rescan touched an unknown range of reftimes.
func (c *Cache) InvalidateAll() {
	_ = os.Remove(c.datasetPath())
	entries, err := os.ReadDir(filepath.Join(c.root, ".summaries"))
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = os.Remove(filepath.Join(c.root, ".summaries", e.Name()))
	}
}

// LoadSegment reads a segment's sidecar `.summary`, or (nil, false).
func LoadSegment(root, relpath string) (*Summary, bool) {
	buf, err := os.ReadFile(SegmentPath(root, relpath))
	if err != nil {
		return nil, false
	}
	s, err := Decode(buf)
	if err != nil {
		return nil, false
	}
	return s, true
}

// StoreSegment persists s as a segment's sidecar `.summary`.
func StoreSegment(root, relpath string, s *Summary) error {
	path := SegmentPath(root, relpath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("summary: mkdir for %q: %w", path, err)
	}
	if err := fsutil.WriteFileAtomic(path, s.Encode()); err != nil {
		return fmt.Errorf("summary: store segment summary %q: %w", path, err)
	}
	return nil
}
