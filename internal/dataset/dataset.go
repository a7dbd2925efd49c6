package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/fsutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/index"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/lock"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/targetfile"
)

// DontpackFlag is the repack interlock file at the dataset root: while
// present, the repacker refuses to run.
const DontpackFlag = ".dontpack"

// Dataset is an opened dataset: configuration plus the layer handles the
// reader, writer and checker share.
type Dataset struct {
	cfg *Config
	log *zap.Logger

	locks  *lock.Dataset
	cache  *summary.Cache
	stepit *targetfile.Stepper
	target targetfile.TargetFile
	reader *segment.Reader

	// manifest is set for simple/ondisk2 datasets; iseg derives segment
	// listings from the filesystem.
	manifest index.Manifest

	mu      sync.Mutex
	writers map[string]segment.Writer
	indices map[string]*index.Segment
}

// Option configures an opened dataset.
type Option func(*Dataset)

// WithLogger installs a structured logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dataset) { d.log = l }
}

// WithTargetFile overrides the step-driven path rule with a user-defined
// TargetFile capability.
func WithTargetFile(tf targetfile.TargetFile) Option {
	return func(d *Dataset) { d.target = tf }
}

// Open opens the dataset described by cfg, creating its root directory, lock
// anchor, and manifest as needed. For simple datasets opened with no
// manifest present, the `.dontpack` flag is created: the index is known to
// be out of sync until the first successful check, so repack is blocked.
func Open(cfg *Config, opts ...Option) (*Dataset, error) {
	if cfg.Path == "" && cfg.Type != TypeDiscard {
		return nil, fmt.Errorf("dataset: %w: no path configured", errs.ErrConfigError)
	}
	d := &Dataset{
		cfg:     cfg,
		log:     zap.NewNop(),
		writers: make(map[string]segment.Writer),
		indices: make(map[string]*index.Segment),
	}
	for _, opt := range opts {
		opt(d)
	}

	switch cfg.Type {
	case TypeDiscard, TypeRemote, TypeFile:
		// No on-disk dataset layout of their own.
		return d, nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("dataset: create root %q: %w", cfg.Path, err)
	}
	anchor, err := fsutil.CreateFileDurable(cfg.Path, "lock")
	if err != nil {
		return nil, err
	}
	anchor.Close()

	d.locks = lock.Open(cfg.Path)
	d.cache = summary.NewCache(cfg.Path)
	d.stepit = targetfile.NewStepper(cfg.Step, cfg.Format, cfg.Path)
	if d.target == nil {
		d.target = d.stepit
	}
	d.reader = segment.NewReader()

	switch cfg.Type {
	case TypeSimple:
		manifestPath := filepath.Join(cfg.Path, "MANIFEST")
		if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
			if err := createDontpackFlag(cfg.Path); err != nil {
				return nil, err
			}
		}
		d.manifest, err = index.OpenTextManifest(manifestPath)
	case TypeOndisk2:
		d.manifest, err = index.OpenSQLiteManifest(filepath.Join(cfg.Path, "index.sqlite"))
	case TypeIseg, TypeOutbound:
		// No dataset-level manifest.
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// OpenPath loads `<root>/config` and opens the dataset it describes.
func OpenPath(root string, opts ...Option) (*Dataset, error) {
	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}
	return Open(cfg, opts...)
}

func createDontpackFlag(root string) error {
	f, err := fsutil.CreateFileDurable(root, DontpackFlag)
	if err != nil {
		return err
	}
	return f.Close()
}

// HasDontpackFlag reports whether the repack interlock is set.
func HasDontpackFlag(root string) bool {
	_, err := os.Stat(filepath.Join(root, DontpackFlag))
	return err == nil
}

// RemoveDontpackFlag clears the repack interlock, called by a successful
// fixer run.
func RemoveDontpackFlag(root string) error {
	err := os.Remove(filepath.Join(root, DontpackFlag))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Config returns the dataset's configuration.
func (d *Dataset) Config() *Config { return d.cfg }

// Name returns the dataset identifier.
func (d *Dataset) Name() string { return d.cfg.Name }

// Locks exposes the lock arbiter to the maintenance engine, which takes the
// Check tier around its own segment work.
func (d *Dataset) Locks() *lock.Dataset { return d.locks }

// Manifest exposes the dataset-level manifest, nil for iseg datasets.
func (d *Dataset) Manifest() index.Manifest { return d.manifest }

// SummaryCache exposes the month/dataset summary cache manager.
func (d *Dataset) SummaryCache() *summary.Cache { return d.cache }

// TargetFile exposes the path rule, for the dispatcher's test mode.
func (d *Dataset) TargetFile() targetfile.TargetFile { return d.target }

// DataReader exposes the shared segment data reader.
func (d *Dataset) DataReader() *segment.Reader { return d.reader }

// segmentWriter returns (opening if needed) the active writer for a segment
// relpath: a directory segment for HDF5 messages, a concatenated file
// otherwise.
func (d *Dataset) segmentWriter(relpath string) (segment.Writer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.writers[relpath]; ok {
		return w, nil
	}
	var w segment.Writer
	var err error
	if d.cfg.Format == "odimh5" || d.cfg.Format == "h5" {
		w, err = segment.OpenDirectory(d.cfg.Path, relpath, d.cfg.Format)
	} else {
		w, err = segment.OpenConcat(d.cfg.Path, relpath, d.cfg.Format)
	}
	if err != nil {
		return nil, err
	}
	d.writers[relpath] = w
	return w, nil
}

// segmentIndex returns (opening if needed) the iseg index for relpath.
func (d *Dataset) segmentIndex(relpath string) (*index.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx, ok := d.indices[relpath]; ok {
		return idx, nil
	}
	path := filepath.Join(d.cfg.Path, relpath+".index")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dataset: mkdir for index %q: %w", path, err)
	}
	idx, err := index.OpenSegment(path, d.cfg.IndexCodes, d.cfg.UniqueCodes)
	if err != nil {
		return nil, err
	}
	d.indices[relpath] = idx
	return idx, nil
}

// Segments lists the dataset's data segment relpaths in sorted order. For
// manifest-backed datasets it reads the manifest; for iseg it walks the
// filesystem, recognising data segments by extension and skipping every
// sibling (.metadata/.summary/.index/.gz/.lock) and dot-directory
// (.archive,.summaries).
func (d *Dataset) Segments() ([]string, error) {
	if d.manifest != nil {
		entries, err := d.manifest.Entries()
		if err != nil {
			return nil, err
		}
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.RelPath
		}
		return out, nil
	}
	return ScanSegments(d.cfg.Path, d.cfg.Format)
}

// ScanSegments walks root for data segments of the given format.
func ScanSegments(root, format string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if entry.IsDir() {
			if strings.HasPrefix(filepath.Base(rel), ".") {
				return filepath.SkipDir
			}
			// Directory segments are named like files.
			if strings.HasSuffix(rel, "."+format) {
				out = append(out, rel)
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(rel, "."+format) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dataset: walk %q: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// ResetCaches drops every cached segment writer, index handle and open data
// reader. Maintenance calls it after mutating a segment so no stale file
// handle or in-memory size survives the rewrite.
func (d *Dataset) ResetCaches() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for relpath, w := range d.writers {
		if c, ok := w.(*segment.Concat); ok {
			_ = c.Close()
		}
		delete(d.writers, relpath)
	}
	for relpath, idx := range d.indices {
		_ = idx.Close()
		delete(d.indices, relpath)
	}
	if d.reader != nil {
		_ = d.reader.Close()
	}
}

// Close releases cached segment and index handles.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, idx := range d.indices {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.indices = make(map[string]*index.Segment)
	for relpath, w := range d.writers {
		if c, ok := w.(*segment.Concat); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(d.writers, relpath)
	}
	if d.reader != nil {
		if err := d.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.manifest != nil {
		if err := d.manifest.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
