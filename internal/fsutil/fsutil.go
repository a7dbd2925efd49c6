// Package fsutil holds the durable-file-write primitives shared by the
// manifest, the metadata sidecars, and the summary caches: atomic whole-file
// replacement and durable creation. A torn manifest or summary would be
// indistinguishable from corruption to the maintenance engine, so every
// whole-file rewrite in this module goes through here.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic atomically replaces path with data: write a temp file in
// the same directory, fsync it, rename it over the old path, then fsync the
// directory so the rename itself is durable.
func WriteFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	var err error
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fsutil: create %q: %w", tmpPath, err)
	}

	if _, err = tmpf.Write(data); err != nil {
		tmpf.Close()
		return fmt.Errorf("fsutil: write %q: %w", tmpPath, err)
	}
	if err = tmpf.Sync(); err != nil {
		tmpf.Close()
		return fmt.Errorf("fsutil: sync %q: %w", tmpPath, err)
	}
	if err = tmpf.Close(); err != nil {
		return fmt.Errorf("fsutil: close %q: %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("fsutil: rename %q to %q: %w", tmpPath, path, err)
	}
	if err = SyncDir(filepath.Dir(path)); err != nil {
		return err
	}
	return nil
}

// SyncDir fsyncs a directory so entry creations/renames inside it are
// committed to disk.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("fsutil: open dir %q: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsutil: fsync dir %q: %w", dir, err)
	}
	return nil
}

// CreateFileDurable creates (or opens) dir/name and fsyncs both the file and
// the directory, so the file definitely exists on disk and survives a crash.
// Used for lock anchors and flag files whose mere presence carries meaning.
func CreateFileDurable(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fsutil: create %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("fsutil: sync %q: %w", path, err)
	}
	if err := SyncDir(dir); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
