package segment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/fsutil"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
)

// sidecarPath returns the `<seg>.metadata` path for a segment.
func sidecarPath(basedir, relpath string) string {
	return filepath.Join(basedir, relpath+".metadata")
}

// ReadSidecar loads every metadata record for a segment, in source-offset
// order, threading basedir through as the BLOB source origin.
func ReadSidecar(basedir, relpath string) (items []*metadata.Metadata, deleted []bool, err error) {
	buf, err := os.ReadFile(sidecarPath(basedir, relpath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("segment: read sidecar %q: %w", sidecarPath(basedir, relpath), err)
	}
	return metadata.ReadAll(buf, basedir)
}

// AppendSidecar appends one encoded metadata record to a segment's sidecar
// file, in the same append-only spirit as the data segment itself . It
// opens, writes, and closes per call rather than holding the handle open,
// preferring self-contained writes over a long-lived cached handle. The
// file is not fsynced.
func AppendSidecar(basedir, relpath string, md *metadata.Metadata) error {
	path := sidecarPath(basedir, relpath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("segment: mkdir for sidecar %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("segment: open sidecar %q: %w", path, err)
	}
	defer f.Close()

	buf := md.Encode()
	if src, ok := md.Source(); ok && src.Style() == "INLINE" {
		buf = append(buf, md.InlineData()...)
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("segment: append sidecar %q: %w", path, err)
	}
	return nil
}

// RewriteSidecar atomically replaces a segment's sidecar file with the
// encoded form of items, used by the maintenance repacker once it has
// produced a fully rewritten segment.
func RewriteSidecar(basedir, relpath string, items []*metadata.Metadata) error {
	deleted := make([]bool, len(items))
	return RewriteSidecarFlagged(basedir, relpath, items, deleted)
}

// RewriteSidecarFlagged is RewriteSidecar with per-record tombstone flags:
// records marked deleted are written as `!D` bundles, the form a replace-on-
// duplicate leaves behind until the next repack.
func RewriteSidecarFlagged(basedir, relpath string, items []*metadata.Metadata, deleted []bool) error {
	if len(items) != len(deleted) {
		return fmt.Errorf("segment: %d items but %d deleted flags", len(items), len(deleted))
	}
	var body []byte
	for i, md := range items {
		if deleted[i] {
			body = append(body, md.EncodeDeleted()...)
		} else {
			body = append(body, md.Encode()...)
		}
		if src, ok := md.Source(); ok && src.Style() == "INLINE" {
			body = append(body, md.InlineData()...)
		}
	}
	path := sidecarPath(basedir, relpath)
	if err := fsutil.WriteFileAtomic(path, body); err != nil {
		return fmt.Errorf("segment: rewrite sidecar %q: %w", path, err)
	}
	return nil
}
