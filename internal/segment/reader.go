package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// shapeReader is the minimal read surface every segment shape exposes, keyed
// by the logical (uncompressed) offset space so callers never need to know
// which shape they're reading from.
type shapeReader interface {
	ReadAt(offset, size int64) ([]byte, error)
}

// Reader implements metadata.DataReader (internal/metadata.GetData's
// collaborator), resolving a BLOB source's (basedir, relpath, offset, size)
// to bytes regardless of which of the three segment shapes backs relpath. It
// caches opened shape handles per relpath so repeated reads against the same
// segment (the common case during a query) don't re-stat and re-open for
// every message.
//
// A Reader is safe for concurrent use.
type Reader struct {
	mu    sync.Mutex
	cache map[string]shapeReader
}

// NewReader returns an empty segment data reader.
func NewReader() *Reader {
	return &Reader{cache: make(map[string]shapeReader)}
}

// ReadAt implements metadata.DataReader.
func (r *Reader) ReadAt(basedir, relpath string, offset, size int64) ([]byte, error) {
	sr, err := r.open(basedir, relpath)
	if err != nil {
		return nil, err
	}
	return sr.ReadAt(offset, size)
}

func (r *Reader) open(basedir, relpath string) (shapeReader, error) {
	key := basedir + "\x00" + relpath

	r.mu.Lock()
	defer r.mu.Unlock()

	if sr, ok := r.cache[key]; ok {
		return sr, nil
	}

	sr, err := probeAndOpen(basedir, relpath)
	if err != nil {
		return nil, err
	}
	r.cache[key] = sr
	return sr, nil
}

// probeAndOpen determines a segment's on-disk shape by presence of its
// sibling files and opens the matching reader.
func probeAndOpen(basedir, relpath string) (shapeReader, error) {
	// Raw data first: plain file or directory segment, then the compressed
	// pair, then a bare.gz with no seek index.
	plainPath := basedir + "/" + relpath
	if info, err := os.Stat(plainPath); err == nil {
		if info.IsDir() {
			// The segment path's extension names the format, which also names the
			// directory's entry files.
			format := strings.TrimPrefix(filepath.Ext(relpath), ".")
			return OpenDirectory(basedir, relpath, format)
		}
		return OpenConcat(basedir, relpath, "")
	}

	if _, err := os.Stat(gzPath(basedir, relpath)); err == nil {
		if _, err := os.Stat(gzIdxPath(basedir, relpath)); err == nil {
			return OpenCompressed(basedir, relpath)
		}
		return openGzSequential(basedir, relpath), nil
	}

	return nil, fmt.Errorf("segment: %w: no representation of %q under %q", errs.ErrDataUnavailable, relpath, basedir)
}

// Close closes every cached shape handle that holds an open file descriptor
// (only Concat keeps one open; Directory and Compressed open and close per
// read).
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, sr := range r.cache {
		if c, ok := sr.(*Concat); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.cache = make(map[string]shapeReader)
	return firstErr
}
