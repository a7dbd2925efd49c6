package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
)

// Concat is the concatenated-file segment shape: a single file holding back-
// to-back format-native messages, offsets being byte positions inside it.
// Appends reserve the current size as the offset and write; Concat never
// fsyncs the file.
type Concat struct {
	basedir, relpath, format string

	// appendMu serialises in-process appenders across the whole
	// BeginAppend..Commit/Rollback window; the advisory lock below only
	// excludes other processes.
	appendMu sync.Mutex

	mu   sync.Mutex
	file *os.File
	lock *flock.Flock
	size int64
}

var _ Writer = (*Concat)(nil)

// OpenConcat opens (creating if absent) the concatenated data file for
// relpath under basedir, in the given message format.
func OpenConcat(basedir, relpath, format string) (*Concat, error) {
	path := filepath.Join(basedir, relpath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("segment: mkdir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment: stat %q: %w", path, err)
	}
	return &Concat{
		basedir: basedir,
		relpath: relpath,
		format:  format,
		file:    f,
		lock:    flock.New(path + ".lock"),
		size:    info.Size(),
	}, nil
}

// Size returns the segment's current logical size in bytes.
func (c *Concat) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close releases the open file handle. It does not release an in-progress
// lock; callers must Commit or Rollback any outstanding Pending first.
func (c *Concat) Close() error {
	return c.file.Close()
}

// BeginAppend implements Writer: acquires the exclusive advisory lock, then
// reserves the current end of the file as the append offset.
func (c *Concat) BeginAppend() (*Pending, error) {
	c.appendMu.Lock()
	if err := c.lock.Lock(); err != nil {
		c.appendMu.Unlock()
		return nil, fmt.Errorf("segment: lock %q: %v: %w", c.relpath, err, errs.ErrTransientIO)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return &Pending{preSize: c.size, offset: c.size}, nil
}

// Append writes buf at the offset BeginAppend reserved and installs the
// resulting BLOB source on md.
func (c *Concat) Append(p *Pending, md *metadata.Metadata, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.written {
		return fmt.Errorf("segment: %w: append already called for this pending", errs.ErrFatalIO)
	}
	n, err := c.file.WriteAt(buf, p.offset)
	if err != nil {
		return fmt.Errorf("segment: write %q at %d: %v: %w", c.relpath, p.offset, err, errs.ErrFatalIO)
	}
	if n != len(buf) {
		return fmt.Errorf("segment: short write %q at %d: %d of %d bytes: %w", c.relpath, p.offset, n, len(buf), errs.ErrFatalIO)
	}
	p.written = true
	c.size = p.offset + int64(len(buf))

	md.SetSource(c.format, c.basedir, c.relpath, p.offset, int64(len(buf)))
	return nil
}

// Commit finalizes the append without an fsync and releases the lock
// BeginAppend acquired.
func (c *Concat) Commit(p *Pending) error {
	if err := p.markDone(); err != nil {
		return err
	}
	err := c.lock.Unlock()
	c.appendMu.Unlock()
	return err
}

// Rollback truncates the file back to the pre-append size and releases the
// lock. Rollback is forbidden after Commit; markDone enforces that a Pending
// is finalized exactly once.
func (c *Concat) Rollback(p *Pending) error {
	if err := p.markDone(); err != nil {
		return err
	}
	c.mu.Lock()
	if p.written {
		if err := c.file.Truncate(p.preSize); err != nil {
			c.mu.Unlock()
			_ = c.lock.Unlock()
			c.appendMu.Unlock()
			return fmt.Errorf("segment: truncate %q to %d: %w", c.relpath, p.preSize, errs.ErrFatalIO)
		}
		c.size = p.preSize
	}
	c.mu.Unlock()
	err := c.lock.Unlock()
	c.appendMu.Unlock()
	return err
}

// ReadAt reads size bytes at offset from the segment; Reader uses it to
// serve metadata.DataReader requests for the concatenated shape.
func (c *Concat) ReadAt(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := c.file.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && int64(n) == size) {
		return nil, fmt.Errorf("segment: read %q at %d: %w", c.relpath, offset, errs.ErrDataUnavailable)
	}
	return buf, nil
}
