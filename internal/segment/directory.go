package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
)

// Directory is the directory segment shape: a directory of numerically-named
// files, one message per file, the "offset" being the numeric filename. Each
// append is a new file; rollback is unlink, not truncate.
type Directory struct {
	basedir, relpath, format string

	// appendMu serialises in-process appenders across the whole
	// BeginAppend..Commit/Rollback window, same as Concat.
	appendMu sync.Mutex

	mu   sync.Mutex
	lock *flock.Flock
	next int64
}

var _ Writer = (*Directory)(nil)

// OpenDirectory opens (creating if absent) the directory segment for relpath
// under basedir, scanning existing numerically-named entries to resume
// numbering after the highest one present.
func OpenDirectory(basedir, relpath, format string) (*Directory, error) {
	dir := filepath.Join(basedir, relpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: mkdir %q: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("segment: readdir %q: %w", dir, err)
	}
	var max int64 = -1
	for _, e := range entries {
		n, ok := entryNumber(e.Name(), format)
		if !ok {
			continue // non-message entries (lock file, etc.)
		}
		if n > max {
			max = n
		}
	}
	return &Directory{
		basedir: basedir,
		relpath: relpath,
		format:  format,
		lock:    flock.New(filepath.Join(dir, ".lock")),
		next:    max + 1,
	}, nil
}

// entryPath names message files `<offset>.<format>` inside the segment
// directory, zero-padded so lexical order is numeric order.
func (d *Directory) entryPath(n int64) string {
	return filepath.Join(d.basedir, d.relpath, fmt.Sprintf("%06d.%s", n, d.format))
}

// entryNumber inverts entryPath's naming.
func entryNumber(name, format string) (int64, bool) {
	base, ok := strings.CutSuffix(name, "."+format)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// BeginAppend reserves the next sequential entry number.
func (d *Directory) BeginAppend() (*Pending, error) {
	d.appendMu.Lock()
	if err := d.lock.Lock(); err != nil {
		d.appendMu.Unlock()
		return nil, fmt.Errorf("segment: lock %q: %v: %w", d.relpath, err, errs.ErrTransientIO)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.next
	return &Pending{offset: n, path: d.entryPath(n)}, nil
}

// Append writes buf to the new entry file and installs the resulting BLOB
// source (offset = entry number, size = len(buf)) on md.
func (d *Directory) Append(p *Pending, md *metadata.Metadata, buf []byte) error {
	if p.written {
		return fmt.Errorf("segment: %w: append already called for this pending", errs.ErrFatalIO)
	}
	if err := os.WriteFile(p.path, buf, 0o644); err != nil {
		return fmt.Errorf("segment: write %q: %v: %w", p.path, err, errs.ErrFatalIO)
	}
	p.written = true
	md.SetSource(d.format, d.basedir, d.relpath, p.offset, int64(len(buf)))
	return nil
}

// Commit advances the next-entry counter and releases the lock.
func (d *Directory) Commit(p *Pending) error {
	if err := p.markDone(); err != nil {
		return err
	}
	d.mu.Lock()
	if p.offset >= d.next {
		d.next = p.offset + 1
	}
	d.mu.Unlock()
	err := d.lock.Unlock()
	d.appendMu.Unlock()
	return err
}

// Rollback unlinks the entry file this append created, if any, and releases
// the lock.
func (d *Directory) Rollback(p *Pending) error {
	if err := p.markDone(); err != nil {
		return err
	}
	if p.written {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			_ = d.lock.Unlock()
			d.appendMu.Unlock()
			return fmt.Errorf("segment: unlink %q: %v: %w", p.path, err, errs.ErrFatalIO)
		}
	}
	err := d.lock.Unlock()
	d.appendMu.Unlock()
	return err
}

// ReadAt reads the entry numbered offset in full; size must match its on-
// disk length (directory-segment entries are read whole, not sliced).
func (d *Directory) ReadAt(offset, size int64) ([]byte, error) {
	path := d.entryPath(offset)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("segment: read %q: %v: %w", path, err, errs.ErrDataUnavailable)
	}
	if int64(len(buf)) != size {
		return nil, fmt.Errorf("segment: %q: expected %d bytes, found %d: %w", path, size, len(buf), errs.ErrDataCorrupt)
	}
	return buf, nil
}

// Entries lists the numeric entry numbers currently present, in ascending
// order, for maintenance scans.
func (d *Directory) Entries() ([]int64, error) {
	dir := filepath.Join(d.basedir, d.relpath)
	es, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("segment: readdir %q: %w", dir, err)
	}
	var nums []int64
	for _, e := range es {
		n, ok := entryNumber(e.Name(), d.format)
		if !ok {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}
