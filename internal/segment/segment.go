// Package segment implements the three on-disk segment shapes a dataset can
// store its message bodies in: concatenated-file, directory, and compressed
// (gzip + seek index). Concat and Directory implement the
// begin_append/append/commit/rollback Writer protocol; Compressed is
// read-only. Reader implements metadata.DataReader over all three shapes so
// query and maintenance code can resolve a BLOB source's bytes without
// caring which shape backs it.
package segment

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
)

// Writer is the common append protocol every segment shape implements:
//
//	begin_append() -> Pending
//	append(Pending, metadata, buf)
//	commit(Pending) / rollback(Pending)
//
// A Pending that is dropped without Commit or Rollback must still be rolled
// back by the caller; Writer implementations do not finalize anything in a
// finalizer.
type Writer interface {
	// BeginAppend reserves the next append position, blocking on the segment's
	// exclusive file lock if needed.
	BeginAppend() (*Pending, error)

	// Append writes buf at the position p reserved and sets md's source
	// attribute to the BLOB this write produced. It must be called at most once
	// per Pending.
	Append(p *Pending, md *metadata.Metadata, buf []byte) error

	// Commit finalizes a successful append, making it visible to subsequent
	// reads and releasing the lock BeginAppend acquired.
	Commit(p *Pending) error

	// Rollback undoes an append that must not become visible: truncating a
	// concatenated segment back to its pre-append size, or unlinking the file a
	// directory segment append created.
	Rollback(p *Pending) error
}

// Pending tracks one in-flight append across BeginAppend/Append/Commit or
// Rollback. Fields are set by the concrete Writer implementation that
// created it; callers treat it opaquely.
type Pending struct {
	// preSize is the segment's logical size before this append, the value
	// Rollback truncates a concatenated segment back to.
	preSize int64
	// offset is the position (byte offset, or directory entry number) this
	// append's data was/will be written at.
	offset int64
	// written is set once Append has written bytes, so Commit/Rollback can tell
	// a begun-but-never-appended Pending apart from a written one (both must
	// still be safe to roll back).
	written bool
	// done guards against Commit/Rollback being called twice, or Rollback after
	// Commit.
	done bool
	// path is set for directory-segment pendings, so Rollback knows which file
	// to unlink.
	path string
}

func (p *Pending) markDone() error {
	if p.done {
		return fmt.Errorf("segment: %w: pending already committed or rolled back", errs.ErrFatalIO)
	}
	p.done = true
	return nil
}
