// Package lock implements the three-tier dataset locking discipline:
// ReadLock (shared, never blocks or is blocked by anything else), AppendLock
// (exclusive with respect to other appenders and to check, concurrent with
// readers), and CheckLock (exclusive with respect to appenders and other
// checkers, concurrent with readers).
//
// A single OS-level exclusive lock on the dataset's `lock` file
// (github.com/gofrs/flock) arbitrates the Append/Check tier across
// processes; the two named tiers are mutually exclusive with each other but
// concurrent with readers. Readers never take the OS lock at all: ReadLock
// is pure in-process bookkeeping, since nothing in the tier matrix ever
// blocks a reader.
package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// Tier identifies which lock a Dataset's AcquireRead, AcquireAppend or
// AcquireCheck call is for.
type Tier int

const (
	Read Tier = iota
	Append
	Check
)

func (t Tier) String() string {
	switch t {
	case Read:
		return "read"
	case Append:
		return "append"
	case Check:
		return "check"
	default:
		return "unknown"
	}
}

type ctxKey struct{ root string }

// Dataset arbitrates the three lock tiers over one dataset root directory.
// It is safe for concurrent use from multiple goroutines within the process;
// cross-process exclusion for the Append/Check tier goes through the OS
// advisory lock on root/lock.
type Dataset struct {
	root string

	mu         sync.Mutex
	readers    int
	writeTier  Tier // Append or Check, meaningful only when writeHeld
	writeHeld  bool
	writeDepth int // reentrant acquisitions by the same logical caller

	// writeMu serialises the write tier between goroutines of this process: the
	// OS advisory lock below only arbitrates between processes (taking it twice
	// through the same handle short-circuits).
	writeMu sync.Mutex
	file    *flock.Flock
}

// Open returns the lock arbiter for the dataset rooted at root. It does not
// itself acquire anything.
func Open(root string) *Dataset {
	return &Dataset{root: root, file: flock.New(filepath.Join(root, "lock"))}
}

// AcquireRead takes a shared read lock. Reads never block and are never
// blocked; the returned release func decrements the bookkeeping counter.
func (d *Dataset) AcquireRead() (release func(), err error) {
	d.mu.Lock()
	d.readers++
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.readers--
		d.mu.Unlock()
	}, nil
}

// AcquireAppend takes the Append tier: exclusive with respect to other
// appenders and to Check, concurrent with readers. ctx carries reentrancy:
// if the calling goroutine chain already holds this dataset's write tier
// (detected via a context value stashed by a prior Acquire call further up
// the same call stack), the acquisition is a no-op depth increment rather
// than a second OS-level lock attempt, which would otherwise deadlock a
// thread against itself.
func (d *Dataset) AcquireAppend(ctx context.Context) (context.Context, func(), error) {
	return d.acquireWrite(ctx, Append)
}

// AcquireCheck takes the Check tier: exclusive with respect to appenders and
// other checkers, concurrent with readers.
func (d *Dataset) AcquireCheck(ctx context.Context) (context.Context, func(), error) {
	return d.acquireWrite(ctx, Check)
}

func (d *Dataset) acquireWrite(ctx context.Context, tier Tier) (context.Context, func(), error) {
	key := ctxKey{root: d.root}
	if ctx.Value(key) != nil {
		d.mu.Lock()
		if !d.writeHeld {
			d.mu.Unlock()
			return ctx, nil, fmt.Errorf("lock: %s: reentrant %s acquire with no lock held: %w", d.root, tier, errs.ErrFatalIO)
		}
		d.writeDepth++
		d.mu.Unlock()
		return ctx, func() {
			d.mu.Lock()
			d.writeDepth--
			d.mu.Unlock()
		}, nil
	}

	d.writeMu.Lock()
	if err := d.file.Lock(); err != nil {
		d.writeMu.Unlock()
		return ctx, nil, fmt.Errorf("lock: %s: acquire %s: %v: %w", d.root, tier, err, errs.ErrTransientIO)
	}

	d.mu.Lock()
	d.writeHeld = true
	d.writeTier = tier
	d.writeDepth = 1
	d.mu.Unlock()

	childCtx := context.WithValue(ctx, key, tier)
	release := func() {
		d.mu.Lock()
		d.writeDepth--
		done := d.writeDepth == 0
		if done {
			d.writeHeld = false
		}
		d.mu.Unlock()
		if done {
			_ = d.file.Unlock()
			d.writeMu.Unlock()
		}
	}
	return childCtx, release, nil
}

// HeldTier reports which write tier, if any, ctx is already holding for this
// dataset — used by callers that want to assert a caller already holds the
// append lock before doing something append-only.
func (d *Dataset) HeldTier(ctx context.Context) (Tier, bool) {
	v := ctx.Value(ctxKey{root: d.root})
	if v == nil {
		return 0, false
	}
	return v.(Tier), true
}

// Readers reports the current shared-reader count, for diagnostics and
// tests.
func (d *Dataset) Readers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readers
}
