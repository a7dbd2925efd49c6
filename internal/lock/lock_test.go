package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendExclusiveAcrossGoroutines(t *testing.T) {
	ds := Open(t.TempDir())

	var active int32
	var sawOverlap bool
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := ds.AcquireAppend(context.Background())
			require.NoError(t, err)
			if atomic.AddInt32(&active, 1) > 1 {
				mu.Lock()
				sawOverlap = true
				mu.Unlock()
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	require.False(t, sawOverlap, "append tier must be mutually exclusive")
}

func TestReentrantAppendDoesNotDeadlock(t *testing.T) {
	ds := Open(t.TempDir())

	ctx, release1, err := ds.AcquireAppend(context.Background())
	require.NoError(t, err)
	defer release1()

	_, release2, err := ds.AcquireAppend(ctx)
	require.NoError(t, err)
	defer release2()

	tier, ok := ds.HeldTier(ctx)
	require.True(t, ok)
	require.Equal(t, Append, tier)
}

func TestReadNeverBlocksOnWrite(t *testing.T) {
	ds := Open(t.TempDir())

	_, release, err := ds.AcquireAppend(context.Background())
	require.NoError(t, err)
	defer release()

	done := make(chan struct{})
	go func() {
		r, err := ds.AcquireRead()
		require.NoError(t, err)
		defer r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read lock blocked behind an append lock")
	}
}
