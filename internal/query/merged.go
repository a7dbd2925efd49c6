package query

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/summary"
)

// mergeChannelCap is the per-producer backpressure bound").
const mergeChannelCap = 10

// Merged composes N datasets into one Reader: each wrapped dataset streams
// from its own goroutine into a bounded channel, and the merge loop
// repeatedly emits the smallest head according to the sorter (default:
// reftime). Producer errors are collected and surfaced combined after every
// producer has finished.
type Merged struct {
	readers []Reader
	log     *zap.Logger
}

// NewMerged wraps readers. log may be nil.
func NewMerged(log *zap.Logger, readers ...Reader) *Merged {
	if log == nil {
		log = zap.NewNop()
	}
	return &Merged{readers: readers, log: log}
}

func (m *Merged) Name() string {
	names := make([]string, len(m.readers))
	for i, r := range m.readers {
		names[i] = r.Name()
	}
	return fmt.Sprintf("merged(%d)", len(names))
}

type producerHead struct {
	ch   chan *metadata.Metadata
	head *metadata.Metadata
	done bool
}

// QueryData implements Reader. Each producer is asked for the same query (so
// every channel arrives pre-sorted); the merge preserves that order
// globally. A consumer error cancels the producers and drains them.
func (m *Merged) QueryData(ctx context.Context, q DataQuery, consumer func(*metadata.Metadata) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	heads := make([]*producerHead, len(m.readers))
	errCh := make(chan error, len(m.readers))
	var wg sync.WaitGroup

	for i, r := range m.readers {
		h := &producerHead{ch: make(chan *metadata.Metadata, mergeChannelCap)}
		heads[i] = h
		wg.Add(1)
		go func(r Reader, h *producerHead) {
			defer wg.Done()
			defer close(h.ch)
			err := r.QueryData(ctx, q, func(md *metadata.Metadata) error {
				select {
				case h.ch <- md:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil && ctx.Err() == nil {
				m.log.Warn("merged producer failed", zap.String("dataset", r.Name()), zap.Error(err))
			}
			errCh <- err
		}(r, h)
	}

	// Prime each head, then repeatedly emit the smallest.
	for _, h := range heads {
		h.advance()
	}
	var consumeErr error
	for consumeErr == nil {
		best := -1
		for i, h := range heads {
			if h.done {
				continue
			}
			if best < 0 || q.Sorter.Compare(h.head, heads[best].head) < 0 {
				best = i
			}
		}
		if best < 0 {
			break
		}
		consumeErr = consumer(heads[best].head)
		heads[best].advance()
	}
	if consumeErr != nil {
		cancel()
		for _, h := range heads {
			for !h.done {
				h.advance()
			}
		}
	}

	wg.Wait()
	close(errCh)
	var combined error
	for err := range errCh {
		if err != nil && err != context.Canceled {
			combined = multierr.Append(combined, err)
		}
	}
	return multierr.Append(consumeErr, combined)
}

func (h *producerHead) advance() {
	md, ok := <-h.ch
	h.head, h.done = md, !ok
}

// QuerySummary implements Reader by merging every wrapped dataset's summary.
func (m *Merged) QuerySummary(ctx context.Context, match *matcher.Matcher) (*summary.Summary, error) {
	out := summary.New()
	var combined error
	for _, r := range m.readers {
		s, err := r.QuerySummary(ctx, match)
		if err != nil {
			combined = multierr.Append(combined, err)
			continue
		}
		out.Merge(s)
	}
	return out, combined
}
