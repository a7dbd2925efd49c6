package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Interval bounds how much a sorted stream is buffered: metadata are
// accumulated until their reftime leaves the current window, then the window
// is sorted and flushed").
type Interval int

const (
	// IntervalAll buffers the whole stream before sorting.
	IntervalAll Interval = iota
	IntervalMonth
	IntervalDay
	IntervalHour
)

type sortKey struct {
	code types.Code
	desc bool
}

// Sorter is an ordering clause over attribute codes with ±direction . The
// zero-key sorter orders by reftime.
type Sorter struct {
	Window Interval
	keys   []sortKey
}

// ParseSorter compiles "month:origin, -timerange"-style clauses: an optional
// window prefix, then comma-separated attribute codes, each optionally
// prefixed with '-' for descending.
func ParseSorter(expr string) (*Sorter, error) {
	s := &Sorter{Window: IntervalAll}
	expr = strings.TrimSpace(expr)
	if head, rest, found := strings.Cut(expr, ":"); found {
		switch strings.TrimSpace(head) {
		case "month":
			s.Window = IntervalMonth
		case "day":
			s.Window = IntervalDay
		case "hour":
			s.Window = IntervalHour
		default:
			return nil, fmt.Errorf("query: %w: unknown sort window %q", errs.ErrMalformedInput, head)
		}
		expr = rest
	}
	for _, field := range strings.Split(expr, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		k := sortKey{}
		if strings.HasPrefix(field, "-") {
			k.desc = true
			field = field[1:]
		}
		found := false
		for _, code := range types.Codes {
			if code.String() == field {
				k.code, found = code, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("query: %w: unknown sort code %q", errs.ErrMalformedInput, field)
		}
		s.keys = append(s.keys, k)
	}
	return s, nil
}

// Compare orders two metadata per the clause; ties (and the empty clause)
// fall back to reftime so the order is useful by default and the multi-
// dataset merge is stable.
func (s *Sorter) Compare(a, b *metadata.Metadata) int {
	if s != nil {
		for _, k := range s.keys {
			ai, aok := a.Get(k.code)
			bi, bok := b.Get(k.code)
			var c int
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			case !bok:
				c = 1
			default:
				c = ai.Compare(bi)
			}
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
	}
	art, aok := a.Reftime()
	brt, bok := b.Reftime()
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	return art.Compare(brt)
}

// windowKey truncates a reftime to the sorter's window.
func (s *Sorter) windowKey(md *metadata.Metadata) types.Time {
	rt, ok := md.Reftime()
	if !ok {
		return types.Time{}
	}
	t := rt.Min()
	switch s.Window {
	case IntervalMonth:
		return types.Time{Year: t.Year, Month: t.Month}
	case IntervalDay:
		return types.Time{Year: t.Year, Month: t.Month, Day: t.Day}
	case IntervalHour:
		return types.Time{Year: t.Year, Month: t.Month, Day: t.Day, Hour: t.Hour}
	}
	return types.Time{}
}

// SortBuffer adapts an unordered producer to an ordered consumer: Add
// buffers, Flush drains. With a bounded window, each window is flushed as
// soon as a later-window metadata arrives, keeping memory proportional to a
// window rather than the whole result set.
type SortBuffer struct {
	sorter *Sorter
	out    func(*metadata.Metadata) error

	buf     []*metadata.Metadata
	window  types.Time
	started bool
}

// NewSortBuffer wraps out with sorting per s.
func NewSortBuffer(s *Sorter, out func(*metadata.Metadata) error) *SortBuffer {
	return &SortBuffer{sorter: s, out: out}
}

// Add accepts the next metadata from the producer.
func (b *SortBuffer) Add(md *metadata.Metadata) error {
	if b.sorter.Window != IntervalAll {
		key := b.sorter.windowKey(md)
		if b.started && key != b.window {
			if err := b.flushBuf(); err != nil {
				return err
			}
		}
		b.window, b.started = key, true
	}
	b.buf = append(b.buf, md)
	return nil
}

// Flush sorts and emits everything still buffered.
func (b *SortBuffer) Flush() error {
	return b.flushBuf()
}

func (b *SortBuffer) flushBuf() error {
	sort.SliceStable(b.buf, func(i, j int) bool {
		return b.sorter.Compare(b.buf[i], b.buf[j]) < 0
	})
	for _, md := range b.buf {
		if err := b.out(md); err != nil {
			return err
		}
	}
	b.buf = b.buf[:0]
	return nil
}
