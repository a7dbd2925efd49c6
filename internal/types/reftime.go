package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

const (
	ReftimeStylePosition = "POSITION"
	ReftimeStylePeriod   = "PERIOD"
)

const (
	reftimeBytePosition styleByte = iota
	reftimeBytePeriod
)

// Reftime is the reftime attribute. Every stored metadata has exactly one.
// POSITION is a single instant; PERIOD is a closed interval, typically
// produced by merging multiple POSITION/PERIOD values (see Merger below).
type Reftime struct {
	style      string
	Instant    Time // POSITION
	Begin, End Time // PERIOD
}

func (r Reftime) Code() Code    { return CodeReftime }
func (r Reftime) Style() string { return r.style }

// Min returns the earliest instant this reftime covers.
func (r Reftime) Min() Time {
	if r.style == ReftimeStylePeriod {
		return r.Begin
	}
	return r.Instant
}

// Max returns the latest instant this reftime covers.
func (r Reftime) Max() Time {
	if r.style == ReftimeStylePeriod {
		return r.End
	}
	return r.Instant
}

func (r Reftime) Compare(other Item) int {
	b := other.(Reftime)
	if c := r.Min().Compare(b.Min()); c != 0 {
		return c
	}
	return r.Max().Compare(b.Max())
}

func (r Reftime) EncodePayload() []byte {
	switch r.style {
	case ReftimeStylePosition:
		buf := append([]byte{}, reftimeBytePosition)
		return appendTime(buf, r.Instant)
	case ReftimeStylePeriod:
		buf := append([]byte{}, reftimeBytePeriod)
		buf = appendTime(buf, r.Begin)
		return appendTime(buf, r.End)
	default:
		panic("types: unknown reftime style " + r.style)
	}
}

func (r Reftime) WriteYAML() string {
	switch r.style {
	case ReftimeStylePosition:
		return r.Instant.SQLText()
	case ReftimeStylePeriod:
		return fmt.Sprintf("%s to %s", r.Begin.SQLText(), r.End.SQLText())
	default:
		return "unknown"
	}
}

// NewReftimePosition builds an instant reftime attribute.
func NewReftimePosition(t Time) Reftime {
	return Reftime{style: ReftimeStylePosition, Instant: t}
}

// NewReftimePeriod builds a closed-interval reftime attribute. begin must
// not be later than end.
func NewReftimePeriod(begin, end Time) Reftime {
	return Reftime{style: ReftimeStylePeriod, Begin: begin, End: end}
}

func decodeReftime(version uint32, payload []byte) (Item, error) {
	sb, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	switch sb {
	case reftimeBytePosition:
		t, _, err := consumeTime(rest)
		if err != nil {
			return nil, err
		}
		return NewReftimePosition(t), nil
	case reftimeBytePeriod:
		begin, rest, err := consumeTime(rest)
		if err != nil {
			return nil, err
		}
		end, _, err := consumeTime(rest)
		if err != nil {
			return nil, err
		}
		return NewReftimePeriod(begin, end), nil
	default:
		return nil, fmt.Errorf("types: unknown reftime style byte %d", sb)
	}
}

func init() {
	registerDecoder(CodeReftime, decodeReftime)
}

// Merger accumulates a running (min, max) bound across the reftime
// attributes it has been fed: "a period merger keeps a running (min, max)
// bounding the attribute values it has been merged with." Used by the
// summary engine when collapsing many metadata reftimes into one Stats
// entry.
type Merger struct {
	have     bool
	min, max Time
}

// Add folds one reftime attribute's span into the running bound.
func (m *Merger) Add(r Reftime) {
	lo, hi := r.Min(), r.Max()
	if !m.have {
		m.min, m.max, m.have = lo, hi, true
		return
	}
	if lo.Compare(m.min) < 0 {
		m.min = lo
	}
	if hi.Compare(m.max) > 0 {
		m.max = hi
	}
}

// Result returns the merged reftime as a PERIOD (or POSITION if only a
// single instant was ever added), and whether anything was added at all.
func (m *Merger) Result() (Reftime, bool) {
	if !m.have {
		return Reftime{}, false
	}
	if m.min == m.max {
		return NewReftimePosition(m.min), true
	}
	return NewReftimePeriod(m.min, m.max), true
}
