package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

const (
	TimerangeStyleGRIB1 = "GRIB1"
	TimerangeStyleGRIB2 = "GRIB2"
)

const (
	timerangeByteGRIB1 styleByte = iota
	timerangeByteGRIB2
)

var timerangeArena = NewArena()

// Timerange is the timerange attribute: forecast step / statistical-
// processing window relative to the reftime.
type Timerange struct {
	style string
	idx   int32

	Type, Unit, P1, P2 int
}

func (t Timerange) Code() Code    { return CodeTimerange }
func (t Timerange) Style() string { return t.style }

func (t Timerange) Compare(other Item) int {
	b := other.(Timerange)
	if t.style != b.style {
		return compareStrings(t.style, b.style)
	}
	return timerangeArena.Compare(t.idx, b.idx)
}

func (t Timerange) EncodePayload() []byte {
	var buf []byte
	switch t.style {
	case TimerangeStyleGRIB1:
		buf = append(buf, timerangeByteGRIB1)
	case TimerangeStyleGRIB2:
		buf = append(buf, timerangeByteGRIB2)
	default:
		panic("types: unknown timerange style " + t.style)
	}
	buf = codec.AppendUint32(buf, uint32(t.Type))
	buf = codec.AppendUint32(buf, uint32(t.Unit))
	buf = codec.AppendUint32(buf, uint32(t.P1))
	buf = codec.AppendUint32(buf, uint32(t.P2))
	return buf
}

func (t Timerange) WriteYAML() string {
	return fmt.Sprintf("%s(%d, %d, %d, %d)", t.style, t.Type, t.Unit, t.P1, t.P2)
}

// NewTimerangeGRIB1 builds a GRIB1-style timerange attribute.
func NewTimerangeGRIB1(typ, unit, p1, p2 int) Timerange {
	t := Timerange{style: TimerangeStyleGRIB1, Type: typ, Unit: unit, P1: p1, P2: p2}
	t.idx = timerangeArena.Intern(string(t.EncodePayload()))
	return t
}

// NewTimerangeGRIB2 builds a GRIB2-style timerange attribute.
func NewTimerangeGRIB2(typ, unit, p1, p2 int) Timerange {
	t := Timerange{style: TimerangeStyleGRIB2, Type: typ, Unit: unit, P1: p1, P2: p2}
	t.idx = timerangeArena.Intern(string(t.EncodePayload()))
	return t
}

func decodeTimerange(version uint32, payload []byte) (Item, error) {
	sb, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	typ, rest, err := codec.ConsumeUint32(rest)
	if err != nil {
		return nil, err
	}
	unit, rest, err := codec.ConsumeUint32(rest)
	if err != nil {
		return nil, err
	}
	p1, rest, err := codec.ConsumeUint32(rest)
	if err != nil {
		return nil, err
	}
	p2, _, err := codec.ConsumeUint32(rest)
	if err != nil {
		return nil, err
	}
	switch sb {
	case timerangeByteGRIB1:
		return NewTimerangeGRIB1(int(typ), int(unit), int(p1), int(p2)), nil
	case timerangeByteGRIB2:
		return NewTimerangeGRIB2(int(typ), int(unit), int(p1), int(p2)), nil
	default:
		return nil, fmt.Errorf("types: unknown timerange style byte %d", sb)
	}
}

func init() {
	registerDecoder(CodeTimerange, decodeTimerange)
}
