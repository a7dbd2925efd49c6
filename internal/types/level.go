package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

const (
	LevelStyleGRIB1  = "GRIB1"
	LevelStyleGRIB2S = "GRIB2S"
	LevelStyleGRIB2D = "GRIB2D"
)

const (
	levelByteGRIB1 styleByte = iota
	levelByteGRIB2S
	levelByteGRIB2D
)

var levelArena = NewArena()

// Level is the level attribute.
type Level struct {
	style string
	idx   int32

	Type, L1, L2 int // GRIB1

	Type1, Scale1, Value1 int // GRIB2S/GRIB2D first level
	Type2, Scale2, Value2 int // GRIB2D second level
}

func (l Level) Code() Code    { return CodeLevel }
func (l Level) Style() string { return l.style }

func (l Level) Compare(other Item) int {
	b := other.(Level)
	if l.style != b.style {
		return compareStrings(l.style, b.style)
	}
	return levelArena.Compare(l.idx, b.idx)
}

func (l Level) EncodePayload() []byte {
	var buf []byte
	u := func(v int) []byte { return codec.AppendUint32(nil, uint32(v)) }
	switch l.style {
	case LevelStyleGRIB1:
		buf = append(buf, levelByteGRIB1)
		buf = append(buf, u(l.Type)...)
		buf = append(buf, u(l.L1)...)
		buf = append(buf, u(l.L2)...)
	case LevelStyleGRIB2S:
		buf = append(buf, levelByteGRIB2S)
		buf = append(buf, u(l.Type1)...)
		buf = append(buf, u(l.Scale1)...)
		buf = append(buf, u(l.Value1)...)
	case LevelStyleGRIB2D:
		buf = append(buf, levelByteGRIB2D)
		buf = append(buf, u(l.Type1)...)
		buf = append(buf, u(l.Scale1)...)
		buf = append(buf, u(l.Value1)...)
		buf = append(buf, u(l.Type2)...)
		buf = append(buf, u(l.Scale2)...)
		buf = append(buf, u(l.Value2)...)
	default:
		panic("types: unknown level style " + l.style)
	}
	return buf
}

func (l Level) WriteYAML() string {
	switch l.style {
	case LevelStyleGRIB1:
		return fmt.Sprintf("GRIB1(%d, %d, %d)", l.Type, l.L1, l.L2)
	case LevelStyleGRIB2S:
		return fmt.Sprintf("GRIB2S(%d, %d, %d)", l.Type1, l.Scale1, l.Value1)
	case LevelStyleGRIB2D:
		return fmt.Sprintf("GRIB2D(%d, %d, %d, %d, %d, %d)", l.Type1, l.Scale1, l.Value1, l.Type2, l.Scale2, l.Value2)
	default:
		return "unknown"
	}
}

// NewLevelGRIB1 builds a GRIB1-style level attribute.
func NewLevelGRIB1(typ, l1, l2 int) Level {
	l := Level{style: LevelStyleGRIB1, Type: typ, L1: l1, L2: l2}
	l.idx = levelArena.Intern(string(l.EncodePayload()))
	return l
}

// NewLevelGRIB2S builds a single-surface GRIB2-style level attribute.
func NewLevelGRIB2S(typ1, scale1, value1 int) Level {
	l := Level{style: LevelStyleGRIB2S, Type1: typ1, Scale1: scale1, Value1: value1}
	l.idx = levelArena.Intern(string(l.EncodePayload()))
	return l
}

// NewLevelGRIB2D builds a double-surface (layer) GRIB2-style level
// attribute.
func NewLevelGRIB2D(typ1, scale1, value1, typ2, scale2, value2 int) Level {
	l := Level{style: LevelStyleGRIB2D, Type1: typ1, Scale1: scale1, Value1: value1, Type2: typ2, Scale2: scale2, Value2: value2}
	l.idx = levelArena.Intern(string(l.EncodePayload()))
	return l
}

func decodeLevel(version uint32, payload []byte) (Item, error) {
	sb, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	readU32 := func(b []byte) (int, []byte, error) {
		v, rest, err := codec.ConsumeUint32(b)
		return int(v), rest, err
	}
	switch sb {
	case levelByteGRIB1:
		typ, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		l1, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		l2, _, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		return NewLevelGRIB1(typ, l1, l2), nil
	case levelByteGRIB2S:
		typ1, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		scale1, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		value1, _, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		return NewLevelGRIB2S(typ1, scale1, value1), nil
	case levelByteGRIB2D:
		typ1, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		scale1, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		value1, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		typ2, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		scale2, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		value2, _, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		return NewLevelGRIB2D(typ1, scale1, value1, typ2, scale2, value2), nil
	default:
		return nil, fmt.Errorf("types: unknown level style byte %d", sb)
	}
}

func init() {
	registerDecoder(CodeLevel, decodeLevel)
}
