package types

import (
	"bytes"
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

// Origin styles. New styles are appended, never inserted.
const (
	OriginStyleGRIB1 = "GRIB1"
	OriginStyleGRIB2 = "GRIB2"
	OriginStyleBUFR  = "BUFR"
)

const (
	originByteGRIB1 styleByte = iota
	originByteGRIB2
	originByteBUFR
)

var originArena = NewArena()

// Origin is the origin attribute: which centre/process produced a message.
type Origin struct {
	style string
	idx   int32

	// GRIB1/GRIB2
	Centre, Subcentre int
	Process           int // GRIB1 "process"; GRIB2 processType/bg/process folded below
	ProcessType       int // GRIB2 only
	BgProcessID       int // GRIB2 only

	// BUFR
	BUFRCentre, BUFRSubcentre int
}

func (o Origin) Code() Code    { return CodeOrigin }
func (o Origin) Style() string { return o.style }

func (o Origin) Compare(other Item) int {
	b := other.(Origin)
	if o.style != b.style {
		return compareStrings(o.style, b.style)
	}
	return originArena.Compare(o.idx, b.idx)
}

func (o Origin) EncodePayload() []byte {
	var buf []byte
	switch o.style {
	case OriginStyleGRIB1:
		buf = append(buf, originByteGRIB1)
		buf = codec.AppendUint32(buf, uint32(o.Centre))
		buf = codec.AppendUint32(buf, uint32(o.Subcentre))
		buf = codec.AppendUint32(buf, uint32(o.Process))
	case OriginStyleGRIB2:
		buf = append(buf, originByteGRIB2)
		buf = codec.AppendUint32(buf, uint32(o.Centre))
		buf = codec.AppendUint32(buf, uint32(o.Subcentre))
		buf = codec.AppendUint32(buf, uint32(o.ProcessType))
		buf = codec.AppendUint32(buf, uint32(o.BgProcessID))
		buf = codec.AppendUint32(buf, uint32(o.Process))
	case OriginStyleBUFR:
		buf = append(buf, originByteBUFR)
		buf = codec.AppendUint32(buf, uint32(o.BUFRCentre))
		buf = codec.AppendUint32(buf, uint32(o.BUFRSubcentre))
	default:
		panic("types: unknown origin style " + o.style)
	}
	return buf
}

func (o Origin) WriteYAML() string {
	switch o.style {
	case OriginStyleGRIB1:
		return fmt.Sprintf("GRIB1(%d, %d, %d)", o.Centre, o.Subcentre, o.Process)
	case OriginStyleGRIB2:
		return fmt.Sprintf("GRIB2(%d, %d, %d, %d, %d)", o.Centre, o.Subcentre, o.ProcessType, o.BgProcessID, o.Process)
	case OriginStyleBUFR:
		return fmt.Sprintf("BUFR(%d, %d)", o.BUFRCentre, o.BUFRSubcentre)
	default:
		return "unknown"
	}
}

// NewOriginGRIB1 builds a GRIB1-style origin attribute.
func NewOriginGRIB1(centre, subcentre, process int) Origin {
	o := Origin{style: OriginStyleGRIB1, Centre: centre, Subcentre: subcentre, Process: process}
	o.idx = originArena.Intern(string(o.EncodePayload()))
	return o
}

// NewOriginGRIB2 builds a GRIB2-style origin attribute.
func NewOriginGRIB2(centre, subcentre, processType, bgProcessID, process int) Origin {
	o := Origin{style: OriginStyleGRIB2, Centre: centre, Subcentre: subcentre, ProcessType: processType, BgProcessID: bgProcessID, Process: process}
	o.idx = originArena.Intern(string(o.EncodePayload()))
	return o
}

// NewOriginBUFR builds a BUFR-style origin attribute.
func NewOriginBUFR(centre, subcentre int) Origin {
	o := Origin{style: OriginStyleBUFR, BUFRCentre: centre, BUFRSubcentre: subcentre}
	o.idx = originArena.Intern(string(o.EncodePayload()))
	return o
}

func decodeOrigin(version uint32, payload []byte) (Item, error) {
	sb, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	switch sb {
	case originByteGRIB1:
		centre, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		subcentre, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		process, _, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		return NewOriginGRIB1(int(centre), int(subcentre), int(process)), nil
	case originByteGRIB2:
		centre, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		subcentre, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		processType, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		bgProcessID, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		process, _, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		return NewOriginGRIB2(int(centre), int(subcentre), int(processType), int(bgProcessID), int(process)), nil
	case originByteBUFR:
		centre, rest, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		subcentre, _, err := codec.ConsumeUint32(rest)
		if err != nil {
			return nil, err
		}
		return NewOriginBUFR(int(centre), int(subcentre)), nil
	default:
		return nil, fmt.Errorf("types: unknown origin style byte %d", sb)
	}
}

func init() {
	registerDecoder(CodeOrigin, decodeOrigin)
}

func compareStrings(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}
