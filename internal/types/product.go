package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

const (
	ProductStyleGRIB1 = "GRIB1"
	ProductStyleGRIB2 = "GRIB2"
	ProductStyleBUFR  = "BUFR"
)

const (
	productByteGRIB1 styleByte = iota
	productByteGRIB2
	productByteBUFR
)

var productArena = NewArena()

// Product is the product attribute.
type Product struct {
	style string
	idx   int32

	// GRIB1
	Origin, Table, Num int
	// GRIB2
	Centre, Discipline, Category, Number int
	// BUFR
	Type, Subtype, LocalSubtype int
}

func (p Product) Code() Code    { return CodeProduct }
func (p Product) Style() string { return p.style }

func (p Product) Compare(other Item) int {
	b := other.(Product)
	if p.style != b.style {
		return compareStrings(p.style, b.style)
	}
	return productArena.Compare(p.idx, b.idx)
}

func (p Product) EncodePayload() []byte {
	var buf []byte
	switch p.style {
	case ProductStyleGRIB1:
		buf = append(buf, productByteGRIB1)
		buf = codec.AppendUint32(buf, uint32(p.Origin))
		buf = codec.AppendUint32(buf, uint32(p.Table))
		buf = codec.AppendUint32(buf, uint32(p.Num))
	case ProductStyleGRIB2:
		buf = append(buf, productByteGRIB2)
		buf = codec.AppendUint32(buf, uint32(p.Centre))
		buf = codec.AppendUint32(buf, uint32(p.Discipline))
		buf = codec.AppendUint32(buf, uint32(p.Category))
		buf = codec.AppendUint32(buf, uint32(p.Number))
	case ProductStyleBUFR:
		buf = append(buf, productByteBUFR)
		buf = codec.AppendUint32(buf, uint32(p.Type))
		buf = codec.AppendUint32(buf, uint32(p.Subtype))
		buf = codec.AppendUint32(buf, uint32(p.LocalSubtype))
	default:
		panic("types: unknown product style " + p.style)
	}
	return buf
}

func (p Product) WriteYAML() string {
	switch p.style {
	case ProductStyleGRIB1:
		return fmt.Sprintf("GRIB1(%d, %d, %d)", p.Origin, p.Table, p.Num)
	case ProductStyleGRIB2:
		return fmt.Sprintf("GRIB2(%d, %d, %d, %d)", p.Centre, p.Discipline, p.Category, p.Number)
	case ProductStyleBUFR:
		return fmt.Sprintf("BUFR(%d, %d, %d)", p.Type, p.Subtype, p.LocalSubtype)
	default:
		return "unknown"
	}
}

// NewProductGRIB1 builds a GRIB1-style product attribute.
func NewProductGRIB1(origin, table, num int) Product {
	p := Product{style: ProductStyleGRIB1, Origin: origin, Table: table, Num: num}
	p.idx = productArena.Intern(string(p.EncodePayload()))
	return p
}

// NewProductGRIB2 builds a GRIB2-style product attribute.
func NewProductGRIB2(centre, discipline, category, number int) Product {
	p := Product{style: ProductStyleGRIB2, Centre: centre, Discipline: discipline, Category: category, Number: number}
	p.idx = productArena.Intern(string(p.EncodePayload()))
	return p
}

// NewProductBUFR builds a BUFR-style product attribute.
func NewProductBUFR(typ, subtype, localSubtype int) Product {
	p := Product{style: ProductStyleBUFR, Type: typ, Subtype: subtype, LocalSubtype: localSubtype}
	p.idx = productArena.Intern(string(p.EncodePayload()))
	return p
}

func decodeProduct(version uint32, payload []byte) (Item, error) {
	sb, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	readU32 := func(b []byte) (int, []byte, error) {
		v, rest, err := codec.ConsumeUint32(b)
		return int(v), rest, err
	}
	switch sb {
	case productByteGRIB1:
		origin, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		table, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		num, _, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		return NewProductGRIB1(origin, table, num), nil
	case productByteGRIB2:
		centre, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		discipline, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		category, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		number, _, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		return NewProductGRIB2(centre, discipline, category, number), nil
	case productByteBUFR:
		typ, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		subtype, rest, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		localSubtype, _, err := readU32(rest)
		if err != nil {
			return nil, err
		}
		return NewProductBUFR(typ, subtype, localSubtype), nil
	default:
		return nil, fmt.Errorf("types: unknown product style byte %d", sb)
	}
}

func init() {
	registerDecoder(CodeProduct, decodeProduct)
}
