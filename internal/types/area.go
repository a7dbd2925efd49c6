package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

// KV is one entry of the key-value bag that Area and Proddef carry: a tagged
// scalar, either an integer or a string, keyed by a format-specific
// identifier a scanner attaches (e.g. "lat", "lon", "utm").
type KV struct {
	Key    string
	IsInt  bool
	IntVal int64
	StrVal string
}

// KVInt builds an integer-valued bag entry.
func KVInt(key string, v int) KV { return KV{Key: key, IsInt: true, IntVal: int64(v)} }

// KVString builds a string-valued bag entry.
func KVString(key, v string) KV { return KV{Key: key, StrVal: v} }

func kvBagEncode(style string, kvs []KV) []byte {
	sorted := append([]KV(nil), kvs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	buf := codec.AppendString(nil, style)
	buf = codec.AppendUint32(buf, uint32(len(sorted)))
	for _, kv := range sorted {
		buf = codec.AppendString(buf, kv.Key)
		if kv.IsInt {
			buf = codec.AppendByte(buf, 1)
			buf = codec.AppendUint64(buf, uint64(kv.IntVal))
		} else {
			buf = codec.AppendByte(buf, 0)
			buf = codec.AppendString(buf, kv.StrVal)
		}
	}
	return buf
}

func kvBagDecode(buf []byte) (style string, kvs []KV, rest []byte, err error) {
	style, buf, err = codec.ConsumeString(buf)
	if err != nil {
		return "", nil, nil, err
	}
	count, buf, err := codec.ConsumeUint32(buf)
	if err != nil {
		return "", nil, nil, err
	}
	kvs = make([]KV, 0, count)
	for i := uint32(0); i < count; i++ {
		var key string
		key, buf, err = codec.ConsumeString(buf)
		if err != nil {
			return "", nil, nil, err
		}
		var kind byte
		kind, buf, err = codec.ConsumeByte(buf)
		if err != nil {
			return "", nil, nil, err
		}
		if kind == 1 {
			var v uint64
			v, buf, err = codec.ConsumeUint64(buf)
			if err != nil {
				return "", nil, nil, err
			}
			kvs = append(kvs, KV{Key: key, IsInt: true, IntVal: int64(v)})
		} else {
			var s string
			s, buf, err = codec.ConsumeString(buf)
			if err != nil {
				return "", nil, nil, err
			}
			kvs = append(kvs, KV{Key: key, StrVal: s})
		}
	}
	return style, kvs, buf, nil
}

func kvBagYAML(style string, kvs []KV) string {
	var sb strings.Builder
	sb.WriteString(style)
	sb.WriteString("(")
	for i, kv := range kvs {
		if i > 0 {
			sb.WriteString(", ")
		}
		if kv.IsInt {
			fmt.Fprintf(&sb, "%s=%d", kv.Key, kv.IntVal)
		} else {
			fmt.Fprintf(&sb, "%s=%q", kv.Key, kv.StrVal)
		}
	}
	sb.WriteString(")")
	return sb.String()
}

var areaArena = NewArena()

// Area is the area attribute: a bounding region, expressed as a scanner-
// defined key-value bag (e.g. GRIB's lat/lon box).
type Area struct {
	style string
	KVs   []KV
	idx   int32
}

func (a Area) Code() Code    { return CodeArea }
func (a Area) Style() string { return a.style }

func (a Area) Compare(other Item) int {
	b := other.(Area)
	return areaArena.Compare(a.idx, b.idx)
}

func (a Area) EncodePayload() []byte { return kvBagEncode(a.style, a.KVs) }
func (a Area) WriteYAML() string     { return kvBagYAML(a.style, a.KVs) }

// NewArea builds an area attribute from a scanner-supplied key-value bag.
func NewArea(style string, kvs ...KV) Area {
	a := Area{style: style, KVs: kvs}
	a.idx = areaArena.Intern(string(a.EncodePayload()))
	return a
}

func decodeArea(version uint32, payload []byte) (Item, error) {
	style, kvs, _, err := kvBagDecode(payload)
	if err != nil {
		return nil, err
	}
	return NewArea(style, kvs...), nil
}

var proddefArena = NewArena()

// Proddef is the proddef attribute: format-specific product-definition
// identifiers scanners attach, as a key-value bag.
type Proddef struct {
	style string
	KVs   []KV
	idx   int32
}

func (p Proddef) Code() Code    { return CodeProddef }
func (p Proddef) Style() string { return p.style }

func (p Proddef) Compare(other Item) int {
	b := other.(Proddef)
	return proddefArena.Compare(p.idx, b.idx)
}

func (p Proddef) EncodePayload() []byte { return kvBagEncode(p.style, p.KVs) }
func (p Proddef) WriteYAML() string     { return kvBagYAML(p.style, p.KVs) }

// NewProddef builds a proddef attribute from a scanner-supplied key-value
// bag.
func NewProddef(style string, kvs ...KV) Proddef {
	p := Proddef{style: style, KVs: kvs}
	p.idx = proddefArena.Intern(string(p.EncodePayload()))
	return p
}

func decodeProddef(version uint32, payload []byte) (Item, error) {
	style, kvs, _, err := kvBagDecode(payload)
	if err != nil {
		return nil, err
	}
	return NewProddef(style, kvs...), nil
}

func init() {
	registerDecoder(CodeArea, decodeArea)
	registerDecoder(CodeProddef, decodeProddef)
}
