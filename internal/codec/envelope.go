// Package codec implements the envelope-framed binary encoding every
// persisted arkimet object uses:
//
//	tag[2] | version:varint | length:varint | payload[length]
//
// Integer fields inside a payload are big-endian and fixed-width per
// attribute type; only the envelope's version and length fields and the
// length prefix of string fields (primitives.go) are variable-length. Varint encode/decode is delegated to
// google.golang.org/protobuf/encoding/protowire, whose base-128 little-
// endian-group varint is bit-for-bit the scheme the envelope uses, rather
// than hand-rolling a second copy of the same algorithm.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// Tag is the 2-character ASCII identifier at the front of every bundle.
type Tag [2]byte

func (t Tag) String() string { return string(t[:]) }

// Top-level tags.
var (
	TagMetadata        = Tag{'M', 'D'}
	TagDeletedMetadata = Tag{'!', 'D'}
	TagSummary         = Tag{'S', 'U'}
	TagGroup           = Tag{'M', 'G'}
)

// Bundle is a single decoded envelope: a tag, a version, and the raw payload
// bytes (not yet interpreted — that's the decoder table's job).
type Bundle struct {
	Tag     Tag
	Version uint32
	Payload []byte
}

// AppendBundle appends tag, version and length-prefixed payload to dst and
// returns the grown slice, so callers can build up a stream of bundles (e.g.
// a metadata group) without an intermediate buffer per item.
func AppendBundle(dst []byte, tag Tag, version uint32, payload []byte) []byte {
	dst = append(dst, tag[0], tag[1])
	dst = protowire.AppendVarint(dst, uint64(version))
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// EncodeBundle is a convenience wrapper around AppendBundle for a single
// bundle with no preexisting buffer.
func EncodeBundle(tag Tag, version uint32, payload []byte) []byte {
	return AppendBundle(make([]byte, 0, 2+payload32Hint(len(payload))), tag, version, payload)
}

func payload32Hint(n int) int {
	// varints for version+length are rarely more than a couple of bytes each;
	// this just sizes the initial allocation sensibly.
	return n + 10
}

// ReadBundle decodes a single bundle from the front of buf and returns the
// remaining, unconsumed bytes. It fails with errs.ErrMalformedInput if the
// buffer is too short for a tag, the varints are malformed, or the declared
// length exceeds the remaining bytes.
func ReadBundle(buf []byte) (Bundle, []byte, error) {
	if len(buf) < 2 {
		return Bundle{}, nil, fmt.Errorf("read tag: %w", errs.ErrMalformedInput)
	}
	tag := Tag{buf[0], buf[1]}
	rest := buf[2:]

	version, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return Bundle{}, nil, fmt.Errorf("read version varint: %w", errs.ErrMalformedInput)
	}
	rest = rest[n:]

	length, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return Bundle{}, nil, fmt.Errorf("read length varint: %w", errs.ErrMalformedInput)
	}
	rest = rest[n:]

	if uint64(len(rest)) < length {
		return Bundle{}, nil, fmt.Errorf("bundle %s claims %d bytes, only %d remain: %w",
			tag, length, len(rest), errs.ErrMalformedInput)
	}

	payload := rest[:length]
	rest = rest[length:]

	return Bundle{Tag: tag, Version: uint32(version), Payload: payload}, rest, nil
}

// Decoder turns a decoded payload of a known (tag, version) into a Go value.
type Decoder func(version uint32, payload []byte) (any, error)

// Registry maps (tag, version) to the decoder responsible for it. Readers
// must accept any version <= the highest registered for a tag and reject
// higher ones; an unregistered tag is always fatal.
type Registry struct {
	byTag map[Tag]map[uint32]Decoder
	max   map[Tag]uint32
}

// NewRegistry returns an empty decoder table.
func NewRegistry() *Registry {
	return &Registry{
		byTag: make(map[Tag]map[uint32]Decoder),
		max:   make(map[Tag]uint32),
	}
}

// Register adds the decoder for (tag, version). Versions for a tag must be
// registered in non-decreasing order; the highest registered version for a
// tag becomes the ceiling for "unknown version" rejection.
func (r *Registry) Register(tag Tag, version uint32, dec Decoder) {
	m, ok := r.byTag[tag]
	if !ok {
		m = make(map[uint32]Decoder)
		r.byTag[tag] = m
	}
	m[version] = dec
	if version > r.max[tag] {
		r.max[tag] = version
	}
}

// Decode looks up the bundle's (tag, version) and invokes the matching
// decoder. Unknown tags are always fatal. A version higher than the highest
// known version for a recognised tag is also fatal; a lower, unregistered
// version falls back to the nearest registered version <= it, since old
// payload shapes are a subset of newer ones for every attribute type in this
// codec (new styles only append).
func (r *Registry) Decode(b Bundle) (any, error) {
	versions, ok := r.byTag[b.Tag]
	if !ok {
		return nil, fmt.Errorf("unknown tag %q: %w", b.Tag, errs.ErrMalformedInput)
	}
	if b.Version > r.max[b.Tag] {
		return nil, fmt.Errorf("tag %q: version %d exceeds highest known version %d: %w",
			b.Tag, b.Version, r.max[b.Tag], errs.ErrMalformedInput)
	}
	if dec, ok := versions[b.Version]; ok {
		return dec(b.Version, b.Payload)
	}
	// Fall back to the closest registered version at or below b.Version.
	var best uint32
	var bestDec Decoder
	found := false
	for v, dec := range versions {
		if v <= b.Version && (!found || v > best) {
			best, bestDec, found = v, dec, true
		}
	}
	if !found {
		return nil, fmt.Errorf("tag %q: no decoder for version %d: %w", b.Tag, b.Version, errs.ErrMalformedInput)
	}
	return bestDec(b.Version, b.Payload)
}
