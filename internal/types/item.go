package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// Item is the common contract every attribute value implements: one tagged
// union per attribute code. Style dispatch is explicit (Style returns the
// variant name), and behaviour is a switch over that name rather than
// inheritance.
type Item interface {
	Code() Code
	Style() string

	// Compare defines this type's total, stable ordering. It panics if other is
	// not the same concrete type — callers only compare items of equal Code,
	// which always share a concrete Go type in this codec.
	Compare(other Item) int

	// EncodePayload renders the style byte followed by the style-specific body.
	// The envelope (tag/version/length) is added by the caller.
	EncodePayload() []byte

	// WriteYAML renders the one-line text form of the value (for most styles
	// STYLE(field, ...)) that arki-dump and the other tools' YAML output print.
	WriteYAML() string
}

// Decoder is implemented by each attribute type's package-level decode
// function (decodeOrigin, decodeLevel, ...), which parses a style byte and
// the remaining style-specific body into a concrete Item.
type Decoder func(version uint32, payload []byte) (Item, error)

var decoders = map[Code]Decoder{}

// registerDecoder wires a concrete type's decoder into the shared table;
// called from each attribute type's init().
func registerDecoder(code Code, dec Decoder) {
	decoders[code] = dec
}

// Decode parses an envelope payload for the given code, dispatching on the
// registered decoder. Fails with a malformed-input error if code has no
// registered decoder (closed enumeration violation).
func Decode(code Code, version uint32, payload []byte) (Item, error) {
	dec, ok := decoders[code]
	if !ok {
		return nil, fmt.Errorf("types: %w: no decoder registered for code %s", errs.ErrMalformedInput, code)
	}
	return dec(version, payload)
}

// Encode frames an Item's payload as a full envelope bundle tagged with its
// style-independent per-code tag (the 2-char tags used at top level are for
// MD/!D/SU/MG only; the per-attribute tags are the caller's, e.g. the
// codeTags table in internal/metadata).
func Encode(tag codec.Tag, version uint32, it Item) []byte {
	return codec.EncodeBundle(tag, version, it.EncodePayload())
}

// styleByte maps a style discriminator to the single byte written right
// after the envelope payload begins: the first byte of every attribute
// payload names the style, the rest is style-specific.
type styleByte = byte
