// Package metadata implements the structured descriptor attached to every
// stored message: a canonicalised set of typed attributes, an ordered note
// sequence, envelope-framed encode/decode, and message-body resolution
// through a caller-supplied DataReader capability.
package metadata

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// codeTags assigns the 2-character envelope tag used when framing each
// attribute inside a metadata record's payload.
var codeTags = map[types.Code]codec.Tag{
	types.CodeOrigin:          {'O', 'R'},
	types.CodeProduct:         {'P', 'R'},
	types.CodeLevel:           {'L', 'E'},
	types.CodeTimerange:       {'T', 'R'},
	types.CodeArea:            {'A', 'R'},
	types.CodeProddef:         {'P', 'D'},
	types.CodeReftime:         {'R', 'T'},
	types.CodeSource:          {'S', 'O'},
	types.CodeRun:             {'R', 'U'},
	types.CodeTask:            {'T', 'A'},
	types.CodeQuantity:        {'Q', 'U'},
	types.CodeValue:           {'V', 'A'},
	types.CodeAssignedDataset: {'A', 'D'},
}

var tagCodes = func() map[codec.Tag]types.Code {
	m := make(map[codec.Tag]types.Code, len(codeTags))
	for code, tag := range codeTags {
		m[tag] = code
	}
	return m
}()

var notesTag = codec.Tag{'N', 'T'}

// Metadata is an ordered collection of typed attributes keyed by attribute
// code, plus an ordered, append-only note sequence. Attribute sets are
// canonicalised: Set replaces any existing value for the same code.
type Metadata struct {
	attrs map[types.Code]types.Item
	notes []types.Note

	// inline holds the message payload when the source is INLINE: the bytes
	// that followed this record's envelope in the stream it was read from, or
	// the bytes a writer is about to emit after it. Not part of identity
	// (Equal) or of the encoded MD payload.
	inline []byte
}

// New returns an empty metadata record.
func New() *Metadata {
	return &Metadata{attrs: make(map[types.Code]types.Item)}
}

// Set installs attr, replacing any existing attribute with the same code.
func (m *Metadata) Set(attr types.Item) {
	m.attrs[attr.Code()] = attr
}

// Unset removes the attribute for code, if present.
func (m *Metadata) Unset(code types.Code) {
	delete(m.attrs, code)
}

// Get returns the attribute for code and whether it was present.
func (m *Metadata) Get(code types.Code) (types.Item, bool) {
	it, ok := m.attrs[code]
	return it, ok
}

// Has reports whether code has an attribute set.
func (m *Metadata) Has(code types.Code) bool {
	_, ok := m.attrs[code]
	return ok
}

// Clear removes every attribute and note.
func (m *Metadata) Clear() {
	m.attrs = make(map[types.Code]types.Item)
	m.notes = nil
}

// AddNote appends a note, preserving insertion order.
func (m *Metadata) AddNote(at types.Time, text string) {
	m.notes = append(m.notes, types.Note{Time: at, Text: text})
}

// Notes returns the ordered note sequence.
func (m *Metadata) Notes() []types.Note {
	return m.notes
}

// Reftime returns the metadata's reftime attribute. Every stored metadata
// has exactly one; callers that load metadata off disk can rely on this
// being present.
func (m *Metadata) Reftime() (types.Reftime, bool) {
	it, ok := m.Get(types.CodeReftime)
	if !ok {
		return types.Reftime{}, false
	}
	return it.(types.Reftime), true
}

// Source returns the metadata's source attribute. Every stored metadata has
// exactly one.
func (m *Metadata) Source() (types.Source, bool) {
	it, ok := m.Get(types.CodeSource)
	if !ok {
		return types.Source{}, false
	}
	return it.(types.Source), true
}

// SetSource installs a BLOB source attribute, the convenience setter
// internal/segment's writer protocol uses after completing an append ->
// Pending // writes bytes + updates metadata source to BLOB(path, offset,
// buf.size)").
func (m *Metadata) SetSource(format, basedir, relpath string, offset, size int64) {
	m.Set(types.NewSourceBlob(format, basedir, relpath, offset, size))
}

// Equal implements record equality: two metadata are equal iff they share
// the same set of attributes (by code and type equality) and the same note
// sequence. Source and notes do not participate in the `unique` projection
// (UniqueKey, below) but DO participate in Equal.
func (m *Metadata) Equal(other *Metadata) bool {
	if len(m.attrs) != len(other.attrs) {
		return false
	}
	for code, item := range m.attrs {
		o, ok := other.attrs[code]
		if !ok || item.Compare(o) != 0 {
			return false
		}
	}
	if len(m.notes) != len(other.notes) {
		return false
	}
	for i, n := range m.notes {
		if n != other.notes[i] {
			return false
		}
	}
	return true
}

// UniqueKey projects the metadata onto the attribute codes named by a
// dataset's `unique` configuration. The returned string is stable and
// suitable as a map/SQL key.
func (m *Metadata) UniqueKey(codes []types.Code) string {
	var buf []byte
	for _, code := range codes {
		it, ok := m.attrs[code]
		if !ok {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = codec.AppendUint32(buf, uint32(len(it.EncodePayload())))
		buf = append(buf, it.EncodePayload()...)
	}
	return string(buf)
}

// SetInlineData attaches the payload bytes accompanying an INLINE source.
// Writers call it before streaming; readers call it after consuming the
// bytes that follow the envelope.
func (m *Metadata) SetInlineData(buf []byte) {
	m.inline = buf
}

// InlineData returns the attached INLINE payload, if any.
func (m *Metadata) InlineData() []byte {
	return m.inline
}

// Encode renders the metadata as an envelope-framed MD bundle. The attribute
// order inside the payload follows types.Codes, so encode(decode(x)) is
// byte-identical to encode(x) for equal metadata.
func (m *Metadata) Encode() []byte {
	return codec.EncodeBundle(codec.TagMetadata, 0, m.encodePayload())
}

func (m *Metadata) encodePayload() []byte {
	var body []byte
	for _, code := range types.Codes {
		tag, ok := codeTags[code]
		if !ok {
			continue // CodeNote/CodeSummaryItem/CodeSummaryStats are not plain attributes
		}
		item, ok := m.attrs[code]
		if !ok {
			continue
		}
		body = codec.AppendBundle(body, tag, 0, item.EncodePayload())
	}
	body = codec.AppendBundle(body, notesTag, 0, types.EncodeNotes(m.notes))
	return body
}

// Read decodes the payload of a single MD or !D bundle into a Metadata.
// origin is joined onto any BLOB source attribute found inside ->
// Metadata"), so the same encoded bytes resolve correctly regardless of
// which dataset root they were read from.
func Read(payload []byte, version uint32, origin string) (*Metadata, error) {
	m := New()
	buf := payload
	for len(buf) > 0 {
		b, rest, err := codec.ReadBundle(buf)
		if err != nil {
			return nil, fmt.Errorf("metadata: read attribute bundle: %w", err)
		}
		buf = rest

		if b.Tag == notesTag {
			notes, err := types.DecodeNotes(b.Payload)
			if err != nil {
				return nil, fmt.Errorf("metadata: decode notes: %w", err)
			}
			m.notes = notes
			continue
		}

		code, ok := tagCodes[b.Tag]
		if !ok {
			return nil, fmt.Errorf("metadata: %w: unknown attribute tag %q", errs.ErrMalformedInput, b.Tag)
		}
		item, err := types.Decode(code, b.Version, b.Payload)
		if err != nil {
			return nil, fmt.Errorf("metadata: decode %s: %w", code, err)
		}
		if code == types.CodeSource {
			if src, ok := item.(types.Source); ok {
				item = src.WithBaseDir(origin)
			}
		}
		m.Set(item)
	}
	return m, nil
}

// ReadOne decodes a single top-level MD or !D envelope from the front of
// buf, returning the Metadata, whether it was a deletion tombstone, and the
// remaining bytes. This is the primitive the `.metadata` sidecar reader and
// group reader build on.
func ReadOne(buf []byte, origin string) (md *Metadata, deleted bool, rest []byte, err error) {
	b, rest, err := codec.ReadBundle(buf)
	if err != nil {
		return nil, false, nil, fmt.Errorf("metadata: read envelope: %w", err)
	}
	switch b.Tag {
	case codec.TagMetadata:
		md, err = Read(b.Payload, b.Version, origin)
	case codec.TagDeletedMetadata:
		md, err = Read(b.Payload, b.Version, origin)
		deleted = true
	default:
		return nil, false, nil, fmt.Errorf("metadata: %w: expected MD or !D, got %q", errs.ErrMalformedInput, b.Tag)
	}
	if err != nil {
		return nil, false, nil, err
	}
	return md, deleted, rest, nil
}

// ReadAll decodes every top-level MD/!D envelope from buf in order, matching
// the sidecar `.metadata` file's "length-framed sequence of encoded metadata
// records, in the order of their offsets" layout. A record with an INLINE
// source is followed by its payload bytes in the same stream; those are
// consumed and attached to the record. It stops at the first malformed
// bundle rather than skipping it, since a partial read here means the
// sidecar itself is corrupt.
func ReadAll(buf []byte, origin string) (items []*Metadata, deletedFlags []bool, err error) {
	for len(buf) > 0 {
		var md *Metadata
		var deleted bool
		md, deleted, buf, err = ReadOne(buf, origin)
		if err != nil {
			return items, deletedFlags, err
		}
		if src, ok := md.Source(); ok && src.Style() == "INLINE" {
			if int64(len(buf)) < src.InlineSize {
				return items, deletedFlags, fmt.Errorf("metadata: %w: inline payload claims %d bytes, only %d remain",
					errs.ErrMalformedInput, src.InlineSize, len(buf))
			}
			md.SetInlineData(buf[:src.InlineSize])
			buf = buf[src.InlineSize:]
		}
		items = append(items, md)
		deletedFlags = append(deletedFlags, deleted)
	}
	return items, deletedFlags, nil
}

// EncodeDeleted renders the metadata as a `!D` tombstone bundle, used when a
// replace supersedes a record: the old record stays in the sidecar stream,
// flagged deleted, until a repack drops it. Metadata groups use it for their
// deleted items too.
func (m *Metadata) EncodeDeleted() []byte {
	return codec.EncodeBundle(codec.TagDeletedMetadata, 0, m.encodePayload())
}

// DataReader is the capability a caller must supply to resolve a BLOB
// source's bytes; INLINE sources carry their own. Concrete implementations live in
// internal/segment, which knows how to seek a concatenated-file, directory,
// or gzip+seek-index segment; metadata does not depend on segment directly,
// to keep the dependency pointing the other way (segment builds and reads
// Metadata, not the reverse).
type DataReader interface {
	// ReadAt returns the size bytes of message data starting at offset within
	// relpath, relative to basedir.
	ReadAt(basedir, relpath string, offset, size int64) ([]byte, error)
}

// GetData resolves the metadata's source attribute to the underlying message
// bytes. INLINE sources are satisfied directly from inline; BLOB sources are
// resolved through r. URL sources are never resolvable locally and always
// return an error.
func (m *Metadata) GetData(r DataReader, inline []byte) ([]byte, error) {
	src, ok := m.Source()
	if !ok {
		return nil, fmt.Errorf("metadata: %w: no source attribute set", errs.ErrMalformedInput)
	}
	switch src.Style() {
	case "INLINE":
		if inline == nil {
			inline = m.inline
		}
		if int64(len(inline)) != src.InlineSize {
			return nil, fmt.Errorf("metadata: %w: inline data size %d does not match source size %d",
				errs.ErrDataCorrupt, len(inline), src.InlineSize)
		}
		return inline, nil
	case "BLOB":
		if r == nil {
			return nil, fmt.Errorf("metadata: %w: no data reader supplied for BLOB source", errs.ErrDataUnavailable)
		}
		return r.ReadAt(src.BaseDir, src.RelPath, src.Offset, src.Size)
	case "URL":
		return nil, fmt.Errorf("metadata: %w: cannot resolve URL source %s locally", errs.ErrDataUnavailable, src.URL)
	default:
		return nil, fmt.Errorf("metadata: %w: unknown source style %q", errs.ErrMalformedInput, src.Style())
	}
}
