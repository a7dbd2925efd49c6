package types

import (
	"fmt"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

const (
	SourceStyleBlob   = "BLOB"
	SourceStyleInline = "INLINE"
	SourceStyleURL    = "URL"
)

const (
	sourceByteBlob styleByte = iota
	sourceByteInline
	sourceByteURL
)

// Source is the source attribute: where a metadata's message bytes live.
// Every stored metadata has exactly one.
//
// BaseDir is deliberately not part of the encoded payload: it is the dataset
// root a BLOB source is resolved relative to, supplied by the caller of Read
// rather than persisted, since the same bytes can be read back after a
// dataset has been moved or archived.
type Source struct {
	style  string
	Format string

	// BLOB
	BaseDir string
	RelPath string
	Offset  int64
	Size    int64

	// INLINE
	InlineSize int64

	// URL
	URL string
}

func (s Source) Code() Code    { return CodeSource }
func (s Source) Style() string { return s.style }

func (s Source) Compare(other Item) int {
	b := other.(Source)
	if s.style != b.style {
		return compareStrings(s.style, b.style)
	}
	switch s.style {
	case SourceStyleBlob:
		if c := compareStrings(s.RelPath, b.RelPath); c != 0 {
			return c
		}
		if s.Offset != b.Offset {
			if s.Offset < b.Offset {
				return -1
			}
			return 1
		}
		return 0
	case SourceStyleURL:
		return compareStrings(s.URL, b.URL)
	default:
		return 0
	}
}

func (s Source) EncodePayload() []byte {
	switch s.style {
	case SourceStyleBlob:
		buf := append([]byte{}, sourceByteBlob)
		buf = codec.AppendString(buf, s.Format)
		buf = codec.AppendString(buf, s.RelPath)
		buf = codec.AppendUint64(buf, uint64(s.Offset))
		buf = codec.AppendUint64(buf, uint64(s.Size))
		return buf
	case SourceStyleInline:
		buf := append([]byte{}, sourceByteInline)
		buf = codec.AppendString(buf, s.Format)
		buf = codec.AppendUint64(buf, uint64(s.InlineSize))
		return buf
	case SourceStyleURL:
		buf := append([]byte{}, sourceByteURL)
		buf = codec.AppendString(buf, s.Format)
		buf = codec.AppendString(buf, s.URL)
		return buf
	default:
		panic("types: unknown source style " + s.style)
	}
}

func (s Source) WriteYAML() string {
	switch s.style {
	case SourceStyleBlob:
		return fmt.Sprintf("BLOB(%s, %s, %d, %d)", s.Format, s.RelPath, s.Offset, s.Size)
	case SourceStyleInline:
		return fmt.Sprintf("INLINE(%s, %d)", s.Format, s.InlineSize)
	case SourceStyleURL:
		return fmt.Sprintf("URL(%s, %s)", s.Format, s.URL)
	default:
		return "unknown"
	}
}

// NewSourceBlob builds an on-disk source attribute. basedir is the dataset
// root the relpath is joined against; it is not persisted (see the Source
// doc comment).
func NewSourceBlob(format, basedir, relpath string, offset, size int64) Source {
	return Source{style: SourceStyleBlob, Format: format, BaseDir: basedir, RelPath: relpath, Offset: offset, Size: size}
}

// NewSourceInline builds a source attribute whose payload follows the
// metadata envelope in the same stream.
func NewSourceInline(format string, size int64) Source {
	return Source{style: SourceStyleInline, Format: format, InlineSize: size}
}

// NewSourceURL builds a source attribute pointing at a remote dataset.
func NewSourceURL(format, url string) Source {
	return Source{style: SourceStyleURL, Format: format, URL: url}
}

// WithBaseDir returns a copy of s with BaseDir set, whatever the style. Only
// BLOB sources use BaseDir.
func (s Source) WithBaseDir(basedir string) Source {
	s.BaseDir = basedir
	return s
}

func decodeSource(version uint32, payload []byte) (Item, error) {
	sb, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	switch sb {
	case sourceByteBlob:
		format, rest, err := codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		relpath, rest, err := codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		offset, rest, err := codec.ConsumeUint64(rest)
		if err != nil {
			return nil, err
		}
		size, _, err := codec.ConsumeUint64(rest)
		if err != nil {
			return nil, err
		}
		return NewSourceBlob(format, "", relpath, int64(offset), int64(size)), nil
	case sourceByteInline:
		format, rest, err := codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		size, _, err := codec.ConsumeUint64(rest)
		if err != nil {
			return nil, err
		}
		return NewSourceInline(format, int64(size)), nil
	case sourceByteURL:
		format, rest, err := codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		url, _, err := codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		return NewSourceURL(format, url), nil
	default:
		return nil, fmt.Errorf("types: unknown source style byte %d", sb)
	}
}

func init() {
	registerDecoder(CodeSource, decodeSource)
}
