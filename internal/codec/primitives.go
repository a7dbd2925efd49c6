package codec

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// AppendString appends a varint-length-prefixed UTF-8 string, the format
// used for every string field inside a payload.
func AppendString(dst []byte, s string) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// ConsumeString reads a varint-length-prefixed string from the front of buf
// and returns it along with the remaining bytes.
func ConsumeString(buf []byte) (string, []byte, error) {
	length, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return "", nil, fmt.Errorf("read string length: %w", errs.ErrMalformedInput)
	}
	buf = buf[n:]
	if uint64(len(buf)) < length {
		return "", nil, fmt.Errorf("string claims %d bytes, only %d remain: %w", length, len(buf), errs.ErrMalformedInput)
	}
	return string(buf[:length]), buf[length:], nil
}

// AppendUint32 appends a fixed-width big-endian uint32.
func AppendUint32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

// ConsumeUint32 reads a fixed-width big-endian uint32 from the front of buf.
func ConsumeUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("read uint32: %w", errs.ErrMalformedInput)
	}
	return binary.BigEndian.Uint32(buf), buf[4:], nil
}

// AppendUint64 appends a fixed-width big-endian uint64.
func AppendUint64(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

// ConsumeUint64 reads a fixed-width big-endian uint64 from the front of buf.
func ConsumeUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("read uint64: %w", errs.ErrMalformedInput)
	}
	return binary.BigEndian.Uint64(buf), buf[8:], nil
}

// AppendByte appends a single style/tag byte.
func AppendByte(dst []byte, b byte) []byte {
	return append(dst, b)
}

// ConsumeByte reads a single byte from the front of buf.
func ConsumeByte(buf []byte) (byte, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, fmt.Errorf("read byte: %w", errs.ErrMalformedInput)
	}
	return buf[0], buf[1:], nil
}
