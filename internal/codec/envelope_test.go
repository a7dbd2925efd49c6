package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

func TestRoundTripBundle(t *testing.T) {
	payload := []byte("hello metadata")
	buf := EncodeBundle(TagMetadata, 1, payload)

	b, rest, err := ReadBundle(buf)
	require.NoError(t, err)
	require.Equal(t, TagMetadata, b.Tag)
	require.Equal(t, uint32(1), b.Version)
	require.Equal(t, payload, b.Payload)
	require.Empty(t, rest)
}

func TestReadBundleSequence(t *testing.T) {
	var buf []byte
	buf = AppendBundle(buf, TagMetadata, 0, []byte("a"))
	buf = AppendBundle(buf, TagSummary, 2, []byte("bb"))

	b1, rest, err := ReadBundle(buf)
	require.NoError(t, err)
	require.Equal(t, TagMetadata, b1.Tag)
	require.Equal(t, []byte("a"), b1.Payload)

	b2, rest, err := ReadBundle(rest)
	require.NoError(t, err)
	require.Equal(t, TagSummary, b2.Tag)
	require.Equal(t, []byte("bb"), b2.Payload)
	require.Empty(t, rest)
}

func TestReadBundleTruncatedLength(t *testing.T) {
	buf := EncodeBundle(TagMetadata, 0, []byte("hello"))
	// Lop off the tail so the declared length overruns what remains.
	_, _, err := ReadBundle(buf[:len(buf)-2])
	require.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestReadBundleShortBuffer(t *testing.T) {
	_, _, err := ReadBundle([]byte{'M'})
	require.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestRegistryUnknownTagIsFatal(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TagMetadata, 0, func(version uint32, payload []byte) (any, error) {
		return string(payload), nil
	})

	b, _, err := ReadBundle(EncodeBundle(TagSummary, 0, []byte("x")))
	require.NoError(t, err)

	_, err = reg.Decode(b)
	require.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestRegistryUnknownHigherVersionIsFatal(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TagMetadata, 0, func(version uint32, payload []byte) (any, error) {
		return string(payload), nil
	})

	b, _, err := ReadBundle(EncodeBundle(TagMetadata, 5, []byte("x")))
	require.NoError(t, err)

	_, err = reg.Decode(b)
	require.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestRegistryFallsBackToLowerKnownVersion(t *testing.T) {
	reg := NewRegistry()
	reg.Register(TagMetadata, 0, func(version uint32, payload []byte) (any, error) {
		return "v0:" + string(payload), nil
	})
	reg.Register(TagMetadata, 3, func(version uint32, payload []byte) (any, error) {
		return "v3:" + string(payload), nil
	})

	// version 2 was never explicitly registered; nearest-below is v0.
	b, _, err := ReadBundle(EncodeBundle(TagMetadata, 2, []byte("x")))
	require.NoError(t, err)

	got, err := reg.Decode(b)
	require.NoError(t, err)
	require.Equal(t, "v0:x", got)
}

func TestStringRoundTrip(t *testing.T) {
	buf := AppendString(nil, "GRIB1")
	s, rest, err := ConsumeString(buf)
	require.NoError(t, err)
	require.Equal(t, "GRIB1", s)
	require.Empty(t, rest)
}

func TestFixedWidthRoundTrip(t *testing.T) {
	buf := AppendUint32(nil, 42)
	buf = AppendUint64(buf, 1<<40)
	v32, buf, err := ConsumeUint32(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(42), v32)
	v64, buf, err := ConsumeUint64(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), v64)
	require.Empty(t, buf)
}
