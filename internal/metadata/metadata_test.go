package metadata

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func sampleMetadata() *Metadata {
	m := New()
	m.Set(types.NewOriginGRIB1(200, 0, 1))
	m.Set(types.NewProductGRIB1(200, 2, 11))
	m.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))
	m.Set(types.NewSourceBlob("grib1", "/data/test200", "2007/07-08.grib1", 0, 7218))
	m.AddNote(types.Time{Year: 2007, Month: 7, Day: 8, Hour: 1}, "scanned")
	return m
}

func TestSetGetHasUnsetClear(t *testing.T) {
	m := New()
	require.False(t, m.Has(types.CodeOrigin))

	origin := types.NewOriginGRIB1(200, 0, 1)
	m.Set(origin)
	require.True(t, m.Has(types.CodeOrigin))
	got, ok := m.Get(types.CodeOrigin)
	require.True(t, ok)
	require.Zero(t, origin.Compare(got))

	m.Unset(types.CodeOrigin)
	require.False(t, m.Has(types.CodeOrigin))

	m.Set(origin)
	m.AddNote(types.Time{Year: 2007}, "note")
	m.Clear()
	require.False(t, m.Has(types.CodeOrigin))
	require.Empty(t, m.Notes())
}

func TestEncodeReadRoundTrip(t *testing.T) {
	m := sampleMetadata()
	encoded := m.Encode()

	decoded, deleted, rest, err := ReadOne(encoded, "/data/test200")
	require.NoError(t, err)
	require.False(t, deleted)
	require.Empty(t, rest)
	require.True(t, m.Equal(decoded))

	src, ok := decoded.Source()
	require.True(t, ok)
	require.Equal(t, "/data/test200", src.BaseDir)
}

func TestEncodeDeletedRoundTrip(t *testing.T) {
	m := sampleMetadata()
	encoded := m.EncodeDeleted()

	decoded, deleted, _, err := ReadOne(encoded, "")
	require.NoError(t, err)
	require.True(t, deleted)
	require.True(t, m.Equal(decoded))
}

func TestReadAllSequence(t *testing.T) {
	a := sampleMetadata()
	b := sampleMetadata()
	b.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 9}))

	var buf []byte
	buf = append(buf, a.Encode()...)
	buf = append(buf, b.EncodeDeleted()...)

	items, flags, err := ReadAll(buf, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, []bool{false, true}, flags)
	require.True(t, a.Equal(items[0]))
	require.True(t, b.Equal(items[1]))
}

func TestEqualIncludesNotes(t *testing.T) {
	a := sampleMetadata()
	b := sampleMetadata()
	require.True(t, a.Equal(b))

	b.AddNote(types.Time{Year: 2008}, "second")
	require.False(t, a.Equal(b))
}

func TestUniqueKeyProjectsOnlyNamedCodes(t *testing.T) {
	a := sampleMetadata()
	b := sampleMetadata()
	// Differ only in source and notes: unique key over [origin, product, reftime] must
	// still match even though source and notes differ.
	b.Set(types.NewSourceBlob("grib1", "/data/test200", "2007/07-09.grib1", 100, 500))
	b.Clear()
	b.Set(types.NewOriginGRIB1(200, 0, 1))
	b.Set(types.NewProductGRIB1(200, 2, 11))
	b.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))

	codes := []types.Code{types.CodeOrigin, types.CodeProduct, types.CodeReftime}
	require.Equal(t, a.UniqueKey(codes), b.UniqueKey(codes))
}

func TestGetDataInline(t *testing.T) {
	m := New()
	m.Set(types.NewSourceInline("grib1", 4))
	data, err := m.GetData(nil, []byte("DATA"))
	require.NoError(t, err)
	require.Equal(t, []byte("DATA"), data)
}

type fakeReader struct {
	basedir, relpath string
	offset, size     int64
	data             []byte
}

func (f *fakeReader) ReadAt(basedir, relpath string, offset, size int64) ([]byte, error) {
	f.basedir, f.relpath, f.offset, f.size = basedir, relpath, offset, size
	return f.data, nil
}

func TestGetDataBlobUsesReader(t *testing.T) {
	m := New()
	m.Set(types.NewSourceBlob("grib1", "/data/ds1", "2007/07-08.grib1", 10, 20))
	r := &fakeReader{data: []byte("hello")}
	data, err := m.GetData(r, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, "/data/ds1", r.basedir)
	require.Equal(t, "2007/07-08.grib1", r.relpath)
	require.Equal(t, int64(10), r.offset)
	require.Equal(t, int64(20), r.size)
}

func TestGetDataURLAlwaysFails(t *testing.T) {
	m := New()
	m.Set(types.NewSourceURL("grib1", "http://example.org/x.grib1"))
	_, err := m.GetData(nil, nil)
	require.Error(t, err)
}

func TestWriteGroupReadGroupPlainAndCompressed(t *testing.T) {
	a := sampleMetadata()
	b := sampleMetadata()
	b.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 9}))

	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		err := WriteGroup(&buf, []*Metadata{a, b}, []bool{false, true}, compress)
		require.NoError(t, err)

		b2, rest, err := codec.ReadBundle(buf.Bytes())
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, codec.TagGroup, b2.Tag)

		var got []*Metadata
		var gotDeleted []bool
		err = ReadGroup(b2.Payload, "", func(md *Metadata, deleted bool) error {
			got = append(got, md)
			gotDeleted = append(gotDeleted, deleted)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, []bool{false, true}, gotDeleted)
		require.True(t, a.Equal(got[0]))
		require.True(t, b.Equal(got[1]))
	}
}
