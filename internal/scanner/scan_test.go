package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func TestValidators(t *testing.T) {
	cases := []struct {
		format string
		good   []byte
		bad    []byte
	}{
		{"grib1", []byte("GRIBxxxx7777"), []byte("GRIBxxxx777")},
		{"bufr", []byte("BUFRxxxx7777"), []byte("XUFRxxxx7777")},
		{"odimh5", append(append([]byte{}, hdf5Magic...), 'x'), []byte("not hdf5")},
		{"vm2", []byte("200707080000,1,158,32,,,\n"), []byte("binary\x00junk\n")},
	}
	for _, c := range cases {
		require.NoError(t, Validate(c.format, c.good), c.format)
		require.Error(t, Validate(c.format, c.bad), c.format)
	}
	// Unknown formats are stored opaquely, never rejected.
	require.NoError(t, Validate("netcdf", []byte("anything")))
}

func TestFormatOf(t *testing.T) {
	require.Equal(t, "grib1", FormatOf("2007/07-08.grib1"))
	require.Equal(t, "vm2", FormatOf("test.VM2"))
	require.Equal(t, "", FormatOf("noext"))
}

func writeFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestScanGRIBMessages(t *testing.T) {
	dir := t.TempDir()
	msg1 := []byte("GRIBaaaaaaaa7777")
	msg2 := []byte("GRIBbbbb7777")
	// Padding between messages is tolerated on read.
	data := append(append(append([]byte{}, msg1...), []byte(" \n")...), msg2...)
	path := writeFixture(t, dir, "test.grib1", data)

	var got []*metadata.Metadata
	handled, err := Scan(path, dir, "test.grib1", func(md *metadata.Metadata) error {
		got = append(got, md)
		return nil
	}, "")
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, got, 2)

	src, ok := got[0].Source()
	require.True(t, ok)
	require.Equal(t, int64(0), src.Offset)
	require.Equal(t, int64(len(msg1)), src.Size)

	src, _ = got[1].Source()
	require.Equal(t, int64(len(msg1)+2), src.Offset)
	require.Equal(t, int64(len(msg2)), src.Size)
}

func TestScanVM2SkipsCorruptBlock(t *testing.T) {
	dir := t.TempDir()
	line1 := "198710310000,1,227,1.2,,,000000000\n"
	line2 := "19871031000030,12,227,.5,,,000000000\n"
	zeros := make([]byte, 33)
	line3 := "201101010000,1,228,.5,,,000000000\n"
	data := []byte(line1 + line2)
	data = append(data, zeros...)
	data = append(data, []byte(line3)...)
	path := writeFixture(t, dir, "test.vm2", data)

	var got []*metadata.Metadata
	handled, err := Scan(path, dir, "test.vm2", func(md *metadata.Metadata) error {
		got = append(got, md)
		return nil
	}, "")
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, got, 3)

	// The third message sits after the zero block.
	src, _ := got[2].Source()
	require.Equal(t, int64(len(line1)+len(line2)+len(zeros)), src.Offset)

	rt, ok := got[0].Reftime()
	require.True(t, ok)
	require.Equal(t, types.Time{Year: 1987, Month: 10, Day: 31}, rt.Min())

	// The opaque value attribute carries the raw line.
	v, ok := got[0].Get(types.CodeValue)
	require.True(t, ok)
	require.Equal(t, line1[:len(line1)-1], string(v.(types.ValueAttr).Raw))
}

func TestScanUsesFreshSidecarVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "test.grib1", []byte("GRIBxxxx7777"))

	md := metadata.New()
	md.Set(types.NewOriginGRIB1(200, 0, 1))
	md.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))
	md.SetSource("grib1", dir, "test.grib1", 0, 12)
	writeFixture(t, dir, "test.grib1.metadata", md.Encode())
	// Make the sidecar strictly newer than the data.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "test.grib1.metadata"), future, future))

	var got []*metadata.Metadata
	handled, err := Scan(path, dir, "test.grib1", func(m *metadata.Metadata) error {
		got = append(got, m)
		return nil
	}, "")
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, got, 1)
	require.True(t, got[0].Has(types.CodeOrigin))
}

func TestScanSalvagesAttributesFromStaleSidecar(t *testing.T) {
	dir := t.TempDir()

	md := metadata.New()
	md.Set(types.NewOriginGRIB1(200, 0, 1))
	md.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))
	md.SetSource("grib1", dir, "test.grib1", 0, 12)
	writeFixture(t, dir, "test.grib1.metadata", md.Encode())
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "test.grib1.metadata"), past, past))

	// Data rewritten after the sidecar: same message count, new bytes.
	path := writeFixture(t, dir, "test.grib1", []byte("GRIByyyy7777"))

	var got []*metadata.Metadata
	handled, err := Scan(path, dir, "test.grib1", func(m *metadata.Metadata) error {
		got = append(got, m)
		return nil
	}, "")
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, got, 1)
	// Attributes carried over, source rebuilt from the structural scan.
	require.True(t, got[0].Has(types.CodeOrigin))
	src, _ := got[0].Source()
	require.Equal(t, int64(0), src.Offset)
	require.Equal(t, int64(12), src.Size)
}

func TestScanUnknownFormatNotHandled(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "test.unknown", []byte("xxxx"))
	handled, err := Scan(path, dir, "test.unknown", func(*metadata.Metadata) error { return nil }, "")
	require.NoError(t, err)
	require.False(t, handled)
}

func TestSegmentDelimitedUnterminated(t *testing.T) {
	_, err := segmentDelimited([]byte("GRIBxxxx"), []byte("GRIB"), []byte("7777"))
	require.Error(t, err)
}

func TestHDF5SingleMessage(t *testing.T) {
	dir := t.TempDir()
	data := append(append([]byte{}, hdf5Magic...), bytes.Repeat([]byte{0x01}, 64)...)
	path := writeFixture(t, dir, "test.odimh5", data)

	var got []*metadata.Metadata
	handled, err := Scan(path, dir, "test.odimh5", func(m *metadata.Metadata) error {
		got = append(got, m)
		return nil
	}, "")
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, got, 1)
	src, _ := got[0].Source()
	require.Equal(t, int64(len(data)), src.Size)
}
