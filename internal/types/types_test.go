package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripEveryAttributeType(t *testing.T) {
	items := []Item{
		NewOriginGRIB1(200, 0, 1),
		NewOriginBUFR(98, 0),
		NewProductGRIB1(200, 2, 11),
		NewLevelGRIB1(1, 0, 0),
		NewTimerangeGRIB1(0, 1, 0, 0),
		NewArea("GRIB", KV{Key: "lat", IsInt: true, IntVal: 123}, KV{Key: "lon", StrVal: "45.0"}),
		NewProddef("GRIB", KV{Key: "tod", IsInt: true, IntVal: 1}),
		NewReftimePosition(Time{Year: 2007, Month: 7, Day: 8, Hour: 0, Minute: 0, Second: 0}),
		NewSourceBlob("grib1", "", "2007/07-08.grib1", 0, 7218),
		NewRunMinute(12, 0),
		NewTask("generic"),
		NewQuantity("t", "tp"),
		NewValue([]byte("20071008000000,123")),
		NewAssignedDataset("test200", "1"),
	}

	for _, it := range items {
		payload := it.EncodePayload()
		decoded, err := Decode(it.Code(), 0, payload)
		require.NoError(t, err)
		require.Equal(t, 0, it.Compare(decoded), "round-trip mismatch for %s %s", it.Code(), it.Style())
		require.Equal(t, payload, decoded.EncodePayload())
	}
}

func TestOriginOrderingByStyleThenFields(t *testing.T) {
	a := NewOriginGRIB1(1, 0, 0)
	b := NewOriginGRIB1(2, 0, 0)
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(a))
}

func TestTimeNowSentinelSortsLast(t *testing.T) {
	now := Time{}
	real := Time{Year: 2030, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 59}
	require.True(t, now.IsNow())
	require.Positive(t, now.Compare(real))
	require.Negative(t, real.Compare(now))
}

func TestTimeValidate(t *testing.T) {
	require.NoError(t, Time{}.Validate())
	require.NoError(t, Time{Year: 2007, Month: 7, Day: 8}.Validate())
	require.Error(t, Time{Year: 2007, Month: 13, Day: 1}.Validate())
	require.Error(t, Time{Year: 2007, Month: 1, Day: 32}.Validate())
}

func TestReftimeMergerTracksMinMax(t *testing.T) {
	var m Merger
	m.Add(NewReftimePosition(Time{Year: 2007, Month: 7, Day: 7}))
	m.Add(NewReftimePosition(Time{Year: 2007, Month: 7, Day: 8}))
	m.Add(NewReftimePeriod(
		Time{Year: 2007, Month: 7, Day: 6},
		Time{Year: 2007, Month: 7, Day: 9},
	))

	result, ok := m.Result()
	require.True(t, ok)
	require.Equal(t, ReftimeStylePeriod, result.Style())
	require.Equal(t, Time{Year: 2007, Month: 7, Day: 6}, result.Min())
	require.Equal(t, Time{Year: 2007, Month: 7, Day: 9}, result.Max())
}

func TestReftimeMergerSingleInstantCollapsesToPosition(t *testing.T) {
	var m Merger
	m.Add(NewReftimePosition(Time{Year: 2007, Month: 7, Day: 8}))
	result, ok := m.Result()
	require.True(t, ok)
	require.Equal(t, ReftimeStylePosition, result.Style())
}

func TestSourceBaseDirNotPersisted(t *testing.T) {
	src := NewSourceBlob("grib1", "/data/ds1", "2007/07-08.grib1", 0, 7218)
	payload := src.EncodePayload()
	decoded, err := Decode(CodeSource, 0, payload)
	require.NoError(t, err)
	ds := decoded.(Source)
	require.Empty(t, ds.BaseDir)

	withDir := ds.WithBaseDir("/data/ds1")
	require.Equal(t, "/data/ds1", withDir.BaseDir)
}

func TestDecodeUnknownCodeFails(t *testing.T) {
	_, err := Decode(Code(250), 0, nil)
	require.Error(t, err)
}

func TestNotesRoundTrip(t *testing.T) {
	notes := []Note{
		{Time: Time{Year: 2007, Month: 7, Day: 8}, Text: "first"},
		{Time: Time{Year: 2007, Month: 7, Day: 9}, Text: "second"},
	}
	buf := EncodeNotes(notes)
	decoded, err := DecodeNotes(buf)
	require.NoError(t, err)
	require.Equal(t, notes, decoded)
}
