package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func fixtureMD(origin int, day uint8) *metadata.Metadata {
	m := metadata.New()
	m.Set(types.NewOriginGRIB1(origin, 0, 1))
	m.Set(types.NewProductGRIB1(origin, 2, 11))
	m.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: day}))
	return m
}

func TestParseAndMatchOrigin(t *testing.T) {
	m, err := Parse("origin:GRIB1,200")
	require.NoError(t, err)

	require.True(t, m.Match(fixtureMD(200, 8)))
	require.False(t, m.Match(fixtureMD(80, 8)))
}

func TestOrAlternatives(t *testing.T) {
	m, err := Parse("origin:GRIB1,200 or GRIB1,80")
	require.NoError(t, err)

	require.True(t, m.Match(fixtureMD(200, 8)))
	require.True(t, m.Match(fixtureMD(80, 8)))
	require.False(t, m.Match(fixtureMD(98, 8)))
}

func TestAndAcrossCodes(t *testing.T) {
	m, err := Parse("origin:GRIB1,200; product:GRIB1,200,2,11")
	require.NoError(t, err)
	require.True(t, m.Match(fixtureMD(200, 8)))

	m2, err := Parse("origin:GRIB1,200; product:GRIB1,200,2,12")
	require.NoError(t, err)
	require.False(t, m2.Match(fixtureMD(200, 8)))
}

func TestWildcardPositions(t *testing.T) {
	// Centre pinned, subcentre wildcarded, process pinned.
	m, err := Parse("origin:GRIB1,200,,1")
	require.NoError(t, err)
	require.True(t, m.Match(fixtureMD(200, 8)))

	m2, err := Parse("origin:GRIB1,200,,9")
	require.NoError(t, err)
	require.False(t, m2.Match(fixtureMD(200, 8)))
}

func TestAbsentAttributeNeverMatches(t *testing.T) {
	m, err := Parse("level:GRIB1,1")
	require.NoError(t, err)
	require.False(t, m.Match(fixtureMD(200, 8)))
}

func TestStyleMismatch(t *testing.T) {
	m, err := Parse("origin:BUFR,200")
	require.NoError(t, err)
	require.False(t, m.Match(fixtureMD(200, 8)))
}

func TestReftimeBounds(t *testing.T) {
	m, err := Parse("reftime:>=2007-07-08")
	require.NoError(t, err)
	require.True(t, m.Match(fixtureMD(200, 8)))
	require.False(t, m.Match(fixtureMD(200, 7)))

	m, err = Parse("reftime:>=2007-07-08,<2007-07-09")
	require.NoError(t, err)
	require.True(t, m.Match(fixtureMD(200, 8)))
	require.False(t, m.Match(fixtureMD(200, 9)))

	m, err = Parse("reftime :=2007-07")
	require.NoError(t, err)
	require.True(t, m.Match(fixtureMD(200, 8)))

	b, ok := m.RefBound()
	require.True(t, ok)
	require.Equal(t, types.Time{Year: 2007, Month: 7, Day: 1}, b.Min)
	require.Equal(t, types.Time{Year: 2007, Month: 7, Day: 31, Hour: 23, Minute: 59, Second: 59}, b.Max)
}

func TestPartialTimestampPeriods(t *testing.T) {
	// ">2007" excludes every instant in 2007 itself.
	m, err := Parse("reftime:>2007")
	require.NoError(t, err)
	b, ok := m.RefBound()
	require.True(t, ok)
	require.Equal(t, types.Time{Year: 2008, Month: 1, Day: 1}, b.Min)

	// "<2007-03" ends at the last second of February.
	m, err = Parse("reftime:<2007-03")
	require.NoError(t, err)
	b, _ = m.RefBound()
	require.Equal(t, types.Time{Year: 2007, Month: 2, Day: 28, Hour: 23, Minute: 59, Second: 59}, b.Max)
}

func TestMatchInterval(t *testing.T) {
	m, err := Parse("reftime:>=2007-07-08,<=2007-07-09")
	require.NoError(t, err)

	day := func(d uint8) types.Time { return types.Time{Year: 2007, Month: 7, Day: d} }
	require.True(t, m.MatchInterval(day(7), day(8)))
	require.True(t, m.MatchInterval(day(9), day(12)))
	require.False(t, m.MatchInterval(day(10), day(12)))
	require.False(t, m.MatchInterval(day(1), day(7)))
}

func TestMatchItemForSummaryFilter(t *testing.T) {
	m, err := Parse("origin:GRIB1,200")
	require.NoError(t, err)

	require.True(t, m.MatchItem(types.CodeOrigin, types.NewOriginGRIB1(200, 0, 1)))
	require.False(t, m.MatchItem(types.CodeOrigin, types.NewOriginGRIB1(80, 0, 1)))
	require.False(t, m.MatchItem(types.CodeOrigin, nil))
	// Unconstrained code always passes.
	require.True(t, m.MatchItem(types.CodeProduct, nil))
}

func TestExactItemsAndSplit(t *testing.T) {
	m, err := Parse("origin:GRIB1,200,0,1 or GRIB1,80,0,1; product:GRIB1,200; reftime:>=2007")
	require.NoError(t, err)

	items, ok := m.ExactItems(types.CodeOrigin)
	require.True(t, ok)
	require.Len(t, items, 2)

	// product term is partial: not exact.
	_, ok = m.ExactItems(types.CodeProduct)
	require.False(t, ok)

	indexed, residual := m.Split([]types.Code{types.CodeOrigin, types.CodeProduct})
	require.NotNil(t, indexed.terms[types.CodeOrigin])
	require.Nil(t, indexed.terms[types.CodeProduct])
	require.NotNil(t, residual.terms[types.CodeProduct])
	_, hasRef := indexed.RefBound()
	require.True(t, hasRef)
}

func TestSplitUnindexedCodeStaysResidual(t *testing.T) {
	m, err := Parse("origin:GRIB1,200,0,1")
	require.NoError(t, err)
	indexed, residual := m.Split(nil)
	require.Empty(t, indexed.Codes())
	require.Equal(t, []types.Code{types.CodeOrigin}, residual.Codes())
}

func TestTaskAndQuantityStrings(t *testing.T) {
	m, err := Parse("task:pluvio")
	require.NoError(t, err)
	md := fixtureMD(200, 8)
	md.Set(types.NewTask("pluvio"))
	require.True(t, m.Match(md))

	md.Set(types.NewTask("other"))
	require.False(t, m.Match(md))

	mq, err := Parse("quantity:VRAD")
	require.NoError(t, err)
	md2 := fixtureMD(200, 8)
	md2.Set(types.NewQuantity("DBZH", "VRAD"))
	require.True(t, mq.Match(md2))
	md3 := fixtureMD(200, 8)
	md3.Set(types.NewQuantity("DBZH"))
	require.False(t, mq.Match(md3))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("bogus:GRIB1,1")
	require.Error(t, err)

	_, err = Parse("origin GRIB1")
	require.Error(t, err)

	_, err = Parse("reftime:>=notadate")
	require.Error(t, err)
}

func TestEmptyMatcherMatchesEverything(t *testing.T) {
	m, err := Parse("")
	require.NoError(t, err)
	require.True(t, m.Empty())
	require.True(t, m.Match(fixtureMD(200, 8)))
	require.True(t, m.MatchInterval(types.Time{Year: 1900}, types.Time{Year: 2100}))
}
