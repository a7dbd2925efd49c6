package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

var gribMsg = []byte("GRIBaaaaaaaaaa7777")

func openDataset(t *testing.T, text string) *dataset.Dataset {
	t.Helper()
	cfg, err := dataset.ParseConfig(text)
	require.NoError(t, err)
	cfg.Path = t.TempDir()
	d, err := dataset.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

// The ingest-then-query flow: one message matches the filter and lands in
// the dataset, the others fall through to error, and a query for the
// filtered origin returns exactly the stored record.
func TestDispatchIntoRealDatasets(t *testing.T) {
	target := openDataset(t, `
type = iseg
name = test200
step = daily
format = grib1
filter = origin:GRIB1,200
index = origin, product
`)
	errDS := openDataset(t, `
type = simple
name = error
step = daily
format = grib1
`)

	d := New(nil)
	filter, err := matcher.Parse("origin:GRIB1,200")
	require.NoError(t, err)
	d.AddRegular(target, filter)
	d.SetError(errDS)

	for _, origin := range []int{200, 80, 98} {
		md := metadata.New()
		md.Set(types.NewOriginGRIB1(origin, 0, 1))
		md.Set(types.NewProductGRIB1(origin, 2, 11))
		md.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))

		outcome, err := d.Dispatch(context.Background(), md, gribMsg, func(*metadata.Metadata) error { return nil })
		require.NoError(t, err)
		require.Equal(t, dataset.AcquireOK, outcome)
	}

	m, err := matcher.Parse("origin:GRIB1,200,0,1")
	require.NoError(t, err)
	var got []*metadata.Metadata
	err = target.QueryData(context.Background(), query.DataQuery{Matcher: m}, func(md *metadata.Metadata) error {
		got = append(got, md)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	src, ok := got[0].Source()
	require.True(t, ok)
	require.Equal(t, "2007/07-08.grib1", src.RelPath)
	require.Equal(t, int64(0), src.Offset)
	require.Equal(t, int64(len(gribMsg)), src.Size)

	// The two unmatched messages both ended up in error.
	count := 0
	err = errDS.QueryData(context.Background(), query.DataQuery{}, func(*metadata.Metadata) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
