package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func TestSegmentInsertAndQuery(t *testing.T) {
	seg, err := OpenSegment(filepath.Join(t.TempDir(), "test.grib1.index"),
		[]types.Code{types.CodeOrigin}, []types.Code{types.CodeReftime})
	require.NoError(t, err)
	defer seg.Close()

	origin := types.NewOriginGRIB1(200, 0, 1)
	rt := types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8})

	id, err := seg.Insert(MDEntry{
		Offset:    0,
		Size:      7218,
		Reftime:   rt.Min().SQLText(),
		Attrs:     map[types.Code]types.Item{types.CodeOrigin: origin},
		UniqueKey: rt.Min().SQLText(),
		HasUnique: true,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	ids, err := seg.LookupAttrIDs(types.CodeOrigin, []types.Item{origin})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	rows, err := seg.Query(ColumnName(types.CodeOrigin)+" = ?", []any{ids[0]})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(0), rows[0].Offset)
	require.Equal(t, int64(7218), rows[0].Size)
}

func TestSegmentDuplicateInsertRejected(t *testing.T) {
	seg, err := OpenSegment(filepath.Join(t.TempDir(), "test.grib1.index"), nil, []types.Code{types.CodeReftime})
	require.NoError(t, err)
	defer seg.Close()

	e := MDEntry{Offset: 0, Size: 10, Reftime: "2007-07-08 00:00:00", UniqueKey: "k1", HasUnique: true}
	_, err = seg.Insert(e)
	require.NoError(t, err)

	e.Offset = 10
	_, err = seg.Insert(e)
	require.Error(t, err)
}

func TestTextManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := OpenTextManifest(path)
	require.NoError(t, err)

	entry := Entry{
		RelPath:    "2007/07-08.grib1",
		MinReftime: types.Time{Year: 2007, Month: 7, Day: 8},
		MaxReftime: types.Time{Year: 2007, Month: 7, Day: 8, Hour: 12},
	}
	require.NoError(t, m.Put(entry))
	require.NoError(t, m.Flush())

	m2, err := OpenTextManifest(path)
	require.NoError(t, err)
	got, ok, err := m2.Get("2007/07-08.grib1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.RelPath, got.RelPath)
	require.Equal(t, entry.MinReftime, got.MinReftime)
}
