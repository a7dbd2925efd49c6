package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/segment"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func readArchivedSidecar(root string) ([]*metadata.Metadata, []bool, error) {
	return segment.ReadSidecar(filepath.Join(root, ".archive", "last"), "2007/07-08.grib1")
}

func segmentReader() metadata.DataReader { return segment.NewReader() }

var gribMsg = []byte("GRIBaaaaaaaaaa7777")

func gribMD(origin int, day uint8) *metadata.Metadata {
	m := metadata.New()
	m.Set(types.NewOriginGRIB1(origin, 0, 1))
	m.Set(types.NewProductGRIB1(origin, 2, 11))
	m.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: day}))
	return m
}

func openIseg(t *testing.T, extra string) *dataset.Dataset {
	t.Helper()
	cfg, err := dataset.ParseConfig(`
type = iseg
step = daily
format = grib1
index = origin, product
unique = reftime, origin, product
` + extra)
	require.NoError(t, err)
	cfg.Path = t.TempDir()
	cfg.Name = "test200"
	d, err := dataset.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func acquire(t *testing.T, d *dataset.Dataset, md *metadata.Metadata) {
	t.Helper()
	outcome, err := d.Acquire(context.Background(), md, gribMsg)
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
}

func classify(t *testing.T, d *dataset.Dataset) map[string]State {
	t.Helper()
	c := NewChecker(d)
	reports, err := c.Classify(context.Background())
	require.NoError(t, err)
	out := make(map[string]State, len(reports))
	for _, r := range reports {
		out[r.RelPath] = r.State
	}
	return out
}

func TestClassifyCleanDataset(t *testing.T) {
	d := openIseg(t, "")
	acquire(t, d, gribMD(200, 8))

	states := classify(t, d)
	require.Equal(t, map[string]State{"2007/07-08.grib1": StateOK}, states)
}

func TestClassifyToIndex(t *testing.T) {
	d := openIseg(t, "")
	acquire(t, d, gribMD(200, 8))
	d.ResetCaches()
	require.NoError(t, os.Remove(filepath.Join(d.Config().Path, "2007/07-08.grib1.index")))

	states := classify(t, d)
	require.Equal(t, StateToIndex, states["2007/07-08.grib1"])
}

func TestClassifyToRescanOnTrailingBytes(t *testing.T) {
	d := openIseg(t, "")
	acquire(t, d, gribMD(200, 8))

	// Bytes on disk the index never learned about, as after a crash
	// between the data write and the index commit.
	f, err := os.OpenFile(filepath.Join(d.Config().Path, "2007/07-08.grib1"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(gribMsg)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	states := classify(t, d)
	require.Equal(t, StateToRescan, states["2007/07-08.grib1"])
}

func TestClassifyAges(t *testing.T) {
	d := openIseg(t, "archive age = 30\ndelete age = 3650\n")
	acquire(t, d, gribMD(200, 8))

	// Anchored just after the data: fresh.
	c := NewChecker(d, WithNow(time.Date(2007, 7, 9, 0, 0, 0, 0, time.UTC)))
	reports, err := c.Classify(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateOK, reports[0].State)

	// A year later: past archive age, not yet delete age.
	c = NewChecker(d, WithNow(time.Date(2008, 7, 9, 0, 0, 0, 0, time.UTC)))
	reports, err = c.Classify(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateToArchive, reports[0].State)

	// Twenty years later: past delete age.
	c = NewChecker(d, WithNow(time.Date(2027, 7, 9, 0, 0, 0, 0, time.UTC)))
	reports, err = c.Classify(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateToDelete, reports[0].State)
}

func TestRepackAfterReplace(t *testing.T) {
	// Replace-on-duplicate leaves a tombstone and dead bytes; repack
	// reclaims them.
	d := openIseg(t, "replace = yes\n")
	acquire(t, d, gribMD(200, 8))
	acquire(t, d, gribMD(200, 8))

	relpath := "2007/07-08.grib1"
	info, err := os.Stat(filepath.Join(d.Config().Path, relpath))
	require.NoError(t, err)
	require.Equal(t, int64(2*len(gribMsg)), info.Size())

	states := classify(t, d)
	require.Equal(t, StateToPack, states[relpath])

	r := &Repacker{Checker: NewChecker(d), Fix: true}
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{relpath}, report.Repaired)

	info, err = os.Stat(filepath.Join(d.Config().Path, relpath))
	require.NoError(t, err)
	require.Equal(t, int64(len(gribMsg)), info.Size())
	require.NoFileExists(t, dataset.PackFlagPath(d.Config().Path, relpath))

	// Idempotence: a second check reports clean.
	states = classify(t, d)
	require.Equal(t, StateOK, states[relpath])

	// The surviving record is still queryable.
	var got []*metadata.Metadata
	err = d.QueryData(context.Background(), query.DataQuery{}, func(md *metadata.Metadata) error {
		got = append(got, md)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestFixerRescanRebuildsIndex(t *testing.T) {
	// Data present, index gone: the fixer rebuilds it from the bytes.
	d := openIseg(t, "")
	acquire(t, d, gribMD(200, 8))
	d.ResetCaches()
	require.NoError(t, os.Remove(filepath.Join(d.Config().Path, "2007/07-08.grib1.index")))

	f := &Fixer{Checker: NewChecker(d), Fix: true}
	report, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2007/07-08.grib1"}, report.Repaired)

	states := classify(t, d)
	require.Equal(t, StateOK, states["2007/07-08.grib1"])

	m, err := matcher.Parse("origin:GRIB1,200,0,1")
	require.NoError(t, err)
	count := 0
	err = d.QueryData(context.Background(), query.DataQuery{Matcher: m}, func(*metadata.Metadata) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestFixerMockModeTouchesNothing(t *testing.T) {
	d := openIseg(t, "")
	acquire(t, d, gribMD(200, 8))
	d.ResetCaches()
	idxPath := filepath.Join(d.Config().Path, "2007/07-08.grib1.index")
	require.NoError(t, os.Remove(idxPath))

	f := &Fixer{Checker: NewChecker(d), Fix: false}
	report, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Repaired)
	require.NoFileExists(t, idxPath)
}

func TestRepackerBlockedByDontpack(t *testing.T) {
	d := openIseg(t, "replace = yes\n")
	acquire(t, d, gribMD(200, 8))
	require.NoError(t, os.WriteFile(filepath.Join(d.Config().Path, dataset.DontpackFlag), nil, 0o644))

	r := &Repacker{Checker: NewChecker(d), Fix: true}
	_, err := r.Run(context.Background())
	require.Error(t, err)

	// A successful fix clears the interlock; repack may then run.
	f := &Fixer{Checker: NewChecker(d), Fix: true}
	_, err = f.Run(context.Background())
	require.NoError(t, err)
	require.False(t, dataset.HasDontpackFlag(d.Config().Path))

	_, err = r.Run(context.Background())
	require.NoError(t, err)
}

func TestArchiveMovesSegment(t *testing.T) {
	d := openIseg(t, "archive age = 30\n")
	acquire(t, d, gribMD(200, 8))
	d.ResetCaches()

	c := NewChecker(d, WithNow(time.Date(2008, 7, 9, 0, 0, 0, 0, time.UTC)))
	r := &Repacker{Checker: c, Fix: true}
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2007/07-08.grib1"}, report.Repaired)

	root := d.Config().Path
	require.NoFileExists(t, filepath.Join(root, "2007/07-08.grib1"))
	require.FileExists(t, filepath.Join(root, ".archive/last/2007/07-08.grib1.metadata"))
	// Archived segments are stored compressed with their seek index.
	require.FileExists(t, filepath.Join(root, ".archive/last/2007/07-08.grib1.gz"))
	require.FileExists(t, filepath.Join(root, ".archive/last/2007/07-08.grib1.gz.idx"))
	require.NoFileExists(t, filepath.Join(root, ".archive/last/2007/07-08.grib1"))

	// The archived message is still readable through the seek index.
	items, deleted, err := readArchivedSidecar(root)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.False(t, deleted[0])
	data, err := items[0].GetData(segmentReader(), nil)
	require.NoError(t, err)
	require.Equal(t, gribMsg, data)
}

func TestDeleteRemovesSegmentAndIndex(t *testing.T) {
	d := openIseg(t, "delete age = 30\n")
	acquire(t, d, gribMD(200, 8))
	d.ResetCaches()

	c := NewChecker(d, WithNow(time.Date(2008, 7, 9, 0, 0, 0, 0, time.UTC)))
	f := &Fixer{Checker: c, Fix: true}
	report, err := f.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2007/07-08.grib1"}, report.Repaired)

	root := d.Config().Path
	require.NoFileExists(t, filepath.Join(root, "2007/07-08.grib1"))
	require.NoFileExists(t, filepath.Join(root, "2007/07-08.grib1.metadata"))
	require.NoFileExists(t, filepath.Join(root, "2007/07-08.grib1.index"))

	states := classify(t, d)
	require.Empty(t, states)
}
