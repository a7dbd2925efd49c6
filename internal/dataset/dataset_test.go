package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/query"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/targetfile"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

var gribMsg = []byte("GRIBaaaaaaaaaa7777")

func gribMD(origin int, day uint8) *metadata.Metadata {
	m := metadata.New()
	m.Set(types.NewOriginGRIB1(origin, 0, 1))
	m.Set(types.NewProductGRIB1(origin, 2, 11))
	m.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: day}))
	return m
}

func isegConfig(t *testing.T) *Config {
	cfg, err := ParseConfig(`
type = iseg
step = daily
format = grib1
index = origin, product
unique = reftime, origin, product
`)
	require.NoError(t, err)
	cfg.Path = t.TempDir()
	cfg.Name = "test200"
	return cfg
}

func TestParseConfigFull(t *testing.T) {
	cfg, err := ParseConfig(`
type = iseg
step = monthly
format = grib1
filter = origin:GRIB1,200
index = origin, product
unique = reftime, origin
replace = yes
archive age = 365
delete age = 3650
postprocess = singlepoint, subarea
smallfiles = true
gz groupsize = 128
`)
	require.NoError(t, err)
	require.Equal(t, TypeIseg, cfg.Type)
	require.Equal(t, targetfile.StepMonthly, cfg.Step)
	require.NotNil(t, cfg.Filter)
	require.Equal(t, []types.Code{types.CodeOrigin, types.CodeProduct}, cfg.IndexCodes)
	require.True(t, cfg.Replace)
	require.Equal(t, 365, cfg.ArchiveAge)
	require.Equal(t, []string{"singlepoint", "subarea"}, cfg.Postprocess)
	require.True(t, cfg.Smallfiles)
	require.Equal(t, 128, cfg.GzGroupsize)
}

func TestParseConfigRejectsUnknown(t *testing.T) {
	_, err := ParseConfig("type = frobnicate")
	require.ErrorIs(t, err, errs.ErrConfigError)
	_, err = ParseConfig("frobnicate = yes")
	require.ErrorIs(t, err, errs.ErrConfigError)
}

func TestAcquireAndQueryIseg(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	md := gribMD(200, 8)
	outcome, err := d.Acquire(context.Background(), md, gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	// Source now points at the stored location.
	src, ok := md.Source()
	require.True(t, ok)
	require.Equal(t, "2007/07-08.grib1", src.RelPath)
	require.Equal(t, int64(0), src.Offset)
	require.Equal(t, int64(len(gribMsg)), src.Size)
	require.True(t, md.Has(types.CodeAssignedDataset))

	m, err := matcher.Parse("origin:GRIB1,200,0,1")
	require.NoError(t, err)
	var got []*metadata.Metadata
	err = d.QueryData(context.Background(), query.DataQuery{Matcher: m}, func(md *metadata.Metadata) error {
		got = append(got, md)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// A non-matching query returns nothing.
	m, err = matcher.Parse("origin:GRIB1,80,0,1")
	require.NoError(t, err)
	count := 0
	err = d.QueryData(context.Background(), query.DataQuery{Matcher: m}, func(*metadata.Metadata) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAcquireDuplicateWithoutReplace(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	outcome, err := d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	md := gribMD(200, 8)
	outcome, err = d.Acquire(context.Background(), md, gribMsg)
	require.Error(t, err)
	require.Equal(t, AcquireDuplicate, outcome)
	// The metadata was restored: no assigned-dataset, no BLOB source.
	require.False(t, md.Has(types.CodeAssignedDataset))
	require.False(t, md.Has(types.CodeSource))
	require.NotEmpty(t, md.Notes())

	// Segment was truncated back: a fresh acquire of a different message lands
	// where the rolled-back bytes used to start.
	md2 := gribMD(200, 8)
	md2.Set(types.NewProductGRIB1(200, 2, 12))
	outcome, err = d.Acquire(context.Background(), md2, gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)
	src, _ := md2.Source()
	require.Equal(t, int64(len(gribMsg)), src.Offset)
}

func TestAcquireReplaceMarksOldDeleted(t *testing.T) {
	cfg := isegConfig(t)
	cfg.Replace = true
	d, err := Open(cfg)
	require.NoError(t, err)
	defer d.Close()

	outcome, err := d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	// The same unique tuple acquired again succeeds, the segment
	// grows, the index keeps one row, the old record becomes a tombstone, and
	// the pack flag appears.
	md := gribMD(200, 8)
	outcome, err = d.Acquire(context.Background(), md, gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	src, _ := md.Source()
	require.Equal(t, int64(len(gribMsg)), src.Offset)

	info, err := os.Stat(filepath.Join(cfg.Path, "2007/07-08.grib1"))
	require.NoError(t, err)
	require.Equal(t, int64(len(gribMsg)*2), info.Size())

	idx, err := d.segmentIndex("2007/07-08.grib1")
	require.NoError(t, err)
	n, err := idx.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items, deleted, err := readSidecar(t, cfg.Path, "2007/07-08.grib1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, []bool{true, false}, deleted)

	require.FileExists(t, PackFlagPath(cfg.Path, "2007/07-08.grib1"))
}

func TestQueryWithDataInlines(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)

	var got *metadata.Metadata
	err = d.QueryData(context.Background(), query.DataQuery{WithData: true}, func(md *metadata.Metadata) error {
		got = md
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	src, _ := got.Source()
	require.Equal(t, types.SourceStyleInline, src.Style())
	require.Equal(t, gribMsg, got.InlineData())
}

func TestQuerySorterOrdersResults(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	for _, day := range []uint8{9, 7, 8} {
		_, err := d.Acquire(context.Background(), gribMD(200, day), gribMsg)
		require.NoError(t, err)
	}

	sorter, err := query.ParseSorter("reftime")
	require.NoError(t, err)
	var days []uint8
	err = d.QueryData(context.Background(), query.DataQuery{Sorter: sorter}, func(md *metadata.Metadata) error {
		rt, _ := md.Reftime()
		days = append(days, rt.Min().Day)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint8{7, 8, 9}, days)
}

func TestQueryPrunesByReftime(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)

	m, err := matcher.Parse("reftime:>=2008")
	require.NoError(t, err)
	count := 0
	err = d.QueryData(context.Background(), query.DataQuery{Matcher: m}, func(*metadata.Metadata) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestQuerySummaryFiltered(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)
	_, err = d.Acquire(context.Background(), gribMD(80, 9), gribMsg)
	require.NoError(t, err)

	m, err := matcher.Parse("origin:GRIB1,200")
	require.NoError(t, err)
	s, err := d.QuerySummary(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.Count())

	all, err := d.QuerySummary(context.Background(), matcher.New())
	require.NoError(t, err)
	require.Equal(t, uint64(2), all.Count())
	require.Equal(t, uint64(2*len(gribMsg)), all.Size())
}

func TestSimpleDatasetManifestAndDontpack(t *testing.T) {
	cfg, err := ParseConfig("type = simple\nstep = daily\nformat = grib1")
	require.NoError(t, err)
	cfg.Path = t.TempDir()
	cfg.Name = "simple"

	d, err := Open(cfg)
	require.NoError(t, err)
	defer d.Close()

	// First open with no manifest: the repack interlock appears.
	require.True(t, HasDontpackFlag(cfg.Path))

	_, err = d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)

	e, found, err := d.Manifest().Get("2007/07-08.grib1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.Time{Year: 2007, Month: 7, Day: 8}, e.MinReftime)

	var got []*metadata.Metadata
	err = d.QueryData(context.Background(), query.DataQuery{}, func(md *metadata.Metadata) error {
		got = append(got, md)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, RemoveDontpackFlag(cfg.Path))
	require.False(t, HasDontpackFlag(cfg.Path))
}

func TestDiscardDataset(t *testing.T) {
	cfg, err := ParseConfig("type = discard")
	require.NoError(t, err)
	cfg.Name = "discard"
	d, err := Open(cfg)
	require.NoError(t, err)

	md := gribMD(200, 8)
	outcome, err := d.Acquire(context.Background(), md, gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	count := 0
	require.NoError(t, d.QueryData(context.Background(), query.DataQuery{}, func(*metadata.Metadata) error {
		count++
		return nil
	}))
	require.Zero(t, count)
}

func TestOutboundDatasetAppendsBytesOnly(t *testing.T) {
	cfg, err := ParseConfig("type = outbound\nstep = daily\nformat = grib1")
	require.NoError(t, err)
	cfg.Path = t.TempDir()
	cfg.Name = "outbound"
	d, err := Open(cfg)
	require.NoError(t, err)
	defer d.Close()

	outcome, err := d.Acquire(context.Background(), gribMD(200, 8), gribMsg)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	info, err := os.Stat(filepath.Join(cfg.Path, "2007/07-08.grib1"))
	require.NoError(t, err)
	require.Equal(t, int64(len(gribMsg)), info.Size())

	// No index, no sidecar.
	require.NoFileExists(t, filepath.Join(cfg.Path, "2007/07-08.grib1.metadata"))
	require.NoFileExists(t, filepath.Join(cfg.Path, "2007/07-08.grib1.index"))
}

func TestAcquireRejectsMalformedData(t *testing.T) {
	d, err := Open(isegConfig(t))
	require.NoError(t, err)
	defer d.Close()

	md := gribMD(200, 8)
	outcome, err := d.Acquire(context.Background(), md, []byte("not a grib"))
	require.Error(t, err)
	require.Equal(t, AcquireError, outcome)
	require.ErrorIs(t, err, errs.ErrDataCorrupt)
}

func TestSmallfilesInline(t *testing.T) {
	cfg, err := ParseConfig("type = simple\nstep = daily\nformat = vm2\nsmallfiles = yes")
	require.NoError(t, err)
	cfg.Path = t.TempDir()
	cfg.Name = "vm2small"
	d, err := Open(cfg)
	require.NoError(t, err)
	defer d.Close()

	line := []byte("200707080000,1,158,32,,,\n")
	md := metadata.New()
	md.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))
	md.Set(types.NewValue(line[:len(line)-1]))

	outcome, err := d.Acquire(context.Background(), md, line)
	require.NoError(t, err)
	require.Equal(t, AcquireOK, outcome)

	src, _ := md.Source()
	require.Equal(t, types.SourceStyleInline, src.Style())

	// No data segment: the payload lives in the sidecar stream.
	require.NoFileExists(t, filepath.Join(cfg.Path, "2007/07-08.vm2"))

	var got []*metadata.Metadata
	err = d.QueryData(context.Background(), query.DataQuery{}, func(m *metadata.Metadata) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	data, err := got[0].GetData(nil, nil)
	require.NoError(t, err)
	require.Equal(t, line, data)
}

func readSidecar(t *testing.T, root, relpath string) ([]*metadata.Metadata, []bool, error) {
	t.Helper()
	buf, err := os.ReadFile(filepath.Join(root, relpath+".metadata"))
	require.NoError(t, err)
	return metadata.ReadAll(buf, root)
}
