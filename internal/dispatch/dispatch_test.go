package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/dataset"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

type fakeWriter struct {
	name     string
	outcome  dataset.Outcome
	err      error
	acquired []*metadata.Metadata
}

func (f *fakeWriter) Name() string { return f.name }

func (f *fakeWriter) Acquire(ctx context.Context, md *metadata.Metadata, data []byte) (dataset.Outcome, error) {
	f.acquired = append(f.acquired, md)
	return f.outcome, f.err
}

func gribMD(origin int) *metadata.Metadata {
	m := metadata.New()
	m.Set(types.NewOriginGRIB1(origin, 0, 1))
	m.Set(types.NewReftimePosition(types.Time{Year: 2007, Month: 7, Day: 8}))
	return m
}

func mustParse(t *testing.T, expr string) *matcher.Matcher {
	t.Helper()
	m, err := matcher.Parse(expr)
	require.NoError(t, err)
	return m
}

func newDispatcher(t *testing.T) (*Dispatcher, *fakeWriter, *fakeWriter) {
	d := New(nil)
	ds := &fakeWriter{name: "test200", outcome: dataset.AcquireOK}
	errDS := &fakeWriter{name: "error", outcome: dataset.AcquireOK}
	d.AddRegular(ds, mustParse(t, "origin:GRIB1,200"))
	d.SetError(errDS)
	return d, ds, errDS
}

func sinkInto(got *[]*metadata.Metadata) func(*metadata.Metadata) error {
	return func(md *metadata.Metadata) error {
		*got = append(*got, md)
		return nil
	}
}

func TestDispatchSingleMatch(t *testing.T) {
	d, ds, errDS := newDispatcher(t)

	var seen []*metadata.Metadata
	outcome, err := d.Dispatch(context.Background(), gribMD(200), []byte("GRIB7777"), sinkInto(&seen))
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
	require.Len(t, ds.acquired, 1)
	require.Empty(t, errDS.acquired)
	require.Len(t, seen, 1)
}

func TestDispatchNoMatchGoesToError(t *testing.T) {
	// Origins with no matching dataset fall through to error.
	d, ds, errDS := newDispatcher(t)

	var seen []*metadata.Metadata
	md := gribMD(80)
	outcome, err := d.Dispatch(context.Background(), md, []byte("GRIB7777"), sinkInto(&seen))
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
	require.Empty(t, ds.acquired)
	require.Len(t, errDS.acquired, 1)
	require.NotEmpty(t, md.Notes())
}

func TestDispatchMultipleMatchesGoToError(t *testing.T) {
	d, _, errDS := newDispatcher(t)
	other := &fakeWriter{name: "also200", outcome: dataset.AcquireOK}
	d.AddRegular(other, mustParse(t, "origin:GRIB1,200"))

	var seen []*metadata.Metadata
	md := gribMD(200)
	outcome, err := d.Dispatch(context.Background(), md, []byte("GRIB7777"), sinkInto(&seen))
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
	require.Len(t, errDS.acquired, 1)
	require.Empty(t, other.acquired)

	notes := md.Notes()
	require.NotEmpty(t, notes)
	require.Contains(t, notes[len(notes)-1].Text, "test200")
	require.Contains(t, notes[len(notes)-1].Text, "also200")
}

func TestDispatchDuplicateGoesToDuplicates(t *testing.T) {
	d, ds, errDS := newDispatcher(t)
	ds.outcome = dataset.AcquireDuplicate
	ds.err = errors.New("unique constraint")
	dup := &fakeWriter{name: "duplicates", outcome: dataset.AcquireOK}
	d.SetDuplicates(dup)

	var seen []*metadata.Metadata
	outcome, err := d.Dispatch(context.Background(), gribMD(200), []byte("GRIB7777"), sinkInto(&seen))
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
	require.Len(t, dup.acquired, 1)
	require.Empty(t, errDS.acquired)
}

func TestDispatchDuplicateWithoutDuplicatesDataset(t *testing.T) {
	d, ds, errDS := newDispatcher(t)
	ds.outcome = dataset.AcquireDuplicate

	var seen []*metadata.Metadata
	outcome, err := d.Dispatch(context.Background(), gribMD(200), []byte("GRIB7777"), sinkInto(&seen))
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
	require.Len(t, errDS.acquired, 1)
}

func TestDispatchOutboundFailureDoesNotFailRun(t *testing.T) {
	d, ds, _ := newDispatcher(t)
	ob := &fakeWriter{name: "mirror", outcome: dataset.AcquireError, err: errors.New("disk full")}
	d.AddOutbound(ob, mustParse(t, ""))

	var seen []*metadata.Metadata
	outcome, err := d.Dispatch(context.Background(), gribMD(200), []byte("GRIB7777"), sinkInto(&seen))
	require.NoError(t, err)
	require.Equal(t, dataset.AcquireOK, outcome)
	require.Len(t, ds.acquired, 1)
	require.Len(t, ob.acquired, 1)
	require.Equal(t, 1, d.OutboundFailures())
}

func TestDispatchEmptyDataFailsEarly(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, err := d.Dispatch(context.Background(), gribMD(200), nil, func(*metadata.Metadata) error { return nil })
	require.Error(t, err)
}

func TestDispatchErrorDatasetRefuses(t *testing.T) {
	d, ds, errDS := newDispatcher(t)
	ds.outcome = dataset.AcquireError
	ds.err = errors.New("boom")
	errDS.outcome = dataset.AcquireError
	errDS.err = errors.New("also boom")

	var seen []*metadata.Metadata
	outcome, err := d.Dispatch(context.Background(), gribMD(200), []byte("GRIB7777"), sinkInto(&seen))
	require.Error(t, err)
	require.Equal(t, dataset.AcquireError, outcome)
	// The metadata still reached the sink.
	require.Len(t, seen, 1)
}

func TestTraceDoesNotMutate(t *testing.T) {
	d, ds, errDS := newDispatcher(t)

	trace := d.Trace(gribMD(200))
	require.Contains(t, trace, "test200")
	require.Empty(t, ds.acquired)
	require.Empty(t, errDS.acquired)

	trace = d.Trace(gribMD(80))
	require.Contains(t, trace, "error")
}
