package targetfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

func mdAt(t types.Time) *metadata.Metadata {
	m := metadata.New()
	m.Set(types.NewReftimePosition(t))
	return m
}

func TestPathOfPerStep(t *testing.T) {
	at := types.Time{Year: 2007, Month: 7, Day: 8, Hour: 13}
	cases := []struct {
		step Step
		want string
	}{
		{StepYearly, "20/2007.grib1"},
		{StepMonthly, "2007/07.grib1"},
		{StepBiweekly, "2007/07-1.grib1"},
		{StepWeekly, "2007/07-2.grib1"},
		{StepDaily, "2007/07-08.grib1"},
	}
	for _, c := range cases {
		s := NewStepper(c.step, "grib1", t.TempDir())
		got, err := s.PathOf(mdAt(at))
		require.NoError(t, err, c.step)
		require.Equal(t, c.want, got, c.step)
	}
}

func TestWeekIndex(t *testing.T) {
	s := NewStepper(StepWeekly, "grib1", t.TempDir())
	for _, c := range []struct {
		day  uint8
		want string
	}{
		{1, "2007/07-1.grib1"},
		{7, "2007/07-1.grib1"},
		{8, "2007/07-2.grib1"},
		{29, "2007/07-5.grib1"},
	} {
		got, err := s.PathOf(mdAt(types.Time{Year: 2007, Month: 7, Day: c.day}))
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestBiweeklyBoundary(t *testing.T) {
	s := NewStepper(StepBiweekly, "grib1", t.TempDir())
	got, err := s.PathOf(mdAt(types.Time{Year: 2007, Month: 7, Day: 15}))
	require.NoError(t, err)
	require.Equal(t, "2007/07-1.grib1", got)
	got, err = s.PathOf(mdAt(types.Time{Year: 2007, Month: 7, Day: 16}))
	require.NoError(t, err)
	require.Equal(t, "2007/07-2.grib1", got)
}

func TestSinglefileCounterPersists(t *testing.T) {
	root := t.TempDir()
	s := NewStepper(StepSinglefile, "vm2", root)
	at := types.Time{Year: 2007, Month: 7, Day: 8, Hour: 13}

	p1, err := s.PathOf(mdAt(at))
	require.NoError(t, err)
	require.Equal(t, "2007/07/08/13/1.vm2", p1)

	p2, err := s.PathOf(mdAt(at))
	require.NoError(t, err)
	require.Equal(t, "2007/07/08/13/2.vm2", p2)

	// A new Stepper over the same root continues, never reuses.
	s2 := NewStepper(StepSinglefile, "vm2", root)
	p3, err := s2.PathOf(mdAt(at))
	require.NoError(t, err)
	require.Equal(t, "2007/07/08/13/3.vm2", p3)
}

func TestPathOfRequiresReftime(t *testing.T) {
	s := NewStepper(StepDaily, "grib1", t.TempDir())
	_, err := s.PathOf(metadata.New())
	require.Error(t, err)
}

func TestSpanInvertsPathOf(t *testing.T) {
	at := types.Time{Year: 2007, Month: 7, Day: 8, Hour: 13}
	for _, step := range []Step{StepYearly, StepMonthly, StepBiweekly, StepWeekly, StepDaily} {
		s := NewStepper(step, "grib1", t.TempDir())
		relpath, err := s.PathOf(mdAt(at))
		require.NoError(t, err)

		min, max, ok := s.Span(relpath)
		require.True(t, ok, step)
		require.LessOrEqual(t, min.Compare(at), 0, step)
		require.GreaterOrEqual(t, max.Compare(at), 0, step)
	}
}

func TestSpanRejectsForeignPaths(t *testing.T) {
	s := NewStepper(StepDaily, "grib1", t.TempDir())
	_, _, ok := s.Span("garbage")
	require.False(t, ok)
	_, _, ok = s.Span("2007/07-08.bufr")
	require.False(t, ok)
}

type boundMatcher struct{ min, max types.Time }

func (b boundMatcher) MatchInterval(min, max types.Time) bool {
	return min.Compare(b.max) <= 0 && max.Compare(b.min) >= 0
}

func TestPathMatchesPrunesBySpan(t *testing.T) {
	s := NewStepper(StepDaily, "grib1", t.TempDir())
	july := boundMatcher{
		min: types.Time{Year: 2007, Month: 7, Day: 1},
		max: types.Time{Year: 2007, Month: 7, Day: 31, Hour: 23, Minute: 59, Second: 59},
	}
	require.True(t, s.PathMatches("2007/07-08.grib1", july))
	require.False(t, s.PathMatches("2007/10-09.grib1", july))
	require.False(t, s.PathMatches("not-a-segment", july))
}

func TestParseStep(t *testing.T) {
	for _, good := range []string{"daily", "weekly", "biweekly", "monthly", "yearly", "singlefile"} {
		_, err := ParseStep(good)
		require.NoError(t, err)
	}
	_, err := ParseStep("hourly")
	require.Error(t, err)
}
