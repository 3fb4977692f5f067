package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func losAngeles(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func ptr(t time.Time) *time.Time { return &t }

// assertNext checks NextRun(lastRun) against want; a zero want means no run.
func assertNext(t *testing.T, s Schedule, lastRun *time.Time, want time.Time) {
	t.Helper()
	got, ok := s.NextRun(lastRun)
	if want.IsZero() {
		assert.False(t, ok, "expected no run, got %s", got)
		return
	}
	require.True(t, ok, "expected %s, got no run", want)
	assert.True(t, want.Equal(got), "expected %s, got %s", want.UTC(), got.UTC())
}

func mustPeriodic(t *testing.T, cfg PeriodicConfig) *Periodic {
	t.Helper()
	p, err := NewPeriodic(cfg)
	require.NoError(t, err)
	return p
}

func TestPeriodic_AlignedBounds(t *testing.T) {
	s := mustPeriodic(t, PeriodicConfig{
		Zone: time.UTC,
		Unit: Day,
		Bounds: Bounds{
			RunAtAndAfter: ts(t, "2019-01-01T00:00:00Z"),
			RunUntil:      ts(t, "2019-01-03T00:00:00Z"),
		},
	})

	assertNext(t, s, nil, ts(t, "2019-01-01T00:00:00Z"))
	assertNext(t, s, ptr(ts(t, "2019-01-01T00:00:00Z")), ts(t, "2019-01-02T00:00:00Z"))
	assertNext(t, s, ptr(ts(t, "2019-01-02T00:00:00Z")), ts(t, "2019-01-03T00:00:00Z"))
	assertNext(t, s, ptr(ts(t, "2019-01-03T00:00:00Z")), time.Time{})

	t.Run("lastRun before start snaps forward", func(t *testing.T) {
		assertNext(t, s, ptr(ts(t, "2018-12-20T12:34:56Z")), ts(t, "2019-01-01T00:00:00Z"))
	})
	t.Run("lastRun between periods rounds", func(t *testing.T) {
		assertNext(t, s, ptr(ts(t, "2019-01-02T12:34:56Z")), ts(t, "2019-01-03T00:00:00Z"))
	})
	t.Run("lastRun past the end", func(t *testing.T) {
		assertNext(t, s, ptr(ts(t, "9999-01-01T00:00:00Z")), time.Time{})
	})
}

func TestPeriodic_UnalignedBounds(t *testing.T) {
	s := mustPeriodic(t, PeriodicConfig{
		Zone:   time.UTC,
		Unit:   Day,
		Offset: 12 * time.Hour,
		Bounds: Bounds{
			RunAtAndAfter: ts(t, "2019-01-01T06:00:00Z"),
			RunUntil:      ts(t, "2019-01-04T00:00:00Z"),
		},
	})

	assertNext(t, s, nil, ts(t, "2019-01-02T12:00:00Z"))
	assertNext(t, s, ptr(ts(t, "2019-01-02T12:00:00Z")), ts(t, "2019-01-03T12:00:00Z"))
	assertNext(t, s, ptr(ts(t, "2019-01-03T12:00:00Z")), time.Time{})
	assertNext(t, s, ptr(ts(t, "2018-12-20T12:34:56Z")), ts(t, "2019-01-01T12:00:00Z"))
	assertNext(t, s, ptr(ts(t, "2019-01-02T12:34:56Z")), ts(t, "2019-01-03T12:00:00Z"))
	assertNext(t, s, ptr(ts(t, "9999-01-01T00:00:00Z")), time.Time{})
}

func TestPeriodic_DailyAcrossDST(t *testing.T) {
	la := losAngeles(t)
	offset := 150 * time.Minute

	t.Run("spring forward", func(t *testing.T) {
		first := time.Date(2018, 3, 10, 0, 0, 0, 0, la).Add(offset)
		second := time.Date(2018, 3, 11, 0, 0, 0, 0, la).Add(offset)
		third := time.Date(2018, 3, 12, 0, 0, 0, 0, la).Add(offset)
		require.Equal(t, 24*time.Hour, second.Sub(first))
		require.Equal(t, 23*time.Hour, third.Sub(second))

		s := mustPeriodic(t, PeriodicConfig{
			Zone: la, Unit: Day, Offset: offset,
			Bounds: Bounds{RunAtAndAfter: time.Date(2018, 3, 10, 0, 0, 0, 0, la)},
		})
		assertNext(t, s, nil, first)
		assertNext(t, s, &first, second)
		assertNext(t, s, &second, third)
	})

	t.Run("fall back", func(t *testing.T) {
		first := time.Date(2018, 11, 3, 0, 0, 0, 0, la).Add(offset)
		second := time.Date(2018, 11, 4, 0, 0, 0, 0, la).Add(offset)
		third := time.Date(2018, 11, 5, 0, 0, 0, 0, la).Add(offset)
		require.Equal(t, 24*time.Hour, second.Sub(first))
		require.Equal(t, 25*time.Hour, third.Sub(second))

		s := mustPeriodic(t, PeriodicConfig{
			Zone: la, Unit: Day, Offset: offset,
			Bounds: Bounds{RunAtAndAfter: time.Date(2018, 11, 3, 0, 0, 0, 0, la)},
		})
		assertNext(t, s, nil, first)
		assertNext(t, s, &first, second)
		assertNext(t, s, &second, third)
	})

	t.Run("small offset on a 25 hour day still advances", func(t *testing.T) {
		s := mustPeriodic(t, PeriodicConfig{
			Zone: la, Unit: Day, Offset: 30 * time.Minute,
			Bounds: Bounds{RunAtAndAfter: time.Date(2018, 11, 4, 0, 0, 0, 0, la)},
		})
		first := time.Date(2018, 11, 4, 0, 30, 0, 0, la)
		assertNext(t, s, nil, first)
		assertNext(t, s, &first, time.Date(2018, 11, 5, 0, 30, 0, 0, la))
	})
}

func TestPeriodic_HourlyAcrossDST(t *testing.T) {
	la := losAngeles(t)

	t.Run("repeated hour runs twice", func(t *testing.T) {
		first := time.Date(2018, 11, 4, 1, 0, 0, 0, la) // PDT
		runs := []time.Time{first, first.Add(time.Hour), first.Add(2 * time.Hour), time.Date(2018, 11, 4, 3, 0, 0, 0, la)}
		require.Equal(t, time.Hour, runs[3].Sub(runs[2]))

		s := mustPeriodic(t, PeriodicConfig{Zone: la, Unit: Hour, Bounds: Bounds{RunAtAndAfter: first}})
		var last *time.Time
		for _, want := range runs {
			assertNext(t, s, last, want)
			last = ptr(want)
		}
	})

	t.Run("nonexistent hour is skipped", func(t *testing.T) {
		runs := []time.Time{
			time.Date(2018, 3, 11, 0, 0, 0, 0, la),
			time.Date(2018, 3, 11, 1, 0, 0, 0, la),
			time.Date(2018, 3, 11, 3, 0, 0, 0, la),
		}
		require.Equal(t, time.Hour, runs[2].Sub(runs[1]))

		s := mustPeriodic(t, PeriodicConfig{Zone: la, Unit: Hour, Bounds: Bounds{RunAtAndAfter: runs[0]}})
		var last *time.Time
		for _, want := range runs {
			assertNext(t, s, last, want)
			last = ptr(want)
		}
	})

	t.Run("every thirty minutes across the repeated hour", func(t *testing.T) {
		first := time.Date(2018, 11, 4, 1, 0, 0, 0, la)
		s := mustPeriodic(t, PeriodicConfig{Zone: la, Unit: Minute, PeriodCount: 30, Bounds: Bounds{RunAtAndAfter: first}})
		var last *time.Time
		for i := 0; i < 5; i++ {
			want := first.Add(time.Duration(i) * 30 * time.Minute)
			assertNext(t, s, last, want)
			last = ptr(want)
		}
		assert.Equal(t, 2, last.In(la).Hour())
	})
}

func TestPeriodic_PathologicallySmallBounds(t *testing.T) {
	s := mustPeriodic(t, PeriodicConfig{
		Zone: time.UTC,
		Unit: Day,
		Bounds: Bounds{
			RunAtAndAfter: ts(t, "2019-01-01T12:34:56Z"),
			RunUntil:      ts(t, "2019-01-01T12:34:57Z"),
		},
	})
	assertNext(t, s, nil, time.Time{})
	assertNext(t, s, ptr(ts(t, "2018-01-01T00:00:00Z")), time.Time{})
}

func TestPeriodic_AlignsToZone(t *testing.T) {
	zone := time.FixedZone("+12:34", 12*3600+34*60)

	t.Run("daily", func(t *testing.T) {
		s := mustPeriodic(t, PeriodicConfig{
			Zone: zone, Unit: Day, Offset: 12 * time.Hour,
			Bounds: Bounds{
				RunAtAndAfter: time.Date(2019, 1, 1, 0, 0, 0, 0, zone),
				RunUntil:      time.Date(2019, 1, 4, 0, 0, 0, 0, zone),
			},
		})
		assertNext(t, s, nil, time.Date(2019, 1, 1, 12, 0, 0, 0, zone))
	})

	t.Run("multiple periods with an offset", func(t *testing.T) {
		s := mustPeriodic(t, PeriodicConfig{
			Zone: zone, Unit: Minute, PeriodCount: 30, Offset: 17 * time.Second,
			Bounds: Bounds{
				RunAtAndAfter: time.Date(2019, 1, 1, 0, 0, 0, 0, zone),
				RunUntil:      time.Date(2019, 1, 1, 2, 45, 0, 0, zone),
			},
		})
		var last *time.Time
		for i := 0; i < 6; i++ {
			want := time.Date(2019, 1, 1, 0, 0, 17, 0, zone).Add(time.Duration(i) * 30 * time.Minute)
			assertNext(t, s, last, want)
			last = ptr(want)
		}
		assertNext(t, s, last, time.Time{})
	})
}

func TestPeriodic_Weekly(t *testing.T) {
	s := mustPeriodic(t, PeriodicConfig{
		Zone: time.UTC, Unit: Week, Offset: 9 * time.Hour,
		Bounds: Bounds{RunAtAndAfter: ts(t, "2024-01-03T00:00:00Z")}, // a Wednesday
	})
	first, ok := s.NextRun(nil)
	require.True(t, ok)
	assert.Equal(t, time.Monday, first.Weekday())
	assert.Equal(t, ts(t, "2024-01-08T09:00:00Z"), first.UTC())
	assertNext(t, s, &first, ts(t, "2024-01-15T09:00:00Z"))
}

func TestPeriodic_Monotonic(t *testing.T) {
	s := mustPeriodic(t, PeriodicConfig{
		Zone: losAngeles(t), Unit: Hour, PeriodCount: 5, Offset: 7 * time.Minute,
		Bounds: Bounds{RunAtAndAfter: ts(t, "2018-03-01T00:00:00Z")},
	})
	prev, _ := s.NextRun(nil)
	for last := ts(t, "2018-02-20T00:00:00Z"); last.Before(ts(t, "2018-03-20T00:00:00Z")); last = last.Add(37 * time.Minute) {
		next, ok := s.NextRun(ptr(last))
		require.True(t, ok)
		assert.False(t, next.Before(prev), "next run went backwards at lastRun %s", last)
		if !last.Before(ts(t, "2018-03-01T00:00:00Z")) {
			assert.True(t, next.After(last))
		}
		prev = next
	}
}

func TestNewPeriodic_Validation(t *testing.T) {
	start := ts(t, "2019-01-01T00:00:00Z")
	tests := []struct {
		name string
		cfg  PeriodicConfig
	}{
		{"offset equal to period", PeriodicConfig{Zone: time.UTC, Unit: Hour, Offset: time.Hour, Bounds: Bounds{RunAtAndAfter: start}}},
		{"negative offset", PeriodicConfig{Zone: time.UTC, Unit: Hour, Offset: -time.Second, Bounds: Bounds{RunAtAndAfter: start}}},
		{"missing start", PeriodicConfig{Zone: time.UTC, Unit: Hour}},
		{"start after until", PeriodicConfig{Zone: time.UTC, Unit: Hour, Bounds: Bounds{RunAtAndAfter: start, RunUntil: start.Add(-time.Second)}}},
		{"missing zone", PeriodicConfig{Unit: Hour, Bounds: Bounds{RunAtAndAfter: start}}},
		{"unknown unit", PeriodicConfig{Zone: time.UTC, Unit: "fortnight", Bounds: Bounds{RunAtAndAfter: start}}},
		{"negative count", PeriodicConfig{Zone: time.UTC, Unit: Hour, PeriodCount: -1, Bounds: Bounds{RunAtAndAfter: start}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPeriodic(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidSchedule))
		})
	}

	t.Run("offset below a multi-unit period", func(t *testing.T) {
		p, err := NewPeriodic(PeriodicConfig{Zone: time.UTC, Unit: Hour, PeriodCount: 2, Offset: 90 * time.Minute, Bounds: Bounds{RunAtAndAfter: start}})
		require.NoError(t, err)
		assertNext(t, p, nil, ts(t, "2019-01-01T01:30:00Z"))
		assertNext(t, p, ptr(ts(t, "2019-01-01T01:30:00Z")), ts(t, "2019-01-01T03:30:00Z"))
	})

	t.Run("offset and count default", func(t *testing.T) {
		p, err := NewPeriodic(PeriodicConfig{Zone: time.UTC, Unit: Hour, Bounds: Bounds{RunAtAndAfter: start}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.PeriodCount())
		assertNext(t, p, nil, start)
	})
}
