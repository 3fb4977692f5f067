package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
)

func TestCron(t *testing.T) {
	la := losAngeles(t)
	s, err := NewCron("0 9 * * *", la, Bounds{
		RunAtAndAfter: time.Date(2024, 1, 1, 0, 0, 0, 0, la),
		RunUntil:      time.Date(2024, 1, 3, 12, 0, 0, 0, la),
	})
	require.NoError(t, err)
	assert.Equal(t, KindCron, s.Kind())

	first := time.Date(2024, 1, 1, 9, 0, 0, 0, la)
	second := time.Date(2024, 1, 2, 9, 0, 0, 0, la)
	third := time.Date(2024, 1, 3, 9, 0, 0, 0, la)

	assertNext(t, s, nil, first)
	assertNext(t, s, &first, second)
	assertNext(t, s, &second, third)
	assertNext(t, s, &third, time.Time{})

	t.Run("last run before start", func(t *testing.T) {
		assertNext(t, s, ptr(time.Date(2023, 6, 1, 9, 0, 0, 0, la)), first)
	})
}

func TestCron_StartOnMatch(t *testing.T) {
	start := ts(t, "2024-03-04T12:00:00Z")
	s, err := NewCron("@hourly", time.UTC, Bounds{RunAtAndAfter: start})
	require.NoError(t, err)
	assertNext(t, s, nil, start)

	late, err := NewCron("@hourly", time.UTC, Bounds{RunAtAndAfter: start.Add(time.Millisecond)})
	require.NoError(t, err)
	assertNext(t, late, nil, start.Add(time.Hour))
}

func TestCron_WallClockAcrossDST(t *testing.T) {
	la := losAngeles(t)
	s, err := NewCron("30 2 * * *", la, Bounds{RunAtAndAfter: time.Date(2018, 11, 3, 0, 0, 0, 0, la)})
	require.NoError(t, err)

	first := time.Date(2018, 11, 3, 2, 30, 0, 0, la)
	assertNext(t, s, nil, first)
	next, ok := s.NextRun(&first)
	require.True(t, ok)
	assert.Equal(t, 2, next.In(la).Hour())
	assert.Equal(t, 4, next.In(la).Day())
	assert.Equal(t, 25*time.Hour, next.Sub(first))
}

func TestNewCron_Validation(t *testing.T) {
	start := ts(t, "2024-01-01T00:00:00Z")

	_, err := NewCron("not a cron", time.UTC, Bounds{RunAtAndAfter: start})
	assert.True(t, errors.Is(err, errors.ErrInvalidSchedule))

	_, err = NewCron("* * * * *", nil, Bounds{RunAtAndAfter: start})
	assert.True(t, errors.Is(err, errors.ErrInvalidSchedule))

	_, err = NewCron("* * * * *", time.UTC, Bounds{})
	assert.True(t, errors.Is(err, errors.ErrInvalidSchedule))
}
