package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneOff(t *testing.T) {
	at := ts(t, "2021-06-01T08:00:00Z")
	s, err := NewOneOff(at)
	require.NoError(t, err)
	assert.Equal(t, KindOneOff, s.Kind())

	assertNext(t, s, nil, at)
	assertNext(t, s, &at, time.Time{})
	assertNext(t, s, ptr(at.Add(-time.Hour)), time.Time{})

	_, err = NewOneOff(time.Time{})
	assert.Error(t, err)
}

func TestNever(t *testing.T) {
	var s Schedule = Never{}
	assert.Equal(t, KindNever, s.Kind())
	assertNext(t, s, nil, time.Time{})
	assertNext(t, s, ptr(ts(t, "2021-06-01T08:00:00Z")), time.Time{})
}
