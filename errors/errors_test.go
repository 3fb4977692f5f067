package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("error"), "detailed information")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "detailed information", details[0])
}

func TestSentinels(t *testing.T) {
	t.Run("job not found survives wrapping", func(t *testing.T) {
		err := NewJobNotFoundError("job %s in org %s", "a", "b")
		assert.True(t, IsJobNotFound(err))
		assert.True(t, IsJobNotFound(Wrap(err, "reload")))
		assert.Contains(t, err.Error(), "job a in org b")
	})

	t.Run("unknown repository is not job not found", func(t *testing.T) {
		err := Wrap(ErrUnknownRepository, "resolve ref")
		assert.False(t, IsJobNotFound(err))
		assert.True(t, Is(err, ErrUnknownRepository))
	})

	t.Run("nil is nothing", func(t *testing.T) {
		assert.False(t, IsJobNotFound(nil))
	})

	t.Run("invalid schedule", func(t *testing.T) {
		err := NewInvalidScheduleError("offset %s out of range", "25h")
		assert.True(t, Is(err, ErrInvalidSchedule))
		assert.False(t, Is(err, ErrInvalidRequest))
	})
}
