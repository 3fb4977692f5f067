package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.RegisterRepository("memory", NewMemoryRepository[int]()))

	err := reg.RegisterRepository("memory", NewMemoryRepository[int]())
	assert.Error(t, err)

	for _, token := range []string{"", "a&b", "a/b", "with space", "50%"} {
		err := reg.RegisterRepository(token, NewMemoryRepository[int]())
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "token %q", token)
	}

	assert.True(t, reg.HasRepository("memory"))
	assert.False(t, reg.HasExecutionRepository("memory"))
}

func TestRegistry_Tokens(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.RegisterRepository("zeta", NewMemoryRepository[int]()))
	require.NoError(t, reg.RegisterRepository("alpha", NewMemoryRepository[int]()))
	require.NoError(t, reg.RegisterExecutionRepository("exec", NewMemoryExecutionRepository[int]()))

	jobs, executions := reg.Tokens()
	assert.Equal(t, []string{"alpha", "zeta"}, jobs)
	assert.Equal(t, []string{"exec"}, executions)
}

func TestRegistry_OpenClose(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry[int]()
	repo := NewMemoryRepository[int]()
	require.NoError(t, reg.RegisterRepository("memory", repo))

	require.NoError(t, reg.Open(ctx))
	require.NoError(t, reg.Close())

	_, err := repo.GetJob(ctx, [16]byte{1}, [16]byte{2})
	assert.True(t, errors.Is(err, errors.ErrRepositoryClosed))

	require.NoError(t, reg.Open(ctx))
	_, err = repo.GetJob(ctx, [16]byte{1}, [16]byte{2})
	assert.True(t, errors.IsJobNotFound(err))
}
