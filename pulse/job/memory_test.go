package job

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/pulse/schedule"
)

func TestMemoryRepository_QueryJobsPages(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository[int]()
	org, other := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		repo.Put(org, &FuncJob[int]{JobID: uuid.New(), Sched: schedule.Never{}})
	}
	repo.Put(other, &FuncJob[int]{JobID: uuid.New(), Sched: schedule.Never{}})

	var seen []uuid.UUID
	for offset := 0; ; offset += 2 {
		page, err := repo.QueryJobs(ctx, org, 2, offset)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, j := range page {
			seen = append(seen, j.ID())
		}
	}
	assert.Len(t, seen, 5)

	orgs, err := repo.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

func TestMemoryExecutionRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExecutionRepository[int]()
	jobID, org := uuid.New(), uuid.New()
	scheduled := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.JobStarted(ctx, jobID, org, scheduled, scheduled.Add(time.Second)))
	require.NoError(t, repo.JobSucceeded(ctx, jobID, org, scheduled, scheduled.Add(2*time.Second), 7))
	require.NoError(t, repo.JobSucceeded(ctx, jobID, org, scheduled, scheduled.Add(3*time.Second), 8))

	all := repo.All()
	require.Len(t, all, 1)
	assert.Equal(t, StateSuccess, all[0].State)
	assert.Equal(t, 8, all[0].Result)

	last, err := repo.GetLastCompleted(ctx, jobID, org)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, scheduled.Equal(last.Scheduled))

	none, err := repo.GetLastSuccess(ctx, uuid.New(), org)
	require.NoError(t, err)
	assert.Nil(t, none)
}
