package job

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
	tempotest "github.com/teranos/tempo/internal/testing"
)

type reportResult struct {
	Pages int    `json:"pages"`
	URL   string `json:"url"`
}

func newTestExecutionStore(t *testing.T) *ExecutionStore[reportResult] {
	t.Helper()
	store := NewExecutionStore[reportResult](tempotest.CreateMigratedTestDB(t))
	require.NoError(t, store.Open(context.Background()))
	return store
}

func countExecutions(t *testing.T, store *ExecutionStore[reportResult]) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM job_executions`).Scan(&n))
	return n
}

func TestExecutionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestExecutionStore(t)
	jobID, org := uuid.New(), uuid.New()
	scheduled := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.JobStarted(ctx, jobID, org, scheduled, scheduled.Add(40*time.Millisecond)))

	last, err := store.GetLastScheduled(ctx, jobID, org)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, StateStarted, last.State)
	assert.True(t, last.CompletedAt.IsZero())

	completed, err := store.GetLastCompleted(ctx, jobID, org)
	require.NoError(t, err)
	assert.Nil(t, completed)

	result := reportResult{Pages: 3, URL: "s3://reports/1.pdf"}
	require.NoError(t, store.JobSucceeded(ctx, jobID, org, scheduled, scheduled.Add(2*time.Second), result))

	completed, err = store.GetLastCompleted(ctx, jobID, org)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, StateSuccess, completed.State)
	assert.Equal(t, result, completed.Result)
	assert.True(t, scheduled.Equal(completed.Scheduled))
	assert.True(t, scheduled.Add(40*time.Millisecond).Equal(completed.StartedAt))
	assert.Equal(t, 1, countExecutions(t, store))
}

func TestExecutionStore_SucceededTwiceOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestExecutionStore(t)
	jobID, org := uuid.New(), uuid.New()
	scheduled := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.JobSucceeded(ctx, jobID, org, scheduled, scheduled.Add(time.Second), reportResult{Pages: 1}))
	require.NoError(t, store.JobSucceeded(ctx, jobID, org, scheduled, scheduled.Add(2*time.Second), reportResult{Pages: 2}))

	assert.Equal(t, 1, countExecutions(t, store))
	last, err := store.GetLastSuccess(ctx, jobID, org)
	require.NoError(t, err)
	assert.Equal(t, 2, last.Result.Pages)
	assert.True(t, scheduled.Add(2*time.Second).Equal(last.CompletedAt))
}

func TestExecutionStore_FailureReplacesSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestExecutionStore(t)
	jobID, org := uuid.New(), uuid.New()
	first := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	require.NoError(t, store.JobSucceeded(ctx, jobID, org, first, first, reportResult{Pages: 1}))
	require.NoError(t, store.JobStarted(ctx, jobID, org, second, second))
	require.NoError(t, store.JobFailed(ctx, jobID, org, second, second.Add(time.Second), errors.New("renderer crashed")))

	last, err := store.GetLastCompleted(ctx, jobID, org)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, last.State)
	assert.Equal(t, "renderer crashed", last.Error)
	assert.Zero(t, last.Result)

	success, err := store.GetLastSuccess(ctx, jobID, org)
	require.NoError(t, err)
	assert.True(t, first.Equal(success.Scheduled))

	history, err := store.History(ctx, jobID, org, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, second.Equal(history[0].Scheduled))
}

func TestExecutionStore_KeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestExecutionStore(t)
	jobID := uuid.New()
	orgA, orgB := uuid.New(), uuid.New()
	scheduled := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.JobSucceeded(ctx, jobID, orgA, scheduled, scheduled, reportResult{}))
	last, err := store.GetLastCompleted(ctx, jobID, orgB)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestExecutionStore_Closed(t *testing.T) {
	store := newTestExecutionStore(t)
	require.NoError(t, store.Close())
	err := store.JobStarted(context.Background(), uuid.New(), uuid.New(), time.Now(), time.Now())
	assert.True(t, errors.Is(err, errors.ErrRepositoryClosed))
}

func TestExecutionStore_WriteError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	store := NewExecutionStore[reportResult](conn)
	jobID := uuid.New()
	mock.ExpectExec("INSERT INTO job_executions").WillReturnError(errors.New("disk I/O error"))

	err = store.JobFailed(context.Background(), jobID, uuid.New(), time.Now(), time.Now(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record job "+jobID.String()+" failed")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}
