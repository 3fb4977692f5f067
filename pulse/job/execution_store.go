package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tempo/db"
	"github.com/teranos/tempo/errors"
)

// ExecutionStore records executions in SQLite. Results are stored as JSON,
// so T must round-trip through encoding/json.
type ExecutionStore[T any] struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewExecutionStore creates an execution store over an open, migrated
// database.
func NewExecutionStore[T any](conn *sql.DB) *ExecutionStore[T] {
	return &ExecutionStore[T]{db: conn}
}

func (s *ExecutionStore[T]) Open(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to reach execution database")
	}
	s.closed.Store(false)
	return nil
}

func (s *ExecutionStore[T]) Close() error {
	s.closed.Store(true)
	return nil
}

const executionColumns = `job_id, org_id, scheduled, state, started_at, completed_at, result, error`

func (s *ExecutionStore[T]) GetLastScheduled(ctx context.Context, jobID, orgID uuid.UUID) (*Execution[T], error) {
	return s.last(ctx, jobID, orgID, `state IN ('started', 'success', 'failure')`)
}

func (s *ExecutionStore[T]) GetLastSuccess(ctx context.Context, jobID, orgID uuid.UUID) (*Execution[T], error) {
	return s.last(ctx, jobID, orgID, `state = 'success'`)
}

func (s *ExecutionStore[T]) GetLastCompleted(ctx context.Context, jobID, orgID uuid.UUID) (*Execution[T], error) {
	return s.last(ctx, jobID, orgID, `state IN ('success', 'failure')`)
}

// History returns the most recent executions of a job, newest first.
func (s *ExecutionStore[T]) History(ctx context.Context, jobID, orgID uuid.UUID, limit int) ([]Execution[T], error) {
	if s.closed.Load() {
		return nil, errors.ErrRepositoryClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM job_executions
		 WHERE job_id = ? AND org_id = ?
		 ORDER BY scheduled DESC LIMIT ?`,
		jobID.String(), orgID.String(), limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query executions of job %s", jobID)
	}
	defer rows.Close()

	var out []Execution[T]
	for rows.Next() {
		e, err := scanExecution[T](rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate executions")
	}
	return out, nil
}

func (s *ExecutionStore[T]) JobStarted(ctx context.Context, jobID, orgID uuid.UUID, scheduled, startedAt time.Time) error {
	return s.exec(ctx, "started", jobID, `
		INSERT INTO job_executions (job_id, org_id, scheduled, state, started_at)
		VALUES (?, ?, ?, 'started', ?)
		ON CONFLICT (job_id, org_id, scheduled) DO UPDATE SET
			state = 'started',
			started_at = excluded.started_at,
			completed_at = NULL,
			result = NULL,
			error = NULL
	`, jobID.String(), orgID.String(), db.FormatTime(scheduled), db.FormatTime(startedAt))
}

func (s *ExecutionStore[T]) JobSucceeded(ctx context.Context, jobID, orgID uuid.UUID, scheduled, completedAt time.Time, result T) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, "failed to encode result of job %s", jobID)
	}
	return s.exec(ctx, "succeeded", jobID, `
		INSERT INTO job_executions (job_id, org_id, scheduled, state, started_at, completed_at, result)
		VALUES (?, ?, ?, 'success', ?, ?, ?)
		ON CONFLICT (job_id, org_id, scheduled) DO UPDATE SET
			state = 'success',
			completed_at = excluded.completed_at,
			result = excluded.result,
			error = NULL
	`, jobID.String(), orgID.String(), db.FormatTime(scheduled), db.FormatTime(scheduled),
		db.FormatTime(completedAt), string(encoded))
}

func (s *ExecutionStore[T]) JobFailed(ctx context.Context, jobID, orgID uuid.UUID, scheduled, completedAt time.Time, cause error) error {
	return s.exec(ctx, "failed", jobID, `
		INSERT INTO job_executions (job_id, org_id, scheduled, state, started_at, completed_at, error)
		VALUES (?, ?, ?, 'failure', ?, ?, ?)
		ON CONFLICT (job_id, org_id, scheduled) DO UPDATE SET
			state = 'failure',
			completed_at = excluded.completed_at,
			result = NULL,
			error = excluded.error
	`, jobID.String(), orgID.String(), db.FormatTime(scheduled), db.FormatTime(scheduled),
		db.FormatTime(completedAt), errorText(cause))
}

func (s *ExecutionStore[T]) exec(ctx context.Context, what string, jobID uuid.UUID, query string, args ...interface{}) error {
	if s.closed.Load() {
		return errors.ErrRepositoryClosed
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to record job %s %s", jobID, what)
	}
	return nil
}

func (s *ExecutionStore[T]) last(ctx context.Context, jobID, orgID uuid.UUID, where string) (*Execution[T], error) {
	if s.closed.Load() {
		return nil, errors.ErrRepositoryClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM job_executions
		 WHERE job_id = ? AND org_id = ? AND `+where+`
		 ORDER BY scheduled DESC LIMIT 1`,
		jobID.String(), orgID.String())

	e, err := scanExecution[T](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get last execution of job %s", jobID)
	}
	return e, nil
}

func scanExecution[T any](row scanner) (*Execution[T], error) {
	var (
		e                          Execution[T]
		jobID, orgID, scheduled    string
		state, startedAt           string
		completedAt, result, cause sql.NullString
	)
	if err := row.Scan(&jobID, &orgID, &scheduled, &state, &startedAt, &completedAt, &result, &cause); err != nil {
		return nil, err
	}

	var err error
	if e.JobID, err = uuid.Parse(jobID); err != nil {
		return nil, errors.Wrapf(err, "invalid job id %q", jobID)
	}
	if e.OrgID, err = uuid.Parse(orgID); err != nil {
		return nil, errors.Wrapf(err, "invalid organization id %q", orgID)
	}
	if e.Scheduled, err = db.ParseTime(scheduled); err != nil {
		return nil, err
	}
	if e.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		if e.CompletedAt, err = db.ParseTime(completedAt.String); err != nil {
			return nil, err
		}
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &e.Result); err != nil {
			return nil, errors.Wrapf(err, "failed to decode result of job %s", jobID)
		}
	}
	e.State = ExecutionState(state)
	e.Error = cause.String
	return &e, nil
}

var _ ExecutionRepository[struct{}] = (*ExecutionStore[struct{}])(nil)
