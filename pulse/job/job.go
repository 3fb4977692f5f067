// Package job defines scheduled jobs, their execution records, the
// repositories that hold them, and Ref, the serializable pointer an
// executor uses to find its job again after a restart.
package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tempo/pulse/schedule"
)

// Job is one user-configured recurring unit of work producing a T.
type Job[T any] interface {
	ID() uuid.UUID
	// ETag changes whenever the job definition changes. Empty means the
	// repository does not version jobs, and every reload reads it again.
	ETag() string
	Schedule() schedule.Schedule
	// Timeout is passed to Execute as a context deadline. Zero means none.
	Timeout() time.Duration
	Execute(ctx context.Context, scheduled time.Time) (T, error)
}

// Organization owns jobs.
type Organization struct {
	ID   uuid.UUID `json:"id" yaml:"id"`
	Name string    `json:"name" yaml:"name"`
}

// ExecutionState tags an Execution.
type ExecutionState string

const (
	StateStarted ExecutionState = "started"
	StateSuccess ExecutionState = "success"
	StateFailure ExecutionState = "failure"
)

// Completed reports whether the state is terminal.
func (s ExecutionState) Completed() bool {
	return s == StateSuccess || s == StateFailure
}

// Execution is the record of one scheduled occurrence of a job, keyed by
// (JobID, OrgID, Scheduled). Result is set for StateSuccess, Error for
// StateFailure, CompletedAt for both.
type Execution[T any] struct {
	JobID       uuid.UUID      `json:"job_id"`
	OrgID       uuid.UUID      `json:"org_id"`
	Scheduled   time.Time      `json:"scheduled"`
	State       ExecutionState `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Result      T              `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}
