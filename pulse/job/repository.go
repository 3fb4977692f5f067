package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository holds job definitions.
type Repository[T any] interface {
	Open(ctx context.Context) error
	Close() error
	// GetJob returns errors.ErrJobNotFound when the job does not exist.
	GetJob(ctx context.Context, id, orgID uuid.UUID) (Job[T], error)
	// QueryJobs pages through an organization's jobs in a stable order.
	QueryJobs(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]Job[T], error)
}

// ExecutionRepository records outcomes. Every write upserts on
// (jobID, orgID, scheduled), so at most one record exists per occurrence.
// Getters return nil when nothing matches.
type ExecutionRepository[T any] interface {
	Open(ctx context.Context) error
	Close() error
	GetLastScheduled(ctx context.Context, jobID, orgID uuid.UUID) (*Execution[T], error)
	GetLastSuccess(ctx context.Context, jobID, orgID uuid.UUID) (*Execution[T], error)
	GetLastCompleted(ctx context.Context, jobID, orgID uuid.UUID) (*Execution[T], error)
	JobStarted(ctx context.Context, jobID, orgID uuid.UUID, scheduled, startedAt time.Time) error
	JobSucceeded(ctx context.Context, jobID, orgID uuid.UUID, scheduled, completedAt time.Time, result T) error
	JobFailed(ctx context.Context, jobID, orgID uuid.UUID, scheduled, completedAt time.Time, cause error) error
}

// OrganizationRepository lists the organizations a sweep walks.
type OrganizationRepository interface {
	ListOrganizations(ctx context.Context) ([]Organization, error)
}
