package job

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/tempo/errors"
)

// Ref locates a job without owning it: which repository holds the job,
// which one holds its executions, and the job's identity. Refs are values
// and never change after construction.
type Ref[T any] struct {
	RepositoryType          string
	ExecutionRepositoryType string
	OrgID                   uuid.UUID
	JobID                   uuid.UUID
}

func NewRef[T any](repositoryType, executionRepositoryType string, orgID, jobID uuid.UUID) Ref[T] {
	return Ref[T]{
		RepositoryType:          repositoryType,
		ExecutionRepositoryType: executionRepositoryType,
		OrgID:                   orgID,
		JobID:                   jobID,
	}
}

// Get resolves the job. An unregistered repository token yields
// ErrUnknownRepository; a registered repository without the job yields
// ErrJobNotFound.
func (r Ref[T]) Get(ctx context.Context, reg *Registry[T]) (Job[T], error) {
	repo, err := reg.Repository(r.RepositoryType)
	if err != nil {
		return nil, err
	}
	j, err := repo.GetJob(ctx, r.JobID, r.OrgID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", r.JobID)
	}
	if j == nil {
		return nil, errors.NewJobNotFoundError("job %s in org %s", r.JobID, r.OrgID)
	}
	return j, nil
}

// Executions resolves the execution repository.
func (r Ref[T]) Executions(reg *Registry[T]) (ExecutionRepository[T], error) {
	return reg.ExecutionRepository(r.ExecutionRepositoryType)
}

// ShardKey is the job's cluster-wide identity: repository type, org and
// job. Two refs differing only in execution repository address the same
// executor.
func (r Ref[T]) ShardKey() string {
	return r.RepositoryType + "/" + r.OrgID.String() + "/" + r.JobID.String()
}

// Equal compares all four fields.
func (r Ref[T]) Equal(other Ref[T]) bool {
	return r == other
}

// String is the entity name encoding, see Serialize.
func (r Ref[T]) String() string {
	return Serialize(r)
}

// IsZero reports whether r is the zero Ref.
func (r Ref[T]) IsZero() bool {
	return r == Ref[T]{}
}
