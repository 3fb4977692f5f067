package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/pulse/schedule"
)

// FuncJob is a Job built from plain values, for tests and embedding.
type FuncJob[T any] struct {
	JobID    uuid.UUID
	Tag      string
	Sched    schedule.Schedule
	Deadline time.Duration
	Name     string
	Fn       func(ctx context.Context, scheduled time.Time) (T, error)
}

func (j *FuncJob[T]) ID() uuid.UUID               { return j.JobID }
func (j *FuncJob[T]) ETag() string                { return j.Tag }
func (j *FuncJob[T]) Schedule() schedule.Schedule { return j.Sched }
func (j *FuncJob[T]) Timeout() time.Duration      { return j.Deadline }
func (j *FuncJob[T]) Type() string                { return j.Name }

func (j *FuncJob[T]) Execute(ctx context.Context, scheduled time.Time) (T, error) {
	if j.Fn == nil {
		var zero T
		return zero, nil
	}
	return j.Fn(ctx, scheduled)
}

type jobKey struct {
	org, job uuid.UUID
}

// MemoryRepository keeps jobs in a map. It counts GetJob calls so tests
// can assert how often executors went back to the repository.
type MemoryRepository[T any] struct {
	mu     sync.Mutex
	jobs   map[jobKey]Job[T]
	orgs   map[uuid.UUID]Organization
	gets   int
	err    error
	closed bool
}

func NewMemoryRepository[T any]() *MemoryRepository[T] {
	return &MemoryRepository[T]{
		jobs: make(map[jobKey]Job[T]),
		orgs: make(map[uuid.UUID]Organization),
	}
}

func (r *MemoryRepository[T]) Open(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
	return nil
}

func (r *MemoryRepository[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Put adds or replaces a job, creating its organization if needed.
func (r *MemoryRepository[T]) Put(orgID uuid.UUID, j Job[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orgs[orgID]; !ok {
		r.orgs[orgID] = Organization{ID: orgID, Name: orgID.String()}
	}
	r.jobs[jobKey{orgID, j.ID()}] = j
}

func (r *MemoryRepository[T]) Delete(orgID, jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobKey{orgID, jobID})
}

// AddOrganization registers an organization with no jobs.
func (r *MemoryRepository[T]) AddOrganization(org Organization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs[org.ID] = org
}

// FailWith makes every read return err until called with nil.
func (r *MemoryRepository[T]) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Gets returns the number of GetJob calls so far.
func (r *MemoryRepository[T]) Gets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func (r *MemoryRepository[T]) GetJob(_ context.Context, id, orgID uuid.UUID) (Job[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if err := r.check(); err != nil {
		return nil, err
	}
	j, ok := r.jobs[jobKey{orgID, id}]
	if !ok {
		return nil, errors.NewJobNotFoundError("job %s in org %s", id, orgID)
	}
	return j, nil
}

func (r *MemoryRepository[T]) QueryJobs(_ context.Context, orgID uuid.UUID, limit, offset int) ([]Job[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}

	var jobs []Job[T]
	for k, j := range r.jobs {
		if k.org == orgID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].ID().String() < jobs[k].ID().String()
	})
	return page(jobs, limit, offset), nil
}

func (r *MemoryRepository[T]) ListOrganizations(context.Context) ([]Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	orgs := make([]Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		orgs = append(orgs, org)
	}
	sort.Slice(orgs, func(i, k int) bool {
		return orgs[i].ID.String() < orgs[k].ID.String()
	})
	return orgs, nil
}

func (r *MemoryRepository[T]) check() error {
	if r.closed {
		return errors.ErrRepositoryClosed
	}
	return r.err
}

func page[E any](items []E, limit, offset int) []E {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type executionKey struct {
	job, org  uuid.UUID
	scheduled int64
}

// MemoryExecutionRepository keeps executions in a map with upsert
// semantics and counts writes per kind.
type MemoryExecutionRepository[T any] struct {
	mu         sync.Mutex
	executions map[executionKey]*Execution[T]
	started    int
	succeeded  int
	failed     int
	err        error
}

func NewMemoryExecutionRepository[T any]() *MemoryExecutionRepository[T] {
	return &MemoryExecutionRepository[T]{executions: make(map[executionKey]*Execution[T])}
}

func (r *MemoryExecutionRepository[T]) Open(context.Context) error { return nil }
func (r *MemoryExecutionRepository[T]) Close() error               { return nil }

// FailWith makes every call return err until called with nil.
func (r *MemoryExecutionRepository[T]) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Counts returns how many started, succeeded and failed writes were made.
func (r *MemoryExecutionRepository[T]) Counts() (started, succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.succeeded, r.failed
}

// All returns every record ordered by scheduled time.
func (r *MemoryExecutionRepository[T]) All() []Execution[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution[T], 0, len(r.executions))
	for _, e := range r.executions {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Scheduled.Before(out[k].Scheduled) })
	return out
}

func (r *MemoryExecutionRepository[T]) GetLastScheduled(_ context.Context, jobID, orgID uuid.UUID) (*Execution[T], error) {
	return r.last(jobID, orgID, func(ExecutionState) bool { return true })
}

func (r *MemoryExecutionRepository[T]) GetLastSuccess(_ context.Context, jobID, orgID uuid.UUID) (*Execution[T], error) {
	return r.last(jobID, orgID, func(s ExecutionState) bool { return s == StateSuccess })
}

func (r *MemoryExecutionRepository[T]) GetLastCompleted(_ context.Context, jobID, orgID uuid.UUID) (*Execution[T], error) {
	return r.last(jobID, orgID, ExecutionState.Completed)
}

func (r *MemoryExecutionRepository[T]) JobStarted(_ context.Context, jobID, orgID uuid.UUID, scheduled, startedAt time.Time) error {
	return r.upsert(jobID, orgID, scheduled, func(e *Execution[T]) {
		r.started++
		*e = Execution[T]{JobID: jobID, OrgID: orgID, Scheduled: scheduled, State: StateStarted, StartedAt: startedAt}
	})
}

func (r *MemoryExecutionRepository[T]) JobSucceeded(_ context.Context, jobID, orgID uuid.UUID, scheduled, completedAt time.Time, result T) error {
	return r.upsert(jobID, orgID, scheduled, func(e *Execution[T]) {
		r.succeeded++
		e.State = StateSuccess
		e.CompletedAt = completedAt
		e.Result = result
		e.Error = ""
	})
}

func (r *MemoryExecutionRepository[T]) JobFailed(_ context.Context, jobID, orgID uuid.UUID, scheduled, completedAt time.Time, cause error) error {
	return r.upsert(jobID, orgID, scheduled, func(e *Execution[T]) {
		r.failed++
		var zero T
		e.State = StateFailure
		e.CompletedAt = completedAt
		e.Result = zero
		e.Error = errorText(cause)
	})
}

func (r *MemoryExecutionRepository[T]) upsert(jobID, orgID uuid.UUID, scheduled time.Time, apply func(*Execution[T])) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	k := executionKey{jobID, orgID, scheduled.UnixNano()}
	e, ok := r.executions[k]
	if !ok {
		// a completion without a start still gets a record
		e = &Execution[T]{JobID: jobID, OrgID: orgID, Scheduled: scheduled, StartedAt: scheduled}
		r.executions[k] = e
	}
	apply(e)
	return nil
}

func (r *MemoryExecutionRepository[T]) last(jobID, orgID uuid.UUID, match func(ExecutionState) bool) (*Execution[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var best *Execution[T]
	for k, e := range r.executions {
		if k.job != jobID || k.org != orgID || !match(e.State) {
			continue
		}
		if best == nil || e.Scheduled.After(best.Scheduled) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
