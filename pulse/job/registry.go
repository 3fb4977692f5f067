package job

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/teranos/tempo/errors"
)

// Registry maps repository type tokens ("sqlite", "memory") to repository
// instances. Refs carry tokens, never repositories, so a ref parsed from
// an entity name resolves through whatever this node registered.
type Registry[T any] struct {
	mu         sync.RWMutex
	jobs       map[string]Repository[T]
	executions map[string]ExecutionRepository[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		jobs:       make(map[string]Repository[T]),
		executions: make(map[string]ExecutionRepository[T]),
	}
}

// RegisterRepository binds token to repo. Tokens must be non-empty and
// free of the characters used by the entity name encoding.
func (r *Registry[T]) RegisterRepository(token string, repo Repository[T]) error {
	if err := validToken(token); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[token]; exists {
		return errors.Newf("job repository %q already registered", token)
	}
	r.jobs[token] = repo
	return nil
}

// RegisterExecutionRepository binds token to repo.
func (r *Registry[T]) RegisterExecutionRepository(token string, repo ExecutionRepository[T]) error {
	if err := validToken(token); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[token]; exists {
		return errors.Newf("execution repository %q already registered", token)
	}
	r.executions[token] = repo
	return nil
}

// Repository returns the job repository for token, or ErrUnknownRepository.
func (r *Registry[T]) Repository(token string) (Repository[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.jobs[token]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownRepository, "job repository %q", token)
	}
	return repo, nil
}

// ExecutionRepository returns the execution repository for token, or
// ErrUnknownRepository.
func (r *Registry[T]) ExecutionRepository(token string) (ExecutionRepository[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.executions[token]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownRepository, "execution repository %q", token)
	}
	return repo, nil
}

// HasRepository reports whether a job repository is registered for token.
func (r *Registry[T]) HasRepository(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jobs[token]
	return ok
}

// HasExecutionRepository reports whether an execution repository is
// registered for token.
func (r *Registry[T]) HasExecutionRepository(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executions[token]
	return ok
}

// Tokens returns the registered job and execution repository tokens, sorted.
func (r *Registry[T]) Tokens() (jobs, executions []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for token := range r.jobs {
		jobs = append(jobs, token)
	}
	for token := range r.executions {
		executions = append(executions, token)
	}
	sort.Strings(jobs)
	sort.Strings(executions)
	return jobs, executions
}

// Open opens every registered repository, stopping at the first error.
func (r *Registry[T]) Open(ctx context.Context) error {
	jobs, executions := r.Tokens()
	for _, token := range jobs {
		repo, _ := r.Repository(token)
		if err := repo.Open(ctx); err != nil {
			return errors.Wrapf(err, "failed to open job repository %q", token)
		}
	}
	for _, token := range executions {
		repo, _ := r.ExecutionRepository(token)
		if err := repo.Open(ctx); err != nil {
			return errors.Wrapf(err, "failed to open execution repository %q", token)
		}
	}
	return nil
}

// Close closes every registered repository and returns the first error.
func (r *Registry[T]) Close() error {
	var first error
	jobs, executions := r.Tokens()
	for _, token := range jobs {
		repo, _ := r.Repository(token)
		if err := repo.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close job repository %q", token)
		}
	}
	for _, token := range executions {
		repo, _ := r.ExecutionRepository(token)
		if err := repo.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close execution repository %q", token)
		}
	}
	return first
}

func validToken(token string) error {
	if token == "" {
		return errors.NewInvalidRequestError("repository token is empty")
	}
	if strings.ContainsAny(token, refSeparator+"/%?# \t\n") {
		return errors.NewInvalidRequestError("repository token %q contains a reserved character", token)
	}
	return nil
}
