package job

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/tempo/errors"
)

const refSeparator = "&"

// Serialize encodes a ref as its entity name:
//
//	sqlite&sqlite&<org uuid>&<job uuid>
func Serialize[T any](r Ref[T]) string {
	return strings.Join([]string{
		r.RepositoryType,
		r.ExecutionRepositoryType,
		r.OrgID.String(),
		r.JobID.String(),
	}, refSeparator)
}

// Serializer turns entity names back into refs. Names arrive URL-encoded
// when they have been through a path segment, so both forms are accepted.
type Serializer[T any] struct {
	registry *Registry[T]
	// nil means every token the registry knows
	allowed map[string]bool
}

// NewSerializer accepts any token registered in reg.
func NewSerializer[T any](reg *Registry[T]) *Serializer[T] {
	return &Serializer[T]{registry: reg}
}

// NewWhitelistSerializer accepts only the listed tokens. reg may be nil,
// in which case the whitelist alone decides.
func NewWhitelistSerializer[T any](reg *Registry[T], tokens ...string) *Serializer[T] {
	allowed := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		allowed[t] = true
	}
	return &Serializer[T]{registry: reg, allowed: allowed}
}

func (s *Serializer[T]) Serialize(r Ref[T]) string {
	return Serialize(r)
}

// Deserialize parses an entity name. Malformed names yield
// ErrDeserialization; well-formed names with a token this serializer does
// not accept yield ErrUnknownRepository.
func (s *Serializer[T]) Deserialize(name string) (Ref[T], error) {
	if strings.Contains(name, "%") {
		decoded, err := url.QueryUnescape(name)
		if err != nil {
			return Ref[T]{}, errors.Wrapf(errors.ErrDeserialization, "entity name %q: %v", name, err)
		}
		name = decoded
	}

	parts := strings.Split(name, refSeparator)
	if len(parts) != 4 {
		return Ref[T]{}, errors.Wrapf(errors.ErrDeserialization,
			"entity name %q has %d parts, want 4", name, len(parts))
	}
	if parts[0] == "" || parts[1] == "" {
		return Ref[T]{}, errors.Wrapf(errors.ErrDeserialization, "entity name %q has an empty repository type", name)
	}
	orgID, err := uuid.Parse(parts[2])
	if err != nil {
		return Ref[T]{}, errors.Wrapf(errors.ErrDeserialization, "entity name %q: organization id: %v", name, err)
	}
	jobID, err := uuid.Parse(parts[3])
	if err != nil {
		return Ref[T]{}, errors.Wrapf(errors.ErrDeserialization, "entity name %q: job id: %v", name, err)
	}

	if !s.acceptsRepository(parts[0]) {
		return Ref[T]{}, errors.Wrapf(errors.ErrUnknownRepository, "job repository %q", parts[0])
	}
	if !s.acceptsExecutionRepository(parts[1]) {
		return Ref[T]{}, errors.Wrapf(errors.ErrUnknownRepository, "execution repository %q", parts[1])
	}

	return NewRef[T](parts[0], parts[1], orgID, jobID), nil
}

func (s *Serializer[T]) acceptsRepository(token string) bool {
	if s.allowed != nil && !s.allowed[token] {
		return false
	}
	return s.registry == nil || s.registry.HasRepository(token)
}

func (s *Serializer[T]) acceptsExecutionRepository(token string) bool {
	if s.allowed != nil && !s.allowed[token] {
		return false
	}
	return s.registry == nil || s.registry.HasExecutionRepository(token)
}
