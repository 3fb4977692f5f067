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

// Store persists job definitions and organizations in SQLite and serves
// them as jobs bound through a HandlerRegistry.
type Store[T any] struct {
	db       *sql.DB
	handlers *HandlerRegistry[T]
	closed   atomic.Bool
	now      func() time.Time
}

// NewStore creates a store over an open, migrated database. The database
// is shared; Close does not close it.
func NewStore[T any](conn *sql.DB, handlers *HandlerRegistry[T]) *Store[T] {
	return &Store[T]{db: conn, handlers: handlers, now: time.Now}
}

func (s *Store[T]) Open(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to reach job database")
	}
	s.closed.Store(false)
	return nil
}

func (s *Store[T]) Close() error {
	s.closed.Store(true)
	return nil
}

const definitionColumns = `id, org_id, name, handler, payload, schedule, timeout_ms, etag, created_at, updated_at`

// GetJob implements Repository.
func (s *Store[T]) GetJob(ctx context.Context, id, orgID uuid.UUID) (Job[T], error) {
	def, err := s.GetDefinition(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	return s.handlers.Bind(*def)
}

// QueryJobs implements Repository, ordered by job id.
func (s *Store[T]) QueryJobs(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]Job[T], error) {
	defs, err := s.ListDefinitions(ctx, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job[T], 0, len(defs))
	for _, def := range defs {
		j, err := s.handlers.Bind(def)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetDefinition returns errors.ErrJobNotFound when no row matches.
func (s *Store[T]) GetDefinition(ctx context.Context, id, orgID uuid.UUID) (*Definition, error) {
	if s.closed.Load() {
		return nil, errors.ErrRepositoryClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM jobs WHERE id = ? AND org_id = ?`,
		id.String(), orgID.String())

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewJobNotFoundError("job %s in org %s", id, orgID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return def, nil
}

// ListDefinitions pages through an organization's definitions. A negative
// limit means no limit.
func (s *Store[T]) ListDefinitions(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]Definition, error) {
	if s.closed.Load() {
		return nil, errors.ErrRepositoryClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM jobs WHERE org_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		orgID.String(), limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query jobs for org %s", orgID)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return defs, nil
}

// SaveDefinition inserts or replaces a definition and assigns it a fresh
// ETag, which is written back into def along with the timestamps.
func (s *Store[T]) SaveDefinition(ctx context.Context, def *Definition) error {
	if s.closed.Load() {
		return errors.ErrRepositoryClosed
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if err := def.Validate(); err != nil {
		return err
	}
	spec, err := json.Marshal(def.Schedule)
	if err != nil {
		return errors.Wrap(err, "failed to encode schedule")
	}

	now := s.now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	def.ETag = uuid.NewString()

	var payload interface{}
	if len(def.Payload) > 0 {
		payload = string(def.Payload)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+definitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, id) DO UPDATE SET
			name = excluded.name,
			handler = excluded.handler,
			payload = excluded.payload,
			schedule = excluded.schedule,
			timeout_ms = excluded.timeout_ms,
			etag = excluded.etag,
			updated_at = excluded.updated_at
	`,
		def.ID.String(),
		def.OrgID.String(),
		def.Name,
		def.Handler,
		payload,
		string(spec),
		def.Timeout.Milliseconds(),
		def.ETag,
		db.FormatTime(def.CreatedAt),
		db.FormatTime(def.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save job %s", def.ID)
	}
	return nil
}

// DeleteDefinition removes a job. Deleting a missing job returns
// errors.ErrJobNotFound.
func (s *Store[T]) DeleteDefinition(ctx context.Context, id, orgID uuid.UUID) error {
	if s.closed.Load() {
		return errors.ErrRepositoryClosed
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND org_id = ?`, id.String(), orgID.String())
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewJobNotFoundError("job %s in org %s", id, orgID)
	}
	return nil
}

// SaveOrganization inserts an organization or renames an existing one.
func (s *Store[T]) SaveOrganization(ctx context.Context, org Organization) error {
	if s.closed.Load() {
		return errors.ErrRepositoryClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, org.ID.String(), org.Name, db.FormatTime(s.now()))
	if err != nil {
		return errors.Wrapf(err, "failed to save organization %s", org.ID)
	}
	return nil
}

// ListOrganizations implements OrganizationRepository.
func (s *Store[T]) ListOrganizations(ctx context.Context) ([]Organization, error) {
	if s.closed.Load() {
		return nil, errors.ErrRepositoryClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM organizations ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list organizations")
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.Wrap(err, "failed to scan organization")
		}
		orgID, err := uuid.Parse(id)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid organization id %q", id)
		}
		orgs = append(orgs, Organization{ID: orgID, Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate organizations")
	}
	return orgs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row scanner) (*Definition, error) {
	var (
		def                  Definition
		id, orgID, spec      string
		createdAt, updatedAt string
		payload              sql.NullString
		timeoutMS            int64
	)
	err := row.Scan(
		&id,
		&orgID,
		&def.Name,
		&def.Handler,
		&payload,
		&spec,
		&timeoutMS,
		&def.ETag,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if def.ID, err = uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(err, "invalid job id %q", id)
	}
	if def.OrgID, err = uuid.Parse(orgID); err != nil {
		return nil, errors.Wrapf(err, "invalid organization id %q for job %s", orgID, id)
	}
	if err := json.Unmarshal([]byte(spec), &def.Schedule); err != nil {
		return nil, errors.Wrapf(err, "failed to decode schedule for job %s", id)
	}
	if def.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", id)
	}
	if def.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", id)
	}
	if payload.Valid {
		def.Payload = []byte(payload.String)
	}
	def.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &def, nil
}

var (
	_ Repository[struct{}]   = (*Store[struct{}])(nil)
	_ OrganizationRepository = (*Store[struct{}])(nil)
)
