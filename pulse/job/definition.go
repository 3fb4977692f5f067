package job

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/pulse/schedule"
)

// Definition is the stored form of a job. Handler names a function in a
// HandlerRegistry; Payload is handed to it verbatim.
type Definition struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Name      string
	Handler   string
	Payload   []byte
	Schedule  schedule.Spec
	Timeout   time.Duration
	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks everything except whether Handler is registered, which
// is only known on the node that executes the job.
func (d *Definition) Validate() error {
	if d.OrgID == uuid.Nil {
		return errors.NewInvalidRequestError("job %q has no organization", d.Name)
	}
	if d.Name == "" {
		return errors.NewInvalidRequestError("job name is required")
	}
	if d.Handler == "" {
		return errors.NewInvalidRequestError("job %q has no handler", d.Name)
	}
	if d.Timeout < 0 {
		return errors.NewInvalidRequestError("job %q has a negative timeout", d.Name)
	}
	if len(d.Payload) > 0 && !json.Valid(d.Payload) {
		return errors.NewInvalidRequestError("job %q payload is not valid JSON", d.Name)
	}
	if _, err := d.Schedule.Build(nil); err != nil {
		return errors.Wrapf(err, "job %q", d.Name)
	}
	return nil
}

// ImportFile is the YAML document read by `tempo job import`:
//
//	organizations:
//	  - id: 6f1c...
//	    name: acme
//	jobs:
//	  - org_id: 6f1c...
//	    name: nightly-report
//	    handler: report
//	    timeout: 5m
//	    payload: {format: pdf}
//	    schedule:
//	      kind: periodic
//	      zone: Europe/Amsterdam
//	      unit: day
//	      offset: 2h
//	      run_at_and_after: 2024-01-01T00:00:00Z
type ImportFile struct {
	Organizations []Organization `yaml:"organizations"`
	Jobs          []ImportJob    `yaml:"jobs"`
}

type ImportJob struct {
	ID       string                 `yaml:"id"`
	OrgID    string                 `yaml:"org_id"`
	Name     string                 `yaml:"name"`
	Handler  string                 `yaml:"handler"`
	Timeout  time.Duration          `yaml:"timeout"`
	Payload  map[string]interface{} `yaml:"payload"`
	Schedule schedule.Spec          `yaml:"schedule"`
}

// ParseImport reads and validates an import document. Jobs without an id
// get a fresh one.
func ParseImport(r io.Reader) ([]Organization, []Definition, error) {
	var file ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, nil, errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}

	defs := make([]Definition, 0, len(file.Jobs))
	for i, j := range file.Jobs {
		def, err := j.definition()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "jobs[%d]", i)
		}
		if err := def.Validate(); err != nil {
			return nil, nil, errors.Wrapf(err, "jobs[%d]", i)
		}
		defs = append(defs, def)
	}
	for i, org := range file.Organizations {
		if org.ID == uuid.Nil || org.Name == "" {
			return nil, nil, errors.NewInvalidRequestError("organizations[%d] needs an id and a name", i)
		}
	}
	return file.Organizations, defs, nil
}

func (j ImportJob) definition() (Definition, error) {
	def := Definition{
		Name:     j.Name,
		Handler:  j.Handler,
		Timeout:  j.Timeout,
		Schedule: j.Schedule,
	}

	def.ID = uuid.New()
	if j.ID != "" {
		id, err := uuid.Parse(j.ID)
		if err != nil {
			return Definition{}, errors.NewInvalidRequestError("id %q: %v", j.ID, err)
		}
		def.ID = id
	}
	orgID, err := uuid.Parse(j.OrgID)
	if err != nil {
		return Definition{}, errors.NewInvalidRequestError("org_id %q: %v", j.OrgID, err)
	}
	def.OrgID = orgID

	if j.Payload != nil {
		payload, err := json.Marshal(j.Payload)
		if err != nil {
			return Definition{}, errors.NewInvalidRequestError("payload: %v", err)
		}
		def.Payload = payload
	}
	return def, nil
}

// HandlerFunc runs one occurrence of a defined job.
type HandlerFunc[T any] func(ctx context.Context, def *Definition, scheduled time.Time) (T, error)

// definedJob adapts a Definition and its handler to Job.
type definedJob[T any] struct {
	def      Definition
	schedule schedule.Schedule
	handler  HandlerFunc[T]
}

func (j *definedJob[T]) ID() uuid.UUID               { return j.def.ID }
func (j *definedJob[T]) ETag() string                { return j.def.ETag }
func (j *definedJob[T]) Schedule() schedule.Schedule { return j.schedule }
func (j *definedJob[T]) Timeout() time.Duration      { return j.def.Timeout }
func (j *definedJob[T]) Definition() Definition      { return j.def }

// Type names the handler, which is what metrics break down by.
func (j *definedJob[T]) Type() string { return j.def.Handler }

func (j *definedJob[T]) Execute(ctx context.Context, scheduled time.Time) (T, error) {
	if j.handler == nil {
		var zero T
		return zero, errors.Newf("no handler registered for %q", j.def.Handler)
	}
	return j.handler(ctx, &j.def, scheduled)
}
