package job

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/pulse/schedule"
)

func dailySpec() schedule.Spec {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return schedule.Spec{Kind: schedule.KindPeriodic, Unit: schedule.Day, RunAtAndAfter: &start}
}

func TestHandlerRegistry(t *testing.T) {
	reg := NewHandlerRegistry[string](nil)
	reg.Register("report", func(ctx context.Context, def *Definition, scheduled time.Time) (string, error) {
		return def.Name + "@" + scheduled.Format(time.RFC3339), nil
	})

	assert.True(t, reg.Has("report"))
	assert.False(t, reg.Has("alert"))
	assert.Equal(t, []string{"report"}, reg.Names())
	assert.Panics(t, func() {
		reg.Register("report", nil)
	})
}

func TestHandlerRegistry_Bind(t *testing.T) {
	ctx := context.Background()
	reg := NewHandlerRegistry[string](nil)
	reg.Register("report", func(ctx context.Context, def *Definition, scheduled time.Time) (string, error) {
		return string(def.Payload), nil
	})

	def := Definition{
		ID:       uuid.New(),
		OrgID:    uuid.New(),
		Name:     "nightly",
		Handler:  "report",
		Payload:  []byte(`{"format":"pdf"}`),
		Schedule: dailySpec(),
		Timeout:  time.Minute,
		ETag:     "v1",
	}

	j, err := reg.Bind(def)
	require.NoError(t, err)
	assert.Equal(t, def.ID, j.ID())
	assert.Equal(t, "v1", j.ETag())
	assert.Equal(t, time.Minute, j.Timeout())
	assert.Equal(t, schedule.KindPeriodic, j.Schedule().Kind())
	assert.Equal(t, "report", j.(interface{ Type() string }).Type())

	out, err := j.Execute(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, `{"format":"pdf"}`, out)

	t.Run("unregistered handler fails at execution", func(t *testing.T) {
		def := def
		def.Handler = "alert"
		j, err := reg.Bind(def)
		require.NoError(t, err)
		_, err = j.Execute(ctx, time.Now())
		assert.ErrorContains(t, err, `no handler registered for "alert"`)
	})

	t.Run("broken schedule fails to bind", func(t *testing.T) {
		def := def
		def.Schedule = schedule.Spec{Kind: "sometimes"}
		_, err := reg.Bind(def)
		assert.True(t, errors.Is(err, errors.ErrInvalidSchedule))
	})
}

func TestDefinition_Validate(t *testing.T) {
	valid := Definition{OrgID: uuid.New(), Name: "n", Handler: "h", Schedule: dailySpec()}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"no org", func(d *Definition) { d.OrgID = uuid.Nil }},
		{"no name", func(d *Definition) { d.Name = "" }},
		{"no handler", func(d *Definition) { d.Handler = "" }},
		{"negative timeout", func(d *Definition) { d.Timeout = -time.Second }},
		{"payload not json", func(d *Definition) { d.Payload = []byte("{") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			assert.True(t, errors.Is(d.Validate(), errors.ErrInvalidRequest))
		})
	}

	d := valid
	d.Schedule = schedule.Spec{Kind: schedule.KindOneOff}
	assert.True(t, errors.Is(d.Validate(), errors.ErrInvalidSchedule))
}

func TestParseImport(t *testing.T) {
	org := uuid.New()
	jobID := uuid.New()
	doc := `
organizations:
  - id: ` + org.String() + `
    name: acme
jobs:
  - id: ` + jobID.String() + `
    org_id: ` + org.String() + `
    name: nightly-report
    handler: report
    timeout: 5m
    payload:
      format: pdf
      pages: 3
    schedule:
      kind: periodic
      zone: Europe/Amsterdam
      unit: day
      offset: 2h
      run_at_and_after: 2024-01-01T00:00:00Z
  - org_id: ` + org.String() + `
    name: heartbeat
    handler: ping
    schedule:
      kind: cron
      cron: "*/5 * * * *"
      run_at_and_after: 2024-01-01T00:00:00Z
`
	orgs, defs, err := ParseImport(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, orgs, 1)
	assert.Equal(t, Organization{ID: org, Name: "acme"}, orgs[0])

	require.Len(t, defs, 2)
	assert.Equal(t, jobID, defs[0].ID)
	assert.Equal(t, 5*time.Minute, defs[0].Timeout)
	assert.JSONEq(t, `{"format":"pdf","pages":3}`, string(defs[0].Payload))
	assert.Equal(t, "2h", defs[0].Schedule.Offset)

	assert.NotEqual(t, uuid.Nil, defs[1].ID)
	assert.Equal(t, schedule.KindCron, defs[1].Schedule.Kind)
	assert.Nil(t, defs[1].Payload)
}

func TestParseImport_Errors(t *testing.T) {
	org := uuid.New().String()
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "jobs:\n  - org_id: " + org + "\n    nmae: typo\n"},
		{"bad org id", "jobs:\n  - org_id: nope\n    name: x\n    handler: h\n"},
		{"bad schedule", "jobs:\n  - org_id: " + org + "\n    name: x\n    handler: h\n    schedule: {kind: periodic, unit: day}\n"},
		{"organization without name", "organizations:\n  - id: " + org + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseImport(strings.NewReader(tt.doc))
			require.Error(t, err)
		})
	}
}
