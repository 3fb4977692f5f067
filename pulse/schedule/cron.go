package schedule

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/teranos/tempo/errors"
)

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Cron runs at the times matched by a cron expression, evaluated in Zone
// and restricted to Bounds.
type Cron struct {
	expr   string
	zone   *time.Location
	spec   cronlib.Schedule
	bounds Bounds
}

// NewCron parses expr and validates bounds.
func NewCron(expr string, zone *time.Location, bounds Bounds) (*Cron, error) {
	if zone == nil {
		return nil, invalid("zone is required")
	}
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "cron expression %q: %v", expr, err)
	}
	if err := bounds.validate(); err != nil {
		return nil, err
	}
	return &Cron{expr: expr, zone: zone, spec: spec, bounds: bounds}, nil
}

func (c *Cron) Kind() Kind           { return KindCron }
func (c *Cron) Expr() string         { return c.expr }
func (c *Cron) Zone() *time.Location { return c.zone }
func (c *Cron) Bounds() Bounds       { return c.bounds }

func (c *Cron) NextRun(lastRun *time.Time) (time.Time, bool) {
	next := c.firstAtOrAfter(c.bounds.RunAtAndAfter)
	if lastRun != nil && !lastRun.Before(c.bounds.RunAtAndAfter) {
		next = c.spec.Next(lastRun.In(c.zone))
	}
	// robfig returns the zero time when nothing matches within five years
	if next.IsZero() {
		return time.Time{}, false
	}
	return c.bounds.within(next)
}

// firstAtOrAfter returns the first match >= t. Next is strictly-after at
// second granularity, so step back a second and skip a sub-second miss.
func (c *Cron) firstAtOrAfter(t time.Time) time.Time {
	next := c.spec.Next(t.Add(-time.Second).In(c.zone))
	if !next.IsZero() && next.Before(t) {
		next = c.spec.Next(next)
	}
	return next
}
