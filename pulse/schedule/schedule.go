// Package schedule computes when recurring jobs run.
//
// Every schedule answers one question: given the scheduled time of the last
// run (nil if it never ran), when is the next one? The answer is a pure
// function of its inputs plus, for UnboundedPeriodic, an injected clock.
//
//	s, err := schedule.NewPeriodic(schedule.PeriodicConfig{
//	    Zone:          la,
//	    Unit:          schedule.Day,
//	    Offset:        150 * time.Minute,
//	    RunAtAndAfter: start,
//	})
//	next, ok := s.NextRun(nil)
package schedule

import (
	"time"
)

// Schedule yields the next occurrence after lastRun. ok is false when the
// schedule has no further occurrences. For a fixed clock, the result never
// decreases as lastRun increases.
type Schedule interface {
	NextRun(lastRun *time.Time) (next time.Time, ok bool)
	Kind() Kind
}

// Kind names a schedule variant in serialized descriptors.
type Kind string

const (
	KindPeriodic          Kind = "periodic"
	KindOneOff            Kind = "one_off"
	KindNever             Kind = "never"
	KindUnboundedPeriodic Kind = "unbounded_periodic"
	KindCron              Kind = "cron"
)

// Clock returns the current instant. Only UnboundedPeriodic consults it.
type Clock func() time.Time

// Bounds restricts a schedule to [RunAtAndAfter, RunUntil]. A zero RunUntil
// means no upper bound.
type Bounds struct {
	RunAtAndAfter time.Time
	RunUntil      time.Time
}

func (b Bounds) validate() error {
	if b.RunAtAndAfter.IsZero() {
		return invalid("run_at_and_after is required")
	}
	if !b.RunUntil.IsZero() && b.RunAtAndAfter.After(b.RunUntil) {
		return invalid("run_at_and_after %s is after run_until %s",
			b.RunAtAndAfter.Format(time.RFC3339), b.RunUntil.Format(time.RFC3339))
	}
	return nil
}

// within applies the upper bound to a candidate.
func (b Bounds) within(t time.Time) (time.Time, bool) {
	if !b.RunUntil.IsZero() && t.After(b.RunUntil) {
		return time.Time{}, false
	}
	return t, true
}
