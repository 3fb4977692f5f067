package schedule

import (
	"time"

	"github.com/teranos/tempo/errors"
)

// Spec is the serializable description of a schedule, stored with job
// definitions and read from import files.
//
//	kind: periodic
//	zone: America/Los_Angeles
//	unit: day
//	offset: 2h30m
//	run_at_and_after: 2024-01-01T00:00:00Z
type Spec struct {
	Kind          Kind       `json:"kind" yaml:"kind"`
	Zone          string     `json:"zone,omitempty" yaml:"zone,omitempty"`
	Unit          Unit       `json:"unit,omitempty" yaml:"unit,omitempty"`
	PeriodCount   int64      `json:"period_count,omitempty" yaml:"period_count,omitempty"`
	Offset        string     `json:"offset,omitempty" yaml:"offset,omitempty"`
	RunAtAndAfter *time.Time `json:"run_at_and_after,omitempty" yaml:"run_at_and_after,omitempty"`
	RunUntil      *time.Time `json:"run_until,omitempty" yaml:"run_until,omitempty"`
	At            *time.Time `json:"at,omitempty" yaml:"at,omitempty"`
	Cron          string     `json:"cron,omitempty" yaml:"cron,omitempty"`
}

// Build constructs the schedule the spec describes. clock is used by
// unbounded periodic schedules; nil means time.Now.
func (s Spec) Build(clock Clock) (Schedule, error) {
	switch s.Kind {
	case KindNever:
		return Never{}, nil

	case KindOneOff:
		if s.At == nil {
			return nil, invalid("one_off requires at")
		}
		return NewOneOff(*s.At)

	case KindUnboundedPeriodic:
		return NewUnboundedPeriodic(s.Unit, s.PeriodCount, clock)

	case KindPeriodic:
		zone, err := s.location()
		if err != nil {
			return nil, err
		}
		offset, err := s.offset()
		if err != nil {
			return nil, err
		}
		return NewPeriodic(PeriodicConfig{
			Zone:        zone,
			Unit:        s.Unit,
			PeriodCount: s.PeriodCount,
			Offset:      offset,
			Bounds:      s.bounds(),
		})

	case KindCron:
		zone, err := s.location()
		if err != nil {
			return nil, err
		}
		return NewCron(s.Cron, zone, s.bounds())
	}

	return nil, invalid("unknown schedule kind %q", s.Kind)
}

// SpecOf describes a schedule built by this package.
func SpecOf(sched Schedule) (Spec, error) {
	switch s := sched.(type) {
	case Never, *Never:
		return Spec{Kind: KindNever}, nil

	case *OneOff:
		at := s.At
		return Spec{Kind: KindOneOff, At: &at}, nil

	case *UnboundedPeriodic:
		return Spec{Kind: KindUnboundedPeriodic, Unit: s.unit, PeriodCount: s.count}, nil

	case *Periodic:
		spec := Spec{
			Kind:        KindPeriodic,
			Zone:        s.zone.String(),
			Unit:        s.unit,
			PeriodCount: s.count,
		}
		if s.offset != 0 {
			spec.Offset = s.offset.String()
		}
		spec.setBounds(s.bounds)
		return spec, nil

	case *Cron:
		spec := Spec{Kind: KindCron, Zone: s.zone.String(), Cron: s.expr}
		spec.setBounds(s.bounds)
		return spec, nil
	}

	return Spec{}, errors.Newf("cannot describe schedule of type %T", sched)
}

func (s Spec) location() (*time.Location, error) {
	if s.Zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Zone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "zone %q: %v", s.Zone, err)
	}
	return loc, nil
}

func (s Spec) offset() (time.Duration, error) {
	if s.Offset == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Offset)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidSchedule, "offset %q: %v", s.Offset, err)
	}
	return d, nil
}

func (s Spec) bounds() Bounds {
	var b Bounds
	if s.RunAtAndAfter != nil {
		b.RunAtAndAfter = *s.RunAtAndAfter
	}
	if s.RunUntil != nil {
		b.RunUntil = *s.RunUntil
	}
	return b
}

func (s *Spec) setBounds(b Bounds) {
	start := b.RunAtAndAfter
	s.RunAtAndAfter = &start
	if !b.RunUntil.IsZero() {
		until := b.RunUntil
		s.RunUntil = &until
	}
}
