package schedule

import "time"

// UnboundedPeriodic runs on epoch-aligned period boundaries with no end.
//
// It is driven by the clock rather than by lastRun alone: the next run is
// the first boundary strictly after both now and lastRun. A job that was
// down for several periods resumes at the next boundary instead of
// replaying every missed one.
type UnboundedPeriodic struct {
	unit  Unit
	count int64
	clock Clock
}

// NewUnboundedPeriodic builds the schedule. A nil clock means time.Now.
func NewUnboundedPeriodic(unit Unit, count int64, clock Clock) (*UnboundedPeriodic, error) {
	if _, err := ParseUnit(string(unit)); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, invalid("period_count must be at least 1, got %d", count)
	}
	if clock == nil {
		clock = time.Now
	}
	return &UnboundedPeriodic{unit: unit, count: count, clock: clock}, nil
}

func (u *UnboundedPeriodic) Kind() Kind         { return KindUnboundedPeriodic }
func (u *UnboundedPeriodic) Unit() Unit         { return u.unit }
func (u *UnboundedPeriodic) PeriodCount() int64 { return u.count }

// Period is the fixed length between boundaries.
func (u *UnboundedPeriodic) Period() time.Duration {
	return u.unit.Duration() * time.Duration(u.count)
}

func (u *UnboundedPeriodic) NextRun(lastRun *time.Time) (time.Time, bool) {
	from := u.clock()
	if lastRun != nil && lastRun.After(from) {
		from = *lastRun
	}

	period := int64(u.Period() / time.Second)
	next := time.Unix((floorDiv(from.Unix(), period)+1)*period, 0).UTC()
	return next, true
}
