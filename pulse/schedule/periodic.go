package schedule

import (
	"time"
)

// PeriodicConfig describes a bounded periodic schedule.
type PeriodicConfig struct {
	Zone        *time.Location
	Unit        Unit
	PeriodCount int64 // defaults to 1
	// Offset shifts every occurrence from the start of its period.
	// 0 <= Offset < Unit*PeriodCount.
	Offset time.Duration
	Bounds
}

// Periodic runs once per PeriodCount units, aligned to period boundaries in
// Zone and shifted by Offset.
//
// Sub-day units advance by elapsed time on a grid fixed by the zone offset
// in effect at RunAtAndAfter, so an hourly schedule runs twice in a
// repeated hour and skips a nonexistent one. Days and weeks advance by
// calendar date: a daily 02:30 run stays at local midnight + 2h30m whether
// the day had 23, 24 or 25 hours.
type Periodic struct {
	zone   *time.Location
	unit   Unit
	count  int64
	offset time.Duration
	bounds Bounds
	// grid anchor for sub-day units, seconds east of UTC
	anchor int64
}

// NewPeriodic validates cfg and builds the schedule.
func NewPeriodic(cfg PeriodicConfig) (*Periodic, error) {
	if cfg.Zone == nil {
		return nil, invalid("zone is required")
	}
	if _, err := ParseUnit(string(cfg.Unit)); err != nil {
		return nil, err
	}
	if cfg.PeriodCount == 0 {
		cfg.PeriodCount = 1
	}
	if cfg.PeriodCount < 0 {
		return nil, invalid("period_count must be positive, got %d", cfg.PeriodCount)
	}
	period := cfg.Unit.Duration() * time.Duration(cfg.PeriodCount)
	if cfg.Offset < 0 || cfg.Offset >= period {
		return nil, invalid("offset %s must be in [0, %s)", cfg.Offset, period)
	}
	if err := cfg.Bounds.validate(); err != nil {
		return nil, err
	}

	_, anchor := cfg.RunAtAndAfter.In(cfg.Zone).Zone()
	return &Periodic{
		zone:   cfg.Zone,
		unit:   cfg.Unit,
		count:  cfg.PeriodCount,
		offset: cfg.Offset,
		bounds: cfg.Bounds,
		anchor: int64(anchor),
	}, nil
}

func (p *Periodic) Kind() Kind { return KindPeriodic }

func (p *Periodic) Zone() *time.Location  { return p.zone }
func (p *Periodic) Unit() Unit            { return p.unit }
func (p *Periodic) PeriodCount() int64    { return p.count }
func (p *Periodic) Offset() time.Duration { return p.offset }
func (p *Periodic) Bounds() Bounds        { return p.bounds }

// NextRun returns the first period start at or after RunAtAndAfter (plus
// Offset) when lastRun is nil, and the occurrence one period after lastRun
// otherwise. A lastRun before RunAtAndAfter snaps forward to the first
// occurrence at or after RunAtAndAfter.
func (p *Periodic) NextRun(lastRun *time.Time) (time.Time, bool) {
	start := p.bounds.RunAtAndAfter

	if lastRun == nil {
		first := p.floor(start)
		if first.Before(start) {
			first = p.advance(first)
		}
		return p.bounds.within(first.Add(p.offset))
	}

	next := p.advance(p.floor(lastRun.Add(-p.offset))).Add(p.offset)
	if next.Before(start) {
		next = p.floor(start.Add(-p.offset)).Add(p.offset)
		if next.Before(start) {
			next = p.advance(next.Add(-p.offset)).Add(p.offset)
		}
	}
	return p.bounds.within(next)
}

// floor returns the start of the period containing t, in the zone.
func (p *Periodic) floor(t time.Time) time.Time {
	t = t.In(p.zone)

	if !p.unit.calendar() {
		period := int64(p.unit.Duration()/time.Second) * p.count
		rem := floorMod(t.Unix()+p.anchor, period)
		return t.Add(-time.Duration(rem)*time.Second - time.Duration(t.Nanosecond()))
	}

	day := civilDay(t)
	anchor, days := p.calendarGrid()
	aligned := anchor + floorDiv(day-anchor, days)*days
	return midnight(aligned, p.zone)
}

// advance moves a period start to the next period start.
func (p *Periodic) advance(periodStart time.Time) time.Time {
	if !p.unit.calendar() {
		return periodStart.Add(p.unit.Duration() * time.Duration(p.count))
	}
	_, days := p.calendarGrid()
	return midnight(civilDay(periodStart.In(p.zone))+days, p.zone)
}

// calendarGrid returns the civil day number grid periods are aligned to and
// the period length in days. Weeks start on Monday; 1970-01-05 was one.
func (p *Periodic) calendarGrid() (anchor, days int64) {
	if p.unit == Week {
		return 4, 7 * p.count
	}
	return 0, p.count
}

// civilDay is the number of days from 1970-01-01 to t's local date.
func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return floorDiv(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix(), 86400)
}

// midnight returns the start of civil day n in loc.
func midnight(n int64, loc *time.Location) time.Time {
	y, m, d := time.Unix(n*86400, 0).UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
