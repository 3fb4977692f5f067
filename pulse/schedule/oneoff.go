package schedule

import "time"

// OneOff runs exactly once, at At. Whether it has run is tracked by the
// caller through lastRun: once any run is recorded there are no more.
type OneOff struct {
	At time.Time
}

// NewOneOff builds a one-off schedule. at must be set.
func NewOneOff(at time.Time) (*OneOff, error) {
	if at.IsZero() {
		return nil, invalid("one_off requires a time")
	}
	return &OneOff{At: at}, nil
}

func (o *OneOff) Kind() Kind { return KindOneOff }

func (o *OneOff) NextRun(lastRun *time.Time) (time.Time, bool) {
	if lastRun != nil {
		return time.Time{}, false
	}
	return o.At, true
}

// Never has no occurrences. Jobs use it to stay defined but dormant.
type Never struct{}

func (Never) Kind() Kind { return KindNever }

func (Never) NextRun(*time.Time) (time.Time, bool) {
	return time.Time{}, false
}
