package schedule

import (
	"time"

	"github.com/teranos/tempo/errors"
)

// Unit is the calendar unit a periodic schedule repeats in.
type Unit string

const (
	Second Unit = "second"
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
)

// ParseUnit accepts the unit names above, case-sensitively.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(s); u {
	case Second, Minute, Hour, Day, Week:
		return u, nil
	}
	return "", invalid("unknown period unit %q", s)
}

// Duration is the nominal length of one unit. Days and weeks are calendar
// units whose real length varies across DST transitions.
func (u Unit) Duration() time.Duration {
	switch u {
	case Second:
		return time.Second
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	}
	return 0
}

// calendar reports whether the unit advances by calendar date rather than
// by elapsed time.
func (u Unit) calendar() bool {
	return u == Day || u == Week
}

func invalid(format string, args ...interface{}) error {
	return errors.NewInvalidScheduleError(format, args...)
}
