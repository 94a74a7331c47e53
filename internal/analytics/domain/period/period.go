package period

import (
	"errors"
	"time"
)

// SettlementLength is the length of a half-hourly settlement period.
const SettlementLength = 30 * time.Minute

var (
	// ErrNilLocation is returned when no civil timezone is supplied.
	ErrNilLocation = errors.New("period: nil location")
	// ErrInvalidLength is returned when a settlement period length does not divide an hour.
	ErrInvalidLength = errors.New("period: invalid period length")
	// ErrInvalidSettlementPeriod is returned when an index is outside 1..periods-in-day.
	ErrInvalidSettlementPeriod = errors.New("period: invalid settlement period")
	// ErrInvalidRange is returned when a range end is not after its start.
	ErrInvalidRange = errors.New("period: invalid range")
)

// Localize interprets the wall-clock fields of naive in loc and returns the UTC instant.
// A wall time inside a spring-forward gap is shifted forward by the gap length.
// A wall time that occurs twice on a fall-back day resolves to the later,
// standard-time occurrence.
func Localize(naive time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	wall := time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), time.UTC)

	before := offsetAt(wall.Add(-26*time.Hour), loc)
	after := offsetAt(wall.Add(26*time.Hour), loc)

	var (
		found bool
		best  time.Time
	)
	for _, off := range []int{before, after} {
		candidate := wall.Add(-time.Duration(off) * time.Second)
		if offsetAt(candidate, loc) != off {
			continue
		}
		if !found || candidate.After(best) {
			best = candidate
			found = true
		}
	}
	if found {
		return best
	}
	// Nonexistent wall time: apply the offset in force before the transition.
	return wall.Add(-time.Duration(before) * time.Second)
}

// LocalMidnight returns the UTC instant of the start of the civil day that
// contains the date fields of day in loc.
func LocalMidnight(day time.Time, loc *time.Location) time.Time {
	return Localize(time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), loc)
}

// DayLength returns the duration of the civil day in loc.
func DayLength(day time.Time, loc *time.Location) time.Duration {
	start := LocalMidnight(day, loc)
	next := LocalMidnight(time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, time.UTC), loc)
	return next.Sub(start)
}

// IsTransitionDay reports whether the civil day in loc is not 24 hours long.
func IsTransitionDay(day time.Time, loc *time.Location) bool {
	return DayLength(day, loc) != 24*time.Hour
}

// PeriodsInDay returns the number of settlement periods of the given length in the civil day.
// For half-hour periods in Europe/London this is 48, 46 on spring-forward and 50 on fall-back.
func PeriodsInDay(day time.Time, loc *time.Location, length time.Duration) (int, error) {
	if loc == nil {
		return 0, ErrNilLocation
	}
	if length <= 0 || time.Hour%length != 0 {
		return 0, ErrInvalidLength
	}
	return int(DayLength(day, loc) / length), nil
}

// SettlementPeriodStart returns the UTC start of settlement period index (1-based)
// on the civil day in loc: local midnight converted to UTC plus (index-1) periods.
func SettlementPeriodStart(day time.Time, index int, loc *time.Location, length time.Duration) (time.Time, error) {
	count, err := PeriodsInDay(day, loc, length)
	if err != nil {
		return time.Time{}, err
	}
	if index < 1 || index > count {
		return time.Time{}, ErrInvalidSettlementPeriod
	}
	return LocalMidnight(day, loc).Add(time.Duration(index-1) * length), nil
}

// Normalize maps a naive local wall time to its canonical UTC hour and reports
// whether the civil day is a DST transition day.
func Normalize(naive time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	instant := Localize(naive, loc)
	return FloorHour(instant), IsTransitionDay(naive, loc)
}

// NormalizeInstant maps an offset-aware instant to its canonical UTC hour and
// reports whether its civil day in loc is a DST transition day.
func NormalizeInstant(instant time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	local := instant.In(loc)
	return FloorHour(instant), IsTransitionDay(local, loc)
}

// NormalizeSettlement maps a settlement date and index to the canonical UTC hour
// containing the period start.
func NormalizeSettlement(day time.Time, index int, loc *time.Location) (time.Time, bool, error) {
	start, err := SettlementPeriodStart(day, index, loc, SettlementLength)
	if err != nil {
		return time.Time{}, false, err
	}
	return FloorHour(start), IsTransitionDay(day, loc), nil
}

// FloorHour truncates t to the start of its UTC hour.
func FloorHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// FloorMonth returns the first instant of the UTC month containing t.
func FloorMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// HoursInMonth returns the number of hours in the civil month containing t in loc.
func HoursInMonth(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := Localize(time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC), loc)
	end := Localize(time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, time.UTC), loc)
	return int(end.Sub(start) / time.Hour)
}

// Days returns the UTC start of every civil day in loc that overlaps [from, to).
func Days(from, to time.Time, loc *time.Location) ([]time.Time, error) {
	if loc == nil {
		return nil, ErrNilLocation
	}
	if !to.After(from) {
		return nil, ErrInvalidRange
	}
	local := from.In(loc)
	cursor := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	var days []time.Time
	for {
		start := LocalMidnight(cursor, loc)
		if !start.Before(to) {
			break
		}
		days = append(days, start)
		cursor = cursor.AddDate(0, 0, 1)
	}
	return days, nil
}

// Months returns the UTC start of every civil month in loc that overlaps [from, to).
func Months(from, to time.Time, loc *time.Location) ([]time.Time, error) {
	if loc == nil {
		return nil, ErrNilLocation
	}
	if !to.After(from) {
		return nil, ErrInvalidRange
	}
	local := from.In(loc)
	cursor := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
	var months []time.Time
	for {
		start := Localize(cursor, loc)
		if !start.Before(to) {
			break
		}
		months = append(months, start)
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months, nil
}

func offsetAt(t time.Time, loc *time.Location) int {
	_, off := t.In(loc).Zone()
	return off
}
