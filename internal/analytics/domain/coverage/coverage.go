package coverage

import (
	"errors"
	"math"
	"sort"
	"time"

	"windgen-cloud/internal/analytics/domain/period"
)

// Granularity is the expected-period grid a scope is checked against.
type Granularity string

const (
	GranularityQuarterHour Granularity = "15min"
	GranularitySettlement  Granularity = "settlement"
	GranularityHour        Granularity = "hour"
	GranularityMonth       Granularity = "month"
)

// IsValid reports whether granularity is supported.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityQuarterHour, GranularitySettlement, GranularityHour, GranularityMonth:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidGranularity is returned when granularity is unsupported.
	ErrInvalidGranularity = errors.New("coverage: invalid granularity")
	// ErrInvalidRange is returned when the scope range is empty.
	ErrInvalidRange = errors.New("coverage: invalid range")
)

// Scope is the set of identifiers and the range to check.
type Scope struct {
	Identifiers []string
	From        time.Time
	To          time.Time
	Granularity Granularity
	Location    *time.Location
}

// Presence holds, per identifier, the period starts that have data.
type Presence map[string]map[time.Time]struct{}

// Add marks a period as present for an identifier.
func (p Presence) Add(identifier string, periodStart time.Time) {
	set, ok := p[identifier]
	if !ok {
		set = make(map[time.Time]struct{})
		p[identifier] = set
	}
	set[periodStart.UTC()] = struct{}{}
}

// IdentifierCoverage is the coverage of one identifier.
type IdentifierCoverage struct {
	Identifier      string  `json:"identifier"`
	Expected        int     `json:"expected"`
	Missing         int     `json:"missing"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// MissingPeriod lists the identifiers without data for one expected period.
type MissingPeriod struct {
	PeriodStart time.Time `json:"period_start"`
	Identifiers []string  `json:"identifiers"`
}

// Report is the outcome of a gap detection run.
type Report struct {
	Granularity     Granularity          `json:"granularity"`
	From            time.Time            `json:"from"`
	To              time.Time            `json:"to"`
	Expected        int                  `json:"expected"`
	Missing         int                  `json:"missing"`
	CoveragePercent float64              `json:"coverage_percent"`
	PerIdentifier   []IdentifierCoverage `json:"per_identifier"`
	MissingPeriods  []MissingPeriod      `json:"missing_periods"`
}

// HasGaps reports whether any expected period is missing.
func (r Report) HasGaps() bool { return r.Missing > 0 }

// ExpectedPeriods enumerates the period starts expected in [from, to). Settlement
// periods follow the civil day in loc, so transition days yield 46 or 50 entries.
func ExpectedPeriods(g Granularity, from, to time.Time, loc *time.Location) ([]time.Time, error) {
	if !to.After(from) {
		return nil, ErrInvalidRange
	}
	if loc == nil {
		loc = time.UTC
	}
	var out []time.Time
	switch g {
	case GranularityQuarterHour:
		out = grid(from, to, 15*time.Minute)
	case GranularityHour:
		out = grid(from, to, time.Hour)
	case GranularitySettlement:
		days, err := period.Days(from, to, loc)
		if err != nil {
			return nil, err
		}
		for _, dayStart := range days {
			local := dayStart.In(loc)
			count, err := period.PeriodsInDay(local, loc, period.SettlementLength)
			if err != nil {
				return nil, err
			}
			for i := 0; i < count; i++ {
				start := dayStart.Add(time.Duration(i) * period.SettlementLength)
				if start.Before(from) || !start.Before(to) {
					continue
				}
				out = append(out, start)
			}
		}
	case GranularityMonth:
		months, err := period.Months(from, to, loc)
		if err != nil {
			return nil, err
		}
		for _, m := range months {
			if m.Before(from) {
				continue
			}
			out = append(out, m)
		}
	default:
		return nil, ErrInvalidGranularity
	}
	return out, nil
}

// Detect compares the expected grid of scope against present data.
func Detect(scope Scope, present Presence) (Report, error) {
	expected, err := ExpectedPeriods(scope.Granularity, scope.From, scope.To, scope.Location)
	if err != nil {
		return Report{}, err
	}
	identifiers := append([]string(nil), scope.Identifiers...)
	sort.Strings(identifiers)

	report := Report{
		Granularity:    scope.Granularity,
		From:           scope.From.UTC(),
		To:             scope.To.UTC(),
		PerIdentifier:  make([]IdentifierCoverage, 0, len(identifiers)),
		MissingPeriods: []MissingPeriod{},
	}
	missingByPeriod := make(map[time.Time][]string)
	for _, ident := range identifiers {
		cov := IdentifierCoverage{Identifier: ident, Expected: len(expected)}
		have := present[ident]
		for _, start := range expected {
			if _, ok := have[start.UTC()]; ok {
				continue
			}
			cov.Missing++
			missingByPeriod[start] = append(missingByPeriod[start], ident)
		}
		cov.CoveragePercent = percent(cov.Expected, cov.Missing)
		report.Expected += cov.Expected
		report.Missing += cov.Missing
		report.PerIdentifier = append(report.PerIdentifier, cov)
	}
	for _, start := range expected {
		if idents, ok := missingByPeriod[start]; ok {
			report.MissingPeriods = append(report.MissingPeriods, MissingPeriod{PeriodStart: start.UTC(), Identifiers: idents})
		}
	}
	report.CoveragePercent = percent(report.Expected, report.Missing)
	return report, nil
}

func grid(from, to time.Time, step time.Duration) []time.Time {
	var out []time.Time
	start := from.UTC().Truncate(step)
	if start.Before(from) {
		start = start.Add(step)
	}
	for t := start; t.Before(to); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

func percent(expected, missing int) float64 {
	if expected == 0 {
		return 100
	}
	value := float64(expected-missing) / float64(expected) * 100
	return math.Round(value*100) / 100
}
