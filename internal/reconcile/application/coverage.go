package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/coverage"
	"windgen-cloud/internal/analytics/domain/period"
	masterapp "windgen-cloud/internal/masterdata/application"
	"windgen-cloud/internal/observability/metrics"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

// Store names the store a coverage report reads.
type Store string

const (
	StoreRaw       Store = "raw"
	StoreCanonical Store = "canonical"
)

// ErrInvalidStore is returned for an unknown store.
var ErrInvalidStore = errors.New("reconcile: invalid store")

// CoverageRequest asks for the gaps of one source over a range.
type CoverageRequest struct {
	Source      telemetry.Source     `json:"source"`
	From        time.Time            `json:"from"`
	To          time.Time            `json:"to"`
	Identifiers []string             `json:"identifiers,omitempty"`
	Granularity coverage.Granularity `json:"granularity,omitempty"`
	Store       Store                `json:"store"`
}

// Coverage detects missing periods. Against the raw store identifiers are
// source identifiers on the source's native grid; against the canonical store
// they are generation units on the hourly (or monthly) grid.
func (s *Service) Coverage(ctx context.Context, req CoverageRequest) (coverage.Report, error) {
	source := telemetry.Source(strings.ToUpper(string(req.Source)))
	profile, err := telemetry.ProfileFor(source)
	if err != nil {
		return coverage.Report{}, err
	}
	if !req.To.After(req.From) {
		return coverage.Report{}, ErrInvalidRange
	}
	loc, err := s.location(profile)
	if err != nil {
		return coverage.Report{}, err
	}
	catalog, err := masterapp.LoadCatalog(ctx, s.directory, string(source))
	if err != nil {
		return coverage.Report{}, err
	}
	from, to := req.From.UTC(), req.To.UTC()

	var report coverage.Report
	switch req.Store {
	case StoreRaw, "":
		report, err = s.rawCoverage(ctx, source, profile, catalog, loc, req.Granularity, from, to, req.Identifiers)
	case StoreCanonical:
		granularity := req.Granularity
		if granularity == "" {
			granularity = coverage.GranularityHour
		}
		p := plan{source: source, profile: profile, loc: loc, catalog: catalog, identifiers: req.Identifiers}
		report, err = s.canonicalReport(ctx, p, granularity, from, to)
	default:
		return coverage.Report{}, fmt.Errorf("%w: %q", ErrInvalidStore, req.Store)
	}
	if err != nil {
		return coverage.Report{}, err
	}
	metrics.SetCoverage(string(source), string(report.Granularity), report.CoveragePercent)
	s.logger.Printf("event=reconcile.coverage source=%s store=%s granularity=%s expected=%d missing=%d coverage=%.2f",
		source, storeLabel(req.Store), report.Granularity, report.Expected, report.Missing, report.CoveragePercent)
	return report, nil
}

func storeLabel(store Store) Store {
	if store == "" {
		return StoreRaw
	}
	return store
}

// NativeGranularity is the grid a source's raw records are expected on.
func NativeGranularity(profile telemetry.SourceProfile) coverage.Granularity {
	switch {
	case profile.Monthly:
		return coverage.GranularityMonth
	case profile.SettlementPeriods:
		return coverage.GranularitySettlement
	case profile.FinestKind() == telemetry.PeriodFifteenMin:
		return coverage.GranularityQuarterHour
	default:
		return coverage.GranularityHour
	}
}

func (s *Service) rawCoverage(ctx context.Context, source telemetry.Source, profile telemetry.SourceProfile, catalog *masterapp.Catalog, loc *time.Location, granularity coverage.Granularity, from, to time.Time, identifiers []string) (coverage.Report, error) {
	if granularity == "" {
		granularity = NativeGranularity(profile)
	}
	if !granularity.IsValid() {
		return coverage.Report{}, coverage.ErrInvalidGranularity
	}
	streams := []telemetry.Stream{telemetry.StreamGeneration}
	if profile.Curtailment {
		streams = []telemetry.Stream{telemetry.StreamGeneration, telemetry.StreamMetered}
	}
	raws, err := s.storage.QueryRaw(ctx, telemetry.RawQuery{
		Source:      source,
		Streams:     streams,
		Identifiers: identifiers,
		From:        from,
		To:          to,
	})
	if err != nil {
		return coverage.Report{}, err
	}
	presence := make(coverage.Presence)
	seen := make(map[string]struct{})
	for _, raw := range raws {
		presence.Add(raw.Identifier, slotFor(granularity, raw.PeriodStart, loc))
		seen[raw.Identifier] = struct{}{}
	}
	if len(identifiers) == 0 {
		identifiers = catalog.Identifiers()
		for ident := range seen {
			if !contains(identifiers, ident) {
				identifiers = append(identifiers, ident)
			}
		}
	}
	return coverage.Detect(coverage.Scope{
		Identifiers: identifiers,
		From:        from,
		To:          to,
		Granularity: granularity,
		Location:    loc,
	}, presence)
}

// canonicalCoverage reports hourly canonical coverage of the phases active in
// [from, to). It drives gaps_only runs.
func (s *Service) canonicalCoverage(ctx context.Context, p plan, from, to time.Time) (coverage.Report, error) {
	return s.canonicalReport(ctx, p, coverage.GranularityHour, from, to)
}

func (s *Service) canonicalReport(ctx context.Context, p plan, granularity coverage.Granularity, from, to time.Time) (coverage.Report, error) {
	canonGranularity := canonical.GranularityHour
	loc := p.loc
	switch granularity {
	case coverage.GranularityHour:
	case coverage.GranularityMonth:
		canonGranularity = canonical.GranularityMonth
		loc = time.UTC
	default:
		return coverage.Report{}, coverage.ErrInvalidGranularity
	}
	unitIDs := p.catalog.ActivePhaseIDs(p.identifiers, from, to)
	presence := make(coverage.Presence)
	if len(unitIDs) > 0 {
		records, err := s.storage.QueryCanonical(ctx, canonical.Scope{
			Granularity: canonGranularity,
			Source:      string(p.source),
			From:        from,
			To:          to,
			UnitIDs:     unitIDs,
		})
		if err != nil {
			return coverage.Report{}, err
		}
		for _, rec := range records {
			presence.Add(rec.GenerationUnitID, rec.PeriodStart)
		}
	}
	return coverage.Detect(coverage.Scope{
		Identifiers: unitIDs,
		From:        from,
		To:          to,
		Granularity: granularity,
		Location:    loc,
	}, presence)
}

func slotFor(granularity coverage.Granularity, start time.Time, loc *time.Location) time.Time {
	switch granularity {
	case coverage.GranularityQuarterHour:
		return start.UTC().Truncate(15 * time.Minute)
	case coverage.GranularitySettlement:
		return start.UTC().Truncate(period.SettlementLength)
	case coverage.GranularityMonth:
		local := start.In(loc)
		return period.Localize(time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC), loc)
	default:
		return period.FloorHour(start)
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
