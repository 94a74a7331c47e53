package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"windgen-cloud/internal/analytics/domain/aggregation"
	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/curtailment"
	"windgen-cloud/internal/analytics/domain/period"
	"windgen-cloud/internal/batch"
	masterapp "windgen-cloud/internal/masterdata/application"
	masterdata "windgen-cloud/internal/masterdata/domain"
	"windgen-cloud/internal/observability/metrics"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

// Mode selects how much of a scope is rebuilt.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeGapsOnly Mode = "gaps_only"
)

// IsValid reports whether the mode is supported.
func (m Mode) IsValid() bool {
	switch m {
	case ModeFull, ModeGapsOnly:
		return true
	default:
		return false
	}
}

// Sub-period statuses.
const (
	StatusRebuilt  = "rebuilt"
	StatusPartial  = "partial"
	StatusComplete = "complete"
	StatusDryRun   = "dry_run"
	StatusFailed   = "failed"
)

const defaultWorkers = 4

// Storage is the persistence surface a reconcile run needs.
type Storage interface {
	UpsertRaw(ctx context.Context, records []telemetry.RawRecord) (int, error)
	QueryRaw(ctx context.Context, query telemetry.RawQuery) ([]telemetry.RawRecord, error)
	DeleteCanonical(ctx context.Context, scope canonical.Scope) (int64, error)
	UpsertCanonical(ctx context.Context, records []canonical.Record) (int, error)
	QueryCanonical(ctx context.Context, scope canonical.Scope) ([]canonical.Record, error)
}

type storage struct {
	telemetry.RawRepository
	canonical.Repository
}

// NewStorage joins a raw and a canonical repository into one Storage. The
// result also serves overrides and monthly rollups.
func NewStorage(raw telemetry.RawRepository, canon canonical.Repository) Storage {
	return storage{RawRepository: raw, Repository: canon}
}

// Scope is the range and optional identifier filter of a run.
type Scope struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Identifiers []string  `json:"identifiers,omitempty"`
}

// Request triggers reconciliation of one source over a scope.
type Request struct {
	Source telemetry.Source `json:"source"`
	Scope  Scope            `json:"scope"`
	Mode   Mode             `json:"mode"`
	DryRun bool             `json:"dry_run"`
}

// SubPeriodResult is the outcome of one civil day or month.
type SubPeriodResult struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Status           string    `json:"status"`
	RawProcessed     int       `json:"raw_processed"`
	CanonicalWritten int       `json:"canonical_written"`
	CanonicalDeleted int64     `json:"canonical_deleted"`
	GapsFound        int       `json:"gaps_found"`
	MappingErrors    int       `json:"mapping_errors"`
	Skipped          int       `json:"skipped"`
	Errored          int       `json:"errored"`
	Error            string    `json:"error,omitempty"`
}

// Result summarises a reconcile run. Partial failures are counted, never raised.
type Result struct {
	RunID             string            `json:"run_id"`
	Source            telemetry.Source  `json:"source"`
	Mode              Mode              `json:"mode"`
	DryRun            bool              `json:"dry_run"`
	From              time.Time         `json:"from"`
	To                time.Time         `json:"to"`
	RawProcessed      int               `json:"raw_processed"`
	CanonicalWritten  int               `json:"canonical_written"`
	CanonicalDeleted  int64             `json:"canonical_deleted"`
	MonthlyWritten    int               `json:"monthly_written"`
	GapsFound         int               `json:"gaps_found"`
	Skipped           int               `json:"skipped"`
	Errored           int               `json:"errored"`
	MappingErrors     int               `json:"mapping_errors"`
	SkippedSubPeriods int               `json:"skipped_sub_periods"`
	FailedSubPeriods  int               `json:"failed_sub_periods"`
	SubPeriods        []SubPeriodResult `json:"sub_periods"`
	Error             string            `json:"error,omitempty"`
}

// ScopeError is the only hard failure of a run. It is raised before any
// canonical record of the scope is touched.
type ScopeError struct {
	Source string
	Reason string
	Err    error
}

func (e *ScopeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reconcile scope %s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("reconcile scope %s: %s: %v", e.Source, e.Reason, e.Err)
}

func (e *ScopeError) Unwrap() error { return e.Err }

// IsScopeError reports whether err is a ScopeError.
func IsScopeError(err error) bool {
	var target *ScopeError
	return errors.As(err, &target)
}

var (
	// ErrInvalidMode is returned for an unknown mode.
	ErrInvalidMode = errors.New("reconcile: invalid mode")
	// ErrInvalidRange is returned when the scope range is empty.
	ErrInvalidRange = errors.New("reconcile: invalid range")
	// ErrNoUnits is returned when no generation unit is mapped for the scope.
	ErrNoUnits = errors.New("reconcile: no generation units mapped")
	// ErrOverrideIncomplete is returned when an override lacks a reason or author.
	ErrOverrideIncomplete = errors.New("reconcile: override reason and author required")
)

// SourceSettings overrides per-source conventions.
type SourceSettings struct {
	Timezone         string `yaml:"timezone" json:"timezone,omitempty"`
	SnapshotsPerHour int    `yaml:"snapshots_per_hour" json:"snapshots_per_hour,omitempty"`
}

// Service rebuilds canonical generation from raw records.
type Service struct {
	storage           Storage
	directory         masterdata.UnitDirectory
	batchSize         int
	workers           int
	maxCapacityFactor float64
	windowExtension   time.Duration
	rollupMonths      bool
	sources           map[telemetry.Source]SourceSettings
	logger            *log.Logger
	now               func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithBatchSize overrides the canonical upsert batch size.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithWorkers bounds ReconcileMany concurrency.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxCapacityFactor overrides the capacity factor clamp.
func WithMaxCapacityFactor(limit float64) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxCapacityFactor = limit
		}
	}
}

// WithWindowExtension overrides how far curtailment sub-periods reach back.
func WithWindowExtension(ext time.Duration) Option {
	return func(s *Service) {
		if ext >= 0 {
			s.windowExtension = ext
		}
	}
}

// WithMonthlyRollup rolls hourly records into monthly ones after each run.
func WithMonthlyRollup(enabled bool) Option {
	return func(s *Service) { s.rollupMonths = enabled }
}

// WithSourceSettings overrides timezone or snapshot density per source.
func WithSourceSettings(settings map[telemetry.Source]SourceSettings) Option {
	return func(s *Service) { s.sources = settings }
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a reconcile service.
func NewService(store Storage, directory masterdata.UnitDirectory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("reconcile service: nil storage")
	}
	if directory == nil {
		return nil, errors.New("reconcile service: nil unit directory")
	}
	s := &Service{
		storage:           store,
		directory:         directory,
		batchSize:         batch.DefaultSize,
		workers:           defaultWorkers,
		maxCapacityFactor: canonical.MaxCapacityFactor,
		windowExtension:   curtailment.WindowExtension,
		logger:            log.Default(),
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type window struct {
	start time.Time
	end   time.Time
	fetch time.Time
}

type plan struct {
	source      telemetry.Source
	profile     telemetry.SourceProfile
	loc         *time.Location
	catalog     *masterapp.Catalog
	identifiers []string
	unitIDs     []string
	windows     []window
}

// Reconcile rebuilds the canonical series of one source over a scope, one civil
// day (or month for monthly sources) at a time. Each sub-period is cleared and
// rebuilt from raw records, so repeated runs converge on the same state.
func (s *Service) Reconcile(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	if req.Mode == "" {
		req.Mode = ModeFull
	}
	result := Result{
		RunID:      uuid.NewString(),
		Source:     req.Source,
		Mode:       req.Mode,
		DryRun:     req.DryRun,
		From:       req.Scope.From.UTC(),
		To:         req.Scope.To.UTC(),
		SubPeriods: []SubPeriodResult{},
	}

	p, err := s.plan(ctx, req)
	if err != nil {
		result.Error = err.Error()
		metrics.ObserveReconcile(string(req.Mode), metrics.ResultError, time.Since(started))
		s.logf("reconcile.scope_failed", result, err.Error())
		return result, err
	}
	s.logf("reconcile.start", result, "")

	for _, w := range p.windows {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			metrics.ObserveReconcile(string(req.Mode), metrics.ResultError, time.Since(started))
			s.logf("reconcile.cancelled", result, err.Error())
			return result, err
		}
		sub := s.processWindow(ctx, p, w, req)
		result.addSubPeriod(sub)
		metrics.IncReconcileSubPeriod(string(p.source), sub.Status)
	}

	if s.rollupMonths && !req.DryRun && result.CanonicalWritten > 0 {
		s.rollup(ctx, p, &result)
	}

	outcome := metrics.ResultSuccess
	if result.FailedSubPeriods > 0 || result.Errored > 0 {
		outcome = metrics.ResultError
	}
	source := string(p.source)
	metrics.AddReconcileRecords(source, "raw_processed", result.RawProcessed)
	metrics.AddReconcileRecords(source, "canonical_written", result.CanonicalWritten)
	metrics.AddReconcileRecords(source, "mapping_error", result.MappingErrors)
	metrics.AddReconcileRecords(source, "errored", result.Errored)
	metrics.ObserveReconcile(string(req.Mode), outcome, time.Since(started))
	s.logf("reconcile.done", result, "")
	return result, nil
}

// ReconcileMany runs independent requests on a bounded pool. Requests for the
// same source run one after another so no two workers rebuild the same day.
func (s *Service) ReconcileMany(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))

	bySource := make(map[telemetry.Source][]int)
	var order []telemetry.Source
	for i, req := range reqs {
		if _, ok := bySource[req.Source]; !ok {
			order = append(order, req.Source)
		}
		bySource[req.Source] = append(bySource[req.Source], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, source := range order {
		indexes := bySource[source]
		g.Go(func() error {
			for _, i := range indexes {
				results[i], errs[i] = s.Reconcile(gctx, reqs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func (s *Service) plan(ctx context.Context, req Request) (plan, error) {
	source := telemetry.Source(strings.ToUpper(string(req.Source)))
	fail := func(reason string, err error) (plan, error) {
		return plan{}, &ScopeError{Source: string(source), Reason: reason, Err: err}
	}
	profile, err := telemetry.ProfileFor(source)
	if err != nil {
		return fail("unknown source", err)
	}
	if !req.Mode.IsValid() {
		return fail("unsupported mode", fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode))
	}
	from, to := req.Scope.From.UTC(), req.Scope.To.UTC()
	if from.IsZero() || !to.After(from) {
		return fail("empty range", ErrInvalidRange)
	}
	loc, err := s.location(profile)
	if err != nil {
		return fail("timezone", err)
	}
	catalog, err := masterapp.LoadCatalog(ctx, s.directory, string(source))
	if err != nil {
		return fail("unit directory unavailable", err)
	}
	if catalog.Empty() {
		return fail("unit metadata absent", ErrNoUnits)
	}
	p := plan{
		source:      source,
		profile:     profile,
		loc:         loc,
		catalog:     catalog,
		identifiers: req.Scope.Identifiers,
	}
	if len(req.Scope.Identifiers) > 0 {
		p.unitIDs = catalog.PhaseIDs(req.Scope.Identifiers)
		if len(p.unitIDs) == 0 {
			return fail("identifiers resolve to no generation unit", ErrNoUnits)
		}
	}
	p.windows, err = s.windows(profile, from, to, loc)
	if err != nil {
		return fail("sub-periods", err)
	}
	if len(p.unitIDs) == 0 && len(catalog.PhaseIDs(nil)) == 0 {
		// No mapping of this source resolves; unit codes may still match raw
		// identifiers directly.
		ok, err := s.rawResolves(ctx, p)
		if err != nil {
			return fail("raw store unavailable", err)
		}
		if !ok {
			return fail("unit metadata absent for source", ErrNoUnits)
		}
	}
	return p, nil
}

// rawResolves reports whether any raw identifier in the planned windows
// resolves to a unit of the catalog.
func (s *Service) rawResolves(ctx context.Context, p plan) (bool, error) {
	if len(p.windows) == 0 {
		return false, nil
	}
	raws, err := s.storage.QueryRaw(ctx, telemetry.RawQuery{
		Source:      p.source,
		Identifiers: p.identifiers,
		From:        p.windows[0].fetch,
		To:          p.windows[len(p.windows)-1].end,
	})
	if err != nil {
		return false, err
	}
	seen := make(map[string]struct{})
	var identifiers []string
	for _, raw := range raws {
		if _, dup := seen[raw.Identifier]; dup {
			continue
		}
		seen[raw.Identifier] = struct{}{}
		identifiers = append(identifiers, raw.Identifier)
	}
	return len(identifiers) > 0 && len(p.catalog.PhaseIDs(identifiers)) > 0, nil
}

func (s *Service) location(profile telemetry.SourceProfile) (*time.Location, error) {
	if settings, ok := s.sources[profile.Source]; ok && settings.Timezone != "" {
		return time.LoadLocation(settings.Timezone)
	}
	return profile.Location()
}

func (s *Service) snapshotsPerHour(profile telemetry.SourceProfile) int {
	if settings, ok := s.sources[profile.Source]; ok && settings.SnapshotsPerHour > 0 {
		return settings.SnapshotsPerHour
	}
	return profile.SnapshotsPerHour
}

// windows splits [from, to) into whole civil days, or months for monthly
// sources. Curtailment sources fetch and clear one extension earlier.
func (s *Service) windows(profile telemetry.SourceProfile, from, to time.Time, loc *time.Location) ([]window, error) {
	var (
		starts []time.Time
		err    error
		next   func(time.Time) time.Time
	)
	if profile.Monthly {
		starts, err = period.Months(from, to, loc)
		next = func(start time.Time) time.Time {
			local := start.In(loc)
			return period.Localize(time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, time.UTC), loc)
		}
	} else {
		starts, err = period.Days(from, to, loc)
		next = func(start time.Time) time.Time {
			local := start.In(loc)
			return period.LocalMidnight(time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, time.UTC), loc)
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]window, 0, len(starts))
	for _, start := range starts {
		w := window{start: start, end: next(start), fetch: start}
		if profile.Curtailment {
			w.fetch, _ = curtailment.Window(start, w.end, s.windowExtension)
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Service) processWindow(ctx context.Context, p plan, w window, req Request) SubPeriodResult {
	sub := SubPeriodResult{Start: w.start, End: w.end}
	failed := func(stage string, err error) SubPeriodResult {
		sub.Status = StatusFailed
		sub.Error = fmt.Sprintf("%s: %v", stage, err)
		s.logger.Printf("reconcile: %s %s failed: %v", p.source, w.start.Format(time.RFC3339), err)
		return sub
	}

	if req.Mode == ModeGapsOnly {
		report, err := s.canonicalCoverage(ctx, p, w.start, w.end)
		if err != nil {
			return failed("gap detection", err)
		}
		if !report.HasGaps() {
			sub.Status = StatusComplete
			return sub
		}
		sub.GapsFound = report.Missing
	}

	raws, err := s.storage.QueryRaw(ctx, telemetry.RawQuery{
		Source:      p.source,
		Identifiers: p.identifiers,
		From:        w.fetch,
		To:          w.end,
	})
	if err != nil {
		return failed("query raw", err)
	}
	sub.RawProcessed = len(raws)

	outcome, err := s.derive(p, raws)
	if err != nil {
		return failed("derive", err)
	}
	sub.MappingErrors = len(outcome.MappingErrors)
	sub.Skipped = outcome.Skipped
	for _, mapErr := range outcome.MappingErrors {
		s.logger.Printf("reconcile: mapping error: %v", mapErr)
	}
	records := inWindow(outcome.Records, w.fetch, w.end)
	if len(records) == 0 && sub.MappingErrors > 0 {
		return failed("resolve units", fmt.Errorf("%w: no raw record resolved (%d mapping errors)", ErrNoUnits, sub.MappingErrors))
	}

	if req.DryRun {
		sub.Status = StatusDryRun
		sub.CanonicalWritten = len(records)
		return sub
	}

	deleted, err := s.storage.DeleteCanonical(ctx, canonical.Scope{
		Granularity: canonical.GranularityHour,
		Source:      string(p.source),
		From:        w.fetch,
		To:          w.end,
		UnitIDs:     p.unitIDs,
	})
	if err != nil {
		return failed("clear canonical", err)
	}
	sub.CanonicalDeleted = deleted

	writer := batch.NewWriter[canonical.Record]("canonical",
		batch.WithSize[canonical.Record](s.batchSize),
		batch.WithLogger[canonical.Record](s.logger),
	)
	written, err := writer.Write(ctx, records, s.storage.UpsertCanonical)
	sub.CanonicalWritten = written.Written
	sub.Errored = written.Failed
	for range written.Errors {
		metrics.IncBatchFailure("canonical")
	}
	if err != nil {
		return failed("write canonical", err)
	}
	sub.Status = StatusRebuilt
	if written.Failed > 0 {
		sub.Status = StatusPartial
		sub.Error = fmt.Sprintf("%d canonical records not written", written.Failed)
	}
	return sub
}

// derive routes generation records to the aggregator and metered or curtailment
// records to the curtailment merger. A merged hour replaces an aggregated one.
func (s *Service) derive(p plan, raws []telemetry.RawRecord) (aggregation.Outcome, error) {
	var generation, settlement []telemetry.RawRecord
	skipped := 0
	for _, raw := range raws {
		switch raw.Stream {
		case telemetry.StreamGeneration:
			generation = append(generation, raw)
		case telemetry.StreamMetered, telemetry.StreamCurtailment:
			if p.profile.Curtailment {
				settlement = append(settlement, raw)
				continue
			}
			skipped++
		default:
			skipped++
		}
	}

	agg, err := aggregation.NewAggregator(p.catalog,
		aggregation.WithMaxCapacityFactor(s.maxCapacityFactor),
		aggregation.WithSnapshotsPerHour(s.snapshotsPerHour(p.profile)),
		aggregation.WithLocation(p.loc),
	)
	if err != nil {
		return aggregation.Outcome{}, err
	}
	out := agg.Aggregate(string(p.source), generation)
	out.Skipped += skipped
	if len(settlement) == 0 {
		return out, nil
	}

	merger, err := curtailment.NewMerger(p.catalog, s.maxCapacityFactor)
	if err != nil {
		return aggregation.Outcome{}, err
	}
	merged := merger.Merge(string(p.source), settlement)
	out.MappingErrors = append(out.MappingErrors, merged.MappingErrors...)
	out.Skipped += merged.Skipped

	byKey := make(map[canonical.Key]canonical.Record, len(out.Records)+len(merged.Records))
	for _, rec := range out.Records {
		byKey[rec.Key()] = rec
	}
	for _, rec := range merged.Records {
		byKey[rec.Key()] = rec
	}
	out.Records = out.Records[:0]
	for _, rec := range byKey {
		out.Records = append(out.Records, rec)
	}
	canonical.SortRecords(out.Records)
	return out, nil
}

func inWindow(records []canonical.Record, from, to time.Time) []canonical.Record {
	out := records[:0]
	for _, rec := range records {
		if rec.PeriodStart.Before(from) || !rec.PeriodStart.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *Service) rollup(ctx context.Context, p plan, result *Result) {
	canon, ok := s.storage.(canonical.Repository)
	if !ok {
		s.logger.Printf("reconcile: monthly rollup skipped: storage has no canonical repository")
		return
	}
	svc, err := canonical.NewMonthlyRollupService(canon, s.maxCapacityFactor)
	if err != nil {
		s.logger.Printf("reconcile: monthly rollup: %v", err)
		return
	}
	first := p.windows[0].fetch
	last := p.windows[len(p.windows)-1].end
	for month := period.FloorMonth(first); month.Before(last); month = month.AddDate(0, 1, 0) {
		written, err := s.rollupMonth(ctx, svc, p, month)
		if err != nil {
			result.Errored++
			s.logger.Printf("reconcile: monthly rollup %s %s failed: %v", p.source, month.Format("2006-01"), err)
			continue
		}
		result.MonthlyWritten += written
	}
}

func (s *Service) rollupMonth(ctx context.Context, svc *canonical.MonthlyRollupService, p plan, month time.Time) (int, error) {
	records, err := svc.RollupMonth(ctx, string(p.source), month, p.unitIDs)
	if err != nil {
		return 0, err
	}
	if _, err := s.storage.DeleteCanonical(ctx, canonical.Scope{
		Granularity: canonical.GranularityMonth,
		Source:      string(p.source),
		From:        month,
		To:          month.AddDate(0, 1, 0),
		UnitIDs:     p.unitIDs,
	}); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return s.storage.UpsertCanonical(ctx, records)
}

// Rollup derives monthly canonical records for the UTC month containing month.
func (s *Service) Rollup(ctx context.Context, source telemetry.Source, month time.Time, identifiers []string) (int, error) {
	canon, ok := s.storage.(canonical.Repository)
	if !ok {
		return 0, errors.New("reconcile service: storage cannot roll up")
	}
	p, err := s.plan(ctx, Request{
		Source: source,
		Mode:   ModeFull,
		Scope:  Scope{From: period.FloorMonth(month), To: period.FloorMonth(month).AddDate(0, 1, 0), Identifiers: identifiers},
	})
	if err != nil {
		return 0, err
	}
	svc, err := canonical.NewMonthlyRollupService(canon, s.maxCapacityFactor)
	if err != nil {
		return 0, err
	}
	written, err := s.rollupMonth(ctx, svc, p, period.FloorMonth(month))
	if err != nil {
		return 0, err
	}
	s.logger.Printf("event=reconcile.rollup source=%s month=%s written=%d", p.source, period.FloorMonth(month).Format("2006-01"), written)
	return written, nil
}

// Override sets a manual value on a canonical record. Later rebuilds keep it.
func (s *Service) Override(ctx context.Context, key canonical.Key, value float64, reason, by string) error {
	canon, ok := s.storage.(canonical.Repository)
	if !ok {
		return errors.New("reconcile service: storage cannot apply overrides")
	}
	if reason == "" || by == "" {
		return ErrOverrideIncomplete
	}
	if err := canon.ApplyOverride(ctx, key, value, reason, by, s.now()); err != nil {
		return err
	}
	s.logger.Printf("event=reconcile.override source=%s unit=%s period_start=%s granularity=%s value=%g by=%s",
		key.Source, key.GenerationUnitID, key.PeriodStart.UTC().Format(time.RFC3339), key.Granularity, value, by)
	return nil
}

// Canonical returns stored canonical records of one source.
func (s *Service) Canonical(ctx context.Context, scope canonical.Scope) ([]canonical.Record, error) {
	scope.Source = strings.ToUpper(scope.Source)
	if !telemetry.Source(scope.Source).IsValid() {
		return nil, &ScopeError{Source: scope.Source, Reason: "unknown source", Err: telemetry.ErrUnknownSource}
	}
	if scope.Granularity == "" {
		scope.Granularity = canonical.GranularityHour
	}
	if !scope.Granularity.IsValid() {
		return nil, canonical.ErrInvalidGranularity
	}
	if !scope.To.After(scope.From) {
		return nil, ErrInvalidRange
	}
	records, err := s.storage.QueryCanonical(ctx, scope)
	if err != nil {
		return nil, err
	}
	canonical.SortRecords(records)
	return records, nil
}

func (r *Result) addSubPeriod(sub SubPeriodResult) {
	r.SubPeriods = append(r.SubPeriods, sub)
	r.RawProcessed += sub.RawProcessed
	r.CanonicalWritten += sub.CanonicalWritten
	r.CanonicalDeleted += sub.CanonicalDeleted
	r.GapsFound += sub.GapsFound
	r.MappingErrors += sub.MappingErrors
	switch sub.Status {
	case StatusComplete:
		r.SkippedSubPeriods++
	case StatusFailed:
		r.FailedSubPeriods++
	}
	r.Skipped += sub.Skipped
	r.Errored += sub.Errored
}

func (s *Service) logf(event string, r Result, errMsg string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("event=%s run_id=%s source=%s mode=%s dry_run=%t raw_processed=%d canonical_written=%d gaps_found=%d mapping_errors=%d failed_sub_periods=%d correlation_id=%s error=%s",
		event, r.RunID, r.Source, r.Mode, r.DryRun, r.RawProcessed, r.CanonicalWritten, r.GapsFound, r.MappingErrors, r.FailedSubPeriods, r.RunID, errMsg)
}
