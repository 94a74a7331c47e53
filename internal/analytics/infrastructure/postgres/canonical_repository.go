package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
)

const (
	defaultHourlyTable  = "canonical_generation_hourly"
	defaultMonthlyTable = "canonical_generation_monthly"
)

const canonicalColumns = `period_start, generation_unit_id, parent_asset_id, source, source_resolution,
	generation_mwh, metered_mwh, curtailed_mwh, capacity_mw, capacity_factor,
	quality_flag, quality_score, completeness, provenance,
	is_override, override_original_value, override_reason, override_by, override_at`

// CanonicalRepository is a Postgres implementation of the canonical store.
// Hourly and monthly records live in separate tables.
type CanonicalRepository struct {
	db           *sql.DB
	hourlyTable  string
	monthlyTable string
	maxFactor    float64
}

// RepositoryOption configures the repository.
type RepositoryOption func(*CanonicalRepository)

// WithTables overrides the hourly and monthly table names.
func WithTables(hourly, monthly string) RepositoryOption {
	return func(repo *CanonicalRepository) {
		if hourly != "" {
			repo.hourlyTable = hourly
		}
		if monthly != "" {
			repo.monthlyTable = monthly
		}
	}
}

// WithMaxCapacityFactor sets the clamp used when an override recomputes the
// capacity factor.
func WithMaxCapacityFactor(limit float64) RepositoryOption {
	return func(repo *CanonicalRepository) { repo.maxFactor = canonical.FactorLimit(limit) }
}

// NewCanonicalRepository creates a repository using the default table names.
func NewCanonicalRepository(db *sql.DB, opts ...RepositoryOption) *CanonicalRepository {
	repo := &CanonicalRepository{
		db:           db,
		hourlyTable:  defaultHourlyTable,
		monthlyTable: defaultMonthlyTable,
		maxFactor:    canonical.MaxCapacityFactor,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

func (r *CanonicalRepository) table(g canonical.Granularity) (string, error) {
	switch g {
	case canonical.GranularityHour:
		return r.hourlyTable, nil
	case canonical.GranularityMonth:
		return r.monthlyTable, nil
	default:
		return "", canonical.ErrInvalidGranularity
	}
}

// UpsertCanonical writes records keyed by (period_start, generation_unit_id, source).
// A stored override keeps its value; the incoming value lands in
// override_original_value and the capacity factor is recomputed from the override.
func (r *CanonicalRepository) UpsertCanonical(ctx context.Context, records []canonical.Record) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("canonical repo: nil db")
	}
	if len(records) == 0 {
		return 0, nil
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		table, err := r.table(rec.Granularity)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		provenance, err := json.Marshal(canonical.SortProvenance(rec.Provenance))
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		query := fmt.Sprintf(`
INSERT INTO %s AS t (
	period_start,
	generation_unit_id,
	parent_asset_id,
	source,
	source_resolution,
	generation_mwh,
	metered_mwh,
	curtailed_mwh,
	capacity_mw,
	capacity_factor,
	quality_flag,
	quality_score,
	completeness,
	provenance,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW()
)
ON CONFLICT (period_start, generation_unit_id, source)
DO UPDATE SET
	parent_asset_id = EXCLUDED.parent_asset_id,
	source_resolution = EXCLUDED.source_resolution,
	generation_mwh = CASE WHEN t.is_override THEN t.generation_mwh ELSE EXCLUDED.generation_mwh END,
	override_original_value = CASE WHEN t.is_override THEN EXCLUDED.generation_mwh ELSE t.override_original_value END,
	metered_mwh = EXCLUDED.metered_mwh,
	curtailed_mwh = EXCLUDED.curtailed_mwh,
	capacity_mw = EXCLUDED.capacity_mw,
	capacity_factor = CASE
		WHEN t.is_override AND EXCLUDED.capacity_mw > 0
			THEN ROUND(LEAST(GREATEST(t.generation_mwh / (EXCLUDED.capacity_mw * $15), 0), %s)::numeric, 4)
		ELSE EXCLUDED.capacity_factor
	END,
	quality_flag = EXCLUDED.quality_flag,
	quality_score = EXCLUDED.quality_score,
	completeness = EXCLUDED.completeness,
	provenance = EXCLUDED.provenance,
	updated_at = NOW()`, table, r.maxFactorLiteral())

		_, err = tx.ExecContext(
			ctx,
			query,
			rec.PeriodStart.UTC(),
			rec.GenerationUnitID,
			nullString(rec.ParentAssetID),
			rec.Source,
			rec.SourceResolution,
			rec.GenerationMWh,
			nullFloat(rec.MeteredMWh),
			nullFloat(rec.CurtailedMWh),
			nullFloat(rec.CapacityMW),
			nullFloat(rec.CapacityFactor),
			string(rec.QualityFlag),
			rec.QualityScore,
			rec.Completeness,
			provenance,
			rec.HoursInPeriod(),
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// DeleteCanonical removes non-overridden records in scope. UnitIDs are matched
// against generation_unit_id only.
func (r *CanonicalRepository) DeleteCanonical(ctx context.Context, scope canonical.Scope) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("canonical repo: nil db")
	}
	table, err := r.table(scope.Granularity)
	if err != nil {
		return 0, err
	}
	if scope.Source == "" || scope.From.IsZero() || scope.To.IsZero() {
		return 0, canonical.ErrInvalidScope
	}
	where, args := canonicalWhere(scope)
	query := fmt.Sprintf(`DELETE FROM %s%s
	AND is_override = FALSE`, table, where)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueryCanonical lists records in scope ordered by period, unit and source.
func (r *CanonicalRepository) QueryCanonical(ctx context.Context, scope canonical.Scope) ([]canonical.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("canonical repo: nil db")
	}
	table, err := r.table(scope.Granularity)
	if err != nil {
		return nil, err
	}
	where, args := canonicalWhere(scope)
	query := fmt.Sprintf(`
SELECT %s
FROM %s%s
ORDER BY period_start ASC, generation_unit_id ASC, source ASC`, canonicalColumns, table, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]canonical.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.Granularity = scope.Granularity
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyOverride sets a manual value on an existing record.
func (r *CanonicalRepository) ApplyOverride(ctx context.Context, key canonical.Key, value float64, reason, by string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("canonical repo: nil db")
	}
	table, err := r.table(key.Granularity)
	if err != nil {
		return err
	}
	hours := canonical.Record{Granularity: key.Granularity, PeriodStart: key.PeriodStart}.HoursInPeriod()
	query := fmt.Sprintf(`
UPDATE %s SET
	override_original_value = CASE WHEN is_override THEN override_original_value ELSE generation_mwh END,
	is_override = TRUE,
	generation_mwh = $4,
	override_reason = $5,
	override_by = $6,
	override_at = $7,
	capacity_factor = CASE
		WHEN capacity_mw > 0 THEN ROUND(LEAST(GREATEST($4 / (capacity_mw * $8), 0), %s)::numeric, 4)
		ELSE NULL
	END,
	updated_at = NOW()
WHERE period_start = $1
	AND generation_unit_id = $2
	AND source = $3`, table, r.maxFactorLiteral())

	res, err := r.db.ExecContext(ctx, query, key.PeriodStart.UTC(), key.GenerationUnitID, key.Source, value, reason, by, at.UTC(), hours)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return canonical.ErrNotFound
	}
	return nil
}

func (r *CanonicalRepository) maxFactorLiteral() string {
	return fmt.Sprintf("%.4f", canonical.FactorLimit(r.maxFactor))
}

func canonicalWhere(scope canonical.Scope) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if scope.Source != "" {
		add("source = $%d", scope.Source)
	}
	if !scope.From.IsZero() {
		add("period_start >= $%d", scope.From.UTC())
	}
	if !scope.To.IsZero() {
		add("period_start < $%d", scope.To.UTC())
	}
	if len(scope.UnitIDs) > 0 {
		placeholders := make([]string, 0, len(scope.UnitIDs))
		for _, id := range scope.UnitIDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, fmt.Sprintf("generation_unit_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(clauses) == 0 {
		return "\nWHERE TRUE", nil
	}
	return "\nWHERE " + strings.Join(clauses, "\n\tAND "), args
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (canonical.Record, error) {
	var (
		rec            canonical.Record
		parentAssetID  sql.NullString
		metered        sql.NullFloat64
		curtailed      sql.NullFloat64
		capacity       sql.NullFloat64
		capacityFactor sql.NullFloat64
		flag           string
		provenance     []byte
		original       sql.NullFloat64
		reason         sql.NullString
		by             sql.NullString
		at             sql.NullTime
	)
	if err := scanner.Scan(
		&rec.PeriodStart,
		&rec.GenerationUnitID,
		&parentAssetID,
		&rec.Source,
		&rec.SourceResolution,
		&rec.GenerationMWh,
		&metered,
		&curtailed,
		&capacity,
		&capacityFactor,
		&flag,
		&rec.QualityScore,
		&rec.Completeness,
		&provenance,
		&rec.IsOverride,
		&original,
		&reason,
		&by,
		&at,
	); err != nil {
		return canonical.Record{}, err
	}
	rec.PeriodStart = rec.PeriodStart.UTC()
	rec.ParentAssetID = parentAssetID.String
	rec.MeteredMWh = floatPtr(metered)
	rec.CurtailedMWh = floatPtr(curtailed)
	rec.CapacityMW = floatPtr(capacity)
	rec.CapacityFactor = floatPtr(capacityFactor)
	rec.QualityFlag = canonical.QualityFlag(flag)
	rec.Provenance = []int64{}
	if len(provenance) > 0 {
		if err := json.Unmarshal(provenance, &rec.Provenance); err != nil {
			return canonical.Record{}, err
		}
	}
	rec.OriginalValue = floatPtr(original)
	rec.OverrideReason = reason.String
	rec.OverrideBy = by.String
	if at.Valid {
		ts := at.Time.UTC()
		rec.OverrideAt = &ts
	}
	return rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
