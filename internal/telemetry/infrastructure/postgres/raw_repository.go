package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	telemetry "windgen-cloud/internal/telemetry/domain"
)

const defaultRawTable = "raw_generation_records"

const rawColumns = `id, source, source_type, stream, identifier, period_start, period_end, period_kind,
	value, unit_of_measure, direction, line_items, payload, ingested_at`

// RawRepository is a Postgres implementation of the raw record store.
type RawRepository struct {
	db         *sql.DB
	table      string
	precedence telemetry.Precedence
}

// RawOption configures the repository.
type RawOption func(*RawRepository)

// WithRawTable overrides the table name.
func WithRawTable(table string) RawOption {
	return func(repo *RawRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithPrecedence overrides the default source-type precedence.
func WithPrecedence(p telemetry.Precedence) RawOption {
	return func(repo *RawRepository) { repo.precedence = p }
}

// NewRawRepository constructs a repository.
func NewRawRepository(db *sql.DB, opts ...RawOption) *RawRepository {
	repo := &RawRepository{db: db, table: defaultRawTable, precedence: telemetry.DefaultPrecedence()}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// UpsertRaw merges records into the table inside one transaction. Each key is
// locked, merged with the dedup rules and written back; rows that lose on
// precedence are left alone. It returns the number of rows inserted or updated.
func (r *RawRepository) UpsertRaw(ctx context.Context, records []telemetry.RawRecord) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("raw repo: nil db")
	}
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	selectQuery := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE source = $1 AND stream = $2 AND identifier = $3 AND period_start = $4
FOR UPDATE`, rawColumns, r.table)

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	source, source_type, stream, identifier, period_start, period_end, period_kind,
	value, unit_of_measure, direction, line_items, payload, ingested_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()
)
ON CONFLICT (source, stream, identifier, period_start) DO NOTHING`, r.table)

	updateQuery := fmt.Sprintf(`
UPDATE %s SET
	source_type = $2,
	period_end = $3,
	period_kind = $4,
	value = $5,
	unit_of_measure = $6,
	direction = $7,
	line_items = $8,
	payload = $9,
	ingested_at = NOW()
WHERE id = $1`, r.table)

	applied := 0
	for _, rec := range records {
		rec.PeriodStart = rec.PeriodStart.UTC()
		rec.PeriodEnd = rec.PeriodEnd.UTC()
		changed, err := r.upsertOne(ctx, tx, rec, selectQuery, insertQuery, updateQuery)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if changed {
			applied++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

// upsertOne merges one record under a row lock. An insert that affects no row
// lost a race with a concurrent insert of the same key; the row committed by
// that writer is then locked and merged like any stored record.
func (r *RawRepository) upsertOne(ctx context.Context, tx *sql.Tx, rec telemetry.RawRecord, selectQuery, insertQuery, updateQuery string) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var stored *telemetry.RawRecord
		existing, err := scanRaw(tx.QueryRowContext(ctx, selectQuery, rec.Source, rec.Stream, rec.Identifier, rec.PeriodStart))
		switch {
		case err == nil:
			stored = &existing
		case !errors.Is(err, sql.ErrNoRows):
			return false, err
		}

		merged, changed := telemetry.Merge(stored, rec, r.precedence)
		if !changed {
			return false, nil
		}
		lineItems, payload, err := encodeRawJSON(merged)
		if err != nil {
			return false, err
		}

		if stored != nil {
			_, err = tx.ExecContext(ctx, updateQuery,
				stored.ID, merged.SourceType, merged.PeriodEnd, merged.PeriodKind,
				merged.Value, merged.UnitOfMeasure, nullDirection(merged.Direction), lineItems, payload,
			)
			return err == nil, err
		}
		res, err := tx.ExecContext(ctx, insertQuery,
			merged.Source, merged.SourceType, merged.Stream, merged.Identifier,
			merged.PeriodStart, merged.PeriodEnd, merged.PeriodKind,
			merged.Value, merged.UnitOfMeasure, nullDirection(merged.Direction), lineItems, payload,
		)
		if err != nil {
			return false, err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if inserted > 0 {
			return true, nil
		}
	}
	return false, fmt.Errorf("raw repo: key %s/%s/%s/%s neither inserted nor found",
		rec.Source, rec.Stream, rec.Identifier, rec.PeriodStart.Format(time.RFC3339))
}

// QueryRaw returns records matching query ordered by identifier, period and stream.
func (r *RawRepository) QueryRaw(ctx context.Context, query telemetry.RawQuery) ([]telemetry.RawRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("raw repo: nil db")
	}
	where, args := rawWhere(query)
	stmt := fmt.Sprintf(`
SELECT %s
FROM %s%s
ORDER BY identifier ASC, period_start ASC, stream ASC`, rawColumns, r.table, where)

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.RawRecord
	for rows.Next() {
		rec, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteRaw removes records matching query. An unbounded query is rejected.
func (r *RawRepository) DeleteRaw(ctx context.Context, query telemetry.RawQuery) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("raw repo: nil db")
	}
	if query.Source == "" {
		return 0, errors.New("raw repo: delete requires a source")
	}
	where, args := rawWhere(query)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s%s`, r.table, where), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func rawWhere(query telemetry.RawQuery) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if query.Source != "" {
		add("source = $%d", string(query.Source))
	}
	if !query.From.IsZero() {
		add("period_start >= $%d", query.From.UTC())
	}
	if !query.To.IsZero() {
		add("period_start < $%d", query.To.UTC())
	}
	if len(query.Streams) > 0 {
		values := make([]string, 0, len(query.Streams))
		for _, s := range query.Streams {
			values = append(values, string(s))
		}
		clauses = append(clauses, inClause("stream", values, &args))
	}
	if len(query.Identifiers) > 0 {
		clauses = append(clauses, inClause("identifier", query.Identifiers, &args))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(clauses, "\n\tAND "), args
}

func inClause(column string, values []string, args *[]any) string {
	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		*args = append(*args, v)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(*args)))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

func encodeRawJSON(rec telemetry.RawRecord) ([]byte, []byte, error) {
	items := rec.LineItems
	if items == nil {
		items = []telemetry.LineItem{}
	}
	lineItems, err := json.Marshal(items)
	if err != nil {
		return nil, nil, err
	}
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return nil, nil, fmt.Errorf("raw repo: invalid payload for %s %s", rec.Identifier, rec.PeriodStart.Format(time.RFC3339))
	}
	return lineItems, payload, nil
}

func nullDirection(d telemetry.Direction) sql.NullString {
	if d == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(d), Valid: true}
}

func scanRaw(scanner interface{ Scan(dest ...any) error }) (telemetry.RawRecord, error) {
	var (
		rec       telemetry.RawRecord
		direction sql.NullString
		lineItems []byte
		payload   []byte
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Source,
		&rec.SourceType,
		&rec.Stream,
		&rec.Identifier,
		&rec.PeriodStart,
		&rec.PeriodEnd,
		&rec.PeriodKind,
		&rec.Value,
		&rec.UnitOfMeasure,
		&direction,
		&lineItems,
		&payload,
		&rec.IngestedAt,
	); err != nil {
		return telemetry.RawRecord{}, err
	}
	if direction.Valid {
		rec.Direction = telemetry.Direction(direction.String)
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &rec.LineItems); err != nil {
			return telemetry.RawRecord{}, err
		}
		if len(rec.LineItems) == 0 {
			rec.LineItems = nil
		}
	}
	if len(payload) > 0 {
		rec.Payload = json.RawMessage(payload)
	}
	rec.PeriodStart = rec.PeriodStart.UTC()
	rec.PeriodEnd = rec.PeriodEnd.UTC()
	rec.IngestedAt = rec.IngestedAt.UTC()
	return rec, nil
}
