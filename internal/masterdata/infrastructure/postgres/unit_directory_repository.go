package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "windgen-cloud/internal/masterdata/domain"
)

const (
	defaultUnitsTable    = "generation_units"
	defaultPhasesTable   = "generation_unit_phases"
	defaultMappingsTable = "source_unit_mappings"
)

// UnitDirectoryRepository is a Postgres implementation of the unit directory.
type UnitDirectoryRepository struct {
	db            *sql.DB
	unitsTable    string
	phasesTable   string
	mappingsTable string
}

// UnitDirectoryOption configures the repository.
type UnitDirectoryOption func(*UnitDirectoryRepository)

// WithMappingTable overrides the source mapping table name.
func WithMappingTable(table string) UnitDirectoryOption {
	return func(repo *UnitDirectoryRepository) {
		if table != "" {
			repo.mappingsTable = table
		}
	}
}

// NewUnitDirectoryRepository constructs a repository.
func NewUnitDirectoryRepository(db *sql.DB, opts ...UnitDirectoryOption) *UnitDirectoryRepository {
	repo := &UnitDirectoryRepository{
		db:            db,
		unitsTable:    defaultUnitsTable,
		phasesTable:   defaultPhasesTable,
		mappingsTable: defaultMappingsTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListUnits loads every unit with its phases ordered by valid_from.
func (r *UnitDirectoryRepository) ListUnits(ctx context.Context) ([]masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit directory repo: nil db")
	}

	unitRows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT code, asset_id, capacity_mw, first_output
FROM %s
ORDER BY code ASC`, r.unitsTable))
	if err != nil {
		return nil, err
	}
	defer unitRows.Close()

	var units []masterdata.Unit
	index := make(map[string]int)
	for unitRows.Next() {
		var unit masterdata.Unit
		var assetID sql.NullString
		var firstOutput sql.NullTime
		if err := unitRows.Scan(&unit.Code, &assetID, &unit.CapacityMW, &firstOutput); err != nil {
			return nil, err
		}
		unit.AssetID = assetID.String
		unit.FirstOutput = timePtr(firstOutput)
		index[unit.Code] = len(units)
		units = append(units, unit)
	}
	if err := unitRows.Err(); err != nil {
		return nil, err
	}

	phaseRows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT unit_code, id, code, capacity_mw, valid_from, valid_to, parent_asset_id
FROM %s
ORDER BY unit_code ASC, valid_from ASC NULLS FIRST, id ASC`, r.phasesTable))
	if err != nil {
		return nil, err
	}
	defer phaseRows.Close()

	for phaseRows.Next() {
		var (
			unitCode  string
			phase     masterdata.Phase
			validFrom sql.NullTime
			validTo   sql.NullTime
			parent    sql.NullString
		)
		if err := phaseRows.Scan(&unitCode, &phase.ID, &phase.Code, &phase.CapacityMW, &validFrom, &validTo, &parent); err != nil {
			return nil, err
		}
		phase.ValidFrom = timePtr(validFrom)
		phase.ValidTo = timePtr(validTo)
		phase.ParentAssetID = parent.String
		i, ok := index[unitCode]
		if !ok {
			continue
		}
		units[i].Phases = append(units[i].Phases, phase)
	}
	if err := phaseRows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

// ListMappings loads the source mappings of one source.
func (r *UnitDirectoryRepository) ListMappings(ctx context.Context, source string) ([]masterdata.SourceUnitMapping, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit directory repo: nil db")
	}
	if source == "" {
		return nil, errors.New("unit directory repo: empty source")
	}

	query := fmt.Sprintf(`
SELECT source, identifier, unit_code
FROM %s
WHERE source = $1
ORDER BY identifier ASC`, r.mappingsTable)

	rows, err := r.db.QueryContext(ctx, query, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.SourceUnitMapping
	for rows.Next() {
		var mapping masterdata.SourceUnitMapping
		if err := rows.Scan(&mapping.Source, &mapping.Identifier, &mapping.UnitCode); err != nil {
			return nil, err
		}
		result = append(result, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveUnit upserts a unit and replaces its phases.
func (r *UnitDirectoryRepository) SaveUnit(ctx context.Context, unit masterdata.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit directory repo: nil db")
	}
	if err := unit.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (code, asset_id, capacity_mw, first_output)
VALUES ($1, $2, $3, $4)
ON CONFLICT (code)
DO UPDATE SET
	asset_id = EXCLUDED.asset_id,
	capacity_mw = EXCLUDED.capacity_mw,
	first_output = EXCLUDED.first_output,
	updated_at = NOW()`, r.unitsTable),
		unit.Code, nullString(unit.AssetID), unit.CapacityMW, nullTime(unit.FirstOutput))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE unit_code = $1`, r.phasesTable), unit.Code); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, phase := range unit.Phases {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, unit_code, code, capacity_mw, valid_from, valid_to, parent_asset_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, r.phasesTable),
			phase.ID, unit.Code, phase.Code, phase.CapacityMW,
			nullTime(phase.ValidFrom), nullTime(phase.ValidTo), nullString(phase.ParentAssetID))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveMapping upserts a mapping.
func (r *UnitDirectoryRepository) SaveMapping(ctx context.Context, mapping masterdata.SourceUnitMapping) error {
	if r == nil || r.db == nil {
		return errors.New("unit directory repo: nil db")
	}
	if err := mapping.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (source, identifier, unit_code)
VALUES ($1, $2, $3)
ON CONFLICT (source, identifier)
DO UPDATE SET
	unit_code = EXCLUDED.unit_code,
	updated_at = NOW()`, r.mappingsTable)

	_, err := r.db.ExecContext(ctx, query, mapping.Source, mapping.Identifier, mapping.UnitCode)
	return err
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
