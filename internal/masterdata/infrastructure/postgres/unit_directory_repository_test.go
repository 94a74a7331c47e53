package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	masterdata "windgen-cloud/internal/masterdata/domain"
)

func TestUnitDirectoryRepository_ListUnits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	firstOutput := time.Date(2014, 3, 1, 0, 0, 0, 0, time.UTC)
	switchover := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT code, asset_id, capacity_mw, first_output FROM generation_units`).
		WillReturnRows(sqlmock.NewRows([]string{"code", "asset_id", "capacity_mw", "first_output"}).
			AddRow("WHILW", "asset-w", 120.0, firstOutput).
			AddRow("BRDU", nil, 60.0, nil))
	mock.ExpectQuery(`FROM generation_unit_phases ORDER BY unit_code ASC, valid_from ASC NULLS FIRST`).
		WillReturnRows(sqlmock.NewRows([]string{"unit_code", "id", "code", "capacity_mw", "valid_from", "valid_to", "parent_asset_id"}).
			AddRow("WHILW", "whilw-1", "WHILW-1", 100.0, nil, switchover, "asset-w").
			AddRow("WHILW", "whilw-2", "WHILW-2", 120.0, switchover, nil, "asset-w").
			AddRow("GONE", "gone-1", "GONE-1", 1.0, nil, nil, nil))

	repo := NewUnitDirectoryRepository(db)
	units, err := repo.ListUnits(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "WHILW", units[0].Code)
	require.NotNil(t, units[0].FirstOutput)
	require.Len(t, units[0].Phases, 2)
	assert.Nil(t, units[0].Phases[0].ValidFrom)
	assert.True(t, switchover.Equal(*units[0].Phases[1].ValidFrom))
	assert.Empty(t, units[1].AssetID)
	assert.Empty(t, units[1].Phases)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitDirectoryRepository_ListMappings(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		setupMock func(mock sqlmock.Sqlmock)
		want      int
		expectErr bool
	}{
		{
			name:      "empty source",
			source:    "",
			setupMock: func(mock sqlmock.Sqlmock) {},
			expectErr: true,
		},
		{
			name:   "mappings for one source",
			source: "ELEXON",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM source_unit_mappings WHERE source = \$1`).
					WithArgs("ELEXON").
					WillReturnRows(sqlmock.NewRows([]string{"source", "identifier", "unit_code"}).
						AddRow("ELEXON", "T_WHILW-1", "WHILW").
						AddRow("ELEXON", "T_WHILW-2", "WHILW"))
			},
			want: 2,
		},
		{
			name:   "query error",
			source: "ENTSOE",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM source_unit_mappings`).WillReturnError(assert.AnError)
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()
			tt.setupMock(mock)

			repo := NewUnitDirectoryRepository(db)
			mappings, err := repo.ListMappings(context.Background(), tt.source)
			if tt.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Len(t, mappings, tt.want)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUnitDirectoryRepository_SaveUnit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	switchover := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	unit := masterdata.Unit{
		Code:       "WHILW",
		CapacityMW: 120,
		Phases: []masterdata.Phase{
			{ID: "whilw-1", Code: "WHILW-1", CapacityMW: 100, ValidTo: &switchover},
			{ID: "whilw-2", Code: "WHILW-2", CapacityMW: 120, ValidFrom: &switchover},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO generation_units`).
		WithArgs("WHILW", nil, 120.0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM generation_unit_phases WHERE unit_code = \$1`).
		WithArgs("WHILW").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO generation_unit_phases`).
		WithArgs("whilw-1", "WHILW", "WHILW-1", 100.0, nil, switchover, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO generation_unit_phases`).
		WithArgs("whilw-2", "WHILW", "WHILW-2", 120.0, switchover, nil, nil).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	repo := NewUnitDirectoryRepository(db)
	require.ErrorIs(t, repo.SaveUnit(context.Background(), unit), assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitDirectoryRepository_SaveMapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO mappings_v2 .* ON CONFLICT \(source, identifier\)`).
		WithArgs("EIA", "58001", "SWEETWATER").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewUnitDirectoryRepository(db, WithMappingTable("mappings_v2"))
	require.NoError(t, repo.SaveMapping(context.Background(), masterdata.SourceUnitMapping{Source: "EIA", Identifier: "58001", UnitCode: "SWEETWATER"}))
	require.Error(t, repo.SaveMapping(context.Background(), masterdata.SourceUnitMapping{Source: "EIA"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
