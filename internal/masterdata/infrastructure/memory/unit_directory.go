package memory

import (
	"context"
	"sort"
	"sync"

	masterdata "windgen-cloud/internal/masterdata/domain"
)

// UnitDirectory is an in-memory unit directory for demo/testing.
type UnitDirectory struct {
	mu       sync.RWMutex
	units    map[string]masterdata.Unit
	mappings map[string]masterdata.SourceUnitMapping
}

// NewUnitDirectory constructs a directory.
func NewUnitDirectory() *UnitDirectory {
	return &UnitDirectory{
		units:    make(map[string]masterdata.Unit),
		mappings: make(map[string]masterdata.SourceUnitMapping),
	}
}

// SaveUnit upserts a unit by code.
func (d *UnitDirectory) SaveUnit(ctx context.Context, unit masterdata.Unit) error {
	_ = ctx
	if err := unit.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.units[unit.Code] = unit
	return nil
}

// SaveMapping upserts a mapping by source and identifier.
func (d *UnitDirectory) SaveMapping(ctx context.Context, mapping masterdata.SourceUnitMapping) error {
	_ = ctx
	if err := mapping.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mappings[mapping.Source+"|"+mapping.Identifier] = mapping
	return nil
}

// ListUnits returns every unit ordered by code.
func (d *UnitDirectory) ListUnits(ctx context.Context) ([]masterdata.Unit, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]masterdata.Unit, 0, len(d.units))
	for _, unit := range d.units {
		result = append(result, unit)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

// ListMappings returns the mappings of one source ordered by identifier.
func (d *UnitDirectory) ListMappings(ctx context.Context, source string) ([]masterdata.SourceUnitMapping, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []masterdata.SourceUnitMapping
	for _, mapping := range d.mappings {
		if mapping.Source == source {
			result = append(result, mapping)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result, nil
}
