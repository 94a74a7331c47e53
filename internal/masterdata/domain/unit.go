package masterdata

import (
	"context"
	"errors"
	"time"
)

// Phase is a time-bounded generation unit phase. Its ID is the
// generation_unit_id that canonical records are keyed on.
type Phase struct {
	ID            string     `yaml:"id" json:"id"`
	Code          string     `yaml:"code" json:"code"`
	CapacityMW    float64    `yaml:"capacity_mw" json:"capacity_mw"`
	ValidFrom     *time.Time `yaml:"valid_from" json:"valid_from,omitempty"`
	ValidTo       *time.Time `yaml:"valid_to" json:"valid_to,omitempty"`
	ParentAssetID string     `yaml:"parent_asset_id" json:"parent_asset_id,omitempty"`
}

// Covers reports whether ts falls inside the phase bounds. Unset bounds are open.
// A valid_to at midnight is a calendar date and covers that whole UTC day.
func (p Phase) Covers(ts time.Time) bool {
	if p.ValidFrom != nil && ts.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil {
		end := p.ValidTo.UTC()
		if end.Equal(end.Truncate(24 * time.Hour)) {
			return ts.Before(end.Add(24 * time.Hour))
		}
		if ts.After(end) {
			return false
		}
	}
	return true
}

// Validate checks phase invariants.
func (p Phase) Validate() error {
	if p.ID == "" {
		return errors.New("phase: empty id")
	}
	if p.CapacityMW < 0 {
		return errors.New("phase: negative capacity")
	}
	if p.ValidFrom != nil && p.ValidTo != nil && p.ValidTo.Before(*p.ValidFrom) {
		return errors.New("phase: valid_to before valid_from")
	}
	return nil
}

// Unit is a generation unit as known to the unit directory.
type Unit struct {
	Code        string     `yaml:"code" json:"code"`
	AssetID     string     `yaml:"asset_id" json:"asset_id,omitempty"`
	CapacityMW  float64    `yaml:"capacity_mw" json:"capacity_mw"`
	FirstOutput *time.Time `yaml:"first_output" json:"first_output,omitempty"`
	Phases      []Phase    `yaml:"phases" json:"phases"`
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.Code == "" {
		return errors.New("unit: empty code")
	}
	if len(u.Phases) == 0 {
		return errors.New("unit: no phases")
	}
	for _, phase := range u.Phases {
		if err := phase.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SourceUnitMapping maps a source identifier to a unit code.
type SourceUnitMapping struct {
	Source     string `yaml:"source" json:"source"`
	Identifier string `yaml:"identifier" json:"identifier"`
	UnitCode   string `yaml:"unit_code" json:"unit_code"`
}

// Validate checks mapping invariants.
func (m SourceUnitMapping) Validate() error {
	if m.Source == "" {
		return errors.New("unit mapping: empty source")
	}
	if m.Identifier == "" {
		return errors.New("unit mapping: empty identifier")
	}
	if m.UnitCode == "" {
		return errors.New("unit mapping: empty unit code")
	}
	return nil
}

// UnitDirectory is the read side of unit metadata.
type UnitDirectory interface {
	ListUnits(ctx context.Context) ([]Unit, error)
	ListMappings(ctx context.Context, source string) ([]SourceUnitMapping, error)
}

// UnitDirectoryWriter maintains unit metadata.
type UnitDirectoryWriter interface {
	SaveUnit(ctx context.Context, unit Unit) error
	SaveMapping(ctx context.Context, mapping SourceUnitMapping) error
}
