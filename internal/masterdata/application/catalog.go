package application

import (
	"context"
	"errors"
	"sort"
	"time"

	masterdata "windgen-cloud/internal/masterdata/domain"
)

// Catalog is an immutable snapshot of the unit directory for one source,
// built once per reconcile run and shared read-only between workers.
type Catalog struct {
	source   string
	byIdent  map[string]string
	units    map[string]masterdata.Unit
	phaseIDs map[string][]string
}

// LoadCatalog reads units and mappings for a source from the directory.
func LoadCatalog(ctx context.Context, dir masterdata.UnitDirectory, source string) (*Catalog, error) {
	if dir == nil {
		return nil, errors.New("catalog: nil unit directory")
	}
	units, err := dir.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	mappings, err := dir.ListMappings(ctx, source)
	if err != nil {
		return nil, err
	}
	return NewCatalog(source, units, mappings), nil
}

// NewCatalog builds a catalog from units and the mappings of one source.
// Phases are ordered by valid_from. A unit first-output date earlier than the
// first phase's valid_from becomes that phase's lower bound.
func NewCatalog(source string, units []masterdata.Unit, mappings []masterdata.SourceUnitMapping) *Catalog {
	c := &Catalog{
		source:   source,
		byIdent:  make(map[string]string, len(mappings)),
		units:    make(map[string]masterdata.Unit, len(units)),
		phaseIDs: make(map[string][]string, len(units)),
	}
	for _, unit := range units {
		if unit.Code == "" || len(unit.Phases) == 0 {
			continue
		}
		phases := make([]masterdata.Phase, len(unit.Phases))
		copy(phases, unit.Phases)
		sort.SliceStable(phases, func(i, j int) bool {
			return validFromBefore(phases[i].ValidFrom, phases[j].ValidFrom)
		})
		if unit.FirstOutput != nil && phases[0].ValidFrom != nil && unit.FirstOutput.Before(*phases[0].ValidFrom) {
			lower := *unit.FirstOutput
			phases[0].ValidFrom = &lower
		}
		for i := range phases {
			if phases[i].ParentAssetID == "" {
				phases[i].ParentAssetID = unit.AssetID
			}
			if phases[i].CapacityMW == 0 {
				phases[i].CapacityMW = unit.CapacityMW
			}
			c.phaseIDs[unit.Code] = append(c.phaseIDs[unit.Code], phases[i].ID)
		}
		unit.Phases = phases
		c.units[unit.Code] = unit
	}
	for _, mapping := range mappings {
		if mapping.Source != "" && mapping.Source != source {
			continue
		}
		c.byIdent[mapping.Identifier] = mapping.UnitCode
	}
	return c
}

// Source returns the source the catalog was built for.
func (c *Catalog) Source() string { return c.source }

// Empty reports whether the catalog cannot resolve anything.
func (c *Catalog) Empty() bool {
	return c == nil || len(c.units) == 0
}

// Resolve finds the phase active for identifier at ts.
func (c *Catalog) Resolve(identifier string, ts time.Time) (masterdata.Phase, error) {
	unit, ok := c.unitFor(identifier)
	if !ok {
		return masterdata.Phase{}, &masterdata.MappingError{Identifier: identifier, At: ts, Err: masterdata.ErrUnmappedIdentifier}
	}
	var (
		match masterdata.Phase
		found int
	)
	for _, phase := range unit.Phases {
		if !phase.Covers(ts) {
			continue
		}
		if found == 0 {
			match = phase
		}
		found++
	}
	switch {
	case found == 0:
		return masterdata.Phase{}, &masterdata.MappingError{Identifier: identifier, At: ts, Err: masterdata.ErrNoActivePhase}
	case found > 1:
		return masterdata.Phase{}, &masterdata.MappingError{Identifier: identifier, At: ts, Err: masterdata.ErrOverlappingPhases}
	}
	return match, nil
}

// Identifiers returns every identifier mapped for the source, sorted.
func (c *Catalog) Identifiers() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.byIdent))
	for ident := range c.byIdent {
		out = append(out, ident)
	}
	sort.Strings(out)
	return out
}

// PhaseIDs returns the generation unit ids of every phase of the units the
// identifiers map to. With no identifiers it returns every mapped unit's phases.
func (c *Catalog) PhaseIDs(identifiers []string) []string {
	if c == nil {
		return nil
	}
	if len(identifiers) == 0 {
		identifiers = c.Identifiers()
	}
	seen := make(map[string]struct{})
	var out []string
	for _, ident := range identifiers {
		unit, ok := c.unitFor(ident)
		if !ok {
			continue
		}
		for _, id := range c.phaseIDs[unit.Code] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ActivePhaseIDs is PhaseIDs restricted to phases whose validity overlaps [from, to).
func (c *Catalog) ActivePhaseIDs(identifiers []string, from, to time.Time) []string {
	if c == nil {
		return nil
	}
	active := make(map[string]struct{})
	for _, unit := range c.units {
		for _, phase := range unit.Phases {
			if overlaps(phase, from, to) {
				active[phase.ID] = struct{}{}
			}
		}
	}
	var out []string
	for _, id := range c.PhaseIDs(identifiers) {
		if _, ok := active[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IdentifiersByPhase maps each phase id to the identifiers that resolve to its unit.
func (c *Catalog) IdentifiersByPhase() map[string][]string {
	out := make(map[string][]string)
	if c == nil {
		return out
	}
	for _, ident := range c.Identifiers() {
		unit, ok := c.unitFor(ident)
		if !ok {
			continue
		}
		for _, id := range c.phaseIDs[unit.Code] {
			out[id] = append(out[id], ident)
		}
	}
	return out
}

func (c *Catalog) unitFor(identifier string) (masterdata.Unit, bool) {
	if c == nil {
		return masterdata.Unit{}, false
	}
	code, ok := c.byIdent[identifier]
	if !ok {
		code = identifier
	}
	unit, ok := c.units[code]
	return unit, ok
}

func validFromBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func overlaps(phase masterdata.Phase, from, to time.Time) bool {
	if phase.ValidFrom != nil && !phase.ValidFrom.Before(to) {
		return false
	}
	if phase.ValidTo == nil {
		return true
	}
	end := phase.ValidTo.UTC()
	if end.Equal(end.Truncate(24 * time.Hour)) {
		end = end.Add(24 * time.Hour)
		return end.After(from)
	}
	return !end.Before(from)
}
