package telemetry

import (
	"fmt"
	"time"
)

// Source identifies an upstream grid operator or market data provider.
type Source string

const (
	SourceElexon          Source = "ELEXON"
	SourceENTSOE          Source = "ENTSOE"
	SourceEIA             Source = "EIA"
	SourceEnergistyrelsen Source = "ENERGISTYRELSEN"
	SourceTaipower        Source = "TAIPOWER"
)

// AllSources lists every supported source.
func AllSources() []Source {
	return []Source{SourceElexon, SourceENTSOE, SourceEIA, SourceEnergistyrelsen, SourceTaipower}
}

// IsValid reports whether the source is supported.
func (s Source) IsValid() bool {
	switch s {
	case SourceElexon, SourceENTSOE, SourceEIA, SourceEnergistyrelsen, SourceTaipower:
		return true
	default:
		return false
	}
}

// SourceType is the ingestion channel a record arrived through.
type SourceType string

const (
	SourceTypeLiveAPI      SourceType = "live-api"
	SourceTypeFileBackfill SourceType = "file-backfill"
	SourceTypeManual       SourceType = "manual"
)

// IsValid reports whether the source type is supported.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeLiveAPI, SourceTypeFileBackfill, SourceTypeManual:
		return true
	default:
		return false
	}
}

// PeriodKind is the native resolution of a raw record.
type PeriodKind string

const (
	PeriodFifteenMin PeriodKind = "15min"
	PeriodThirtyMin  PeriodKind = "30min"
	PeriodHour       PeriodKind = "hour"
	PeriodMonth      PeriodKind = "month"
	PeriodSnapshot   PeriodKind = "snapshot"
)

// AllPeriodKinds lists every supported period kind.
func AllPeriodKinds() []PeriodKind {
	return []PeriodKind{PeriodFifteenMin, PeriodThirtyMin, PeriodHour, PeriodMonth, PeriodSnapshot}
}

// IsValid reports whether the kind is supported.
func (k PeriodKind) IsValid() bool {
	switch k {
	case PeriodFifteenMin, PeriodThirtyMin, PeriodHour, PeriodMonth, PeriodSnapshot:
		return true
	default:
		return false
	}
}

// Duration returns the nominal length of the period kind. Month and snapshot
// have no fixed length and return zero.
func (k PeriodKind) Duration() time.Duration {
	switch k {
	case PeriodFifteenMin:
		return 15 * time.Minute
	case PeriodThirtyMin:
		return 30 * time.Minute
	case PeriodHour:
		return time.Hour
	default:
		return 0
	}
}

// Fineness orders kinds from coarse to fine; a higher value is finer.
func (k PeriodKind) Fineness() int {
	switch k {
	case PeriodMonth:
		return 0
	case PeriodHour:
		return 1
	case PeriodThirtyMin:
		return 2
	case PeriodFifteenMin:
		return 3
	case PeriodSnapshot:
		return 4
	default:
		return -1
	}
}

// Stream separates the facts a source reports for the same identifier and period.
type Stream string

const (
	StreamGeneration  Stream = "generation"
	StreamMetered     Stream = "metered"
	StreamCurtailment Stream = "curtailment"
)

// IsValid reports whether the stream is supported.
func (s Stream) IsValid() bool {
	switch s {
	case StreamGeneration, StreamMetered, StreamCurtailment:
		return true
	default:
		return false
	}
}

// Direction is the sign convention of a metered value.
type Direction string

const (
	DirectionExport Direction = "export"
	DirectionImport Direction = "import"
)

// SourceProfile describes the conventions of a source.
type SourceProfile struct {
	Source            Source
	Timezone          string
	Kinds             []PeriodKind
	SettlementPeriods bool
	Curtailment       bool
	Monthly           bool
	SnapshotsPerHour  int
}

// ProfileFor returns the conventions of a source.
func ProfileFor(source Source) (SourceProfile, error) {
	switch source {
	case SourceElexon:
		return SourceProfile{
			Source:            source,
			Timezone:          "Europe/London",
			Kinds:             []PeriodKind{PeriodThirtyMin},
			SettlementPeriods: true,
			Curtailment:       true,
		}, nil
	case SourceENTSOE:
		return SourceProfile{
			Source:   source,
			Timezone: "UTC",
			Kinds:    []PeriodKind{PeriodFifteenMin, PeriodHour},
		}, nil
	case SourceEIA:
		return SourceProfile{
			Source:   source,
			Timezone: "UTC",
			Kinds:    []PeriodKind{PeriodMonth},
			Monthly:  true,
		}, nil
	case SourceEnergistyrelsen:
		return SourceProfile{
			Source:   source,
			Timezone: "Europe/Copenhagen",
			Kinds:    []PeriodKind{PeriodMonth},
			Monthly:  true,
		}, nil
	case SourceTaipower:
		return SourceProfile{
			Source:           source,
			Timezone:         "Asia/Taipei",
			Kinds:            []PeriodKind{PeriodSnapshot},
			SnapshotsPerHour: 6,
		}, nil
	default:
		return SourceProfile{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// Location loads the civil timezone of the source.
func (p SourceProfile) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// Supports reports whether the source emits the given kind.
func (p SourceProfile) Supports(kind PeriodKind) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// FinestKind returns the finest kind the source emits.
func (p SourceProfile) FinestKind() PeriodKind {
	best := PeriodMonth
	for _, k := range p.Kinds {
		if k != PeriodSnapshot && k.Fineness() > best.Fineness() {
			best = k
		}
	}
	return best
}
