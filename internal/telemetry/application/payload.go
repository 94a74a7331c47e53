package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"windgen-cloud/internal/analytics/domain/period"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

var validate = validator.New()

const (
	settlementDateLayout = "2006-01-02"
	localTimeLayout      = "2006-01-02T15:04:05"
)

// Payload is the JSON contract of one raw record. The period is given either as
// UTC instants, as a settlement date and period index, or as a naive local wall
// clock time in the source's civil timezone.
type Payload struct {
	Source           string               `json:"source" validate:"required"`
	SourceType       string               `json:"source_type" validate:"required"`
	Stream           string               `json:"stream,omitempty"`
	Identifier       string               `json:"identifier" validate:"required"`
	PeriodStart      *time.Time           `json:"period_start,omitempty" validate:"required_without_all=SettlementDate LocalTime"`
	PeriodEnd        *time.Time           `json:"period_end,omitempty"`
	PeriodKind       string               `json:"period_kind" validate:"required"`
	SettlementDate   string               `json:"settlement_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	SettlementPeriod int                  `json:"settlement_period,omitempty" validate:"required_with=SettlementDate,gte=0,lte=50"`
	LocalTime        string               `json:"local_time,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05"`
	Value            *float64             `json:"value" validate:"required"`
	UnitOfMeasure    string               `json:"unit_of_measure"`
	Direction        string               `json:"direction,omitempty" validate:"omitempty,oneof=export import"`
	LineItems        []telemetry.LineItem `json:"line_items,omitempty"`
	Payload          json.RawMessage      `json:"payload,omitempty"`
}

// Timezones overrides the civil timezone of sources by IANA name.
type Timezones map[telemetry.Source]string

func (z Timezones) location(profile telemetry.SourceProfile) (string, *time.Location, error) {
	if name := z[profile.Source]; name != "" {
		loc, err := time.LoadLocation(name)
		return name, loc, err
	}
	loc, err := profile.Location()
	return profile.Timezone, loc, err
}

// ToRecord validates the payload and resolves its period to UTC in the source's
// default timezone. Every failure is a *telemetry.ValidationError.
func (p Payload) ToRecord() (telemetry.RawRecord, error) {
	return p.ToRecordIn(nil)
}

// ToRecordIn is ToRecord with per-source timezone overrides applied to
// settlement and local wall clock periods.
func (p Payload) ToRecordIn(zones Timezones) (telemetry.RawRecord, error) {
	if err := validate.Struct(p); err != nil {
		return telemetry.RawRecord{}, p.validationError(err)
	}

	source := telemetry.Source(strings.ToUpper(p.Source))
	profile, err := telemetry.ProfileFor(source)
	if err != nil {
		return telemetry.RawRecord{}, p.fail("source", "unknown source")
	}
	zone, loc, err := zones.location(profile)
	if err != nil {
		return telemetry.RawRecord{}, p.fail("source", fmt.Sprintf("timezone %s: %v", zone, err))
	}
	kind := telemetry.PeriodKind(p.PeriodKind)
	if !kind.IsValid() {
		return telemetry.RawRecord{}, p.fail("period_kind", "unknown period kind")
	}

	start, end, err := p.resolvePeriod(kind, loc)
	if err != nil {
		return telemetry.RawRecord{}, err
	}

	stream := telemetry.Stream(p.Stream)
	if stream == "" {
		stream = telemetry.StreamGeneration
		if len(p.LineItems) > 0 {
			stream = telemetry.StreamCurtailment
		}
	}
	unit := p.UnitOfMeasure
	if unit == "" {
		unit = "MWh"
	}

	rec := telemetry.RawRecord{
		Source:        source,
		SourceType:    telemetry.SourceType(p.SourceType),
		Stream:        stream,
		Identifier:    strings.TrimSpace(p.Identifier),
		PeriodStart:   start,
		PeriodEnd:     end,
		PeriodKind:    kind,
		Value:         *p.Value,
		UnitOfMeasure: unit,
		Direction:     telemetry.Direction(p.Direction),
		LineItems:     p.LineItems,
		Payload:       p.Payload,
	}
	if err := rec.Validate(); err != nil {
		return telemetry.RawRecord{}, err
	}
	return rec, nil
}

func (p Payload) resolvePeriod(kind telemetry.PeriodKind, loc *time.Location) (time.Time, time.Time, error) {
	var start time.Time
	switch {
	case p.SettlementDate != "":
		day, err := time.ParseInLocation(settlementDateLayout, p.SettlementDate, loc)
		if err != nil {
			return time.Time{}, time.Time{}, p.fail("settlement_date", err.Error())
		}
		length := kind.Duration()
		if length == 0 {
			return time.Time{}, time.Time{}, p.fail("period_kind", "settlement periods need a fixed length kind")
		}
		start, err = period.SettlementPeriodStart(day, p.SettlementPeriod, loc, length)
		if err != nil {
			return time.Time{}, time.Time{}, p.fail("settlement_period", err.Error())
		}
		return start, start.Add(length), nil
	case p.LocalTime != "":
		naive, err := time.Parse(localTimeLayout, p.LocalTime)
		if err != nil {
			return time.Time{}, time.Time{}, p.fail("local_time", err.Error())
		}
		start = period.Localize(naive, loc)
	default:
		start = p.PeriodStart.UTC()
	}

	if p.PeriodEnd != nil {
		return start, p.PeriodEnd.UTC(), nil
	}
	switch kind {
	case telemetry.PeriodMonth:
		local := start.In(loc)
		monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return start, monthStart.AddDate(0, 1, 0).UTC(), nil
	case telemetry.PeriodSnapshot:
		return start, start, nil
	default:
		return start, start.Add(kind.Duration()), nil
	}
}

func (p Payload) fail(field, reason string) error {
	var start time.Time
	if p.PeriodStart != nil {
		start = p.PeriodStart.UTC()
	}
	return &telemetry.ValidationError{Identifier: p.Identifier, PeriodStart: start, Field: field, Reason: reason}
}

func (p Payload) validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return p.fail(toSnake(fe.Field()), "failed "+fe.Tag())
	}
	return p.fail("payload", err.Error())
}

func toSnake(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
