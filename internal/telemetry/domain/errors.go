package telemetry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownSource is returned when a source has no profile.
	ErrUnknownSource = errors.New("telemetry: unknown source")
	// ErrInvalidPrecedence is returned when a precedence order is not a total order over source types.
	ErrInvalidPrecedence = errors.New("telemetry: invalid precedence order")
)

// ValidationError reports a raw record that failed validation. The record is
// skipped and the rest of the batch continues.
type ValidationError struct {
	Identifier  string
	PeriodStart time.Time
	Field       string
	Reason      string
}

func (e *ValidationError) Error() string {
	if e.PeriodStart.IsZero() {
		return fmt.Sprintf("telemetry: invalid record identifier=%q field=%s: %s", e.Identifier, e.Field, e.Reason)
	}
	return fmt.Sprintf("telemetry: invalid record identifier=%q period_start=%s field=%s: %s",
		e.Identifier, e.PeriodStart.UTC().Format(time.RFC3339), e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
