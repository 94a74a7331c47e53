package masterdata

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnmappedIdentifier is returned when a source identifier has no unit.
	ErrUnmappedIdentifier = errors.New("masterdata: unmapped identifier")
	// ErrNoActivePhase is returned when no phase covers the timestamp.
	ErrNoActivePhase = errors.New("masterdata: no active phase")
	// ErrOverlappingPhases is returned when more than one phase covers the timestamp.
	ErrOverlappingPhases = errors.New("masterdata: overlapping phases")
)

// MappingError reports a raw record that could not be attributed to a phase.
// The raw record is kept; no canonical output is produced for it.
type MappingError struct {
	Identifier string
	At         time.Time
	Err        error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("masterdata: cannot resolve identifier=%q at=%s: %v", e.Identifier, e.At.UTC().Format(time.RFC3339), e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// IsMappingError reports whether err wraps a MappingError.
func IsMappingError(err error) bool {
	var target *MappingError
	return errors.As(err, &target)
}
