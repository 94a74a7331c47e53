package canonical

import "errors"

var (
	// ErrInvalidGranularity is returned when granularity is unsupported.
	ErrInvalidGranularity = errors.New("canonical: invalid granularity")
	// ErrInvalidPeriodStart is returned when the period start is zero.
	ErrInvalidPeriodStart = errors.New("canonical: invalid period start")
	// ErrEmptyUnit is returned when the generation unit id is empty.
	ErrEmptyUnit = errors.New("canonical: empty generation unit id")
	// ErrEmptySource is returned when the source is empty.
	ErrEmptySource = errors.New("canonical: empty source")
	// ErrNonFiniteValue is returned when generation is NaN or infinite.
	ErrNonFiniteValue = errors.New("canonical: non-finite generation")
	// ErrQualityOutOfRange is returned when score or completeness leave [0, 1].
	ErrQualityOutOfRange = errors.New("canonical: quality out of range")
	// ErrUnbalanced is returned when generation differs from metered plus curtailed.
	ErrUnbalanced = errors.New("canonical: generation does not equal metered plus curtailed")
	// ErrNotFound is returned when a canonical record cannot be found.
	ErrNotFound = errors.New("canonical: not found")
	// ErrInvalidScope is returned when a scope range is empty.
	ErrInvalidScope = errors.New("canonical: invalid scope")
)
