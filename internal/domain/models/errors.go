package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches any *ConfigurationError.
	ErrConfiguration = errors.New("invalid execution constraints")
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("invalid bar")
)

// ConfigurationError is returned when execution constraints are out of range.
type ConfigurationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s=%v %s", ErrConfiguration, e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError is returned for a bar that breaks the OHLCV invariants.
// The bar is rejected before it reaches the window.
type ValidationError struct {
	Timestamp string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s at %q: %s: %s", ErrValidation, e.Timestamp, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
