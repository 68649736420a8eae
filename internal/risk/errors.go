package risk

import (
	"errors"
	"fmt"
)

// Sentinel errors for callers that branch on failure class with errors.Is.
var (
	// ErrDuplicateOrder is returned by CheckAndRegister when an open record
	// already exists for the (symbol, side) key.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrPersistence wraps durable-write failures. The in-memory registry is
	// rolled back before this is returned.
	ErrPersistence = errors.New("persistence failure")
)

// ConfigError reports a risk parameter combination that cannot produce a
// meaningful result (e.g. entry price equal to stop price).
type ConfigError struct {
	Op     string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("risk config error in %s: %s", e.Op, e.Reason)
}

// ValidationError reports a concrete, human-readable reason an order failed
// pre-trade validation. It is never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed on %s: %s", e.Field, e.Reason)
}
