package monitor

import "errors"

var (
	// ErrFeedUnavailable marks a transient per-symbol price feed failure.
	ErrFeedUnavailable = errors.New("monitor: price feed unavailable")
	// ErrConcurrencyConflict indicates a conditional write lost against a concurrent writer.
	ErrConcurrencyConflict = errors.New("monitor: concurrency conflict")
	// ErrInvalidConfig rejects a MonitorConfig write.
	ErrInvalidConfig = errors.New("monitor: invalid config")
	// ErrConflict is returned when an operator acts on an alert that is already terminal.
	ErrConflict = errors.New("monitor: alert already terminal")
	// ErrValidation rejects malformed create requests.
	ErrValidation = errors.New("monitor: validation failed")
	// ErrNotFound indicates an unknown alert id.
	ErrNotFound = errors.New("monitor: alert not found")
)
