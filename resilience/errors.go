package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrPoolFull is returned when every pool slot is busy.
	ErrPoolFull = errors.New("resilience: worker pool at capacity")

	// ErrPoolClosed is returned for submissions after Close.
	ErrPoolClosed = errors.New("resilience: worker pool closed")
)
