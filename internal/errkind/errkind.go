// Package errkind defines the error kinds shared across the service.
//
// Callers classify failures by kind with errors.Is; the HTTP boundary maps
// kinds to status codes. Wrap with fmt.Errorf("...: %w", errkind.X) so the
// context travels with the kind.
package errkind

import "errors"

var (
	// ErrBadRequest marks malformed input: bad intervals, missing keys,
	// out-of-range config values.
	ErrBadRequest = errors.New("bad request")

	// ErrUnknownTool marks a registry lookup for a key that was never
	// registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUnknownEntity marks a reference to a batch, node, parameter or
	// instruction that does not exist. Read paths that prefer empty
	// results over errors document that per operation.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrInsufficientData marks inputs too small for an analysis to be
	// meaningful (fewer than 2 SPC points, empty Pareto categories).
	ErrInsufficientData = errors.New("insufficient data")

	// ErrBadTransition marks an instruction lifecycle move that the
	// current status does not permit.
	ErrBadTransition = errors.New("bad transition")

	// ErrStoreUnavailable marks storage I/O failures. Retry-safe.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInternal is the unclassified fallback.
	ErrInternal = errors.New("internal error")
)
