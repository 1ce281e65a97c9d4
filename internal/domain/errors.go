package domain

import "errors"

// Error taxonomy shared by the service and transport layers. Handlers map
// these to HTTP statuses with errors.Is, so service code wraps them with
// fmt.Errorf("%w: ...") to add context.
var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("invalid request")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")

	// ErrTerminal marks an outbound delivery failure that must not be
	// retried. Anything not wrapping it is treated as transient.
	ErrTerminal = errors.New("terminal delivery failure")
)
