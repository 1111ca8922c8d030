package featurekit

import "errors"

var (
	// ErrClientNotReady is returned when a decision API is used before the
	// first datafile became available.
	ErrClientNotReady = errors.New("client not ready: no datafile available")

	// ErrInvalidInput marks a missing or wrong-typed user id, flag key or
	// event key; the offending call is a no-op.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVariableTypeMismatch is returned when a typed variable getter is
	// used on a variable of a different declared type.
	ErrVariableTypeMismatch = errors.New("variable type mismatch")

	// ErrEventQueueFull is reported through the error handler when the
	// event processor drops an event instead of blocking its producer.
	ErrEventQueueFull = errors.New("event queue full, dropping event")
)

// ErrorHandler receives the non-fatal errors the event processor swallows:
// queue overflows and dispatch failures. User profile service failures are
// logged by the decision service and are not passed to it. The default
// handler does nothing.
type ErrorHandler func(error)
