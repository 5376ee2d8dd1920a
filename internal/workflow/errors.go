package workflow

import "errors"

// Failure taxonomy for transitions. Callers match with errors.Is; every error
// returned by the engine wraps exactly one of these.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
)
