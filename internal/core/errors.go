package core

import "errors"

// Error taxonomy shared by every package. Callers inspect failures with errors.Is.
var (
	// ErrValidation indicates empty or invalid input. Terminal, never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates that a referenced podcast or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstream indicates a non-success response from the synthesis service.
	ErrUpstream = errors.New("upstream synthesis error")
	// ErrTimeout indicates that the poll budget for a dialogue job was exhausted.
	ErrTimeout = errors.New("synthesis timed out")
	// ErrStorage indicates an object store upload or delete failure.
	ErrStorage = errors.New("storage error")
	// ErrObjectNotFound is returned by ObjectStore implementations for missing keys.
	ErrObjectNotFound = errors.New("object not found")
)

// IsRecoverable reports whether a primary synthesis failure should trigger the fallback path.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrTimeout)
}
