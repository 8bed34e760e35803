package enginetypes

import "fmt"

// ErrorKind classifies a store-layer failure so callers can decide
// whether to retry, surface to the user, or treat as fatal.
type ErrorKind string

const (
	ErrNotFound    ErrorKind = "not_found"
	ErrConflict    ErrorKind = "conflict"
	ErrInvalidInput ErrorKind = "invalid_input"
	ErrBusy        ErrorKind = "busy"
	ErrFatal       ErrorKind = "fatal"
)

// StoreError is the typed error every Store method returns on failure.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError builds a StoreError for op of the given kind.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is a *StoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == kind
}
