package domain

import "fmt"

// ValidationError reports bad mutation input. It is returned to the caller
// and never results in a published event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown task identifier.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// StoreUnavailableError wraps a store I/O failure. The mutation is treated
// as not committed and no event is published.
type StoreUnavailableError struct {
	Err error
}

func (e StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e StoreUnavailableError) Unwrap() error { return e.Err }
