package panel

import "evopanel/internal/recipe"

// jobNotFoundError is returned for unknown job ids (404).
type jobNotFoundError struct{ id string }

func (e jobNotFoundError) Error() string { return "job not found: " + e.id }

// ErrJobNotFound constructs the error returned for an unknown job id.
func ErrJobNotFound(id string) error { return jobNotFoundError{id: id} }

// IsJobNotFound reports whether err indicates a missing job id.
func IsJobNotFound(err error) bool {
	_, ok := err.(jobNotFoundError)
	return ok
}

// closedError is returned once the session has been closed.
type closedError struct{}

func (closedError) Error() string { return "panel session closed" }

// IsClosed reports whether err indicates a closed session (503).
func IsClosed(err error) bool {
	_, ok := err.(closedError)
	return ok
}

func invalid(field, msg string) error { return &recipe.ValidationError{Field: field, Msg: msg} }
