package classification

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by readers when an image has no stored rows.
var ErrNotFound = errors.New("classification not found")

// ValidationError lists the fields that made a classification unacceptable.
// It is always produced before any backend call.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid classification: %s", strings.Join(e.Fields, ", "))
}

// BackendError wraps a failure of the underlying datastore or transport.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("classification store %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsBackend reports whether err is (or wraps) a BackendError.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

func backendErr(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}
