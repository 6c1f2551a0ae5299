package errors

import "errors"

// Common application-wide errors. Component-specific error types
// (manifest.Error, depres.ConflictError, ...) live in their owning packages.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input provided")
	ErrClosed        = errors.New("resource is closed")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap adds context to an existing error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
