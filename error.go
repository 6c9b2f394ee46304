package canterm

import (
	"errors"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	if _, ok := err.(unrecoverableError); ok {
		return false
	}
	return true
}

var (
	ErrDroppedFrame = errors.New("adapter incoming channel full")
	ErrFrameTooLong = errors.New("CAN frame data exceeds 8 bytes")
	ErrNotCAN       = errors.New("adapter is not a CAN interface")
	ErrClosed       = errors.New("adapter is closed")
)
