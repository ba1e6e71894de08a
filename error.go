package gorig

import (
	"errors"
	"fmt"

	"github.com/roffe/gorig/pkg/property"
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

func (e unrecoverableError) Unrecoverable() bool { return true }

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable reports false for errors that end the connection: anything
// in the chain wrapped by Unrecoverable or implementing Unrecoverable() bool.
func IsRecoverable(err error) bool {
	var u interface{ Unrecoverable() bool }
	if errors.As(err, &u) {
		return !u.Unrecoverable()
	}
	return true
}

var (
	ErrNotImplemented    = errors.New("not implemented")
	ErrUnknownProperty   = property.ErrUnknownProperty
	ErrCompositeCallback = property.ErrCompositeCallback
	ErrReadOnly          = property.ErrReadOnly
	ErrClosed            = property.ErrClosed
	ErrUnknownRig        = errors.New("unknown rig")
	ErrUnsupportedModel  = errors.New("unsupported device model")
)

// NoReplyError is returned to a blocked reader when the device never answered.
type NoReplyError = property.NoReplyError

// ModelError is returned when the identity reply has no matching table.
type ModelError struct {
	Code string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: ID%s", ErrUnsupportedModel, e.Code)
}

func (e *ModelError) Unwrap() error { return ErrUnsupportedModel }

func (e *ModelError) Unrecoverable() bool { return true }
