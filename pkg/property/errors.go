package property

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrReadOnly          = errors.New("property is read-only")
	ErrReadInLoop        = errors.New("blocking read from the dispatch loop")
	ErrCompositeCallback = errors.New("callbacks must be registered on a composite view, not the composite")
	ErrUnknownProperty   = errors.New("unknown property")
	ErrDuplicate         = errors.New("property already registered")
	ErrClosed            = errors.New("rig connection closed")
	ErrNoCallback        = errors.New("no such callback")
)

// NoReplyError is returned by Read when the device did not answer a query
// within the wait bound. It is unrecoverable; the caller has to reconnect.
type NoReplyError struct {
	Name    string
	Timeout time.Duration
}

func (e *NoReplyError) Error() string {
	return fmt.Sprintf("no reply for %s after %s", e.Name, e.Timeout)
}

func (e *NoReplyError) Unrecoverable() bool { return true }
