package property

import (
	"sync"

	"github.com/google/uuid"
)

// CallbackID is the stable handle returned when a callback is registered.
type CallbackID = uuid.UUID

type callbackEntry struct {
	id CallbackID
	fn func(any)
}

// callbackList keeps registration order; removal is by handle so closures
// never have to be compared.
type callbackList struct {
	mu      sync.RWMutex
	entries []callbackEntry
}

func (l *callbackList) add(fn func(any)) CallbackID {
	id := uuid.New()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, callbackEntry{id: id, fn: fn})
	return id
}

func (l *callbackList) remove(id CallbackID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *callbackList) snapshot() []func(any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return nil
	}
	out := make([]func(any), len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

func (l *callbackList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
