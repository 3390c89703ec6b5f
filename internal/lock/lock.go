// Package lock provides the serializing lock shared by the hub client facade,
// its worker goroutine and the shared transport.
//
// Unlike sync.Mutex, acquisition can fail: a Mutex that has been closed
// refuses new holders, and callers are expected to surface that as an error
// instead of blocking forever.
package lock

import (
	"errors"
	"sync"
)

var (
	// ErrLockFailed indicates the lock could not be acquired.
	ErrLockFailed = errors.New("lock acquisition failed")

	// ErrNotLocked indicates Unlock was called on a lock that is not held.
	ErrNotLocked = errors.New("unlock of unlocked lock")
)

// Locker is a lock whose acquisition and release report failure.
type Locker interface {
	Lock() error
	Unlock() error
}

// Closer is implemented by locks that own resources and must be released.
type Closer interface {
	Close() error
}

// Mutex is a closable mutual exclusion lock. The zero value is not usable;
// create one with New.
type Mutex struct {
	sem chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates an unlocked Mutex.
func New() *Mutex {
	return &Mutex{
		sem:    make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Lock blocks until the mutex is held or the mutex is closed.
func (m *Mutex) Lock() error {
	if m == nil {
		return ErrLockFailed
	}
	select {
	case <-m.closed:
		return ErrLockFailed
	default:
	}

	select {
	case m.sem <- struct{}{}:
		return nil
	case <-m.closed:
		return ErrLockFailed
	}
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock() bool {
	if m == nil {
		return false
	}
	select {
	case <-m.closed:
		return false
	default:
	}

	select {
	case m.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() error {
	if m == nil {
		return ErrNotLocked
	}
	select {
	case <-m.sem:
		return nil
	default:
		return ErrNotLocked
	}
}

// Close wakes every blocked Lock call with ErrLockFailed and rejects future
// acquisitions. A holder may still Unlock after Close.
func (m *Mutex) Close() error {
	if m == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	return nil
}

// Closed reports whether Close has been called.
func (m *Mutex) Closed() bool {
	if m == nil {
		return true
	}
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
