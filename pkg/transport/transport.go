package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hubclient/internal/groutine"
	"github.com/srg/hubclient/internal/lock"
	"github.com/srg/hubclient/pkg/lowlevel"
)

var (
	// ErrInvalidTransport is returned by New for a nil lower-layer transport.
	ErrInvalidTransport = errors.New("lower-layer transport is nil")

	// ErrDestroyed is returned when a worker is requested from a destroyed
	// transport.
	ErrDestroyed = errors.New("transport destroyed")
)

// worker is one generation of the pumping goroutine. A stopped generation
// is never restarted; a new one replaces it.
type worker struct {
	handle *groutine.Handle
	stop   atomic.Bool
}

// closableLock is the lock a Transport owns; lock.Mutex implements it.
type closableLock interface {
	lock.Locker
	lock.Closer
	Closed() bool
}

// Transport shares one lower-layer connection, one lock and one worker
// goroutine between every client attached to it.
type Transport struct {
	ll       lowlevel.Transport
	lock     closableLock
	clients  *hashmap.Map[string, any]
	logger   *logrus.Logger
	interval time.Duration
	name     string

	mu      sync.Mutex // guards current and retired
	current *worker
	retired []*worker

	destroyed atomic.Bool
}

// New wraps ll. The transport takes ownership of ll and destroys it in
// Destroy.
func New(ll lowlevel.Transport, opts ...Option) (*Transport, error) {
	if ll == nil {
		return nil, ErrInvalidTransport
	}

	t := &Transport{
		ll:       ll,
		lock:     lock.New(),
		clients:  hashmap.New[string, any](),
		logger:   logrus.New(),
		interval: DefaultWorkerInterval,
		name:     "transport-worker",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Lock returns the lock serializing every call into the connection.
func (t *Transport) Lock() lock.Locker {
	return t.lock
}

// LowLevelTransport returns the wrapped lower-layer transport.
func (t *Transport) LowLevelTransport() lowlevel.Transport {
	return t.ll
}

// StartWorkerThread registers client and makes sure a worker is pumping the
// connection. Callers hold the transport lock.
func (t *Transport) StartWorkerThread(client any) error {
	if t.destroyed.Load() {
		return ErrDestroyed
	}
	t.clients.Set(clientKey(client), client)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && !t.current.stop.Load() {
		return nil
	}
	if t.current != nil {
		t.retired = append(t.retired, t.current)
	}

	w := &worker{}
	w.handle = groutine.Go(context.Background(), t.name, func(ctx context.Context) {
		t.run(ctx, w)
	})
	t.current = w
	t.logger.WithField("clients", t.clients.Len()).Debug("Transport worker started")
	return nil
}

// SignalEndWorkerThread unregisters client. When it was the last client
// the worker is asked to stop and true is returned; the caller then joins
// it with JoinWorkerThread once the lock is released.
func (t *Transport) SignalEndWorkerThread(client any) bool {
	t.clients.Del(clientKey(client))
	if t.clients.Len() > 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.stop.Load() {
		return false
	}
	t.current.stop.Store(true)
	t.logger.Debug("Transport worker stop requested")
	return true
}

// JoinWorkerThread waits for every worker asked to stop. It must be called
// without holding the transport lock.
func (t *Transport) JoinWorkerThread(client any) {
	for _, w := range t.stoppedWorkers() {
		w.handle.Join()
	}
	t.logger.WithField("client", clientKey(client)).Debug("Transport worker joined")
}

// Destroy stops and joins the worker, destroys the lower-layer transport
// and closes the lock. Clients still attached are not destroyed.
func (t *Transport) Destroy() {
	if t == nil || !t.destroyed.CompareAndSwap(false, true) {
		return
	}
	if n := t.clients.Len(); n > 0 {
		t.logger.WithField("clients", n).Warn("Transport destroyed with clients still attached")
	}

	t.mu.Lock()
	if t.current != nil {
		t.current.stop.Store(true)
	}
	t.mu.Unlock()
	for _, w := range t.stoppedWorkers() {
		w.handle.Join()
	}

	locked := t.lock.Lock() == nil
	if !locked {
		t.logger.Error("Unable to lock, destroying transport without locking")
	}
	t.ll.Destroy()
	if locked {
		if err := t.lock.Unlock(); err != nil {
			t.logger.WithError(err).Error("Unable to unlock")
		}
	}
	if err := t.lock.Close(); err != nil {
		t.logger.WithError(err).Warn("Unable to close lock")
	}
	t.logger.Debug("Transport destroyed")
}

// Clients returns how many clients have a worker registered.
func (t *Transport) Clients() int {
	return t.clients.Len()
}

// WorkerRunning reports whether a worker goroutine is alive.
func (t *Transport) WorkerRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil && !t.current.handle.Exited()
}

// stoppedWorkers takes every retired worker plus the current one if it was
// asked to stop.
func (t *Transport) stoppedWorkers() []*worker {
	t.mu.Lock()
	defer t.mu.Unlock()

	stopped := t.retired
	t.retired = nil
	if t.current != nil && t.current.stop.Load() {
		stopped = append(stopped, t.current)
		t.current = nil
	}
	return stopped
}

func (t *Transport) run(ctx context.Context, w *worker) {
	for {
		if err := t.lock.Lock(); err == nil {
			if w.stop.Load() {
				t.unlock()
				t.logger.WithField("worker", groutine.GetName(ctx)).Debug("Transport worker exiting")
				return
			}
			t.ll.DoWork()
			t.unlock()
		} else if t.lock.Closed() {
			return
		}
		time.Sleep(t.interval)
	}
}

func (t *Transport) unlock() {
	if err := t.lock.Unlock(); err != nil {
		t.logger.WithError(err).Error("Unable to unlock")
	}
}

func clientKey(client any) string {
	return fmt.Sprintf("%T@%p", client, client)
}
