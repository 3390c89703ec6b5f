package iothub

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hubclient/internal/groutine"
	"github.com/srg/hubclient/internal/lock"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// DefaultWorkerInterval is the pause between two DoWork calls of the worker.
const DefaultWorkerInterval = time.Millisecond

// Locker is the serializing lock shared with the worker.
type Locker = lock.Locker

// Worker is a running worker goroutine.
type Worker interface {
	Join()
	Exited() bool
}

// WorkerStarter starts loop in a new goroutine named name.
type WorkerStarter func(name string, loop func(ctx context.Context)) (Worker, error)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger      *logrus.Logger
	factory     lowlevel.Factory
	newLock     func() (Locker, error)
	startWorker WorkerStarter
	interval    time.Duration
}

func defaultOptions() *options {
	return &options{
		newLock: func() (Locker, error) {
			return lock.New(), nil
		},
		startWorker: startGoroutine,
		interval:    DefaultWorkerInterval,
	}
}

func buildOptions(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}
	if o.factory == nil {
		return nil, invalidArg("lower-layer factory is required")
	}
	return o, nil
}

// WithLogger sets the logger used by the client.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithFactory sets the lower layer the client delegates to. Required.
func WithFactory(factory lowlevel.Factory) Option {
	return func(o *options) {
		o.factory = factory
	}
}

// WithLockFactory replaces how the private lock is created. Ignored by
// CreateWithTransport, which borrows the transport's lock.
func WithLockFactory(newLock func() (Locker, error)) Option {
	return func(o *options) {
		if newLock != nil {
			o.newLock = newLock
		}
	}
}

// WithWorkerStarter replaces how the private worker goroutine is started.
func WithWorkerStarter(start WorkerStarter) Option {
	return func(o *options) {
		if start != nil {
			o.startWorker = start
		}
	}
}

// WithWorkerInterval sets the pause between two DoWork calls.
func WithWorkerInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

func startGoroutine(name string, loop func(ctx context.Context)) (Worker, error) {
	return groutine.Go(context.Background(), name, loop), nil
}
