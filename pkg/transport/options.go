package transport

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWorkerInterval is the pause between two DoWork calls.
const DefaultWorkerInterval = time.Millisecond

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used by the transport.
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithWorkerInterval sets the pause between two DoWork calls.
func WithWorkerInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithName sets the name of the worker goroutine, visible in pprof labels.
func WithName(name string) Option {
	return func(t *Transport) {
		if name != "" {
			t.name = name
		}
	}
}
