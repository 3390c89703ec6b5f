package llclient

import (
	"fmt"
	"time"
)

// Option names understood by SetOption.
const (
	// OptionMessageTimeout bounds how long an event may wait in the queue.
	// Accepts a time.Duration or an integer number of milliseconds; zero
	// disables the timeout.
	OptionMessageTimeout = "messageTimeout"

	// OptionBatchSize caps how many events and messages one DoWork call
	// moves in each direction. Accepts a positive integer.
	OptionBatchSize = "batchSize"
)

const (
	DefaultBatchSize     = 16
	DefaultQueueCapacity = 1024
	defaultLinkTimeout   = 5 * time.Second
)

func parseMessageTimeout(value any) (time.Duration, error) {
	var d time.Duration
	switch v := value.(type) {
	case time.Duration:
		d = v
	case int:
		d = time.Duration(v) * time.Millisecond
	case int64:
		d = time.Duration(v) * time.Millisecond
	case uint64:
		d = time.Duration(v) * time.Millisecond
	default:
		return 0, fmt.Errorf("%w: %s expects a duration, got %T", ErrInvalidOptionValue, OptionMessageTimeout, value)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidOptionValue, OptionMessageTimeout)
	}
	return d, nil
}

func parseBatchSize(value any) (int, error) {
	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case uint32:
		n = int(v)
	default:
		return 0, fmt.Errorf("%w: %s expects an integer, got %T", ErrInvalidOptionValue, OptionBatchSize, value)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidOptionValue, OptionBatchSize)
	}
	return n, nil
}
