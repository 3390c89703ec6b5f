package iothub

import (
	"context"
	"time"

	"github.com/srg/hubclient/internal/groutine"
)

// scheduleWork is the worker loop. Each iteration takes the lock, exits if
// stop was requested, otherwise pumps the lower layer once. A failed lock
// acquisition skips the iteration and is retried after the same pause.
func (c *Client) scheduleWork(ctx context.Context) {
	for {
		if err := c.lock.Lock(); err == nil {
			if c.stop.Load() {
				c.unlock()
				c.logger.WithField("worker", groutine.GetName(ctx)).Debug("Worker exiting")
				return
			}
			c.ll.DoWork()
			c.unlock()
		}
		time.Sleep(c.interval)
	}
}
