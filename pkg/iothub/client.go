package iothub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hubclient/internal/lock"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// Client is a thread-safe device client. Create one with Create,
// CreateFromConnectionString or CreateWithTransport and release it with
// Destroy.
type Client struct {
	ll        lowlevel.Client
	transport SharedTransport // borrowed
	lock      Locker
	ownsLock  bool

	// worker is written under lock; workerMu only makes WorkerRunning safe
	// to call without it.
	workerMu sync.Mutex
	worker   Worker
	stop     atomic.Bool

	startWorker WorkerStarter
	interval    time.Duration
	logger      *logrus.Logger

	destroyed   atomic.Bool
	destroyOnce sync.Once
}

// Create creates a client with its own connection described by cfg.
func Create(cfg *lowlevel.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, invalidArg("config is nil")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newPrivateClient(o, func() (lowlevel.Client, error) {
		return o.factory.Create(cfg)
	})
}

// CreateFromConnectionString creates a client from a device connection
// string, speaking protocol.
func CreateFromConnectionString(connectionString string, protocol lowlevel.Protocol, opts ...Option) (*Client, error) {
	if connectionString == "" {
		return nil, invalidArg("connection string is empty")
	}
	if protocol == nil {
		return nil, invalidArg("protocol is nil")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newPrivateClient(o, func() (lowlevel.Client, error) {
		return o.factory.CreateFromConnectionString(connectionString, protocol)
	})
}

// CreateWithTransport creates a client multiplexed over transport. The
// transport's lock and worker are borrowed; the client never starts a
// worker of its own.
func CreateWithTransport(transport SharedTransport, cfg *lowlevel.Config, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, invalidArg("transport is nil")
	}
	if cfg == nil {
		return nil, invalidArg("config is nil")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	lk := transport.Lock()
	if lk == nil {
		o.logger.Error("Shared transport returned no lock")
		return nil, clientError("transport lock unavailable", nil)
	}

	llTransport := transport.LowLevelTransport()
	if llTransport == nil {
		o.logger.Error("Shared transport returned no lower-layer transport")
		return nil, clientError("lower-layer transport unavailable", nil)
	}

	deviceConfig := &lowlevel.DeviceConfig{
		Protocol:       cfg.Protocol,
		Transport:      llTransport,
		DeviceID:       cfg.DeviceID,
		DeviceKey:      cfg.DeviceKey,
		DeviceSasToken: cfg.DeviceSasToken,
	}

	if err := lk.Lock(); err != nil {
		o.logger.WithError(err).Error("Could not acquire transport lock")
		return nil, clientError("could not acquire transport lock", err)
	}
	ll, err := o.factory.CreateWithTransport(deviceConfig)
	if uerr := lk.Unlock(); uerr != nil {
		o.logger.WithError(uerr).Error("Unable to unlock transport lock")
	}
	if err != nil {
		o.logger.WithError(err).WithField("device", cfg.DeviceID).Error("Lower-layer client creation failed")
		return nil, clientError("lower-layer client creation failed", err)
	}

	return &Client{
		ll:          ll,
		transport:   transport,
		lock:        lk,
		ownsLock:    false,
		startWorker: o.startWorker,
		interval:    o.interval,
		logger:      o.logger,
	}, nil
}

func newPrivateClient(o *options, create func() (lowlevel.Client, error)) (*Client, error) {
	lk, err := o.newLock()
	if err != nil || lk == nil {
		o.logger.WithError(err).Error("Lock creation failed")
		return nil, clientError("lock creation failed", err)
	}

	ll, err := create()
	if err != nil {
		closeLock(lk, o.logger)
		o.logger.WithError(err).Error("Lower-layer client creation failed")
		return nil, clientError("lower-layer client creation failed", err)
	}

	return &Client{
		ll:          ll,
		lock:        lk,
		ownsLock:    true,
		startWorker: o.startWorker,
		interval:    o.interval,
		logger:      o.logger,
	}, nil
}

// Destroy stops the worker, destroys the lower-layer client and releases
// the lock if the client owns it. It is a no-op on a nil or already
// destroyed client.
//
// The lock is released before the worker is joined. The worker checks the
// stop flag under the lock before calling DoWork, so its last iteration
// never reaches the destroyed lower layer.
func (c *Client) Destroy() {
	if c == nil {
		return
	}
	c.destroyOnce.Do(c.destroy)
}

func (c *Client) destroy() {
	c.destroyed.Store(true)

	locked := true
	if err := c.lock.Lock(); err != nil {
		locked = false
		c.logger.WithError(err).Error("Unable to lock, will still proceed to end the worker without locking")
	}

	worker := c.currentWorker()
	okToJoin := false
	if worker != nil {
		c.stop.Store(true)
		okToJoin = true
	}
	if c.transport != nil {
		okToJoin = c.transport.SignalEndWorkerThread(c)
	}

	c.ll.Destroy()

	if locked {
		if err := c.lock.Unlock(); err != nil {
			c.logger.WithError(err).Error("Unable to unlock")
		}
	}

	if okToJoin {
		if worker != nil {
			worker.Join()
		}
		if c.transport != nil {
			c.transport.JoinWorkerThread(c)
		}
	}

	if c.ownsLock {
		closeLock(c.lock, c.logger)
	}
	c.logger.Debug("Client destroyed")
}

// SendEventAsync queues msg for delivery. callback, if not nil, is invoked
// from the worker once the event is settled. Starts the worker if needed.
func (c *Client) SendEventAsync(msg *lowlevel.Message, callback lowlevel.EventConfirmationCallback) error {
	if err := c.usable(); err != nil {
		return err
	}
	if msg == nil {
		return invalidArg("message is nil")
	}

	if err := c.acquire(); err != nil {
		return err
	}
	defer c.unlock()

	if err := c.startWorkerIfNeeded(); err != nil {
		c.logger.WithError(err).Error("Could not start worker thread")
		return clientError("could not start worker thread", err)
	}
	return c.ll.SendEventAsync(msg, callback)
}

// GetSendStatus reports whether events are still waiting to be delivered.
func (c *Client) GetSendStatus() (lowlevel.Status, error) {
	if err := c.usable(); err != nil {
		return lowlevel.StatusIdle, err
	}

	if err := c.acquire(); err != nil {
		return lowlevel.StatusIdle, err
	}
	defer c.unlock()

	return c.ll.GetSendStatus()
}

// SetMessageCallback registers the callback invoked from the worker for
// every cloud-to-device message. Starts the worker if needed.
func (c *Client) SetMessageCallback(callback lowlevel.MessageCallback) error {
	if err := c.usable(); err != nil {
		return err
	}

	if err := c.acquire(); err != nil {
		return err
	}
	defer c.unlock()

	if err := c.startWorkerIfNeeded(); err != nil {
		c.logger.WithError(err).Error("Could not start worker thread")
		return clientError("could not start worker thread", err)
	}
	return c.ll.SetMessageCallback(callback)
}

// GetLastMessageReceiveTime returns when the last inbound message arrived.
func (c *Client) GetLastMessageReceiveTime() (time.Time, error) {
	if err := c.usable(); err != nil {
		return time.Time{}, err
	}

	if err := c.acquire(); err != nil {
		return time.Time{}, err
	}
	defer c.unlock()

	return c.ll.GetLastMessageReceiveTime()
}

// SetOption passes an option through to the lower layer.
func (c *Client) SetOption(name string, value any) error {
	if err := c.usable(); err != nil {
		return err
	}
	if name == "" || value == nil {
		c.logger.Error("Invalid option (empty name or nil value)")
		return invalidArg("option name and value are required")
	}

	if err := c.acquire(); err != nil {
		return err
	}
	defer c.unlock()

	if err := c.ll.SetOption(name, value); err != nil {
		c.logger.WithError(err).WithField("option", name).Error("Lower-layer SetOption failed")
		return err
	}
	return nil
}

// WorkerRunning reports whether the client's private worker is alive.
// Always false for clients attached to a shared transport.
func (c *Client) WorkerRunning() bool {
	if c == nil {
		return false
	}
	w := c.currentWorker()
	return w != nil && !w.Exited()
}

// StopRequested reports whether Destroy has asked the worker to stop.
func (c *Client) StopRequested() bool {
	if c == nil {
		return false
	}
	return c.stop.Load()
}

// usable rejects nil and destroyed clients without touching the lock.
func (c *Client) usable() error {
	if c == nil {
		return invalidArg("client is nil")
	}
	if c.destroyed.Load() {
		return invalidArg("client is destroyed")
	}
	return nil
}

// startWorkerIfNeeded must be called with the lock held.
func (c *Client) startWorkerIfNeeded() error {
	if c.transport != nil {
		return c.transport.StartWorkerThread(c)
	}
	if c.currentWorker() != nil {
		return nil
	}

	c.stop.Store(false)
	w, err := c.startWorker("iothub-worker", c.scheduleWork)
	if err != nil {
		return err
	}
	if w == nil {
		return errors.New("worker starter returned no worker")
	}

	c.workerMu.Lock()
	c.worker = w
	c.workerMu.Unlock()
	c.logger.Debug("Worker started")
	return nil
}

func (c *Client) currentWorker() Worker {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	return c.worker
}

// acquire takes the lock and rejects a client destroyed while the caller
// was waiting for it.
func (c *Client) acquire() error {
	if err := c.lock.Lock(); err != nil {
		c.logger.WithError(err).Error("Could not acquire lock")
		return clientError("could not acquire lock", err)
	}
	if c.destroyed.Load() {
		c.unlock()
		return invalidArg("client is destroyed")
	}
	return nil
}

func (c *Client) unlock() {
	if err := c.lock.Unlock(); err != nil {
		c.logger.WithError(err).Error("Unable to unlock")
	}
}

func closeLock(lk Locker, logger *logrus.Logger) {
	closer, ok := lk.(lock.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.WithError(err).Warn("Unable to close lock")
	}
}
