package llclient

import (
	"context"
	"fmt"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/hubclient/pkg/lowlevel"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type pendingEvent struct {
	msg        *lowlevel.Message
	callback   lowlevel.EventConfirmationCallback
	enqueuedAt time.Time
}

// Client implements lowlevel.Client on top of a protocol Link.
type Client struct {
	cfg       lowlevel.Config
	link      Link
	transport *Transport
	logger    *logrus.Logger

	queue   mpmc.RingBuffer[*pendingEvent]
	options *orderedmap.OrderedMap[string, any]

	messageTimeout  time.Duration
	batchSize       int
	messageCallback lowlevel.MessageCallback
	lastReceive     time.Time
	destroyed       bool

	now func() time.Time
}

func newClient(cfg *lowlevel.Config, link Link, queueCapacity uint32, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	if queueCapacity == 0 {
		queueCapacity = DefaultQueueCapacity
	}

	return &Client{
		cfg:       *cfg,
		link:      link,
		logger:    logger,
		queue:     mpmc.New[*pendingEvent](queueCapacity),
		options:   orderedmap.New[string, any](),
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// DeviceID returns the device the client was created for.
func (c *Client) DeviceID() string {
	return c.cfg.DeviceID
}

// SendEventAsync queues msg for delivery on a later DoWork call.
func (c *Client) SendEventAsync(msg *lowlevel.Message, callback lowlevel.EventConfirmationCallback) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidConfig)
	}
	if c.destroyed {
		return ErrDestroyed
	}

	ev := &pendingEvent{
		msg:        msg.Clone(),
		callback:   callback,
		enqueuedAt: c.now(),
	}
	if err := c.queue.Enqueue(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueFull, err)
	}

	c.logger.WithFields(logrus.Fields{
		"device":     c.cfg.DeviceID,
		"message_id": msg.ID,
		"bytes":      len(msg.Payload),
	}).Debug("Queued event")
	return nil
}

// GetSendStatus reports busy while events are waiting to be delivered.
func (c *Client) GetSendStatus() (lowlevel.Status, error) {
	if c.destroyed {
		return lowlevel.StatusIdle, ErrDestroyed
	}
	if c.queue.IsEmpty() {
		return lowlevel.StatusIdle, nil
	}
	return lowlevel.StatusBusy, nil
}

// SetMessageCallback registers the callback for cloud-to-device messages.
// A nil callback stops message polling.
func (c *Client) SetMessageCallback(callback lowlevel.MessageCallback) error {
	if c.destroyed {
		return ErrDestroyed
	}
	c.messageCallback = callback
	return nil
}

// GetLastMessageReceiveTime returns when the last inbound message was
// dispatched, or ErrNoMessageReceived.
func (c *Client) GetLastMessageReceiveTime() (time.Time, error) {
	if c.destroyed {
		return time.Time{}, ErrDestroyed
	}
	if c.lastReceive.IsZero() {
		return time.Time{}, ErrNoMessageReceived
	}
	return c.lastReceive, nil
}

// SetOption applies one of the Option* settings.
func (c *Client) SetOption(name string, value any) error {
	if c.destroyed {
		return ErrDestroyed
	}

	switch name {
	case OptionMessageTimeout:
		d, err := parseMessageTimeout(value)
		if err != nil {
			return err
		}
		c.messageTimeout = d
		c.options.Set(name, d)
	case OptionBatchSize:
		n, err := parseBatchSize(value)
		if err != nil {
			return err
		}
		c.batchSize = n
		c.options.Set(name, n)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}

	c.logger.WithFields(logrus.Fields{
		"device": c.cfg.DeviceID,
		"option": name,
	}).Debug("Option set")
	return nil
}

// Option returns the value last set for name.
func (c *Client) Option(name string) (any, bool) {
	return c.options.Get(name)
}

// OptionNames lists the options that have been set, in the order they were
// first set.
func (c *Client) OptionNames() []string {
	names := make([]string, 0, c.options.Len())
	for pair := c.options.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// DoWork delivers queued events and dispatches pending inbound messages.
func (c *Client) DoWork() {
	if c.destroyed {
		return
	}
	c.sendPending()
	c.receivePending()
}

func (c *Client) sendPending() {
	for i := 0; i < c.batchSize && !c.queue.IsEmpty(); i++ {
		ev, err := c.queue.Dequeue()
		if err != nil {
			break
		}

		if c.messageTimeout > 0 && c.now().Sub(ev.enqueuedAt) > c.messageTimeout {
			c.logger.WithFields(logrus.Fields{
				"device":     c.cfg.DeviceID,
				"message_id": ev.msg.ID,
			}).Warn("Event expired before delivery")
			c.confirm(ev, lowlevel.ConfirmationMessageTimeout)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultLinkTimeout)
		err = c.link.Send(ctx, ev.msg)
		cancel()
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"device":     c.cfg.DeviceID,
				"message_id": ev.msg.ID,
			}).Error("Failed to deliver event")
			c.confirm(ev, lowlevel.ConfirmationError)
			continue
		}
		c.confirm(ev, lowlevel.ConfirmationOK)
	}
}

func (c *Client) receivePending() {
	if c.messageCallback == nil {
		return
	}

	for i := 0; i < c.batchSize; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultLinkTimeout)
		msg, err := c.link.Receive(ctx)
		cancel()
		if err != nil {
			c.logger.WithError(err).WithField("device", c.cfg.DeviceID).Warn("Failed to receive message")
			return
		}
		if msg == nil {
			return
		}

		c.lastReceive = c.now()
		disposition := c.messageCallback(msg)
		c.logger.WithFields(logrus.Fields{
			"device":      c.cfg.DeviceID,
			"message_id":  msg.ID,
			"disposition": disposition.String(),
		}).Debug("Dispatched message")
	}
}

func (c *Client) confirm(ev *pendingEvent, result lowlevel.ConfirmationResult) {
	if ev.callback != nil {
		ev.callback(ev.msg, result)
	}
}

// Destroy confirms every queued event with ConfirmationBecauseDestroy,
// detaches from a shared transport and closes the link. Calling it again is
// a no-op.
func (c *Client) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true

	for !c.queue.IsEmpty() {
		ev, err := c.queue.Dequeue()
		if err != nil {
			break
		}
		c.confirm(ev, lowlevel.ConfirmationBecauseDestroy)
	}

	if c.transport != nil {
		c.transport.detach(c.cfg.DeviceID)
	}
	if err := c.link.Close(); err != nil {
		c.logger.WithError(err).WithField("device", c.cfg.DeviceID).Warn("Error closing link")
	}

	c.logger.WithField("device", c.cfg.DeviceID).Debug("Device client destroyed")
}
