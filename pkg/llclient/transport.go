package llclient

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// Transport is one hub connection shared by several device clients. Its
// DoWork pumps every attached client.
type Transport struct {
	protocol  Protocol
	hubName   string
	hubSuffix string
	devices   *hashmap.Map[string, *Client]
	logger    *logrus.Logger
	destroyed atomic.Bool
}

// NewTransport creates a shared connection to hubName.hubSuffix.
func NewTransport(protocol lowlevel.Protocol, hubName, hubSuffix string, logger *logrus.Logger) (*Transport, error) {
	proto, err := asProtocol(protocol)
	if err != nil {
		return nil, err
	}
	if hubName == "" || hubSuffix == "" {
		return nil, fmt.Errorf("%w: hub name and suffix are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Transport{
		protocol:  proto,
		hubName:   hubName,
		hubSuffix: hubSuffix,
		devices:   hashmap.New[string, *Client](),
		logger:    logger,
	}, nil
}

// Protocol returns the protocol devices on this transport speak.
func (t *Transport) Protocol() lowlevel.Protocol {
	return t.protocol
}

// HostName returns the hub host the transport connects to.
func (t *Transport) HostName() string {
	return t.hubName + "." + t.hubSuffix
}

// DoWork pumps every attached client.
func (t *Transport) DoWork() {
	if t.destroyed.Load() {
		return
	}
	t.devices.Range(func(_ string, c *Client) bool {
		c.DoWork()
		return true
	})
}

// Destroy stops pumping. Devices still attached are left untouched; they
// are expected to be destroyed by their owners first.
func (t *Transport) Destroy() {
	if !t.destroyed.CompareAndSwap(false, true) {
		return
	}
	if n := t.devices.Len(); n > 0 {
		t.logger.WithField("devices", n).Warn("Transport destroyed with devices still attached")
	}
	t.logger.WithField("host", t.HostName()).Debug("Transport destroyed")
}

// Devices returns the IDs of attached devices, sorted.
func (t *Transport) Devices() []string {
	ids := make([]string, 0, t.devices.Len())
	t.devices.Range(func(id string, _ *Client) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

func (t *Transport) attach(c *Client) error {
	if t.destroyed.Load() {
		return fmt.Errorf("%w: transport destroyed", ErrUnsupportedTransport)
	}
	if !t.devices.Insert(c.cfg.DeviceID, c) {
		return fmt.Errorf("%w: %s", ErrDeviceAttached, c.cfg.DeviceID)
	}
	c.transport = t
	return nil
}

func (t *Transport) detach(deviceID string) {
	t.devices.Del(deviceID)
}
