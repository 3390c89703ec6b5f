package llclient

import (
	"context"
	"errors"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/srg/hubclient/pkg/lowlevel"
)

var errLinkClosed = errors.New("link closed")

// Memory is an in-process protocol. Every device gets a MemoryLink that
// records sent events and hands out injected cloud-to-device messages.
type Memory struct {
	links *hashmap.Map[string, *MemoryLink]
}

// NewMemory creates an empty in-process protocol.
func NewMemory() *Memory {
	return &Memory{
		links: hashmap.New[string, *MemoryLink](),
	}
}

func (m *Memory) Name() string {
	return "memory"
}

// Open returns the device's link, reopening it if it was closed.
func (m *Memory) Open(cfg *lowlevel.Config) (Link, error) {
	if cfg == nil || cfg.DeviceID == "" {
		return nil, ErrInvalidConfig
	}
	link, _ := m.links.GetOrInsert(cfg.DeviceID, &MemoryLink{})
	link.reopen()
	return link, nil
}

// Link returns the link opened for deviceID, or nil.
func (m *Memory) Link(deviceID string) *MemoryLink {
	link, ok := m.links.Get(deviceID)
	if !ok {
		return nil
	}
	return link
}

// Inject queues a cloud-to-device message for deviceID, creating the link
// if the device has not connected yet.
func (m *Memory) Inject(deviceID string, msg *lowlevel.Message) {
	link, _ := m.links.GetOrInsert(deviceID, &MemoryLink{})
	link.Inject(msg)
}

// MemoryLink is the per-device end of the Memory protocol. It is safe for
// concurrent use.
type MemoryLink struct {
	mu      sync.Mutex
	sent    []*lowlevel.Message
	inbox   []*lowlevel.Message
	sendErr error
	closed  bool
}

func (l *MemoryLink) Send(_ context.Context, msg *lowlevel.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errLinkClosed
	}
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, msg.Clone())
	return nil
}

func (l *MemoryLink) Receive(_ context.Context) (*lowlevel.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errLinkClosed
	}
	if len(l.inbox) == 0 {
		return nil, nil
	}
	msg := l.inbox[0]
	l.inbox = l.inbox[1:]
	return msg, nil
}

func (l *MemoryLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Inject queues a cloud-to-device message.
func (l *MemoryLink) Inject(msg *lowlevel.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbox = append(l.inbox, msg)
}

// FailSends makes every following Send return err. A nil err clears it.
func (l *MemoryLink) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// Sent returns copies of the events delivered so far.
func (l *MemoryLink) Sent() []*lowlevel.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*lowlevel.Message, len(l.sent))
	for i, msg := range l.sent {
		out[i] = msg.Clone()
	}
	return out
}

// Pending returns the number of undelivered cloud-to-device messages.
func (l *MemoryLink) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inbox)
}

// Closed reports whether the owning client closed the link.
func (l *MemoryLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *MemoryLink) reopen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = false
}
