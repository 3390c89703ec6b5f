package lowlevel

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status reports whether a client still has events to deliver.
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ConfirmationResult is the outcome reported for a sent event.
type ConfirmationResult int

const (
	ConfirmationOK ConfirmationResult = iota
	ConfirmationBecauseDestroy
	ConfirmationMessageTimeout
	ConfirmationError
)

func (r ConfirmationResult) String() string {
	switch r {
	case ConfirmationOK:
		return "ok"
	case ConfirmationBecauseDestroy:
		return "because_destroy"
	case ConfirmationMessageTimeout:
		return "message_timeout"
	case ConfirmationError:
		return "error"
	default:
		return fmt.Sprintf("confirmation(%d)", int(r))
	}
}

// Disposition is returned by a MessageCallback to settle an inbound message.
type Disposition int

const (
	DispositionAccepted Disposition = iota
	DispositionRejected
	DispositionAbandoned
)

func (d Disposition) String() string {
	switch d {
	case DispositionAccepted:
		return "accepted"
	case DispositionRejected:
		return "rejected"
	case DispositionAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Message is a device-to-cloud event or a cloud-to-device message.
type Message struct {
	ID            string
	CorrelationID string
	ContentType   string
	Payload       []byte
	Properties    map[string]string
	CreatedAt     time.Time
}

// NewMessage creates a message with a fresh ID.
func NewMessage(payload []byte) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Payload:    payload,
		Properties: map[string]string{},
		CreatedAt:  time.Now(),
	}
}

// NewStringMessage creates a text message with a fresh ID.
func NewStringMessage(payload string) *Message {
	msg := NewMessage([]byte(payload))
	msg.ContentType = "text/plain"
	return msg
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Properties != nil {
		c.Properties = maps.Clone(m.Properties)
	}
	return &c
}

// EventConfirmationCallback is invoked from DoWork once an event has been
// settled.
type EventConfirmationCallback func(msg *Message, result ConfirmationResult)

// MessageCallback is invoked from DoWork for every inbound message.
type MessageCallback func(msg *Message) Disposition

// Protocol identifies the wire protocol a client speaks. Concrete lower
// layers extend it with whatever they need to open links.
type Protocol interface {
	Name() string
}

// Config describes a device connecting through its own connection.
type Config struct {
	Protocol       Protocol
	DeviceID       string
	DeviceKey      string
	DeviceSasToken string
	HubName        string
	HubSuffix      string
	GatewayHost    string
}

// DeviceConfig describes a device multiplexed over a shared Transport.
type DeviceConfig struct {
	Protocol       Protocol
	Transport      Transport
	DeviceID       string
	DeviceKey      string
	DeviceSasToken string
}

// Client is the single-threaded device client.
type Client interface {
	SendEventAsync(msg *Message, callback EventConfirmationCallback) error
	GetSendStatus() (Status, error)
	SetMessageCallback(callback MessageCallback) error
	GetLastMessageReceiveTime() (time.Time, error)
	SetOption(name string, value any) error
	DoWork()
	Destroy()
}

// Factory creates Clients.
type Factory interface {
	Create(cfg *Config) (Client, error)
	CreateFromConnectionString(connectionString string, protocol Protocol) (Client, error)
	CreateWithTransport(cfg *DeviceConfig) (Client, error)
}

// Transport is a connection shared by several Clients. DoWork pumps every
// client attached to it.
type Transport interface {
	DoWork()
	Destroy()
}
