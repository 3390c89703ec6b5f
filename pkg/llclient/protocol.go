package llclient

import (
	"context"

	"github.com/srg/hubclient/pkg/lowlevel"
)

// Link carries messages for one device.
type Link interface {
	// Send delivers an event to the hub.
	Send(ctx context.Context, msg *lowlevel.Message) error
	// Receive returns the next pending cloud-to-device message, or nil when
	// none is pending. It must not block waiting for one.
	Receive(ctx context.Context) (*lowlevel.Message, error)
	Close() error
}

// Protocol is a lowlevel.Protocol able to open device links.
type Protocol interface {
	lowlevel.Protocol
	Open(cfg *lowlevel.Config) (Link, error)
}

func asProtocol(p lowlevel.Protocol) (Protocol, error) {
	if p == nil {
		return nil, ErrUnsupportedProtocol
	}
	proto, ok := p.(Protocol)
	if !ok {
		return nil, ErrUnsupportedProtocol
	}
	return proto, nil
}
