package llclient

import "errors"

var (
	ErrInvalidConfig           = errors.New("invalid device configuration")
	ErrInvalidConnectionString = errors.New("invalid connection string")
	ErrUnsupportedProtocol     = errors.New("unsupported protocol")
	ErrUnsupportedTransport    = errors.New("unsupported transport")
	ErrQueueFull               = errors.New("send queue full")
	ErrDestroyed               = errors.New("client destroyed")
	ErrUnknownOption           = errors.New("unknown option")
	ErrInvalidOptionValue      = errors.New("invalid option value")
	ErrNoMessageReceived       = errors.New("no message received yet")
	ErrDeviceAttached          = errors.New("device already attached to transport")
)
