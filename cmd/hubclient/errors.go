package main

import (
	"errors"
	"strings"

	"github.com/srg/hubclient/pkg/config"
	"github.com/srg/hubclient/pkg/iothub"
	"github.com/srg/hubclient/pkg/llclient"
)

// Command-level errors
var (
	// ErrMissingConnectionString indicates neither --connection-string nor
	// the config file named a device.
	ErrMissingConnectionString = errors.New("connection string is required")

	// ErrUnconfirmed indicates some events were not confirmed as delivered.
	ErrUnconfirmed = errors.New("not every event was confirmed")
)

// FormatUserError turns err into a one-line message with a hint where one
// is known.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var hint string
	switch {
	case errors.Is(err, ErrMissingConnectionString):
		hint = "pass --connection-string or set connection_string in --config"
	case errors.Is(err, llclient.ErrInvalidConnectionString):
		hint = "expected HostName=<hub>.<suffix>;DeviceId=<id>;SharedAccessKey=<key>"
	case errors.Is(err, config.ErrInvalidConfig):
		hint = "check the --config file and flags"
	case errors.Is(err, iothub.ErrInvalidArg):
		hint = "a required argument is missing"
	}

	if hint == "" {
		return msg
	}
	return strings.TrimSpace(msg) + " (" + hint + ")"
}
