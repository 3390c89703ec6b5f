package llclient

import (
	"fmt"
	"strings"

	"github.com/srg/hubclient/pkg/lowlevel"
)

const (
	keyHostName              = "HostName"
	keyDeviceID              = "DeviceId"
	keySharedAccessKey       = "SharedAccessKey"
	keySharedAccessSignature = "SharedAccessSignature"
	keyGatewayHostName       = "GatewayHostName"
)

// ParseConnectionString parses a device connection string of the form
//
//	HostName=<hub>.<suffix>;DeviceId=<id>;SharedAccessKey=<key>
//
// SharedAccessSignature may replace SharedAccessKey, and GatewayHostName is
// optional. The returned config has no protocol set.
func ParseConnectionString(connectionString string) (*lowlevel.Config, error) {
	if strings.TrimSpace(connectionString) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidConnectionString)
	}

	values := make(map[string]string)
	for _, part := range strings.Split(connectionString, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Values (keys, signatures) may contain '='; split on the first one only
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: malformed segment %q", ErrInvalidConnectionString, part)
		}
		values[key] = value
	}

	hostName := values[keyHostName]
	if hostName == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidConnectionString, keyHostName)
	}
	hubName, hubSuffix, ok := strings.Cut(hostName, ".")
	if !ok || hubName == "" || hubSuffix == "" {
		return nil, fmt.Errorf("%w: %s %q has no hub suffix", ErrInvalidConnectionString, keyHostName, hostName)
	}

	cfg := &lowlevel.Config{
		HubName:        hubName,
		HubSuffix:      hubSuffix,
		DeviceID:       values[keyDeviceID],
		DeviceKey:      values[keySharedAccessKey],
		DeviceSasToken: values[keySharedAccessSignature],
		GatewayHost:    values[keyGatewayHostName],
	}

	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidConnectionString, keyDeviceID)
	}
	if cfg.DeviceKey == "" && cfg.DeviceSasToken == "" {
		return nil, fmt.Errorf("%w: missing %s or %s", ErrInvalidConnectionString, keySharedAccessKey, keySharedAccessSignature)
	}
	if cfg.DeviceKey != "" && cfg.DeviceSasToken != "" {
		return nil, fmt.Errorf("%w: both %s and %s are set", ErrInvalidConnectionString, keySharedAccessKey, keySharedAccessSignature)
	}

	return cfg, nil
}
