package llclient

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// Factory creates llclient Clients. The zero value is usable.
type Factory struct {
	Logger        *logrus.Logger
	QueueCapacity uint32 // outbound queue size per device (0 = DefaultQueueCapacity)
}

// NewFactory creates a Factory logging to logger.
func NewFactory(logger *logrus.Logger) *Factory {
	return &Factory{Logger: logger}
}

// Create opens a dedicated link for the device described by cfg.
func (f *Factory) Create(cfg *lowlevel.Config) (lowlevel.Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	proto, err := asProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	link, err := proto.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s link for %s: %w", proto.Name(), cfg.DeviceID, err)
	}

	c := newClient(cfg, link, f.QueueCapacity, f.logger())
	c.logger.WithFields(logrus.Fields{
		"device":   cfg.DeviceID,
		"hub":      cfg.HubName + "." + cfg.HubSuffix,
		"protocol": proto.Name(),
	}).Info("Device client created")
	return c, nil
}

// CreateFromConnectionString parses connectionString and creates a client
// speaking protocol.
func (f *Factory) CreateFromConnectionString(connectionString string, protocol lowlevel.Protocol) (lowlevel.Client, error) {
	cfg, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	cfg.Protocol = protocol
	return f.Create(cfg)
}

// CreateWithTransport creates a client multiplexed over cfg.Transport, which
// must be a *Transport.
func (f *Factory) CreateWithTransport(cfg *lowlevel.DeviceConfig) (lowlevel.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: device config is nil", ErrInvalidConfig)
	}
	t, ok := cfg.Transport.(*Transport)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTransport, cfg.Transport)
	}

	protocol := cfg.Protocol
	if protocol == nil {
		protocol = t.protocol
	}
	full := &lowlevel.Config{
		Protocol:       protocol,
		DeviceID:       cfg.DeviceID,
		DeviceKey:      cfg.DeviceKey,
		DeviceSasToken: cfg.DeviceSasToken,
		HubName:        t.hubName,
		HubSuffix:      t.hubSuffix,
	}
	if err := validateConfig(full); err != nil {
		return nil, err
	}
	if protocol.Name() != t.protocol.Name() {
		return nil, fmt.Errorf("%w: device speaks %s, transport speaks %s", ErrUnsupportedProtocol, protocol.Name(), t.protocol.Name())
	}

	link, err := t.protocol.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s link for %s: %w", t.protocol.Name(), full.DeviceID, err)
	}

	c := newClient(full, link, f.QueueCapacity, f.logger())
	if err := t.attach(c); err != nil {
		_ = link.Close()
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"device": full.DeviceID,
		"hub":    t.HostName(),
	}).Info("Device client attached to shared transport")
	return c, nil
}

func (f *Factory) logger() *logrus.Logger {
	if f.Logger == nil {
		return logrus.StandardLogger()
	}
	return f.Logger
}

func validateConfig(cfg *lowlevel.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if cfg.Protocol == nil {
		return fmt.Errorf("%w: protocol is required", ErrInvalidConfig)
	}
	if cfg.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}
	if cfg.HubName == "" || cfg.HubSuffix == "" {
		return fmt.Errorf("%w: hub name and suffix are required", ErrInvalidConfig)
	}
	if cfg.DeviceKey == "" && cfg.DeviceSasToken == "" {
		return fmt.Errorf("%w: device key or SAS token is required", ErrInvalidConfig)
	}
	if cfg.DeviceKey != "" && cfg.DeviceSasToken != "" {
		return fmt.Errorf("%w: device key and SAS token are mutually exclusive", ErrInvalidConfig)
	}
	return nil
}
