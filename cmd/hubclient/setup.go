package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hubclient/pkg/config"
	"github.com/srg/hubclient/pkg/iothub"
	"github.com/srg/hubclient/pkg/llclient"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// session holds what every command builds before talking to the hub.
type session struct {
	cfg      *config.Config
	logger   *logrus.Logger
	protocol lowlevel.Protocol
	close    func() error
}

// loadConfig reads --config and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if proto, _ := cmd.Flags().GetString("protocol"); proto != "" {
		cfg.Protocol = proto
	}
	if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
		cfg.Protocol = config.ProtocolRedis
		cfg.Redis.Address = addr
	}
	if cs, _ := cmd.Flags().GetString("connection-string"); cs != "" {
		cfg.ConnectionString = cs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSession loads configuration, the logger and the protocol. The caller
// must call close.
func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, close: func() error { return nil }}
	switch cfg.Protocol {
	case config.ProtocolRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(cmd.Context()).Err(); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		s.protocol = llclient.NewRedis(rdb, cfg.Redis.Namespace)
		s.close = rdb.Close
	default:
		s.protocol = llclient.NewMemory()
	}

	logger.WithFields(logrus.Fields{
		"protocol": cfg.Protocol,
		"redis":    cfg.Redis.Address,
	}).Debug("Session ready")
	return s, nil
}

// clientOptions builds the facade options for the configured stack.
func (s *session) clientOptions() []iothub.Option {
	return []iothub.Option{
		iothub.WithLogger(s.logger),
		iothub.WithWorkerInterval(s.cfg.WorkerInterval),
		iothub.WithFactory(&llclient.Factory{
			Logger:        s.logger,
			QueueCapacity: s.cfg.QueueCapacity,
		}),
	}
}

// configure applies the lower-layer options from the configuration.
func (s *session) configure(c *iothub.Client) error {
	if err := c.SetOption(llclient.OptionBatchSize, s.cfg.BatchSize); err != nil {
		return err
	}
	if s.cfg.MessageTimeout > 0 {
		if err := c.SetOption(llclient.OptionMessageTimeout, s.cfg.MessageTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) connectionString() (string, error) {
	if s.cfg.ConnectionString == "" {
		return "", ErrMissingConnectionString
	}
	return s.cfg.ConnectionString, nil
}

// signalContext is cancelled on Ctrl+C, SIGTERM or, when d > 0, after d.
func signalContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}

// interrupted reports whether ctx ended because of a signal rather than a
// deadline.
func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
