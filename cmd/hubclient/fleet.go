package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hubclient/pkg/iothub"
	"github.com/srg/hubclient/pkg/llclient"
	"github.com/srg/hubclient/pkg/transport"
)

// fleetCmd represents the fleet command
var fleetCmd = &cobra.Command{
	Use:   "fleet <device-id>[,<device-id>...] [payload]",
	Short: "Send from several devices over one shared connection",
	Long: `Attaches every listed device to a single shared transport and sends
events from each. The connection string supplies the hub host and the
device key; its DeviceId is ignored.

Examples:
  hubclient fleet -c "HostName=myhub.example.net;DeviceId=x;SharedAccessKey=a2V5" dev-1,dev-2,dev-3 "hello from {device}"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFleet,
}

var (
	fleetCount    int
	fleetInterval time.Duration
	fleetTimeout  time.Duration
)

func init() {
	fleetCmd.Flags().IntVarP(&fleetCount, "count", "n", 1, "Number of events per device")
	fleetCmd.Flags().DurationVar(&fleetInterval, "interval", 0, "Pause between two rounds of events")
	fleetCmd.Flags().DurationVar(&fleetTimeout, "timeout", 10*time.Second, "Overall time limit for sending and confirmation")
}

func runFleet(cmd *cobra.Command, args []string) error {
	devices := splitDevices(args[0])
	if len(devices) == 0 {
		return fmt.Errorf("at least one device id is required")
	}
	payload := "{device} {seq}"
	if len(args) == 2 {
		payload = args[1]
	}
	if fleetCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()

	cs, err := s.connectionString()
	if err != nil {
		return err
	}
	hub, err := llclient.ParseConnectionString(cs)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	llTransport, err := llclient.NewTransport(s.protocol, hub.HubName, hub.HubSuffix, s.logger)
	if err != nil {
		return err
	}
	shared, err := transport.New(llTransport,
		transport.WithLogger(s.logger),
		transport.WithWorkerInterval(s.cfg.WorkerInterval),
		transport.WithName("fleet-worker"))
	if err != nil {
		return err
	}
	defer shared.Destroy()

	targets := make([]target, 0, len(devices))
	defer func() {
		for _, tg := range targets {
			tg.client.Destroy()
		}
	}()

	for _, id := range devices {
		cfg := *hub
		cfg.DeviceID = id
		cfg.Protocol = s.protocol

		client, err := iothub.CreateWithTransport(shared, &cfg, s.clientOptions()...)
		if err != nil {
			return fmt.Errorf("attach %s: %w", id, err)
		}
		targets = append(targets, target{device: id, client: client})
		if err := s.configure(client); err != nil {
			return err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"devices": len(targets),
		"host":    llTransport.HostName(),
	}).Info("Fleet attached")

	ctx, cancel := signalContext(cmd.Context(), fleetTimeout)
	defer cancel()

	t := sendEvents(ctx, cmd, targets, fleetCount, payload, fleetInterval)
	t.Print(cmd.OutOrStdout())

	if interrupted(ctx) {
		return context.Canceled
	}
	if want := fleetCount * len(targets); t.Confirmed() != want {
		return fmt.Errorf("%w: %d of %d", ErrUnconfirmed, t.Confirmed(), want)
	}
	return nil
}

func splitDevices(csv string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, id := range strings.Split(csv, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
