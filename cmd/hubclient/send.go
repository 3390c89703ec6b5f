package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/hubclient/pkg/iothub"
	"github.com/srg/hubclient/pkg/llclient"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [payload]",
	Short: "Send telemetry events and wait for their confirmation",
	Long: `Sends events from one device and waits until each is confirmed.

The payload may reference {seq} (event number) and {device} (device id).

Examples:
  # Dry run over the in-process protocol
  hubclient send -c "HostName=myhub.example.net;DeviceId=dev-1;SharedAccessKey=a2V5" "temp=21"

  # Ten events over redis, one every 100ms
  hubclient send --redis localhost:6379 -c "$HUB_DEVICE" --count 10 --interval 100ms "reading {seq}"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

var (
	sendCount    int
	sendInterval time.Duration
	sendTimeout  time.Duration
)

func init() {
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 1, "Number of events to send")
	sendCmd.Flags().DurationVar(&sendInterval, "interval", 0, "Pause between two events")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "Overall time limit for sending and confirmation")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload := "{seq}"
	if len(args) == 1 {
		payload = args[0]
	}
	if sendCount <= 0 {
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

	// Arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	client, err := iothub.CreateFromConnectionString(cs, s.protocol, s.clientOptions()...)
	if err != nil {
		return err
	}
	defer client.Destroy()
	if err := s.configure(client); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), sendTimeout)
	defer cancel()

	device := "device"
	if parsed, err := llclient.ParseConnectionString(cs); err == nil {
		device = parsed.DeviceID
	}
	t := sendEvents(ctx, cmd, []target{{device: device, client: client}}, sendCount, payload, sendInterval)

	out := cmd.OutOrStdout()
	t.Print(out)
	if interrupted(ctx) {
		return context.Canceled
	}
	if t.Confirmed() != sendCount {
		return fmt.Errorf("%w: %d of %d", ErrUnconfirmed, t.Confirmed(), sendCount)
	}
	return nil
}

// target is one device events are sent from.
type target struct {
	device string
	client *iothub.Client
}

// sendEvents sends count events from every target and waits until each is
// settled or ctx ends.
func sendEvents(ctx context.Context, cmd *cobra.Command, targets []target, count int, payload string, interval time.Duration) *tally {
	devices := make([]string, 0, len(targets))
	for _, tg := range targets {
		devices = append(devices, tg.device)
	}
	total := count * len(targets)
	t := newTally(total, devices...)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Sending %d events", total), total)
	progress.Start()
	defer progress.Stop()

	for seq := 0; seq < count; seq++ {
		for _, tg := range targets {
			msg := lowlevel.NewStringMessage(expandPayload(payload, seq, tg.device))
			msg.Properties["seq"] = strconv.Itoa(seq)

			device := tg.device
			err := tg.client.SendEventAsync(msg, func(_ *lowlevel.Message, result lowlevel.ConfirmationResult) {
				t.record(device, result)
				progress.Add(1)
			})
			if err != nil {
				t.sendFailed(device)
				progress.Add(1)
			}
		}

		if interval > 0 && seq < count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	select {
	case <-t.Done():
	case <-ctx.Done():
	}
	return t
}

func expandPayload(payload string, seq int, device string) string {
	return strings.NewReplacer("{seq}", strconv.Itoa(seq), "{device}", device).Replace(payload)
}
