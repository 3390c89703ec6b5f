package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/hubclient/pkg/iothub"
	"github.com/srg/hubclient/pkg/lowlevel"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print cloud-to-device messages",
	Long: `Registers a message callback and prints every cloud-to-device message
until Ctrl+C or --duration elapses.

Examples:
  # Listen until Ctrl+C
  hubclient listen --redis localhost:6379 -c "$HUB_DEVICE"

  # Listen for 30 seconds, rejecting everything
  hubclient listen --redis localhost:6379 -c "$HUB_DEVICE" --duration 30s --reject`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

var (
	listenDuration time.Duration
	listenReject   bool
)

func init() {
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 0, "Stop after this long (0 = until Ctrl+C)")
	listenCmd.Flags().BoolVar(&listenReject, "reject", false, "Reject messages instead of accepting them")
}

func runListen(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()

	cs, err := s.connectionString()
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	client, err := iothub.CreateFromConnectionString(cs, s.protocol, s.clientOptions()...)
	if err != nil {
		return err
	}
	defer client.Destroy()
	if err := s.configure(client); err != nil {
		return err
	}

	disposition := lowlevel.DispositionAccepted
	if listenReject {
		disposition = lowlevel.DispositionRejected
	}

	ctx, cancel := signalContext(cmd.Context(), listenDuration)
	defer cancel()

	printer := &messagePrinter{out: cmd.OutOrStdout()}
	if err := client.SetMessageCallback(func(msg *lowlevel.Message) lowlevel.Disposition {
		printer.Print(msg, disposition)
		return disposition
	}); err != nil {
		return err
	}

	if listenDuration > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Listening for %s...\n", listenDuration)
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "Listening. Press Ctrl+C to stop...")
	}
	<-ctx.Done()

	// Stop the worker before reading the count
	client.Destroy()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d messages received\n", printer.Count())
	return nil
}

// messagePrinter writes one line per message. Messages arrive on the
// worker goroutine.
type messagePrinter struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

func (p *messagePrinter) Print(msg *lowlevel.Message, d lowlevel.Disposition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++

	stamp := color.New(color.FgCyan)
	stamp.Fprintf(p.out, "[%s] ", time.Now().Format(time.TimeOnly))
	fmt.Fprintf(p.out, "%s %q", msg.ID, msg.Payload)
	if props := formatProperties(msg.Properties); props != "" {
		fmt.Fprintf(p.out, " %s", props)
	}
	if d != lowlevel.DispositionAccepted {
		color.New(color.FgYellow).Fprintf(p.out, " (%s)", d)
	}
	fmt.Fprintln(p.out)
}

func (p *messagePrinter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func formatProperties(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+props[k])
	}
	return strings.Join(parts, " ")
}
