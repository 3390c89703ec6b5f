package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hubclient",
	Short: "IoT hub device client",
	Long: `Device-side command-line client for an IoT hub:

- Send telemetry events and wait for their confirmation
- Listen for cloud-to-device messages
- Multiplex a fleet of devices over one shared connection

Events travel over the in-process memory protocol (for dry runs) or over
redis streams, selected with --protocol or --redis.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(fleetCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("protocol", "", "Protocol (memory, redis)")
	rootCmd.PersistentFlags().String("redis", "", "Redis address; implies --protocol redis")
	rootCmd.PersistentFlags().StringP("connection-string", "c", "", "Device connection string (HostName=...;DeviceId=...;SharedAccessKey=...)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("hubclient {{.Version}} (commit %s, built %s)\n", commit, date))
}
