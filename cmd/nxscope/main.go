// Nxscope is a command line client for NxScope instrumentation targets.
//
// It connects to a target over serial, an RTT TCP tunnel, a websocket
// bridge, or a built-in simulated device, and provides device inspection,
// channel configuration, and sample capture commands.
//
// Usage:
//
//	nxscope [command] [flags]
//
// See 'nxscope --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/nxscope/internal/logging"
	"github.com/muurk/nxscope/internal/version"
)

func main() {
	if err := logging.InitializeFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nxscope",
	Short: "NxScope Target Client",
	Long: `A command line client for NxScope instrumentation targets.

Connects over serial, an RTT TCP tunnel, a websocket bridge, or a
built-in simulated device, and provides device inspection, channel
configuration, and sample capture.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nxscope %s (commit: %s)\n", version.Version, version.Commit)
	},
}
