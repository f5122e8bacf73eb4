// Nxscope-monitor is an interactive channel monitor for NxScope targets.
//
// It connects to a target over serial, an RTT TCP tunnel, a websocket
// bridge, or a built-in simulated device, and presents a live TUI for
// toggling channels, adjusting sample-rate dividers, and watching
// samples arrive.
//
// Usage:
//
//	nxscope-monitor [flags]
//
// See 'nxscope-monitor --help' for transport selection flags.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/muurk/nxscope/internal/logging"
	"github.com/muurk/nxscope/internal/monitor"
	"github.com/muurk/nxscope/internal/version"
	"github.com/muurk/nxscope/pkg/scope"
	"github.com/muurk/nxscope/pkg/sim"
	"github.com/muurk/nxscope/pkg/transport"
)

var (
	useSim     bool
	serialPath string
	serialBaud int
	rttAddr    string
	wsURL      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nxscope-monitor",
	Short: "NxScope Interactive Channel Monitor",
	Long: `An interactive TUI for watching NxScope target channels live.

Connects over serial, an RTT TCP tunnel, a websocket bridge, or a
built-in simulated device. Channels can be toggled and their sample
rate dividers adjusted while samples stream in.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMonitor,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().BoolVar(&useSim, "sim", false, "Use the built-in simulated device")
	rootCmd.Flags().StringVar(&serialPath, "serial", "", "Serial device path (e.g. /dev/ttyACM0)")
	rootCmd.Flags().IntVar(&serialBaud, "baud", 115200, "Serial baud rate")
	rootCmd.Flags().StringVar(&rttAddr, "rtt", "", "RTT tunnel address (host:port)")
	rootCmd.Flags().StringVar(&wsURL, "ws", "", "Websocket bridge URL (ws://host:port/stream)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if err := logging.InitializeFromEnv(); err != nil {
		return fmt.Errorf("logging setup failed: %w", err)
	}
	defer logging.Sync()

	var (
		tr     transport.Transport
		target string
	)
	switch {
	case useSim:
		tr = sim.NewDevice(sim.Config{Channels: sim.DefaultChannels()})
		target = "simulated device"
	case serialPath != "":
		tr = transport.NewSerial(serialPath, serialBaud)
		target = fmt.Sprintf("%s @ %d baud", serialPath, serialBaud)
	case rttAddr != "":
		tr = transport.NewRTT(rttAddr)
		target = fmt.Sprintf("rtt %s", rttAddr)
	case wsURL != "":
		tr = transport.NewWebSocket(wsURL)
		target = wsURL
	default:
		return fmt.Errorf("no target selected (use --sim, --serial, --rtt or --ws)")
	}

	sess := scope.NewSession(tr, scope.Config{})
	defer sess.Disconnect()

	p := tea.NewProgram(monitor.New(sess, target), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor error: %w", err)
	}

	return nil
}
