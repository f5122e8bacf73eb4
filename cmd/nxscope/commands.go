package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/nxscope/internal/config"
	"github.com/muurk/nxscope/internal/discovery"
	"github.com/muurk/nxscope/pkg/scope"
	"github.com/muurk/nxscope/pkg/sim"
	"github.com/muurk/nxscope/pkg/transport"
)

// Transport selection flags
var (
	useSim      bool
	serialPath  string
	serialBaud  int
	rttAddr     string
	wsURL       string
	profileName string
	saveProfile string
	scanTimeout int
)

// Capture flags
var (
	captureCount    int
	captureDuration time.Duration
	captureDivider  int
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Use the built-in simulated device")
	rootCmd.PersistentFlags().StringVar(&serialPath, "serial", "", "Serial device path (e.g. /dev/ttyACM0)")
	rootCmd.PersistentFlags().IntVar(&serialBaud, "baud", 115200, "Serial baud rate")
	rootCmd.PersistentFlags().StringVar(&rttAddr, "rtt", "", "RTT tunnel address (host:port)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", "", "Websocket bridge URL (ws://host:port/stream)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Connect using a saved profile")
	rootCmd.PersistentFlags().StringVar(&saveProfile, "save", "", "Save the connection as a named profile")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(profilesCmd)
}

// openTransport builds the transport selected by flags or profile. The
// returned transport/address pair is also what gets recorded when --save
// is given.
func openTransport(reg *config.Registry) (transport.Transport, string, string, error) {
	if profileName != "" {
		p := reg.GetProfile(profileName)
		if p == nil {
			return nil, "", "", fmt.Errorf("unknown profile %q (see 'nxscope profiles')", profileName)
		}
		switch p.Transport {
		case "sim":
			return sim.NewDevice(sim.Config{Channels: sim.DefaultChannels()}), "sim", "", nil
		case "serial":
			baud := p.Baud
			if baud == 0 {
				baud = serialBaud
			}
			return transport.NewSerial(p.Address, baud), "serial", p.Address, nil
		case "rtt":
			return transport.NewRTT(p.Address), "rtt", p.Address, nil
		case "ws":
			return transport.NewWebSocket(p.Address), "ws", p.Address, nil
		default:
			return nil, "", "", fmt.Errorf("profile %q has unknown transport %q", profileName, p.Transport)
		}
	}

	switch {
	case useSim:
		return sim.NewDevice(sim.Config{Channels: sim.DefaultChannels()}), "sim", "", nil
	case serialPath != "":
		return transport.NewSerial(serialPath, serialBaud), "serial", serialPath, nil
	case rttAddr != "":
		return transport.NewRTT(rttAddr), "rtt", rttAddr, nil
	case wsURL != "":
		return transport.NewWebSocket(wsURL), "ws", wsURL, nil
	}

	return nil, "", "", fmt.Errorf("no target selected (use --sim, --serial, --rtt, --ws or --profile)")
}

// connect opens a session against the selected target and records the
// profile bookkeeping. The caller must call Disconnect on the session.
func connect(ctx context.Context) (*scope.Session, error) {
	reg, err := config.LoadRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	tr, trName, addr, err := openTransport(reg)
	if err != nil {
		return nil, err
	}

	cfg := scope.Config{}
	if prefs := reg.Preferences; prefs != nil {
		cfg.QueueLen = prefs.QueueLen
		cfg.CommandTimeout = time.Duration(prefs.CommandTimeout) * time.Millisecond
	}

	sess := scope.NewSession(tr, cfg)
	if err := sess.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	name := profileName
	if saveProfile != "" {
		name = saveProfile
		p := reg.EnsureProfile(name)
		p.Transport = trName
		p.Address = addr
		if trName == "serial" {
			p.Baud = serialBaud
		}
	}
	if name != "" {
		reg.UpdateProfileLastSeen(name, trName, addr)
		if err := reg.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save profile: %v\n", err)
		}
	}

	return sess, nil
}

// infoCmd prints the device description.
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show target device information",
	Long: `Connect to the target and print its device description.

The description includes the channel count, capability flags, and the
write padding the target expects on its receive path.`,
	Example: `  # Inspect the simulated device
  nxscope info --sim

  # Inspect a serial target
  nxscope info --serial /dev/ttyACM0 --baud 115200

  # Inspect through a debug probe tunnel
  nxscope info --rtt localhost:19021`,
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	info, err := sess.Info()
	if err != nil {
		return err
	}

	fmt.Printf("Channels:      %d\n", info.ChMax)
	fmt.Printf("Divider:       %v\n", info.DividerSupported())
	fmt.Printf("Acknowledge:   %v\n", info.AckSupported())
	fmt.Printf("Write padding: %d\n", info.RxPadding)

	return nil
}

// channelsCmd lists the target's channels.
var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List target channels",
	Long: `Connect to the target and list every channel it declares.

Each line shows the channel id, data type, vector dimension, metadata
length, current divider, enable state, and name.`,
	Example: `  # List channels on the simulated device
  nxscope channels --sim`,
	RunE: runChannels,
}

func runChannels(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	channels, err := sess.Channels()
	if err != nil {
		return err
	}

	fmt.Printf("%-4s %-8s %-5s %-5s %-4s %-8s %s\n",
		"ID", "TYPE", "VDIM", "MLEN", "DIV", "ENABLED", "NAME")
	for _, ch := range channels {
		name := ch.Name
		if !ch.IsValid() {
			name = "(undefined)"
		}
		fmt.Printf("%-4d %-8s %-5d %-5d %-4d %-8v %s\n",
			ch.ID, ch.Type(), ch.VDim, ch.MLen, ch.Div, ch.Enabled, name)
	}

	return nil
}

// captureCmd streams samples from selected channels to stdout.
var captureCmd = &cobra.Command{
	Use:   "capture [channel...]",
	Short: "Capture samples from target channels",
	Long: `Enable the given channels, start the stream, and print samples as
they arrive.

Channels are given as numeric ids. When no channels are listed and a
profile with channel presets is selected, the presets are applied
instead. Capture runs until --count samples were printed, --duration
elapsed, or interrupt.`,
	Example: `  # Stream two channels from the simulated device
  nxscope capture 0 5 --sim

  # Capture 100 samples at a quarter of the sample rate
  nxscope capture 0 --sim --count 100 --div 4

  # Timed capture from a serial target
  nxscope capture 2 3 --serial /dev/ttyACM0 --duration 10s`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().IntVar(&captureCount, "count", 0, "Stop after this many samples (0 = unlimited)")
	captureCmd.Flags().DurationVar(&captureDuration, "duration", 0, "Stop after this much time (0 = unlimited)")
	captureCmd.Flags().IntVar(&captureDivider, "div", 0, "Sample rate divider factor for the captured channels (0 = leave unchanged)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ids, presets, err := captureSelection(args)
	if err != nil {
		return err
	}

	sess, err := connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	channels, err := sess.Channels()
	if err != nil {
		return err
	}
	byID := make(map[uint8]bool, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = true
	}

	subs := make([]*scope.Subscription, 0, len(ids))
	for _, id := range ids {
		if !byID[id] {
			return fmt.Errorf("channel %d not present on target", id)
		}
		if err := sess.ChannelEnable(id); err != nil {
			return err
		}
		div := captureDivider
		if p, ok := presets[id]; ok && p.Divider > 0 {
			div = int(p.Divider)
		}
		if div > 0 {
			if err := sess.ChannelDivider(id, uint8(div)); err != nil {
				return fmt.Errorf("channel %d: %w", id, err)
			}
		}
		sub, err := sess.Subscribe(id)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	if err := sess.StreamStart(ctx); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	defer sess.StreamStop(context.Background())

	fmt.Fprintf(os.Stderr, "Capturing from %d channel(s), interrupt to stop...\n", len(subs))

	// Fan the per-channel queues into one ordered print loop.
	batches := make(chan []scope.Sample, len(subs))
	for _, sub := range subs {
		go func(sub *scope.Subscription) {
			for batch := range sub.Samples() {
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	var timeout <-chan time.Time
	if captureDuration > 0 {
		t := time.NewTimer(captureDuration)
		defer t.Stop()
		timeout = t.C
	}

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return capSummary(sess, ids, printed)
		case <-timeout:
			return capSummary(sess, ids, printed)
		case batch := <-batches:
			for _, s := range batch {
				fmt.Println(formatSample(s))
				printed++
				if captureCount > 0 && printed >= captureCount {
					return capSummary(sess, ids, printed)
				}
			}
		}
	}
}

// captureSelection resolves the channel list from args or, when empty,
// from the selected profile's channel presets.
func captureSelection(args []string) ([]uint8, map[uint8]*config.ChannelPreset, error) {
	presets := make(map[uint8]*config.ChannelPreset)

	if len(args) == 0 {
		if profileName == "" {
			return nil, nil, fmt.Errorf("no channels given (list channel ids or use --profile with presets)")
		}
		reg, err := config.LoadRegistry()
		if err != nil {
			return nil, nil, err
		}
		p := reg.GetProfile(profileName)
		if p == nil || len(p.Channels) == 0 {
			return nil, nil, fmt.Errorf("profile %q has no channel presets", profileName)
		}
		var ids []uint8
		for id, preset := range p.Channels {
			if !preset.Enabled {
				continue
			}
			ids = append(ids, uint8(id))
			presets[uint8(id)] = preset
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) == 0 {
			return nil, nil, fmt.Errorf("profile %q enables no channels", profileName)
		}
		return ids, presets, nil
	}

	ids := make([]uint8, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid channel id %q", arg)
		}
		ids = append(ids, uint8(id))
	}
	return ids, presets, nil
}

func formatSample(s scope.Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ch%-3d seq=%-8d", s.Channel, s.Seq)
	if len(s.Values) > 0 {
		vals := make([]string, len(s.Values))
		for i, v := range s.Values {
			vals[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(vals, " "))
	}
	if s.Text != "" {
		fmt.Fprintf(&b, " %q", s.Text)
	}
	if len(s.Meta) > 0 {
		fmt.Fprintf(&b, " meta=%v", s.Meta)
	}
	return b.String()
}

func capSummary(sess *scope.Session, ids []uint8, printed int) error {
	var dropped uint64
	for _, id := range ids {
		dropped += sess.Drops(id)
	}
	fmt.Fprintf(os.Stderr, "\nCaptured %d sample(s), %d dropped, %d stream overflow(s)\n",
		printed, dropped, sess.Overflows())
	return nil
}

// scanCmd discovers network bridges.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for NxScope bridges on the network",
	Long: `Scan for NxScope network bridges using mDNS/DNS-SD discovery.

Bridges forward a serial-attached target onto the network. This command
lists every bridge found together with the transport it speaks.`,
	Example: `  # Scan for 10 seconds (default)
  nxscope scan

  # Quick 3-second scan
  nxscope scan --timeout 3`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for NxScope bridges (timeout: %ds)...\n\n", scanTimeout)

	bridges, err := discovery.ScanForBridges(time.Duration(scanTimeout) * time.Second)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(bridges) == 0 {
		fmt.Println("No bridges found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the bridge host is powered on and on the same network")
		fmt.Println("  - Check that mDNS (UDP port 5353) is not blocked")
		fmt.Println("  - Try increasing --timeout for slower networks")
		fmt.Println("  - Use --rtt or --ws to specify the address manually")
		return nil
	}

	fmt.Printf("Found %d bridge(s):\n\n", len(bridges))

	for i, bridge := range bridges {
		fmt.Printf("%d. %s\n", i+1, bridge.Name)
		fmt.Printf("   Address:   %s\n", bridge.Addr())
		fmt.Printf("   Transport: %s\n", bridge.Transport)
		if len(bridge.Metadata) > 0 {
			fmt.Printf("   Metadata:  %v\n", bridge.Metadata)
		}
		fmt.Println()
	}

	fmt.Println("Use 'nxscope info --rtt <addr>' or 'nxscope info --ws <url>' to connect")

	return nil
}

// profilesCmd lists saved connection profiles.
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List saved connection profiles",
	Long: `List the connection profiles saved in the user configuration.

Profiles are created with the --save flag on any connecting command and
selected with --profile.`,
	Example: `  # Save a profile while connecting
  nxscope info --serial /dev/ttyACM0 --save bench

  # Reconnect later
  nxscope channels --profile bench`,
	RunE: runProfiles,
}

func runProfiles(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(reg.Profiles) == 0 {
		fmt.Println("No profiles saved. Use --save <name> on a connecting command to create one.")
		return nil
	}

	names := make([]string, 0, len(reg.Profiles))
	for name := range reg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := reg.Profiles[name]
		fmt.Printf("%s\n", name)
		fmt.Printf("  Transport: %s", transportLabel(p.Transport))
		if p.Address != "" {
			fmt.Printf(" (%s)", p.Address)
		}
		fmt.Println()
		if p.Baud != 0 {
			fmt.Printf("  Baud:      %d\n", p.Baud)
		}
		if !p.LastSeen.IsZero() {
			fmt.Printf("  Last seen: %s\n", p.LastSeen.Format(time.RFC3339))
		}
		if len(p.Channels) > 0 {
			fmt.Printf("  Presets:   %d channel(s)\n", len(p.Channels))
		}
		fmt.Println()
	}

	return nil
}

// transportLabel resolves a transport identifier to its display name.
func transportLabel(name string) string {
	if label, ok := config.TransportNames[name]; ok {
		return label
	}
	return name
}
