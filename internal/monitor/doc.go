// Package monitor implements the interactive channel monitor TUI.
//
// The monitor is a single-screen bubbletea application built around one
// Model. It connects to a target, lists the channels the target
// declares, and lets the user toggle channels, adjust sample-rate
// dividers, and watch live samples while streaming.
//
// # Architecture
//
// The model follows the standard bubbletea update loop. Blocking work
// (connect, stream start/stop, configuration writes) runs in commands
// so the UI stays responsive. Live samples reach the update loop
// through a single channel: one forwarding goroutine per subscription
// pushes batches into it, and exactly one listener command is kept
// outstanding to turn them into messages.
//
// # Key Bindings
//
//   - up/down  move the channel cursor
//   - space    toggle the selected channel
//   - +/-      adjust the sample-rate divider
//   - w        write the staged configuration without streaming
//   - s        start or stop the stream
//   - ?        expand help
//   - q        quit
package monitor
