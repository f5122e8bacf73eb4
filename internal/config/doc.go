// Package config provides user configuration management for the nxscope tools.
//
// This package manages a YAML-based configuration file that stores saved
// connection profiles for scope devices, per-channel presets, and application
// preferences. The configuration follows OS-specific conventions for storage
// location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/nxscope/config.yaml or $HOME/.config/nxscope/config.yaml
//   - macOS: $HOME/.config/nxscope/config.yaml
//   - Windows: %LOCALAPPDATA%\nxscope\config.yaml
//
// # Usage Example
//
//	// Load the global registry
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Add or update a connection profile
//	profile := registry.EnsureProfile("bench")
//	profile.Transport = "serial"
//	profile.Address = "/dev/ttyACM0"
//	profile.Baud = 115200
//	registry.SetChannelPreset("bench", 0, true, 1)
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
