package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	// Should not be empty
	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	// Should contain "nxscope"
	if !strings.Contains(configDir, "nxscope") {
		t.Errorf("GetConfigDir() = %v, should contain 'nxscope'", configDir)
	}

	// Platform-specific checks
	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}

	t.Logf("Config directory: %s", configDir)
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	// Should end with config.yaml
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}

	t.Logf("Config path: %s", configPath)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}

	if reg.Profiles == nil {
		t.Error("NewRegistry().Profiles should not be nil")
	}

	if reg.Preferences == nil {
		t.Error("NewRegistry().Preferences should not be nil")
	}

	if reg.Preferences.AutoDiscover != true {
		t.Error("NewRegistry().Preferences.AutoDiscover should be true by default")
	}

	if reg.Preferences.DiscoverTimeout != 10 {
		t.Errorf("NewRegistry().Preferences.DiscoverTimeout = %v, want 10", reg.Preferences.DiscoverTimeout)
	}
}

func TestRegistryEnsureProfile(t *testing.T) {
	reg := NewRegistry()

	// First call should create the profile
	profile1 := reg.EnsureProfile("bench")
	if profile1 == nil {
		t.Fatal("EnsureProfile() returned nil")
	}

	// Second call should return same profile
	profile2 := reg.EnsureProfile("bench")
	if profile1 != profile2 {
		t.Error("EnsureProfile() should return same instance for same name")
	}

	// Different name should create new profile
	profile3 := reg.EnsureProfile("lab")
	if profile1 == profile3 {
		t.Error("EnsureProfile() should create new instance for different name")
	}
}

func TestRegistryUpdateProfileLastSeen(t *testing.T) {
	reg := NewRegistry()

	before := time.Now()
	reg.UpdateProfileLastSeen("bench", "serial", "/dev/ttyACM0")
	after := time.Now()

	profile := reg.GetProfile("bench")
	if profile == nil {
		t.Fatal("Profile should exist after UpdateProfileLastSeen()")
	}

	if profile.Transport != "serial" {
		t.Errorf("Transport = %v, want serial", profile.Transport)
	}

	if profile.Address != "/dev/ttyACM0" {
		t.Errorf("Address = %v, want /dev/ttyACM0", profile.Address)
	}

	if profile.LastSeen.Before(before) || profile.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", profile.LastSeen, before, after)
	}
}

func TestRegistrySetChannelPreset(t *testing.T) {
	reg := NewRegistry()

	reg.SetChannelPreset("bench", 3, true, 4)

	profile := reg.GetProfile("bench")
	if profile == nil {
		t.Fatal("Profile should exist after SetChannelPreset()")
	}

	preset := profile.Channels[3]
	if preset == nil {
		t.Fatal("Channel 3 preset should exist")
	}

	if !preset.Enabled {
		t.Error("Preset.Enabled should be true")
	}

	if preset.Divider != 4 {
		t.Errorf("Preset.Divider = %v, want 4", preset.Divider)
	}
}

func TestParseRegistry(t *testing.T) {
	data := []byte(`version: 1
profiles:
  bench:
    transport: serial
    address: /dev/ttyACM0
    baud: 115200
    channels:
      0:
        enabled: true
        divider: 2
      3:
        enabled: true
preferences:
  auto_discover: true
  discover_timeout: 10
  queue_len: 128
  command_timeout: 500
`)

	reg, err := parseRegistry(data)
	if err != nil {
		t.Fatalf("parseRegistry() error = %v", err)
	}

	profile := reg.GetProfile("bench")
	if profile == nil {
		t.Fatal("Profile 'bench' should exist in loaded registry")
	}

	if profile.Transport != "serial" || profile.Address != "/dev/ttyACM0" || profile.Baud != 115200 {
		t.Errorf("Profile = %+v, want serial /dev/ttyACM0 115200", profile)
	}

	preset := profile.Channels[0]
	if preset == nil || !preset.Enabled || preset.Divider != 2 {
		t.Errorf("Channel 0 preset = %+v, want enabled divider 2", preset)
	}

	if reg.Preferences.QueueLen != 128 {
		t.Errorf("QueueLen = %v, want 128", reg.Preferences.QueueLen)
	}

	if reg.Preferences.CommandTimeout != 500 {
		t.Errorf("CommandTimeout = %v, want 500", reg.Preferences.CommandTimeout)
	}
}

func TestParseRegistryBadVersion(t *testing.T) {
	if _, err := parseRegistry([]byte("version: 7\n")); err == nil {
		t.Error("parseRegistry() should reject unsupported version")
	}
}

func TestTransportNames(t *testing.T) {
	for _, name := range []string{"serial", "rtt", "ws", "sim"} {
		if _, exists := TransportNames[name]; !exists {
			t.Errorf("TransportNames missing transport: %s", name)
		}
	}
}

// Benchmark tests

func BenchmarkGetConfigDir(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GetConfigDir()
	}
}

func BenchmarkEnsureProfile(b *testing.B) {
	reg := NewRegistry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.EnsureProfile("bench")
	}
}
