package config

import "time"

// Registry represents the entire user configuration file.
// This stores connection profiles and application preferences.
type Registry struct {
	Version     int                 `yaml:"version"`
	Profiles    map[string]*Profile `yaml:"profiles,omitempty"` // Keyed by profile name
	Preferences *Preferences        `yaml:"preferences,omitempty"`
}

// Profile represents a saved device connection.
type Profile struct {
	Transport string    `yaml:"transport"`           // "serial", "rtt", "ws" or "sim"
	Address   string    `yaml:"address,omitempty"`   // device path, host:port or URL
	Baud      int       `yaml:"baud,omitempty"`      // serial baud rate
	LastSeen  time.Time `yaml:"last_seen,omitempty"` // last successful connection

	// Channels holds the channel configuration applied on connect.
	Channels map[int]*ChannelPreset `yaml:"channels,omitempty"`
}

// ChannelPreset is the per-channel configuration stored in a profile.
type ChannelPreset struct {
	Enabled bool  `yaml:"enabled"`
	Divider uint8 `yaml:"divider,omitempty"` // rate factor, 1 = every sample
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	AutoDiscover    bool `yaml:"auto_discover"`    // Enable automatic mDNS discovery on startup
	DiscoverTimeout int  `yaml:"discover_timeout"` // mDNS discovery timeout in seconds
	QueueLen        int  `yaml:"queue_len"`        // per-subscription sample queue length
	CommandTimeout  int  `yaml:"command_timeout"`  // command timeout in milliseconds
}

// TransportNames maps transport identifiers to human-readable names.
// This is used for display and validation purposes.
var TransportNames = map[string]string{
	"serial": "Serial port",
	"rtt":    "Debug probe (RTT tunnel)",
	"ws":     "WebSocket bridge",
	"sim":    "Simulated device",
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:  1,
		Profiles: make(map[string]*Profile),
		Preferences: &Preferences{
			AutoDiscover:    true,
			DiscoverTimeout: 10,
			QueueLen:        64,
			CommandTimeout:  1000,
		},
	}
}

// GetProfile retrieves a connection profile by name.
// Returns nil if the profile doesn't exist in the registry.
func (r *Registry) GetProfile(name string) *Profile {
	return r.Profiles[name]
}

// EnsureProfile ensures a profile entry exists in the registry.
// If the profile doesn't exist, creates a new entry with default values.
// Returns the profile entry (existing or newly created).
func (r *Registry) EnsureProfile(name string) *Profile {
	if r.Profiles == nil {
		r.Profiles = make(map[string]*Profile)
	}

	if profile, exists := r.Profiles[name]; exists {
		return profile
	}

	profile := &Profile{
		Channels: make(map[int]*ChannelPreset),
	}
	r.Profiles[name] = profile
	return profile
}

// UpdateProfileLastSeen updates the last seen timestamp and address for a
// profile.
func (r *Registry) UpdateProfileLastSeen(name, transport, address string) {
	profile := r.EnsureProfile(name)
	profile.Transport = transport
	profile.Address = address
	profile.LastSeen = time.Now()
}

// SetChannelPreset sets or updates a channel preset in a profile.
func (r *Registry) SetChannelPreset(name string, channel int, enabled bool, divider uint8) {
	profile := r.EnsureProfile(name)

	if profile.Channels == nil {
		profile.Channels = make(map[int]*ChannelPreset)
	}

	profile.Channels[channel] = &ChannelPreset{
		Enabled: enabled,
		Divider: divider,
	}
}
