package discovery

import (
	"fmt"
	"time"
)

// Bridge represents a discovered scope bridge on the network. A bridge
// exposes a serial- or probe-attached device over TCP or websocket.
type Bridge struct {
	// Name is the mDNS instance name (e.g., "nxscope-bench")
	Name string

	// Hostname is the mDNS hostname (e.g., "bench-pi.local.")
	Hostname string

	// IP is the IPv4 address (e.g., "192.168.4.16")
	IP string

	// Port is the bridge listen port
	Port int

	// Transport is the advertised transport, "tcp" or "ws"
	// (from the TXT record, "tcp" when absent)
	Transport string

	// Metadata contains additional mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the bridge was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the bridge
func (b *Bridge) String() string {
	return fmt.Sprintf("NxScope bridge %s (%s) at %s:%d via %s", b.Name, b.Hostname, b.IP, b.Port, b.Transport)
}

// Addr returns the host:port address of the bridge
func (b *Bridge) Addr() string {
	return fmt.Sprintf("%s:%d", b.IP, b.Port)
}

// URL returns the connection URL for the bridge transport
func (b *Bridge) URL() string {
	if b.Transport == "ws" {
		return fmt.Sprintf("ws://%s:%d/stream", b.IP, b.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", b.IP, b.Port)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
