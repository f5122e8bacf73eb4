// Package discovery provides mDNS-based discovery of NxScope network bridges.
//
// An NxScope bridge is a host that forwards a serial-attached target onto the
// network, typically a debug probe or a small gateway board. Bridges advertise
// themselves using the "_nxscope._tcp" service type and announce the stream
// transport they speak (plain TCP or websocket) through a TXT record.
//
// # Discovery Process
//
// The discovery process works as follows:
//  1. Broadcasts mDNS queries on the local network
//  2. Listens for "_nxscope._tcp" service advertisements
//  3. Collects bridge information (instance name, hostname, IP, port, transport)
//  4. Returns a list of discovered bridges after the timeout period
//
// # Usage Example
//
//	// Discover bridges with 10-second timeout
//	bridges, err := discovery.ScanForBridges(10 * time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Print discovered bridges
//	for _, bridge := range bridges {
//	    fmt.Printf("Found: %s at %s via %s\n",
//	        bridge.Name, bridge.Addr(), bridge.Transport)
//	}
//
// # Bridge Information
//
// Each discovered bridge includes:
//   - Name: mDNS instance name (e.g., "nxscope-bench")
//   - Hostname: network hostname of the bridge host
//   - IP: IPv4 address (IPv6 when no IPv4 record is present)
//   - Port: stream port the bridge listens on
//   - Transport: "tcp" or "ws", taken from the TXT record
//   - Metadata: remaining TXT key=value pairs
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Bridges must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
//
// # Thread Safety
//
// This package is safe for concurrent use. Multiple discovery sessions can run
// simultaneously without interference.
package discovery
