// Package transport defines the duplex byte-channel contract the protocol
// engine runs over, plus the serial, debug-probe tunnel and websocket
// implementations.
package transport

import (
	"errors"
	"sync"
)

// ErrClosed reports an operation on a stopped transport or a transport
// whose underlying connection was lost. Fatal for the session.
var ErrClosed = errors.New("transport: closed")

// Transport is a duplex byte channel to a device. Read never blocks
// indefinitely: it returns within the transport's poll interval with
// whatever is available, possibly nothing. Implementations must be safe
// for one concurrent reader plus one concurrent writer.
type Transport interface {
	// Start opens the transport. Must be called before Read/Write.
	Start() error

	// Stop closes the transport and releases its resources. Safe to call
	// more than once.
	Stop() error

	// Read returns available bytes, or an empty slice when no data
	// arrived within the poll interval. Returns ErrClosed once the
	// transport is unusable.
	Read() ([]byte, error)

	// Write sends data, padded to the configured write boundary.
	Write(data []byte) (int, error)

	// DropAll discards any buffered inbound data.
	DropAll()

	// WritePadding returns the current write alignment, 0 for none.
	WritePadding() int

	// SetWritePadding configures write alignment. Devices using
	// DMA-triggered receivers require writes padded to a fixed boundary.
	SetWritePadding(n int)
}

// padding implements the shared write-padding bookkeeping. Embedded by the
// concrete transports.
type padding struct {
	mu sync.Mutex
	n  int
}

func (p *padding) WritePadding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *padding) SetWritePadding(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n = n
}

// align pads data with zero bytes up to the configured boundary.
func (p *padding) align(data []byte) []byte {
	p.mu.Lock()
	n := p.n
	p.mu.Unlock()

	if n <= 0 {
		return data
	}
	rem := len(data) % n
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+n-rem)
	copy(padded, data)
	return padded
}
