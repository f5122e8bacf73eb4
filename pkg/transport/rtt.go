package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// rttPollInterval bounds how long a Read blocks waiting for data.
const rttPollInterval = 100 * time.Millisecond

// RTT is a debug-probe tunnel transport. It connects to the TCP endpoint
// exposed by an RTT server (J-Link "RTT telnet" port or OpenOCD's rtt
// server) that bridges the target's RTT up/down buffers.
type RTT struct {
	padding

	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewRTT creates a debug-probe tunnel transport for the given
// host:port address.
func NewRTT(addr string) *RTT {
	return &RTT{addr: addr}
}

// Start connects to the RTT server.
func (r *RTT) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", r.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect to RTT server %s: %w", r.addr, err)
	}
	r.conn = conn
	return nil
}

// Stop closes the connection.
func (r *RTT) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Read returns bytes available within the poll interval.
func (r *RTT) Read() ([]byte, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(rttPollInterval)); err != nil {
		return nil, fmt.Errorf("rtt read deadline: %w", err)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return buf[:n], nil
		}
		return nil, fmt.Errorf("rtt read: %w", err)
	}
	return buf[:n], nil
}

// Write sends data, padded to the configured boundary.
func (r *RTT) Write(data []byte) (int, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return 0, ErrClosed
	}
	return conn.Write(r.align(data))
}

// DropAll drains pending inbound bytes.
func (r *RTT) DropAll() {
	for i := 0; i < 10; i++ {
		data, err := r.Read()
		if err != nil || len(data) == 0 {
			return
		}
	}
}
