package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// DefaultBaudRate is used when the serial config leaves the rate unset.
const DefaultBaudRate = 115200

// serialPollInterval bounds how long a Read blocks waiting for data.
const serialPollInterval = 100 * time.Millisecond

// Serial is a serial-port transport.
//
// To exercise it against a simulated UART pair:
//
//	socat PTY,link=/dev/ttySIM0 PTY,link=/dev/ttyNX0
//	stty -F /dev/ttySIM0 raw 115200
//	stty -F /dev/ttyNX0 raw 115200
type Serial struct {
	padding

	address string
	baud    int

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates a serial transport for the given port path. baud <= 0
// selects DefaultBaudRate.
func NewSerial(address string, baud int) *Serial {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &Serial{address: address, baud: baud}
}

// Start opens the serial port in 8N1 mode.
func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	port, err := serial.Open(&serial.Config{
		Address:  s.address,
		BaudRate: s.baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  serialPollInterval,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.address, err)
	}
	s.port = port
	return nil
}

// Stop closes the serial port.
func (s *Serial) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Read returns bytes available within the poll interval.
func (s *Serial) Read() ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, ErrClosed
	}

	buf := make([]byte, 4096)
	n, err := port.Read(buf)
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("serial read: %w", err)
	}
	return buf[:n], nil
}

// Write sends data, padded to the configured boundary.
func (s *Serial) Write(data []byte) (int, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return 0, ErrClosed
	}
	return port.Write(s.align(data))
}

// DropAll drains pending inbound bytes.
func (s *Serial) DropAll() {
	for i := 0; i < 10; i++ {
		data, err := s.Read()
		if err != nil || len(data) == 0 {
			return
		}
	}
}
