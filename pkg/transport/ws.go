package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPollInterval = 100 * time.Millisecond
	wsInboxLen     = 64
)

// WebSocket tunnels the byte stream over a websocket connection, for
// bridges that expose a device behind an HTTP endpoint. Each outbound
// write becomes one binary message; inbound binary messages are
// surfaced as-is through Read.
//
// A gorilla connection does not support concurrent or retried reads, so
// a single reader goroutine owns ReadMessage for the life of the
// connection and hands binary messages over through a queue.
type WebSocket struct {
	padding

	url string

	mu    sync.Mutex
	conn  *websocket.Conn
	inbox chan []byte
	done  chan struct{} // closed when the reader exits
	quit  chan struct{} // closed by Stop
}

// NewWebSocket creates a websocket transport for the given ws:// or
// wss:// URL.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{url: url}
}

// Start dials the websocket endpoint and starts the reader.
func (w *WebSocket) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(w.url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", w.url, err)
	}
	w.conn = conn
	w.inbox = make(chan []byte, wsInboxLen)
	w.done = make(chan struct{})
	w.quit = make(chan struct{})
	go w.readLoop(conn, w.inbox, w.done, w.quit)
	return nil
}

// readLoop is the sole reader of the connection. It exits on the first
// read error, which gorilla makes permanent.
func (w *WebSocket) readLoop(conn *websocket.Conn, inbox chan []byte, done, quit chan struct{}) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case inbox <- data:
		case <-quit:
			return
		}
	}
}

// Stop closes the connection and waits for the reader to exit.
func (w *WebSocket) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	close(w.quit)
	err := w.conn.Close()
	<-w.done
	w.conn = nil
	w.inbox = nil
	w.done = nil
	w.quit = nil
	return err
}

// Read returns the next binary message received within the poll
// interval, or an empty slice when none arrives in time.
func (w *WebSocket) Read() ([]byte, error) {
	w.mu.Lock()
	inbox, done := w.inbox, w.done
	w.mu.Unlock()
	if inbox == nil {
		return nil, ErrClosed
	}

	select {
	case data := <-inbox:
		return data, nil
	case <-done:
		// Drain messages that arrived before the connection failed.
		select {
		case data := <-inbox:
			return data, nil
		default:
		}
		return nil, ErrClosed
	case <-time.After(wsPollInterval):
		return nil, nil
	}
}

// Write sends data as one binary message, padded to the configured
// boundary.
func (w *WebSocket) Write(data []byte) (int, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return 0, ErrClosed
	}
	padded := w.align(data)
	if err := conn.WriteMessage(websocket.BinaryMessage, padded); err != nil {
		return 0, fmt.Errorf("ws write: %w", err)
	}
	return len(padded), nil
}

// DropAll drains pending inbound messages.
func (w *WebSocket) DropAll() {
	w.mu.Lock()
	inbox := w.inbox
	w.mu.Unlock()
	if inbox == nil {
		return
	}
	for {
		select {
		case <-inbox:
		default:
			return
		}
	}
}
