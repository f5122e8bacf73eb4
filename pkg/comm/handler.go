// Package comm drives a device connection: it owns the transport read
// loop, recovers frame boundaries, and routes decoded frames either to
// the single in-flight command waiter or to the stream callback.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/nxscope/internal/logging"
	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
	"github.com/muurk/nxscope/pkg/protocol"
	"github.com/muurk/nxscope/pkg/transport"
)

var (
	// ErrCommandBusy reports a command sent while another is in flight.
	ErrCommandBusy = errors.New("comm: command already in flight")

	// ErrCommandTimeout reports an expired wait for a command response.
	ErrCommandTimeout = errors.New("comm: command response timeout")

	// ErrTransportClosed reports an operation on a closed connection.
	ErrTransportClosed = errors.New("comm: transport closed")
)

// EarlyStreamPolicy selects what happens to stream frames that arrive
// before a stream callback is installed.
type EarlyStreamPolicy int

const (
	// EarlyStreamDrop discards early stream frames.
	EarlyStreamDrop EarlyStreamPolicy = iota

	// EarlyStreamBuffer retains a bounded number of early stream frames
	// and replays them when the callback is installed.
	EarlyStreamBuffer
)

// earlyStreamCap bounds the early-frame buffer; oldest frames win.
const earlyStreamCap = 128

// StreamFunc receives decoded stream frames in arrival order. seq is a
// monotonically increasing per-connection frame counter.
type StreamFunc func(seq uint64, f frame.Frame)

type pendingResult struct {
	f   frame.Frame
	err error
}

type pending struct {
	want frame.ID
	ch   chan pendingResult
}

// Handler multiplexes one device connection. A single reader goroutine
// feeds the synchronizer; decoded command responses wake the in-flight
// Request call and stream frames go to the stream callback. At most one
// command is in flight at a time.
type Handler struct {
	tr     transport.Transport
	parser *protocol.Parser
	sync   *Synchronizer
	policy EarlyStreamPolicy

	mu           sync.Mutex
	running      bool
	closed       bool
	stopped      bool
	infoKnown    bool
	ackSupported bool
	inflight     *pending
	onDown       func(error)

	// dispatchMu serializes stream delivery so replayed early frames
	// cannot interleave with live ones.
	dispatchMu sync.Mutex
	onStream   StreamFunc
	early      []frame.Frame
	seq        uint64

	dropReq chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewHandler creates a handler over the given transport. The transport
// must not be started; Start owns its lifecycle.
func NewHandler(tr transport.Transport, parser *protocol.Parser, policy EarlyStreamPolicy) *Handler {
	return &Handler{
		tr:      tr,
		parser:  parser,
		sync:    NewSynchronizer(parser.Codec()),
		policy:  policy,
		dropReq: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the transport and launches the read loop.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrTransportClosed
	}
	if h.running {
		return nil
	}
	if err := h.tr.Start(); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	h.running = true
	go h.loop()
	return nil
}

// Stop terminates the read loop and closes the transport. Safe to call
// more than once.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.closed = true
	running := h.running
	h.running = false
	h.mu.Unlock()

	close(h.stop)
	if running {
		<-h.done
	}
	h.failInflight(ErrTransportClosed)
	return h.tr.Stop()
}

// SetDeviceInfo records the discovered capabilities. Ack waiting is
// enabled only when the device reports support, and transport writes are
// padded to the device's receive alignment from here on. A flush write of
// zero bytes realigns the device-side receive buffer; the frame scanner
// on the device ignores them.
func (h *Handler) SetDeviceInfo(info device.Info) {
	h.mu.Lock()
	h.infoKnown = true
	h.ackSupported = info.AckSupported()
	h.mu.Unlock()
	h.tr.SetWritePadding(info.RxPadding)
	if info.RxPadding > 0 {
		if _, err := h.tr.Write(make([]byte, info.RxPadding)); err != nil {
			logging.Warn("padding flush write failed", zap.Error(err))
		}
	}
}

// SetOnStream installs the stream callback. Early frames retained under
// EarlyStreamBuffer are replayed synchronously, in arrival order, before
// any live frame is delivered. fn must not call back into the handler.
func (h *Handler) SetOnStream(fn StreamFunc) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	h.onStream = fn
	if fn == nil {
		return
	}
	for _, f := range h.early {
		fn(h.seq, f)
		h.seq++
	}
	h.early = nil
}

// Drop discards transport-level pending input and resets the frame
// synchronizer. Used before discovery to flush stale stream data.
func (h *Handler) Drop() {
	select {
	case h.dropReq <- struct{}{}:
	default:
	}
	h.tr.DropAll()
}

// Request writes a command frame and waits for the response frame with
// the given ID. Only one request may be in flight; concurrent calls fail
// with ErrCommandBusy.
func (h *Handler) Request(ctx context.Context, raw []byte, want frame.ID) (frame.Frame, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return frame.Frame{}, ErrTransportClosed
	}
	if h.inflight != nil {
		h.mu.Unlock()
		return frame.Frame{}, ErrCommandBusy
	}
	p := &pending{want: want, ch: make(chan pendingResult, 1)}
	h.inflight = p
	h.mu.Unlock()

	logging.LogFrame("tx", want, raw)
	if _, err := h.tr.Write(raw); err != nil {
		h.clearInflight(p)
		return frame.Frame{}, fmt.Errorf("write command: %w", err)
	}

	select {
	case res := <-p.ch:
		return res.f, res.err
	case <-ctx.Done():
		h.clearInflight(p)
		return frame.Frame{}, fmt.Errorf("%w: %s", ErrCommandTimeout, ctx.Err())
	}
}

// SendCommand writes a set command and waits for its acknowledgement.
// When the device does not acknowledge commands, or device capabilities
// are not yet known, the command is written and reported as accepted.
func (h *Handler) SendCommand(ctx context.Context, raw []byte) (protocol.Ack, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return protocol.Ack{}, ErrTransportClosed
	}
	wait := h.infoKnown && h.ackSupported
	h.mu.Unlock()

	if !wait {
		if _, err := h.tr.Write(raw); err != nil {
			return protocol.Ack{}, fmt.Errorf("write command: %w", err)
		}
		return protocol.Ack{OK: true}, nil
	}

	f, err := h.Request(ctx, raw, frame.IDAck)
	if err != nil {
		return protocol.Ack{}, err
	}
	return h.parser.DecodeAck(f)
}

// SetOnDown installs a callback invoked once when the read loop fails.
func (h *Handler) SetOnDown(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDown = fn
}

func (h *Handler) loop() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			return
		default:
		}
		select {
		case <-h.dropReq:
			h.sync.Reset()
			h.tr.DropAll()
		default:
		}

		data, err := h.tr.Read()
		if err != nil {
			select {
			case <-h.stop:
			default:
				h.readFailed(err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}

		h.sync.Feed(data)
		for {
			f, ok := h.sync.Next()
			if !ok {
				break
			}
			h.route(f)
		}
	}
}

func (h *Handler) route(f frame.Frame) {
	if f.ID == frame.IDStream {
		h.dispatchMu.Lock()
		if h.onStream != nil {
			h.onStream(h.seq, f)
			h.seq++
		} else if h.policy == EarlyStreamBuffer && len(h.early) < earlyStreamCap {
			h.early = append(h.early, f)
		} else {
			logging.Warn("dropping stream frame received before streaming started",
				zap.Int("len", len(f.Payload)))
		}
		h.dispatchMu.Unlock()
		return
	}

	h.mu.Lock()
	p := h.inflight
	if p != nil && f.ID == p.want {
		h.inflight = nil
		h.mu.Unlock()
		p.ch <- pendingResult{f: f}
		return
	}
	h.mu.Unlock()

	// unsolicited response, e.g. a stale ack from before discovery
	logging.Debug("dropping unsolicited frame", zap.Stringer("id", f.ID))
}

func (h *Handler) readFailed(err error) {
	logging.Warn("transport read failed", zap.Error(err))

	h.mu.Lock()
	h.closed = true
	h.running = false
	down := h.onDown
	h.mu.Unlock()

	h.failInflight(fmt.Errorf("%w: %s", ErrTransportClosed, err))
	if down != nil {
		down(err)
	}
}

func (h *Handler) failInflight(err error) {
	h.mu.Lock()
	p := h.inflight
	h.inflight = nil
	h.mu.Unlock()
	if p != nil {
		p.ch <- pendingResult{err: err}
	}
}

func (h *Handler) clearInflight(p *pending) {
	h.mu.Lock()
	if h.inflight == p {
		h.inflight = nil
	}
	h.mu.Unlock()
}
