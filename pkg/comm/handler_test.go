package comm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/nxscope/internal/logging"
	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
	"github.com/muurk/nxscope/pkg/protocol"
	"github.com/muurk/nxscope/pkg/sim"
	"github.com/muurk/nxscope/pkg/transport"
)

// scriptTransport is an in-memory transport with pre-queued reads.
type scriptTransport struct {
	mu     sync.Mutex
	rx     [][]byte
	writes [][]byte
	pad    int
	closed bool
}

func (t *scriptTransport) Start() error { return nil }

func (t *scriptTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *scriptTransport) Read() ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if len(t.rx) == 0 {
		t.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	data := t.rx[0]
	t.rx = t.rx[1:]
	t.mu.Unlock()
	return data, nil
}

func (t *scriptTransport) Write(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, transport.ErrClosed
	}
	t.writes = append(t.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (t *scriptTransport) DropAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = nil
}

func (t *scriptTransport) WritePadding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pad
}

func (t *scriptTransport) SetWritePadding(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pad = n
}

func (t *scriptTransport) queue(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = append(t.rx, data)
}

func newSimHandler(t *testing.T, policy EarlyStreamPolicy) (*Handler, *protocol.Parser) {
	t.Helper()
	p := protocol.NewParser(frame.NewSerialCodec())
	h := NewHandler(sim.NewDevice(sim.Config{}), p, policy)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h, p
}

func TestRequestDevInfo(t *testing.T) {
	h, p := newSimHandler(t, EarlyStreamDrop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := h.Request(ctx, p.FrameDevInfoRequest(), frame.IDDevInfo)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	info, err := p.DecodeDevInfo(f)
	if err != nil {
		t.Fatalf("DecodeDevInfo() error = %v", err)
	}
	if info.ChMax != 11 {
		t.Errorf("ChMax = %d, want 11", info.ChMax)
	}
}

func TestSendCommandWaitsForAck(t *testing.T) {
	h, p := newSimHandler(t, EarlyStreamDrop)
	h.SetDeviceInfo(device.Info{
		ChMax: 11,
		Flags: device.FlagDividerSupport | device.FlagAckSupport,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ack, err := h.SendCommand(ctx, p.FrameEnableSingle(0, true))
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !ack.OK {
		t.Errorf("Ack = %+v, want OK", ack)
	}
}

// Before discovery the ack behavior is unknown, so commands are written
// and reported accepted without waiting. The ack the device sends anyway
// must be discarded, not mistaken for a later command's response.
func TestSendCommandBeforeDiscovery(t *testing.T) {
	h, p := newSimHandler(t, EarlyStreamDrop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ack, err := h.SendCommand(ctx, p.FrameStreamStart(false))
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !ack.OK {
		t.Errorf("Ack = %+v, want OK", ack)
	}

	// the stale ack must not satisfy this devinfo request
	f, err := h.Request(ctx, p.FrameDevInfoRequest(), frame.IDDevInfo)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if f.ID != frame.IDDevInfo {
		t.Errorf("ID = %v, want %v", f.ID, frame.IDDevInfo)
	}
}

func TestRequestBusy(t *testing.T) {
	tr := &scriptTransport{}
	p := protocol.NewParser(frame.NewSerialCodec())
	h := NewHandler(tr, p, EarlyStreamDrop)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.Request(ctx, p.FrameDevInfoRequest(), frame.IDDevInfo)
		firstErr <- err
	}()

	// wait until the first request is in flight
	deadline := time.Now().Add(time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.writes)
		tr.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first request never wrote")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := h.Request(ctx, p.FrameDevInfoRequest(), frame.IDDevInfo)
	if !errors.Is(err, ErrCommandBusy) {
		t.Errorf("Request() error = %v, want ErrCommandBusy", err)
	}

	cancel()
	if err := <-firstErr; !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("first Request() error = %v, want ErrCommandTimeout", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	tr := &scriptTransport{}
	p := protocol.NewParser(frame.NewSerialCodec())
	h := NewHandler(tr, p, EarlyStreamDrop)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Request(ctx, p.FrameDevInfoRequest(), frame.IDDevInfo)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("Request() error = %v, want ErrCommandTimeout", err)
	}
}

func TestEarlyStreamBuffered(t *testing.T) {
	tr := &scriptTransport{}
	codec := frame.NewSerialCodec()
	p := protocol.NewParser(codec)

	tr.queue(codec.Encode(frame.IDStream, []byte{0, 1}))
	tr.queue(codec.Encode(frame.IDStream, []byte{0, 2}))

	h := NewHandler(tr, p, EarlyStreamBuffer)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	// let the read loop consume the queued frames
	deadline := time.Now().Add(time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.rx)
		tr.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frames never consumed")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)

	var seqs []uint64
	var frames []frame.Frame
	h.SetOnStream(func(seq uint64, f frame.Frame) {
		seqs = append(seqs, seq)
		frames = append(frames, f)
	})

	if len(frames) != 2 {
		t.Fatalf("replayed %d frames, want 2", len(frames))
	}
	if seqs[0] != 0 || seqs[1] != 1 {
		t.Errorf("seqs = %v, want [0 1]", seqs)
	}
	if frames[0].Payload[1] != 1 || frames[1].Payload[1] != 2 {
		t.Errorf("frames replayed out of order")
	}
}

func TestEarlyStreamDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })

	tr := &scriptTransport{}
	codec := frame.NewSerialCodec()
	p := protocol.NewParser(codec)

	tr.queue(codec.Encode(frame.IDStream, []byte{0, 1}))

	h := NewHandler(tr, p, EarlyStreamDrop)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	time.Sleep(20 * time.Millisecond)

	called := false
	h.SetOnStream(func(uint64, frame.Frame) { called = true })
	if called {
		t.Error("dropped early frame was replayed")
	}

	warned := false
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "dropping stream frame") {
			warned = true
		}
	}
	if !warned {
		t.Error("early stream frame dropped without a warning")
	}
}

func TestStreamDelivery(t *testing.T) {
	h, p := newSimHandler(t, EarlyStreamDrop)
	h.SetDeviceInfo(device.Info{
		ChMax:     11,
		Flags:     device.FlagDividerSupport | device.FlagAckSupport,
		RxPadding: 16,
	})

	got := make(chan frame.Frame, 16)
	h.SetOnStream(func(_ uint64, f frame.Frame) {
		select {
		case got <- f:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, raw := range [][]byte{
		p.FrameEnableSingle(5, true),
		p.FrameStreamStart(true),
	} {
		if ack, err := h.SendCommand(ctx, raw); err != nil || !ack.OK {
			t.Fatalf("SendCommand() = %+v, %v", ack, err)
		}
	}

	select {
	case f := <-got:
		if f.ID != frame.IDStream {
			t.Errorf("ID = %v, want %v", f.ID, frame.IDStream)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stream frame delivered")
	}
}

func TestStopAfterStop(t *testing.T) {
	h, _ := newSimHandler(t, EarlyStreamDrop)
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := h.Start(); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Start() after Stop error = %v, want ErrTransportClosed", err)
	}
}
