package scope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/sim"
)

func connectedSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(sim.NewDevice(sim.Config{}), Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

// silentTransport accepts writes and never produces data, so discovery
// times out.
type silentTransport struct {
	mu      sync.Mutex
	stopped bool
}

func (tr *silentTransport) Start() error { return nil }

func (tr *silentTransport) Stop() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.stopped = true
	return nil
}

func (tr *silentTransport) Read() ([]byte, error) {
	time.Sleep(time.Millisecond)
	return nil, nil
}

func (tr *silentTransport) Write(data []byte) (int, error) { return len(data), nil }
func (tr *silentTransport) DropAll()                       {}
func (tr *silentTransport) WritePadding() int              { return 0 }
func (tr *silentTransport) SetWritePadding(int)            {}

func (tr *silentTransport) isStopped() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.stopped
}

func TestConnectFailureStopsTransport(t *testing.T) {
	tr := &silentTransport{}
	s := NewSession(tr, Config{CommandTimeout: 20 * time.Millisecond, InfoRetries: 1})

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("Connect() error = %v, want ErrDiscovery", err)
	}
	if !tr.isStopped() {
		t.Error("transport still open after failed discovery")
	}
}

func TestConnectDiscovery(t *testing.T) {
	s := connectedSession(t)

	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.ChMax != 11 {
		t.Errorf("ChMax = %d, want 11", info.ChMax)
	}

	chans, err := s.Channels()
	if err != nil {
		t.Fatalf("Channels() error = %v", err)
	}
	if len(chans) != 11 {
		t.Fatalf("Channels() = %d channels, want 11", len(chans))
	}
	if chans[0].Name != "chan0" || chans[0].Type() != device.TypeFloat {
		t.Errorf("channel 0 = %q %v, want chan0 float", chans[0].Name, chans[0].Type())
	}
	if chans[7].MLen != 1 {
		t.Errorf("channel 7 MLen = %d, want 1", chans[7].MLen)
	}
}

func TestOperationsBeforeConnect(t *testing.T) {
	s := NewSession(sim.NewDevice(sim.Config{}), Config{})

	if _, err := s.Info(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Info() error = %v, want ErrNotConnected", err)
	}
	if err := s.ChannelEnable(0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ChannelEnable() error = %v, want ErrNotConnected", err)
	}
	if _, err := s.Subscribe(0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeUndeclared(t *testing.T) {
	s := connectedSession(t)
	if _, err := s.Subscribe(42); !errors.Is(err, device.ErrUnknownChannel) {
		t.Errorf("Subscribe(42) error = %v, want ErrUnknownChannel", err)
	}
}

func TestStreamToSubscriber(t *testing.T) {
	s := connectedSession(t)

	sub, err := s.Subscribe(5)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ChannelEnable(5); err != nil {
		t.Fatalf("ChannelEnable() error = %v", err)
	}
	if err := s.StreamStart(ctx); err != nil {
		t.Fatalf("StreamStart() error = %v", err)
	}

	select {
	case batch := <-sub.Samples():
		if len(batch) == 0 {
			t.Fatal("empty batch delivered")
		}
		got := batch[0]
		if got.Channel != 5 {
			t.Errorf("Channel = %d, want 5", got.Channel)
		}
		want := []float64{1, 0, -1}
		for i, v := range want {
			if got.Values[i] != v {
				t.Errorf("Values[%d] = %v, want %v", i, got.Values[i], v)
			}
		}
		if got.Recv.IsZero() {
			t.Error("Recv time not set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no samples delivered")
	}

	if err := s.StreamStop(ctx); err != nil {
		t.Fatalf("StreamStop() error = %v", err)
	}
}

// A subscriber to channel 3 must never observe channel 5 samples.
func TestSubscriberIsolation(t *testing.T) {
	s := connectedSession(t)

	sub3, err := s.Subscribe(3)
	if err != nil {
		t.Fatalf("Subscribe(3) error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range []uint8{3, 5} {
		if err := s.ChannelEnable(id); err != nil {
			t.Fatalf("ChannelEnable(%d) error = %v", id, err)
		}
	}
	if err := s.StreamStart(ctx); err != nil {
		t.Fatalf("StreamStart() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for i := 0; i < 5; i++ {
		select {
		case batch := <-sub3.Samples():
			for _, smp := range batch {
				if smp.Channel != 3 {
					t.Fatalf("channel 3 subscriber got channel %d", smp.Channel)
				}
			}
		case <-deadline:
			t.Fatal("no samples delivered")
		}
	}
}

func TestEnableNow(t *testing.T) {
	s := connectedSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ChannelEnableNow(ctx, 0, true); err != nil {
		t.Fatalf("ChannelEnableNow() error = %v", err)
	}
	if err := s.ChannelDividerNow(ctx, 0, 4); err != nil {
		t.Fatalf("ChannelDividerNow() error = %v", err)
	}
	if err := s.ChannelEnableNow(ctx, 0, false); err != nil {
		t.Fatalf("ChannelEnableNow(false) error = %v", err)
	}
}

func TestDividerValidation(t *testing.T) {
	s := connectedSession(t)
	if err := s.ChannelDivider(0, 0); !errors.Is(err, device.ErrDividerRange) {
		t.Errorf("ChannelDivider(0) error = %v, want ErrDividerRange", err)
	}
	if err := s.ChannelDivider(42, 2); !errors.Is(err, device.ErrUnknownChannel) {
		t.Errorf("ChannelDivider(42) error = %v, want ErrUnknownChannel", err)
	}
}

func TestDefaultConfigWrite(t *testing.T) {
	s := connectedSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ChannelEnable(1); err != nil {
		t.Fatalf("ChannelEnable() error = %v", err)
	}
	if err := s.ChannelsWrite(ctx); err != nil {
		t.Fatalf("ChannelsWrite() error = %v", err)
	}

	if err := s.DefaultConfig(); err != nil {
		t.Fatalf("DefaultConfig() error = %v", err)
	}
	if err := s.ChannelsWrite(ctx); err != nil {
		t.Fatalf("ChannelsWrite() error = %v", err)
	}
}

// Disconnect must close every subscription queue.
func TestDisconnectEndOfStream(t *testing.T) {
	s := connectedSession(t)

	sub, err := s.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case _, ok := <-sub.Samples():
		if ok {
			t.Error("subscription received data after disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on disconnect")
	}

	if _, err := s.Subscribe(0); err == nil {
		t.Error("Subscribe() after disconnect succeeded")
	}
}
