// Package scope is the top of the client stack: a Session connects to a
// device, discovers its channels, applies configuration and runs the
// sample stream, fanning samples out to per-channel subscribers.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/nxscope/internal/logging"
	"github.com/muurk/nxscope/pkg/comm"
	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
	"github.com/muurk/nxscope/pkg/protocol"
	"github.com/muurk/nxscope/pkg/transport"
)

var (
	// ErrNotConnected reports an operation before Connect or after
	// Disconnect.
	ErrNotConnected = errors.New("scope: not connected")

	// ErrSessionClosed reports use of a session whose stream has ended.
	ErrSessionClosed = errors.New("scope: session closed")

	// ErrCommandRejected reports a device ack with a non-zero return code.
	ErrCommandRejected = errors.New("scope: command rejected by device")

	// ErrDiscovery reports a failed device discovery.
	ErrDiscovery = errors.New("scope: device discovery failed")
)

const (
	defaultCommandTimeout = time.Second
	defaultQueueLen       = 64
	defaultInfoRetries    = 5
)

// Config parameterizes a session. The zero value selects defaults.
type Config struct {
	// CommandTimeout bounds each command/response exchange.
	CommandTimeout time.Duration

	// QueueLen is the per-subscription queue length.
	QueueLen int

	// EarlyStream selects the policy for stream frames arriving before
	// streaming is started by this client.
	EarlyStream comm.EarlyStreamPolicy

	// InfoRetries is how many device-info requests are attempted before
	// discovery fails.
	InfoRetries int
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.QueueLen <= 0 {
		c.QueueLen = defaultQueueLen
	}
	if c.InfoRetries <= 0 {
		c.InfoRetries = defaultInfoRetries
	}
	return c
}

// Session orchestrates one device connection: connect, discover,
// configure, stream, disconnect. Disconnect is explicit and synchronous;
// an abandoned session holds its transport open.
type Session struct {
	cfg    Config
	parser *protocol.Parser
	h      *comm.Handler
	router *Router

	mu        sync.Mutex
	reg       *device.Registry
	connected bool
	streaming bool

	overflows atomic.Uint64
}

// NewSession creates a session over the given transport. The transport
// must not be started; the session owns its lifecycle from Connect to
// Disconnect.
func NewSession(tr transport.Transport, cfg Config) *Session {
	cfg = cfg.withDefaults()
	parser := protocol.NewParser(frame.NewSerialCodec())
	return &Session{
		cfg:    cfg,
		parser: parser,
		h:      comm.NewHandler(tr, parser, cfg.EarlyStream),
		router: NewRouter(cfg.QueueLen),
	}
}

// Connect opens the transport and discovers the device: any running
// stream is stopped, stale input dropped, then device info and every
// channel description are fetched and declared in the registry.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.h.Start(); err != nil {
		return err
	}
	if err := s.discover(ctx); err != nil {
		// Failed connects must not leak the transport or the read loop.
		s.h.Stop()
		return err
	}
	return nil
}

func (s *Session) discover(ctx context.Context) error {
	// device may still be streaming from a previous client
	if _, err := s.h.SendCommand(ctx, s.parser.FrameStreamStart(false)); err != nil {
		return err
	}
	s.h.Drop()

	info, err := s.fetchInfo(ctx)
	if err != nil {
		return err
	}
	s.h.SetDeviceInfo(info)
	logging.Info("device discovered",
		zap.Uint8("chmax", info.ChMax),
		zap.Bool("divider", info.DividerSupported()),
		zap.Bool("ack", info.AckSupported()),
		zap.Int("rxpadding", info.RxPadding))

	reg := device.NewRegistry(info)
	for id := uint8(0); id < info.ChMax; id++ {
		ch, err := s.fetchChannel(ctx, id)
		if err != nil {
			return err
		}
		if err := reg.Declare(ch); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.reg = reg
	s.connected = true
	s.mu.Unlock()

	s.h.SetOnDown(func(error) { s.router.Close() })
	s.h.SetOnStream(s.onStream)
	return nil
}

func (s *Session) fetchInfo(ctx context.Context) (device.Info, error) {
	var lastErr error
	for try := 0; try < s.cfg.InfoRetries; try++ {
		tryCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		f, err := s.h.Request(tryCtx, s.parser.FrameDevInfoRequest(), frame.IDDevInfo)
		cancel()
		if err == nil {
			return s.parser.DecodeDevInfo(f)
		}
		lastErr = err
		if !errors.Is(err, comm.ErrCommandTimeout) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		logging.Debug("device info retry", zap.Int("attempt", try+1))
	}
	return device.Info{}, fmt.Errorf("%w: %s", ErrDiscovery, lastErr)
}

func (s *Session) fetchChannel(ctx context.Context, id uint8) (device.Channel, error) {
	tryCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	f, err := s.h.Request(tryCtx, s.parser.FrameChInfoRequest(id), frame.IDChInfo)
	if err != nil {
		return device.Channel{}, fmt.Errorf("%w: channel %d: %s", ErrDiscovery, id, err)
	}
	return s.parser.DecodeChInfo(f, id)
}

// Disconnect stops streaming, signals end-of-stream to every subscriber
// and closes the transport. Synchronous: when it returns, the read loop
// has exited.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	wasStreaming := s.streaming
	s.streaming = false
	s.connected = false
	s.mu.Unlock()

	if wasStreaming {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
		if _, err := s.h.SendCommand(ctx, s.parser.FrameStreamStart(false)); err != nil {
			logging.Warn("stream stop on disconnect failed", zap.Error(err))
		}
		cancel()
	}

	s.router.Close()
	return s.h.Stop()
}

// Info returns the discovered device description.
func (s *Session) Info() (device.Info, error) {
	reg, err := s.registry()
	if err != nil {
		return device.Info{}, err
	}
	return reg.Info(), nil
}

// Channels returns all discovered channels in declaration order.
func (s *Session) Channels() ([]device.Channel, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	return reg.Channels(), nil
}

// ChannelEnable stages enabling a channel. Takes effect at the next
// ChannelsWrite or StreamStart.
func (s *Session) ChannelEnable(id uint8) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	return reg.SetEnabled(id, true)
}

// ChannelDisable stages disabling a channel.
func (s *Session) ChannelDisable(id uint8) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	return reg.SetEnabled(id, false)
}

// ChannelDivider stages a sample-rate divider factor for a channel.
// 1 delivers every sample, n every n-th.
func (s *Session) ChannelDivider(id uint8, div uint8) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	return reg.SetDivider(id, div)
}

// DefaultConfig stages the baseline configuration: all channels disabled,
// divider 1.
func (s *Session) DefaultConfig() error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	reg.DefaultConfig()
	return nil
}

// ChannelsWrite commits all staged configuration edits and transmits them
// to the device.
func (s *Session) ChannelsWrite(ctx context.Context) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	for _, raw := range reg.Commit(s.parser) {
		if err := s.command(ctx, raw); err != nil {
			return err
		}
	}
	return nil
}

// ChannelEnableNow enables or disables a channel and writes the change to
// the device immediately.
func (s *Session) ChannelEnableNow(ctx context.Context, id uint8, en bool) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	if err := reg.SetEnabled(id, en); err != nil {
		return err
	}
	return s.ChannelsWrite(ctx)
}

// ChannelDividerNow sets a channel's divider factor and writes the change
// to the device immediately.
func (s *Session) ChannelDividerNow(ctx context.Context, id uint8, div uint8) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}
	if err := reg.SetDivider(id, div); err != nil {
		return err
	}
	return s.ChannelsWrite(ctx)
}

// StreamStart commits any staged configuration and starts the sample
// stream.
func (s *Session) StreamStart(ctx context.Context) error {
	if err := s.ChannelsWrite(ctx); err != nil {
		return err
	}
	if err := s.command(ctx, s.parser.FrameStreamStart(true)); err != nil {
		return err
	}
	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	return nil
}

// StreamStop stops the sample stream. Subscriptions stay open; a new
// StreamStart resumes delivery.
func (s *Session) StreamStop(ctx context.Context) error {
	if err := s.command(ctx, s.parser.FrameStreamStart(false)); err != nil {
		return err
	}
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
	return nil
}

// Subscribe registers a bounded sample queue for a declared channel.
func (s *Session) Subscribe(id uint8) (*Subscription, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	if _, ok := reg.Channel(id); !ok {
		return nil, fmt.Errorf("%w: %d", device.ErrUnknownChannel, id)
	}
	return s.router.Subscribe(id)
}

// Unsubscribe removes a subscription and closes its queue. Idempotent.
func (s *Session) Unsubscribe(sub *Subscription) {
	s.router.Unsubscribe(sub)
}

// Drops returns how many sample batches were dropped for a channel
// because its subscriber queues were full.
func (s *Session) Drops(id uint8) uint64 {
	return s.router.Drops(id)
}

// Overflows returns how many stream frames arrived with the device-side
// overflow flag set.
func (s *Session) Overflows() uint64 {
	return s.overflows.Load()
}

func (s *Session) registry() (*device.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.reg == nil {
		return nil, ErrNotConnected
	}
	return s.reg, nil
}

func (s *Session) command(ctx context.Context, raw []byte) error {
	cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	ack, err := s.h.SendCommand(cmdCtx, raw)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%w: ret %d", ErrCommandRejected, ack.Ret)
	}
	return nil
}

func (s *Session) onStream(seq uint64, f frame.Frame) {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()
	if reg == nil {
		return
	}

	batch, err := s.parser.DecodeStream(f, reg)
	if err != nil {
		logging.Warn("stream frame decode failed", zap.Error(err))
		return
	}
	if batch.Overflow() {
		s.overflows.Add(1)
		logging.Debug("device-side stream overflow")
	}

	now := time.Now()
	samples := make([]Sample, len(batch.Samples))
	for i, ps := range batch.Samples {
		samples[i] = Sample{
			Channel: ps.Channel,
			Seq:     seq,
			Recv:    now,
			Values:  ps.Values,
			Text:    ps.Text,
			Meta:    ps.Meta,
		}
	}
	s.router.Dispatch(samples)
}
