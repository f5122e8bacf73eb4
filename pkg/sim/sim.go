// Package sim provides an in-memory simulated device. It implements the
// transport contract, so the rest of the stack talks to it exactly as it
// would to real hardware. Useful for development and tests without a
// target board attached.
package sim

import (
	"sync"
	"time"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
	"github.com/muurk/nxscope/pkg/protocol"
	"github.com/muurk/nxscope/pkg/transport"
)

const (
	simPollInterval = 100 * time.Millisecond

	defaultInterval  = time.Millisecond
	defaultQueueLen  = 256
	defaultRxPadding = 16
)

// Channel pairs a channel declaration with its sample generator.
type Channel struct {
	device.Channel
	Gen Generator
}

// Config parameterizes a simulated device. The zero value selects the
// default channel set with divider and ack support.
type Config struct {
	Flags     device.Flags
	RxPadding int
	Channels  []Channel

	// Interval is the time between stream ticks.
	Interval time.Duration

	// QueueLen bounds the outbound frame queue. When the client reads
	// slower than the device produces, frames are dropped and the next
	// delivered stream frame carries the overflow flag.
	QueueLen int
}

// Device is a simulated target. Command frames written to it are decoded
// and answered on the read side; once streaming is started it produces
// stream frames from the per-channel generators.
type Device struct {
	codec frame.Codec
	recv  *protocol.Receiver

	mu       sync.Mutex
	info     device.Info
	channels []Channel
	started  bool
	tick     uint64
	overflow bool
	pad      int

	interval time.Duration
	readq    chan []byte

	streamStop chan struct{}
	streamWG   sync.WaitGroup
}

var _ transport.Transport = (*Device)(nil)

// NewDevice creates a simulated device. Zero-value config fields fall
// back to defaults.
func NewDevice(cfg Config) *Device {
	if cfg.Channels == nil {
		cfg.Channels = DefaultChannels()
		if cfg.Flags == 0 {
			cfg.Flags = device.FlagDividerSupport | device.FlagAckSupport
		}
	}
	if cfg.RxPadding == 0 {
		cfg.RxPadding = defaultRxPadding
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.QueueLen == 0 {
		cfg.QueueLen = defaultQueueLen
	}

	d := &Device{
		codec: frame.NewSerialCodec(),
		info: device.Info{
			ChMax:     uint8(len(cfg.Channels)),
			Flags:     cfg.Flags,
			RxPadding: cfg.RxPadding,
		},
		channels: cfg.Channels,
		interval: cfg.Interval,
		readq:    make(chan []byte, cfg.QueueLen),
	}
	d.recv = protocol.NewReceiver(d.codec, protocol.RecvCallbacks{
		DevInfo: d.onDevInfo,
		ChInfo:  d.onChInfo,
		Enable:  d.onEnable,
		Div:     d.onDiv,
		Start:   d.onStart,
	})
	return d
}

// Start resets the device state and begins accepting commands.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	for i := range d.channels {
		d.channels[i].Enabled = false
		d.channels[i].Div = 1
	}
	d.tick = 0
	d.overflow = false
	d.started = true
	return nil
}

// Stop halts streaming and drops queued frames.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	stop := d.streamStop
	d.streamStop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.streamWG.Wait()

	for {
		select {
		case <-d.readq:
		default:
			return nil
		}
	}
}

// Read returns the next queued frame, or an empty slice when none arrives
// within the poll interval.
func (d *Device) Read() ([]byte, error) {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil, transport.ErrClosed
	}

	select {
	case data := <-d.readq:
		return data, nil
	case <-time.After(simPollInterval):
		return nil, nil
	}
}

// Write feeds a command frame to the device.
func (d *Device) Write(data []byte) (int, error) {
	d.mu.Lock()
	started := d.started
	pad := d.pad
	d.mu.Unlock()
	if !started {
		return 0, transport.ErrClosed
	}

	n := len(data)
	if pad > 0 && n%pad != 0 {
		n += pad - n%pad
	}
	d.recv.Handle(data)
	return n, nil
}

// DropAll discards queued outbound frames.
func (d *Device) DropAll() {
	for {
		select {
		case <-d.readq:
		default:
			return
		}
	}
}

// WritePadding returns the configured write alignment.
func (d *Device) WritePadding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pad
}

// SetWritePadding configures write alignment. The simulator only records
// it; padding bytes are ignored by the frame scanner anyway.
func (d *Device) SetWritePadding(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pad = n
}

// Channel implements the channel lookup used while encoding stream
// frames.
func (d *Device) Channel(id uint8) (device.Channel, bool) {
	if int(id) >= len(d.channels) {
		return device.Channel{}, false
	}
	return d.channels[id].Channel, true
}

func (d *Device) onDevInfo([]byte) {
	d.mu.Lock()
	raw := d.recv.EncodeDevInfo(d.info)
	d.mu.Unlock()
	d.push(raw)
}

func (d *Device) onChInfo(payload []byte) {
	if len(payload) < 1 {
		return
	}
	d.mu.Lock()
	ch, ok := d.Channel(payload[0])
	d.mu.Unlock()
	if !ok {
		ch = device.Channel{ID: payload[0], TypeRaw: uint8(device.TypeUndef), Div: 1}
	}
	d.push(d.recv.EncodeChInfo(ch))
}

func (d *Device) onEnable(payload []byte) {
	d.mu.Lock()
	current := make([]bool, len(d.channels))
	for i, ch := range d.channels {
		current[i] = ch.Enabled
	}
	next, err := d.recv.DecodeEnableSet(payload, current)
	if err == nil {
		for i := range d.channels {
			d.channels[i].Enabled = next[i]
		}
	}
	d.mu.Unlock()
	d.ack(err)
}

func (d *Device) onDiv(payload []byte) {
	d.mu.Lock()
	current := make([]uint8, len(d.channels))
	for i, ch := range d.channels {
		current[i] = ch.Div
	}
	// decode expects wire values against factor-1 state
	for i := range current {
		if current[i] > 0 {
			current[i]--
		}
	}
	next, err := d.recv.DecodeDivSet(payload, current)
	if err == nil {
		for i := range d.channels {
			d.channels[i].Div = next[i]
		}
	}
	d.mu.Unlock()
	d.ack(err)
}

func (d *Device) onStart(payload []byte) {
	start, err := d.recv.DecodeStartSet(payload)
	if err == nil {
		if start {
			d.streamStart()
		} else {
			d.streamHalt()
		}
	}
	d.ack(err)
}

func (d *Device) streamStart() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streamStop != nil {
		return
	}
	stop := make(chan struct{})
	d.streamStop = stop
	d.streamWG.Add(1)
	go d.streamLoop(stop)
}

func (d *Device) streamHalt() {
	d.mu.Lock()
	stop := d.streamStop
	d.streamStop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.streamWG.Wait()
}

func (d *Device) streamLoop(stop chan struct{}) {
	defer d.streamWG.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.streamTick()
		}
	}
}

func (d *Device) streamTick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var samples []protocol.StreamSample
	for _, ch := range d.channels {
		if !ch.Enabled || ch.Gen == nil {
			continue
		}
		if ch.Div > 1 && d.tick%uint64(ch.Div) != 0 {
			continue
		}
		values, text, meta, ok := ch.Gen(d.tick)
		if !ok {
			continue
		}
		samples = append(samples, protocol.StreamSample{
			Channel: ch.ID,
			Values:  values,
			Text:    text,
			Meta:    meta,
		})
	}
	d.tick++

	raw, ok := d.recv.EncodeStream(samples, d)
	if !ok {
		return
	}
	if d.overflow {
		f, err := d.codec.Decode(raw)
		if err == nil {
			f.Payload[0] |= protocol.StreamFlagOverflow
			raw = d.codec.Encode(frame.IDStream, f.Payload)
			d.overflow = false
		}
	}

	select {
	case d.readq <- raw:
	default:
		d.overflow = true
	}
}

func (d *Device) ack(err error) {
	d.mu.Lock()
	supported := d.info.AckSupported()
	d.mu.Unlock()
	if !supported {
		return
	}
	ret := int32(0)
	if err != nil {
		ret = -1
	}
	d.push(d.recv.EncodeAck(ret))
}

func (d *Device) push(raw []byte) {
	select {
	case d.readq <- raw:
	default:
	}
}
