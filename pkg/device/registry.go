package device

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateChannel reports a second Declare for the same channel ID.
	ErrDuplicateChannel = errors.New("device: channel already declared")

	// ErrUnknownChannel reports an operation on an undeclared channel.
	ErrUnknownChannel = errors.New("device: unknown channel")

	// ErrDividerUnsupported reports a divider operation on a device whose
	// capability flags lack divider support.
	ErrDividerUnsupported = errors.New("device: divider not supported")

	// ErrDividerRange reports a divider factor outside 1..255.
	ErrDividerRange = errors.New("device: divider out of range")
)

// ConfigEncoder produces wire frames for configuration writes. Implemented
// by the protocol parser; the registry stays wire-format agnostic.
type ConfigEncoder interface {
	FrameEnableSingle(ch uint8, en bool) []byte
	FrameEnableAll(en bool) []byte
	FrameEnableBulk(en []bool) []byte
	FrameDivSingle(ch uint8, div uint8) []byte
	FrameDivAll(div uint8) []byte
	FrameDivBulk(div []uint8) []byte
}

// Registry tracks declared channels and their configuration. Edits are
// staged and only become visible after Commit; reads always observe the
// last committed state. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	info     Info
	channels map[uint8]Channel
	order    []uint8

	enNow  map[uint8]bool
	enNew  map[uint8]bool
	divNow map[uint8]uint8
	divNew map[uint8]uint8
}

// NewRegistry creates an empty registry for a device.
func NewRegistry(info Info) *Registry {
	return &Registry{
		info:     info,
		channels: make(map[uint8]Channel),
		enNow:    make(map[uint8]bool),
		enNew:    make(map[uint8]bool),
		divNow:   make(map[uint8]uint8),
		divNew:   make(map[uint8]uint8),
	}
}

// Info returns the device description.
func (r *Registry) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// Declare registers a channel during discovery. The committed configuration
// starts from the device-reported enable/divider state.
func (r *Registry) Declare(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[ch.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateChannel, ch.ID)
	}

	div := ch.Div
	if div == 0 {
		div = 1
	}
	r.channels[ch.ID] = ch
	r.order = append(r.order, ch.ID)
	r.enNow[ch.ID] = ch.Enabled
	r.enNew[ch.ID] = ch.Enabled
	r.divNow[ch.ID] = div
	r.divNew[ch.ID] = div
	return nil
}

// Channel returns the metadata of a declared channel.
func (r *Registry) Channel(id uint8) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Channels returns all declared channels in declaration order.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.channels[id])
	}
	return out
}

// SetEnabled stages an enable/disable edit for a declared channel.
func (r *Registry) SetEnabled(id uint8, en bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	r.enNew[id] = en
	return nil
}

// SetDivider stages a divider edit for a declared channel. div is a rate
// factor, 1 = every sample. Fails when the device lacks divider support.
func (r *Registry) SetDivider(id uint8, div uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.info.DividerSupported() {
		return ErrDividerUnsupported
	}
	if _, ok := r.channels[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	if div == 0 {
		return ErrDividerRange
	}
	r.divNew[id] = div
	return nil
}

// DefaultConfig stages the baseline configuration: every channel disabled
// with divider 1.
func (r *Registry) DefaultConfig() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		r.enNew[id] = false
		r.divNew[id] = 1
	}
}

// Enabled returns the committed enable state of a channel.
func (r *Registry) Enabled(id uint8) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.channels[id]; !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return r.enNow[id], nil
}

// Divider returns the committed divider factor of a channel.
func (r *Registry) Divider(id uint8) (uint8, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.channels[id]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return r.divNow[id], nil
}

// Commit atomically applies all staged edits to the committed state and
// returns the wire frames carrying the new configuration, divider frames
// first. Divider frames are produced only for divider-capable devices.
func (r *Registry) Commit(enc ConfigEncoder) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil
	}

	var frames [][]byte

	if r.info.DividerSupported() {
		frames = append(frames, r.divFrame(enc))
		for _, id := range r.order {
			r.divNow[id] = r.divNew[id]
		}
	}

	frames = append(frames, r.enFrame(enc))
	for _, id := range r.order {
		r.enNow[id] = r.enNew[id]
	}

	return frames
}

// divFrame picks the smallest frame form: a single-channel update when
// exactly one channel changed, an all-channels form when every staged value
// is identical, a bulk list otherwise.
func (r *Registry) divFrame(enc ConfigEncoder) []byte {
	changed := -1
	nchanged := 0
	uniform := true
	for i, id := range r.order {
		if r.divNew[id] != r.divNow[id] {
			changed = i
			nchanged++
		}
		if r.divNew[id] != r.divNew[r.order[0]] {
			uniform = false
		}
	}

	switch {
	case nchanged == 1:
		id := r.order[changed]
		return enc.FrameDivSingle(id, r.divNew[id])
	case uniform:
		return enc.FrameDivAll(r.divNew[r.order[0]])
	default:
		div := make([]uint8, len(r.order))
		for i, id := range r.order {
			div[i] = r.divNew[id]
		}
		return enc.FrameDivBulk(div)
	}
}

func (r *Registry) enFrame(enc ConfigEncoder) []byte {
	changed := -1
	nchanged := 0
	uniform := true
	for i, id := range r.order {
		if r.enNew[id] != r.enNow[id] {
			changed = i
			nchanged++
		}
		if r.enNew[id] != r.enNew[r.order[0]] {
			uniform = false
		}
	}

	switch {
	case nchanged == 1:
		id := r.order[changed]
		return enc.FrameEnableSingle(id, r.enNew[id])
	case uniform:
		return enc.FrameEnableAll(r.enNew[r.order[0]])
	default:
		en := make([]bool, len(r.order))
		for i, id := range r.order {
			en[i] = r.enNew[id]
		}
		return enc.FrameEnableBulk(en)
	}
}
