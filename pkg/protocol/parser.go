// Package protocol maps wire frames to typed protocol events and builds
// command frames. The Parser is the client half; Receiver is the device
// half used by simulated devices.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
)

// Set-frame modes: how enable/divider frames address channels.
const (
	setSingle = 0 // one channel: selector byte + one value
	setBulk   = 1 // per-channel value list
	setAll    = 2 // one value applied to every channel
)

var (
	// ErrWrongFrame reports a decode call on a frame of a different ID.
	ErrWrongFrame = errors.New("protocol: unexpected frame ID")

	// ErrDecode reports a malformed frame payload.
	ErrDecode = errors.New("protocol: malformed payload")
)

// Ack is a decoded command acknowledgement.
type Ack struct {
	OK  bool
	Ret int32
}

// ChannelSource resolves channel metadata while decoding stream frames.
// Implemented by *device.Registry.
type ChannelSource interface {
	Channel(id uint8) (device.Channel, bool)
}

// Parser builds command frames and decodes device responses for one wire
// format. Stateless and safe for concurrent use.
type Parser struct {
	codec frame.Codec
}

// NewParser returns a parser over the given frame codec.
func NewParser(codec frame.Codec) *Parser {
	return &Parser{codec: codec}
}

// Codec returns the underlying frame codec.
func (p *Parser) Codec() frame.Codec { return p.codec }

// FrameDevInfoRequest builds a device-info request frame.
func (p *Parser) FrameDevInfoRequest() []byte {
	return p.codec.Encode(frame.IDDevInfo, nil)
}

// FrameChInfoRequest builds a channel-info request frame.
func (p *Parser) FrameChInfoRequest(ch uint8) []byte {
	return p.codec.Encode(frame.IDChInfo, []byte{ch})
}

// FrameStreamStart builds a stream start (true) or stop (false) frame.
func (p *Parser) FrameStreamStart(start bool) []byte {
	b := byte(0)
	if start {
		b = 1
	}
	return p.codec.Encode(frame.IDStart, []byte{b})
}

// FrameEnableSingle builds an enable frame for one channel.
func (p *Parser) FrameEnableSingle(ch uint8, en bool) []byte {
	b := byte(0)
	if en {
		b = 1
	}
	return p.codec.Encode(frame.IDEnable, []byte{setSingle, ch, b})
}

// FrameEnableAll builds an enable frame applied to every channel.
func (p *Parser) FrameEnableAll(en bool) []byte {
	b := byte(0)
	if en {
		b = 1
	}
	return p.codec.Encode(frame.IDEnable, []byte{setAll, 0, b})
}

// FrameEnableBulk builds an enable frame with a per-channel value list,
// ordered by channel ID.
func (p *Parser) FrameEnableBulk(en []bool) []byte {
	payload := make([]byte, 2, 2+len(en))
	payload[0] = setBulk
	for _, e := range en {
		b := byte(0)
		if e {
			b = 1
		}
		payload = append(payload, b)
	}
	return p.codec.Encode(frame.IDEnable, payload)
}

// Divider factors are carried on the wire as factor-1, so the zero byte
// means "every sample".

// FrameDivSingle builds a divider frame for one channel.
func (p *Parser) FrameDivSingle(ch uint8, div uint8) []byte {
	return p.codec.Encode(frame.IDDiv, []byte{setSingle, ch, div - 1})
}

// FrameDivAll builds a divider frame applied to every channel.
func (p *Parser) FrameDivAll(div uint8) []byte {
	return p.codec.Encode(frame.IDDiv, []byte{setAll, 0, div - 1})
}

// FrameDivBulk builds a divider frame with a per-channel factor list,
// ordered by channel ID.
func (p *Parser) FrameDivBulk(div []uint8) []byte {
	payload := make([]byte, 2, 2+len(div))
	payload[0] = setBulk
	for _, d := range div {
		payload = append(payload, d-1)
	}
	return p.codec.Encode(frame.IDDiv, payload)
}

// DecodeAck decodes an acknowledgement frame. The payload is a little-endian
// int32 return code, zero on success.
func (p *Parser) DecodeAck(f frame.Frame) (Ack, error) {
	if f.ID != frame.IDAck {
		return Ack{}, fmt.Errorf("%w: got %s, want ack", ErrWrongFrame, f.ID)
	}
	if len(f.Payload) < 4 {
		return Ack{}, fmt.Errorf("%w: ack payload %d bytes", ErrDecode, len(f.Payload))
	}
	ret := int32(binary.LittleEndian.Uint32(f.Payload[:4]))
	return Ack{OK: ret == 0, Ret: ret}, nil
}

// DecodeDevInfo decodes a device-info response.
func (p *Parser) DecodeDevInfo(f frame.Frame) (device.Info, error) {
	if f.ID != frame.IDDevInfo {
		return device.Info{}, fmt.Errorf("%w: got %s, want devinfo", ErrWrongFrame, f.ID)
	}
	if len(f.Payload) < 3 {
		return device.Info{}, fmt.Errorf("%w: devinfo payload %d bytes", ErrDecode, len(f.Payload))
	}
	return device.Info{
		ChMax:     f.Payload[0],
		Flags:     device.Flags(f.Payload[1]),
		RxPadding: int(f.Payload[2]),
	}, nil
}

// DecodeChInfo decodes a channel-info response. The response does not carry
// the channel ID; it is taken from the request context.
func (p *Parser) DecodeChInfo(f frame.Frame, ch uint8) (device.Channel, error) {
	if f.ID != frame.IDChInfo {
		return device.Channel{}, fmt.Errorf("%w: got %s, want chinfo", ErrWrongFrame, f.ID)
	}
	if len(f.Payload) < 5 {
		return device.Channel{}, fmt.Errorf("%w: chinfo payload %d bytes", ErrDecode, len(f.Payload))
	}

	name := f.Payload[5:]
	// Names are NUL-padded on the wire.
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}

	// Saturate rather than wrap on the maximum wire value.
	div := f.Payload[3]
	if div < 255 {
		div++
	}

	return device.Channel{
		ID:      ch,
		Enabled: f.Payload[0] != 0,
		TypeRaw: f.Payload[1],
		VDim:    int(f.Payload[2]),
		Div:     div,
		MLen:    int(f.Payload[4]),
		Name:    string(name),
	}, nil
}
