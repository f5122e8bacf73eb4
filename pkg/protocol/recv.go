package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
)

// RecvCallbacks are invoked by a Receiver for each decoded request frame.
// The payload passed to each callback excludes the frame header and footer.
type RecvCallbacks struct {
	DevInfo func(payload []byte)
	ChInfo  func(payload []byte)
	Enable  func(payload []byte)
	Div     func(payload []byte)
	Start   func(payload []byte)
}

// Receiver is the device half of the protocol: it decodes command frames
// from a client and encodes the responses. Used by simulated devices.
type Receiver struct {
	codec frame.Codec
	cb    RecvCallbacks
}

// NewReceiver returns a receiver over the given frame codec.
func NewReceiver(codec frame.Codec, cb RecvCallbacks) *Receiver {
	return &Receiver{codec: codec, cb: cb}
}

// Handle locates and decodes one frame in data and dispatches it to the
// matching callback. Incomplete or corrupted input is ignored; command
// writes arrive whole from the transports this is used with.
func (r *Receiver) Handle(data []byte) {
	start := r.codec.FindStart(data)
	if start < 0 {
		return
	}
	f, err := r.codec.Decode(data[start:])
	if err != nil {
		return
	}

	switch f.ID {
	case frame.IDDevInfo:
		if r.cb.DevInfo != nil {
			r.cb.DevInfo(f.Payload)
		}
	case frame.IDChInfo:
		if r.cb.ChInfo != nil {
			r.cb.ChInfo(f.Payload)
		}
	case frame.IDEnable:
		if r.cb.Enable != nil {
			r.cb.Enable(f.Payload)
		}
	case frame.IDDiv:
		if r.cb.Div != nil {
			r.cb.Div(f.Payload)
		}
	case frame.IDStart:
		if r.cb.Start != nil {
			r.cb.Start(f.Payload)
		}
	}
}

// DecodeStartSet decodes a stream start/stop payload.
func (r *Receiver) DecodeStartSet(payload []byte) (bool, error) {
	if len(payload) < 1 {
		return false, fmt.Errorf("%w: empty start payload", ErrDecode)
	}
	return payload[0] != 0, nil
}

// DecodeEnableSet decodes an enable set-frame payload against the current
// per-channel state and returns the new state.
func (r *Receiver) DecodeEnableSet(payload []byte, current []bool) ([]bool, error) {
	mode, ch, values, err := splitSet(payload)
	if err != nil {
		return nil, err
	}

	out := append([]bool(nil), current...)
	switch mode {
	case setSingle:
		if int(ch) >= len(out) {
			return nil, fmt.Errorf("%w: enable for channel %d", ErrDecode, ch)
		}
		out[ch] = values[0] != 0
	case setAll:
		for i := range out {
			out[i] = values[0] != 0
		}
	case setBulk:
		if len(values) < len(out) {
			return nil, fmt.Errorf("%w: bulk enable %d values", ErrDecode, len(values))
		}
		for i := range out {
			out[i] = values[i] != 0
		}
	default:
		return nil, fmt.Errorf("%w: enable mode %d", ErrDecode, mode)
	}
	return out, nil
}

// DecodeDivSet decodes a divider set-frame payload against the current
// per-channel factors and returns the new factors.
func (r *Receiver) DecodeDivSet(payload []byte, current []uint8) ([]uint8, error) {
	mode, ch, values, err := splitSet(payload)
	if err != nil {
		return nil, err
	}

	out := append([]uint8(nil), current...)
	switch mode {
	case setSingle:
		if int(ch) >= len(out) {
			return nil, fmt.Errorf("%w: divider for channel %d", ErrDecode, ch)
		}
		out[ch] = values[0] + 1
	case setAll:
		for i := range out {
			out[i] = values[0] + 1
		}
	case setBulk:
		if len(values) < len(out) {
			return nil, fmt.Errorf("%w: bulk divider %d values", ErrDecode, len(values))
		}
		for i := range out {
			out[i] = values[i] + 1
		}
	default:
		return nil, fmt.Errorf("%w: divider mode %d", ErrDecode, mode)
	}
	return out, nil
}

func splitSet(payload []byte) (mode, ch uint8, values []byte, err error) {
	if len(payload) < 3 {
		return 0, 0, nil, fmt.Errorf("%w: set payload %d bytes", ErrDecode, len(payload))
	}
	return payload[0], payload[1], payload[2:], nil
}

// EncodeDevInfo builds a device-info response frame.
func (r *Receiver) EncodeDevInfo(info device.Info) []byte {
	payload := []byte{info.ChMax, uint8(info.Flags), uint8(info.RxPadding)}
	return r.codec.Encode(frame.IDDevInfo, payload)
}

// EncodeChInfo builds a channel-info response frame.
func (r *Receiver) EncodeChInfo(ch device.Channel) []byte {
	en := byte(0)
	if ch.Enabled {
		en = 1
	}
	div := ch.Div
	if div > 0 {
		div--
	}
	payload := make([]byte, 0, 5+len(ch.Name))
	payload = append(payload, en, ch.TypeRaw, byte(ch.VDim), div, byte(ch.MLen))
	payload = append(payload, []byte(ch.Name)...)
	return r.codec.Encode(frame.IDChInfo, payload)
}

// EncodeAck builds an acknowledgement frame with the given return code.
func (r *Receiver) EncodeAck(ret int32) []byte {
	payload := binary.LittleEndian.AppendUint32(nil, uint32(ret))
	return r.codec.Encode(frame.IDAck, payload)
}

// EncodeStream builds a stream frame from samples. Samples without values
// and without metadata are skipped; ok is false when nothing remains.
func (r *Receiver) EncodeStream(samples []StreamSample, src ChannelSource) ([]byte, bool) {
	payload := []byte{0} // flags

	n := 0
	for _, s := range samples {
		if len(s.Values) == 0 && s.Text == "" && len(s.Meta) == 0 {
			continue
		}
		ch, ok := src.Channel(s.Channel)
		if !ok {
			continue
		}
		ti, ok := ch.Type().Info()
		if !ok {
			continue
		}

		payload = append(payload, s.Channel)
		switch ti.Kind {
		case device.KindNum:
			for i := 0; i < ch.VDim; i++ {
				var v float64
				if i < len(s.Values) {
					v = s.Values[i]
				}
				payload = encodeNum(payload, v, ti)
			}
		case device.KindChar:
			text := make([]byte, ch.VDim)
			copy(text, s.Text)
			payload = append(payload, text...)
		}
		payload = encodeMeta(payload, s.Meta, ch.MLen)
		n++
	}

	if n == 0 {
		return nil, false
	}
	return r.codec.Encode(frame.IDStream, payload), true
}

func encodeNum(dst []byte, v float64, ti device.TypeInfo) []byte {
	if ti.Float {
		if ti.Size == 4 {
			return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)))
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
	}

	raw := uint64(int64(math.Round(v * ti.Scale)))
	switch ti.Size {
	case 1:
		return append(dst, byte(raw))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(raw))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(raw))
	default:
		return binary.LittleEndian.AppendUint64(dst, raw)
	}
}

func encodeMeta(dst []byte, meta []uint64, mlen int) []byte {
	if mlen == 0 {
		return dst
	}
	var word uint64
	if len(meta) > 0 {
		word = meta[0]
	}
	switch mlen {
	case 1:
		return append(dst, byte(word))
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(word))
	case 4:
		return binary.LittleEndian.AppendUint32(dst, uint32(word))
	case 8:
		return binary.LittleEndian.AppendUint64(dst, word)
	default:
		for i := 0; i < mlen; i++ {
			var b byte
			if i < len(meta) {
				b = byte(meta[i])
			}
			dst = append(dst, b)
		}
		return dst
	}
}
