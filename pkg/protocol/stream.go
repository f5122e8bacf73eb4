package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
)

// Stream batch flags.
const (
	// StreamFlagOverflow is set when the device dropped samples because
	// its internal buffer overflowed.
	StreamFlagOverflow = 1 << 0
)

// StreamSample is one decoded per-channel sample.
type StreamSample struct {
	Channel uint8
	Kind    device.SampleKind

	// Values holds the decoded numeric vector for KindNum channels,
	// scaled according to the channel type.
	Values []float64

	// Text holds the decoded string for KindChar channels.
	Text string

	// Meta holds the decoded channel metadata: a single word for metadata
	// sizes 1/2/4/8, one element per byte otherwise.
	Meta []uint64
}

// StreamBatch is the content of one stream frame: a flags byte followed by
// a sequence of samples, in wire order.
type StreamBatch struct {
	Flags   uint8
	Samples []StreamSample
}

// Overflow reports the device-side overflow flag.
func (b *StreamBatch) Overflow() bool { return b.Flags&StreamFlagOverflow != 0 }

// DecodeStream decodes a stream frame. Channel metadata is resolved through
// src; a sample referencing an undeclared channel aborts the decode since
// the sample size cannot be known.
func (p *Parser) DecodeStream(f frame.Frame, src ChannelSource) (*StreamBatch, error) {
	if f.ID != frame.IDStream {
		return nil, fmt.Errorf("%w: got %s, want stream", ErrWrongFrame, f.ID)
	}
	if len(f.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty stream payload", ErrDecode)
	}

	batch := &StreamBatch{Flags: f.Payload[0]}

	data := f.Payload[1:]
	for len(data) > 0 {
		id := data[0]
		data = data[1:]

		ch, ok := src.Channel(id)
		if !ok {
			return nil, fmt.Errorf("%w: stream sample for undeclared channel %d", ErrDecode, id)
		}
		ti, ok := ch.Type().Info()
		if !ok {
			return nil, fmt.Errorf("%w: channel %d has unknown type %d", ErrDecode, id, ch.TypeRaw)
		}

		size := ti.Size*ch.VDim + ch.MLen
		if len(data) < size {
			return nil, fmt.Errorf("%w: truncated sample for channel %d", ErrDecode, id)
		}

		sample := StreamSample{Channel: id, Kind: ti.Kind}
		vbytes := data[:ti.Size*ch.VDim]

		switch ti.Kind {
		case device.KindNum:
			sample.Values = make([]float64, ch.VDim)
			for i := 0; i < ch.VDim; i++ {
				sample.Values[i] = decodeNum(vbytes[i*ti.Size:(i+1)*ti.Size], ti)
			}
		case device.KindChar:
			text := vbytes
			for i, b := range text {
				if b == 0 {
					text = text[:i]
					break
				}
			}
			sample.Text = string(text)
		case device.KindNone:
			// metadata only
		}

		sample.Meta = decodeMeta(data[ti.Size*ch.VDim:size], ch.MLen)
		data = data[size:]

		batch.Samples = append(batch.Samples, sample)
	}

	return batch, nil
}

// decodeNum decodes one little-endian element and applies the type scale.
func decodeNum(b []byte, ti device.TypeInfo) float64 {
	var raw uint64
	switch ti.Size {
	case 1:
		raw = uint64(b[0])
	case 2:
		raw = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		raw = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		raw = binary.LittleEndian.Uint64(b)
	}

	if ti.Float {
		if ti.Size == 4 {
			return float64(math.Float32frombits(uint32(raw)))
		}
		return math.Float64frombits(raw)
	}

	var v float64
	if ti.Signed {
		switch ti.Size {
		case 1:
			v = float64(int8(raw))
		case 2:
			v = float64(int16(raw))
		case 4:
			v = float64(int32(raw))
		case 8:
			v = float64(int64(raw))
		}
	} else {
		v = float64(raw)
	}
	return v / ti.Scale
}

// decodeMeta decodes channel metadata: single little-endian word for the
// standard widths, one element per byte otherwise.
func decodeMeta(b []byte, mlen int) []uint64 {
	switch mlen {
	case 0:
		return nil
	case 1:
		return []uint64{uint64(b[0])}
	case 2:
		return []uint64{uint64(binary.LittleEndian.Uint16(b))}
	case 4:
		return []uint64{uint64(binary.LittleEndian.Uint32(b))}
	case 8:
		return []uint64{binary.LittleEndian.Uint64(b)}
	default:
		out := make([]uint64, mlen)
		for i, v := range b {
			out[i] = uint64(v)
		}
		return out
	}
}
