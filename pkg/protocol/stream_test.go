package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/muurk/nxscope/pkg/device"
	"github.com/muurk/nxscope/pkg/frame"
)

// chanSet is a minimal ChannelSource for tests.
type chanSet map[uint8]device.Channel

func (c chanSet) Channel(id uint8) (device.Channel, bool) {
	ch, ok := c[id]
	return ch, ok
}

func testChannels() chanSet {
	return chanSet{
		0: {ID: 0, TypeRaw: uint8(device.TypeFloat), VDim: 1, Name: "f1"},
		1: {ID: 1, TypeRaw: uint8(device.TypeFloat), VDim: 3, Name: "vec"},
		2: {ID: 2, TypeRaw: uint8(device.TypeInt16), VDim: 1, Name: "i16"},
		3: {ID: 3, TypeRaw: uint8(device.TypeChar), VDim: 8, Name: "log"},
		4: {ID: 4, TypeRaw: uint8(device.TypeInt8), VDim: 2, MLen: 1, Name: "meta1"},
		5: {ID: 5, TypeRaw: uint8(device.TypeNone), VDim: 0, MLen: 4, Name: "metaonly"},
		6: {ID: 6, TypeRaw: uint8(device.TypeB16), VDim: 1, Name: "fixed"},
	}
}

func encodeBatch(t *testing.T, samples []StreamSample, src ChannelSource) frame.Frame {
	t.Helper()
	codec := frame.NewSerialCodec()
	r := NewReceiver(codec, RecvCallbacks{})
	raw, ok := r.EncodeStream(samples, src)
	if !ok {
		t.Fatal("EncodeStream() produced no frame")
	}
	f, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return f
}

func TestDecodeStreamRoundTrip(t *testing.T) {
	p, _ := testParser()
	src := testChannels()

	tests := []struct {
		name   string
		in     []StreamSample
		verify func(t *testing.T, b *StreamBatch)
	}{
		{
			name: "scalar float",
			in:   []StreamSample{{Channel: 0, Values: []float64{0.5}}},
			verify: func(t *testing.T, b *StreamBatch) {
				if len(b.Samples) != 1 {
					t.Fatalf("samples = %d, want 1", len(b.Samples))
				}
				s := b.Samples[0]
				if s.Channel != 0 || s.Kind != device.KindNum {
					t.Errorf("sample = %+v", s)
				}
				if len(s.Values) != 1 || s.Values[0] != 0.5 {
					t.Errorf("values = %v, want [0.5]", s.Values)
				}
			},
		},
		{
			name: "vector float",
			in:   []StreamSample{{Channel: 1, Values: []float64{1, 0, -1}}},
			verify: func(t *testing.T, b *StreamBatch) {
				s := b.Samples[0]
				if len(s.Values) != 3 {
					t.Fatalf("values = %v, want 3 elements", s.Values)
				}
				for i, want := range []float64{1, 0, -1} {
					if s.Values[i] != want {
						t.Errorf("values[%d] = %v, want %v", i, s.Values[i], want)
					}
				}
			},
		},
		{
			name: "signed integer",
			in:   []StreamSample{{Channel: 2, Values: []float64{-12345}}},
			verify: func(t *testing.T, b *StreamBatch) {
				if got := b.Samples[0].Values[0]; got != -12345 {
					t.Errorf("value = %v, want -12345", got)
				}
			},
		},
		{
			name: "char data",
			in:   []StreamSample{{Channel: 3, Text: "hello"}},
			verify: func(t *testing.T, b *StreamBatch) {
				s := b.Samples[0]
				if s.Kind != device.KindChar || s.Text != "hello" {
					t.Errorf("sample = %+v, want text %q", s, "hello")
				}
			},
		},
		{
			name: "values with metadata word",
			in:   []StreamSample{{Channel: 4, Values: []float64{1, -1}, Meta: []uint64{42}}},
			verify: func(t *testing.T, b *StreamBatch) {
				s := b.Samples[0]
				if len(s.Meta) != 1 || s.Meta[0] != 42 {
					t.Errorf("meta = %v, want [42]", s.Meta)
				}
			},
		},
		{
			name: "metadata only channel",
			in:   []StreamSample{{Channel: 5, Meta: []uint64{0xdeadbeef}}},
			verify: func(t *testing.T, b *StreamBatch) {
				s := b.Samples[0]
				if s.Kind != device.KindNone || len(s.Values) != 0 {
					t.Errorf("sample = %+v, want metadata only", s)
				}
				if len(s.Meta) != 1 || s.Meta[0] != 0xdeadbeef {
					t.Errorf("meta = %v, want [0xdeadbeef]", s.Meta)
				}
			},
		},
		{
			name: "fixed point",
			in:   []StreamSample{{Channel: 6, Values: []float64{1.5}}},
			verify: func(t *testing.T, b *StreamBatch) {
				if got := b.Samples[0].Values[0]; math.Abs(got-1.5) > 1e-4 {
					t.Errorf("value = %v, want 1.5", got)
				}
			},
		},
		{
			name: "multiple channels in one batch",
			in: []StreamSample{
				{Channel: 0, Values: []float64{0.25}},
				{Channel: 2, Values: []float64{100}},
				{Channel: 0, Values: []float64{0.75}},
			},
			verify: func(t *testing.T, b *StreamBatch) {
				if len(b.Samples) != 3 {
					t.Fatalf("samples = %d, want 3", len(b.Samples))
				}
				// Wire order is preserved.
				if b.Samples[0].Values[0] != 0.25 || b.Samples[2].Values[0] != 0.75 {
					t.Errorf("order not preserved: %+v", b.Samples)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := encodeBatch(t, tt.in, src)
			batch, err := p.DecodeStream(f, src)
			if err != nil {
				t.Fatalf("DecodeStream() error = %v", err)
			}
			tt.verify(t, batch)
		})
	}
}

func TestDecodeStreamUndeclaredChannel(t *testing.T) {
	p, _ := testParser()

	f := frame.Frame{ID: frame.IDStream, Payload: []byte{0x00, 99, 1, 2, 3, 4}}
	_, err := p.DecodeStream(f, testChannels())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("DecodeStream() error = %v, want ErrDecode", err)
	}
}

func TestDecodeStreamOverflowFlag(t *testing.T) {
	p, _ := testParser()
	src := testChannels()

	f := frame.Frame{ID: frame.IDStream, Payload: []byte{StreamFlagOverflow}}
	batch, err := p.DecodeStream(f, src)
	if err != nil {
		t.Fatalf("DecodeStream() error = %v", err)
	}
	if !batch.Overflow() {
		t.Error("Overflow() = false, want true")
	}
	if len(batch.Samples) != 0 {
		t.Errorf("samples = %d, want 0", len(batch.Samples))
	}
}

func TestEncodeStreamSkipsEmpty(t *testing.T) {
	codec := frame.NewSerialCodec()
	r := NewReceiver(codec, RecvCallbacks{})

	_, ok := r.EncodeStream([]StreamSample{{Channel: 0}}, testChannels())
	if ok {
		t.Error("EncodeStream() = ok for sample without data")
	}
}

func TestRecvSetDecode(t *testing.T) {
	p, codec := testParser()
	r := NewReceiver(codec, RecvCallbacks{})

	decode := func(t *testing.T, raw []byte) frame.Frame {
		t.Helper()
		f, err := codec.Decode(raw)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		return f
	}

	t.Run("enable single", func(t *testing.T) {
		f := decode(t, p.FrameEnableSingle(1, true))
		got, err := r.DecodeEnableSet(f.Payload, []bool{false, false, false})
		if err != nil {
			t.Fatalf("DecodeEnableSet() error = %v", err)
		}
		want := []bool{false, true, false}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("enable = %v, want %v", got, want)
				break
			}
		}
	})

	t.Run("enable all", func(t *testing.T) {
		f := decode(t, p.FrameEnableAll(true))
		got, err := r.DecodeEnableSet(f.Payload, []bool{false, false})
		if err != nil {
			t.Fatalf("DecodeEnableSet() error = %v", err)
		}
		if !got[0] || !got[1] {
			t.Errorf("enable = %v, want all true", got)
		}
	})

	t.Run("divider bulk", func(t *testing.T) {
		f := decode(t, p.FrameDivBulk([]uint8{1, 4, 8}))
		got, err := r.DecodeDivSet(f.Payload, []uint8{1, 1, 1})
		if err != nil {
			t.Fatalf("DecodeDivSet() error = %v", err)
		}
		want := []uint8{1, 4, 8}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("div = %v, want %v", got, want)
				break
			}
		}
	})

	t.Run("start", func(t *testing.T) {
		f := decode(t, p.FrameStreamStart(true))
		start, err := r.DecodeStartSet(f.Payload)
		if err != nil {
			t.Fatalf("DecodeStartSet() error = %v", err)
		}
		if !start {
			t.Error("start = false, want true")
		}
	})
}
