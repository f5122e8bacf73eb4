package sim

import (
	"math"
	"math/rand"

	"github.com/muurk/nxscope/pkg/device"
)

// Generator produces the sample for one channel at the given stream tick.
// Returning ok=false skips the channel for this tick.
type Generator func(tick uint64) (values []float64, text string, meta []uint64, ok bool)

// RandomGen generates dim uniform random values in [0, 1).
func RandomGen(dim int) Generator {
	return func(uint64) ([]float64, string, []uint64, bool) {
		v := make([]float64, dim)
		for i := range v {
			v[i] = rand.Float64()
		}
		return v, "", nil, true
	}
}

// SawtoothGen generates a rising ramp over [0, 1000].
func SawtoothGen() Generator {
	return func(tick uint64) ([]float64, string, []uint64, bool) {
		return []float64{float64(tick % 1001)}, "", nil, true
	}
}

// TriangleGen generates a triangle waveform over [-1000, 1000].
func TriangleGen() Generator {
	return func(tick uint64) ([]float64, string, []uint64, bool) {
		pos := int64(tick % 4000)
		var v int64
		switch {
		case pos <= 1000:
			v = pos
		case pos <= 3000:
			v = 2000 - pos
		default:
			v = pos - 4000
		}
		return []float64{float64(v)}, "", nil, true
	}
}

// StaticGen always emits the same vector.
func StaticGen(values ...float64) Generator {
	return func(uint64) ([]float64, string, []uint64, bool) {
		return values, "", nil, true
	}
}

// HelloTextGen emits "hello" once every period ticks, nothing in between.
func HelloTextGen(period uint64) Generator {
	return func(tick uint64) ([]float64, string, []uint64, bool) {
		if tick%period != 0 {
			return nil, "", nil, false
		}
		return nil, "hello", nil, true
	}
}

// CounterMetaGen emits a static int vector with a wrapping counter as
// metadata.
func CounterMetaGen() Generator {
	return func(tick uint64) ([]float64, string, []uint64, bool) {
		return []float64{1, 0, -1}, "", []uint64{tick % 255}, true
	}
}

// HelloMetaGen emits "hello" as raw metadata bytes, padded to mlen.
func HelloMetaGen(mlen int) Generator {
	meta := make([]uint64, mlen)
	for i, b := range []byte("hello") {
		if i >= mlen {
			break
		}
		meta[i] = uint64(b)
	}
	return func(uint64) ([]float64, string, []uint64, bool) {
		return nil, "", meta, true
	}
}

// SineGen generates a 3-phase sine wave with the given period in ticks.
func SineGen(period uint64) Generator {
	return func(tick uint64) ([]float64, string, []uint64, bool) {
		x := 2 * math.Pi * float64(tick%period) / float64(period)
		return []float64{
			math.Sin(x),
			math.Sin(x + 2*math.Pi/3),
			math.Sin(x + 4*math.Pi/3),
		}, "", nil, true
	}
}

// DefaultChannels returns the stock simulated channel set: random noise,
// ramps, static vectors, text, metadata and a 3-phase sine, plus a final
// undeclared slot.
func DefaultChannels() []Channel {
	return []Channel{
		{Channel: device.Channel{ID: 0, TypeRaw: uint8(device.TypeFloat), VDim: 1, Name: "chan0"}, Gen: RandomGen(1)},
		{Channel: device.Channel{ID: 1, TypeRaw: uint8(device.TypeFloat), VDim: 1, Name: "chan1"}, Gen: SawtoothGen()},
		{Channel: device.Channel{ID: 2, TypeRaw: uint8(device.TypeFloat), VDim: 1, Name: "chan2"}, Gen: TriangleGen()},
		{Channel: device.Channel{ID: 3, TypeRaw: uint8(device.TypeFloat), VDim: 2, Name: "chan3"}, Gen: RandomGen(2)},
		{Channel: device.Channel{ID: 4, TypeRaw: uint8(device.TypeFloat), VDim: 3, Name: "chan4"}, Gen: RandomGen(3)},
		{Channel: device.Channel{ID: 5, TypeRaw: uint8(device.TypeFloat), VDim: 3, Name: "chan5"}, Gen: StaticGen(1.0, 0.0, -1.0)},
		{Channel: device.Channel{ID: 6, TypeRaw: uint8(device.TypeChar), VDim: 64, Name: "chan6"}, Gen: HelloTextGen(10000)},
		{Channel: device.Channel{ID: 7, TypeRaw: uint8(device.TypeInt8), VDim: 3, Name: "chan7", MLen: 1}, Gen: CounterMetaGen()},
		{Channel: device.Channel{ID: 8, TypeRaw: uint8(device.TypeNone), VDim: 0, Name: "chan8", MLen: 16}, Gen: HelloMetaGen(16)},
		{Channel: device.Channel{ID: 9, TypeRaw: uint8(device.TypeFloat), VDim: 3, Name: "chan9"}, Gen: SineGen(500)},
		{Channel: device.Channel{ID: 10, TypeRaw: uint8(device.TypeUndef), VDim: 0, Name: ""}},
	}
}
