// Package device holds the device and channel model reported during
// discovery, plus the channel configuration registry.
package device

import "fmt"

// ChannelType is the declared data type of a channel's samples.
type ChannelType uint8

// Channel data types. Fixed-point types carry their fractional width in
// the name: B16 is a signed value scaled by 2^16.
const (
	TypeUndef  ChannelType = 0
	TypeNone   ChannelType = 1
	TypeUint8  ChannelType = 2
	TypeInt8   ChannelType = 3
	TypeUint16 ChannelType = 4
	TypeInt16  ChannelType = 5
	TypeUint32 ChannelType = 6
	TypeInt32  ChannelType = 7
	TypeUint64 ChannelType = 8
	TypeInt64  ChannelType = 9
	TypeFloat  ChannelType = 10
	TypeDouble ChannelType = 11
	TypeUB8    ChannelType = 12
	TypeB8     ChannelType = 13
	TypeUB16   ChannelType = 14
	TypeB16    ChannelType = 15
	TypeUB32   ChannelType = 16
	TypeB32    ChannelType = 17
	TypeChar   ChannelType = 18
	TypeWChar  ChannelType = 19
)

// SampleKind classifies how a channel's payload decodes.
type SampleKind int

const (
	KindNone SampleKind = iota // no sample value, metadata only
	KindNum                    // numeric, decodes to float64
	KindChar                   // character data, decodes to string
)

// TypeInfo describes the wire representation of a channel type.
type TypeInfo struct {
	// Size is the encoded size of one element in bytes.
	Size int
	// Scale divides the raw integer value to produce the sample value.
	// 1 for plain integers, a power of two for fixed-point types.
	Scale float64
	// Kind selects the decode path.
	Kind SampleKind
	// Signed reports whether the raw integer is sign-extended.
	Signed bool
	// Float reports an IEEE float representation (Size selects 32/64 bit).
	Float bool
}

var typeInfos = map[ChannelType]TypeInfo{
	TypeNone:   {Size: 0, Scale: 1, Kind: KindNone},
	TypeUint8:  {Size: 1, Scale: 1, Kind: KindNum},
	TypeInt8:   {Size: 1, Scale: 1, Kind: KindNum, Signed: true},
	TypeUint16: {Size: 2, Scale: 1, Kind: KindNum},
	TypeInt16:  {Size: 2, Scale: 1, Kind: KindNum, Signed: true},
	TypeUint32: {Size: 4, Scale: 1, Kind: KindNum},
	TypeInt32:  {Size: 4, Scale: 1, Kind: KindNum, Signed: true},
	TypeUint64: {Size: 8, Scale: 1, Kind: KindNum},
	TypeInt64:  {Size: 8, Scale: 1, Kind: KindNum, Signed: true},
	TypeFloat:  {Size: 4, Scale: 1, Kind: KindNum, Float: true},
	TypeDouble: {Size: 8, Scale: 1, Kind: KindNum, Float: true},
	TypeUB8:    {Size: 2, Scale: 256, Kind: KindNum},
	TypeB8:     {Size: 2, Scale: 256, Kind: KindNum, Signed: true},
	TypeUB16:   {Size: 4, Scale: 65536, Kind: KindNum},
	TypeB16:    {Size: 4, Scale: 65536, Kind: KindNum, Signed: true},
	TypeUB32:   {Size: 8, Scale: 4294967296, Kind: KindNum},
	TypeB32:    {Size: 8, Scale: 4294967296, Kind: KindNum, Signed: true},
	TypeChar:   {Size: 1, Kind: KindChar},
	TypeWChar:  {Size: 1, Kind: KindChar},
}

// Info returns the wire representation of t. ok is false for undefined or
// user-specific types.
func (t ChannelType) Info() (TypeInfo, bool) {
	ti, ok := typeInfos[t]
	return ti, ok
}

var typeNames = map[ChannelType]string{
	TypeUndef:  "undef",
	TypeNone:   "none",
	TypeUint8:  "uint8",
	TypeInt8:   "int8",
	TypeUint16: "uint16",
	TypeInt16:  "int16",
	TypeUint32: "uint32",
	TypeInt32:  "int32",
	TypeUint64: "uint64",
	TypeInt64:  "int64",
	TypeFloat:  "float",
	TypeDouble: "double",
	TypeUB8:    "ub8",
	TypeB8:     "b8",
	TypeUB16:   "ub16",
	TypeB16:    "b16",
	TypeUB32:   "ub32",
	TypeB32:    "b32",
	TypeChar:   "char",
	TypeWChar:  "wchar",
}

func (t ChannelType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Device capability flags reported in the info response.
type Flags uint8

const (
	// FlagDividerSupport is set when the device accepts divider commands.
	FlagDividerSupport Flags = 1 << 0
	// FlagAckSupport is set when the device acknowledges commands.
	FlagAckSupport Flags = 1 << 1
)

// Info is the device description retrieved once per connection.
type Info struct {
	ChMax     uint8
	Flags     Flags
	RxPadding int
}

// DividerSupported reports whether the device accepts divider commands.
func (i Info) DividerSupported() bool { return i.Flags&FlagDividerSupport != 0 }

// AckSupported reports whether the device acknowledges commands.
func (i Info) AckSupported() bool { return i.Flags&FlagAckSupport != 0 }

func (i Info) String() string {
	return fmt.Sprintf("Device{chmax=%d, flags=0x%02x, rxpadding=%d}",
		i.ChMax, uint8(i.Flags), i.RxPadding)
}

// Channel type byte layout: low 5 bits data type, bit 7 critical flag.
const (
	typeMask     = 0x1f
	criticalMask = 0x80
)

// Channel describes one device channel as reported during discovery.
// Enabled and Div are the device-side values at discovery time; live
// configuration is tracked by the Registry.
type Channel struct {
	ID      uint8
	TypeRaw uint8
	VDim    int
	Name    string
	Enabled bool
	// Div is the sample-rate divider factor, 1 = every sample.
	Div  uint8
	MLen int
}

// Type returns the declared data type.
func (c Channel) Type() ChannelType { return ChannelType(c.TypeRaw & typeMask) }

// Critical reports the critical-channel bit.
func (c Channel) Critical() bool { return c.TypeRaw&criticalMask != 0 }

// IsValid reports whether the channel declares a defined data type.
func (c Channel) IsValid() bool { return c.Type() != TypeUndef }

// IsNumerical reports whether samples decode as numbers.
func (c Channel) IsNumerical() bool {
	switch c.Type() {
	case TypeUndef, TypeNone, TypeChar, TypeWChar:
		return false
	}
	return true
}

// SampleSize returns the encoded size in bytes of one sample for this
// channel: value vector plus metadata. ok is false for unknown types.
func (c Channel) SampleSize() (int, bool) {
	ti, ok := c.Type().Info()
	if !ok {
		return 0, false
	}
	return ti.Size*c.VDim + c.MLen, true
}

func (c Channel) String() string {
	return fmt.Sprintf("Channel{id=%d, type=%d, vdim=%d, name=%q}",
		c.ID, c.TypeRaw, c.VDim, c.Name)
}
