package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// Serial wire format constants.
const (
	// SOF is the start-of-frame marker.
	SOF = 0x55

	// serialHdrLen is SOF + 2-byte length + 1-byte frame ID.
	serialHdrLen = 4

	// serialFootLen is the 2-byte CRC footer.
	serialFootLen = 2

	// MinFrameLen is the smallest valid frame (empty payload).
	MinFrameLen = serialHdrLen + serialFootLen
)

// SerialCodec implements the serial wire format:
//
//	[0]    0x55        start marker
//	[1-2]  length      total frame length, little-endian uint16
//	[3]    frame ID
//	[4+]   payload
//	[N-2]  CRC-16/XMODEM over header+payload, big-endian
//
// The CRC over a complete well-formed frame (footer included) is zero,
// which is how validation is done.
type SerialCodec struct {
	table *crc16.Table
}

// NewSerialCodec returns a codec for the serial wire format.
func NewSerialCodec() *SerialCodec {
	return &SerialCodec{table: crc16.MakeTable(crc16.CRC16_XMODEM)}
}

// HeaderLen returns the serial header size.
func (c *SerialCodec) HeaderLen() int { return serialHdrLen }

// FooterLen returns the serial footer size.
func (c *SerialCodec) FooterLen() int { return serialFootLen }

// FindStart returns the index of the first SOF byte in data, or -1.
func (c *SerialCodec) FindStart(data []byte) int {
	for i, b := range data {
		if b == SOF {
			return i
		}
	}
	return -1
}

// DecodeHeader decodes a serial frame header from the start of data.
func (c *SerialCodec) DecodeHeader(data []byte) (Header, error) {
	if len(data) < serialHdrLen {
		return Header{}, ErrTooShort
	}
	if data[0] != SOF {
		return Header{}, fmt.Errorf("%w: start marker 0x%02x", ErrBadHeader, data[0])
	}
	flen := int(binary.LittleEndian.Uint16(data[1:3]))
	if flen < MinFrameLen {
		return Header{}, fmt.Errorf("%w: frame length %d", ErrBadHeader, flen)
	}
	return Header{ID: ID(data[3]), Length: flen}, nil
}

// Decode decodes one complete frame from the start of data.
func (c *SerialCodec) Decode(data []byte) (Frame, error) {
	hdr, err := c.DecodeHeader(data)
	if err != nil {
		return Frame{}, err
	}
	if len(data) < hdr.Length {
		return Frame{}, ErrTooShort
	}
	if crc16.Checksum(data[:hdr.Length], c.table) != 0 {
		return Frame{}, ErrChecksum
	}
	// Copy out of the caller's accumulator so the frame stays valid after
	// the read buffer is reused.
	payload := append([]byte(nil), data[serialHdrLen:hdr.Length-serialFootLen]...)
	return Frame{ID: hdr.ID, Payload: payload}, nil
}

// Encode builds a complete serial frame for the given ID and payload.
func (c *SerialCodec) Encode(id ID, payload []byte) []byte {
	flen := MinFrameLen + len(payload)
	buf := make([]byte, 0, flen)
	buf = append(buf, SOF)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(flen))
	buf = append(buf, byte(id))
	buf = append(buf, payload...)
	crc := crc16.Checksum(buf, c.table)
	buf = binary.BigEndian.AppendUint16(buf, crc)
	return buf
}
