package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	c := NewSerialCodec()

	raw := c.Encode(IDDevInfo, []byte{0x0a, 0x0b, 0x0c})

	if len(raw) != MinFrameLen+3 {
		t.Fatalf("frame length = %d, want %d", len(raw), MinFrameLen+3)
	}
	if raw[0] != SOF {
		t.Errorf("start marker = 0x%02x, want 0x%02x", raw[0], SOF)
	}
	if got := binary.LittleEndian.Uint16(raw[1:3]); got != uint16(len(raw)) {
		t.Errorf("length field = %d, want %d", got, len(raw))
	}
	if raw[3] != byte(IDDevInfo) {
		t.Errorf("frame ID = %d, want %d", raw[3], IDDevInfo)
	}
	if !bytes.Equal(raw[4:7], []byte{0x0a, 0x0b, 0x0c}) {
		t.Errorf("payload = %v, want [0a 0b 0c]", raw[4:7])
	}
}

func TestRoundTrip(t *testing.T) {
	c := NewSerialCodec()

	tests := []struct {
		name    string
		id      ID
		payload []byte
	}{
		{"empty payload", IDDevInfo, nil},
		{"single byte", IDChInfo, []byte{0x07}},
		{"ack payload", IDAck, []byte{0x00, 0x00, 0x00, 0x00}},
		{"stream payload", IDStream, []byte{0x00, 0x01, 0xde, 0xad, 0xbe, 0xef}},
		{"unknown id", ID(42), []byte{0x01, 0x02}},
		{"payload containing start marker", IDStream, []byte{SOF, SOF, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := c.Encode(tt.id, tt.payload)
			f, err := c.Decode(raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if f.ID != tt.id {
				t.Errorf("ID = %v, want %v", f.ID, tt.id)
			}
			if !bytes.Equal(f.Payload, tt.payload) {
				t.Errorf("payload = %v, want %v", f.Payload, tt.payload)
			}
		})
	}
}

func TestDecodeHeader(t *testing.T) {
	c := NewSerialCodec()

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"too short", []byte{SOF, 0x06}, ErrTooShort},
		{"bad start marker", []byte{0x54, 0x06, 0x00, 0x01}, ErrBadHeader},
		{"length below minimum", []byte{SOF, 0x03, 0x00, 0x01}, ErrBadHeader},
		{"valid", []byte{SOF, 0x06, 0x00, 0x01}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr, err := c.DecodeHeader(tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeHeader() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeHeader() error = %v", err)
			}
			if hdr.ID != IDStream || hdr.Length != 6 {
				t.Errorf("header = %+v, want {ID:stream Length:6}", hdr)
			}
		})
	}
}

func TestDecodeChecksum(t *testing.T) {
	c := NewSerialCodec()
	raw := c.Encode(IDAck, []byte{0x01, 0x02, 0x03, 0x04})

	// Flipping any single bit in the marker, ID, payload or checksum must
	// be detected. The length field is exercised separately: a corrupted
	// length changes how many bytes the CRC covers.
	for i := range raw {
		if i == 1 || i == 2 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), raw...)
			corrupted[i] ^= 1 << bit

			_, err := c.Decode(corrupted)
			if err == nil {
				t.Fatalf("Decode() accepted frame with byte %d bit %d flipped", i, bit)
			}
		}
	}

	// The pristine frame still decodes.
	if _, err := c.Decode(raw); err != nil {
		t.Fatalf("Decode() error on valid frame: %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	c := NewSerialCodec()
	raw := c.Encode(IDStream, []byte{1, 2, 3, 4, 5})

	_, err := c.Decode(raw[:len(raw)-1])
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("Decode() error = %v, want ErrTooShort", err)
	}
}

func TestFindStart(t *testing.T) {
	c := NewSerialCodec()

	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"at offset zero", []byte{SOF, 0x06, 0x00}, 0},
		{"after garbage", []byte{0x00, 0xff, SOF, 0x06}, 2},
		{"absent", []byte{0x00, 0xff, 0x12}, -1},
		{"empty", nil, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.FindStart(tt.data); got != tt.want {
				t.Errorf("FindStart() = %d, want %d", got, tt.want)
			}
		})
	}
}
