package frame

import "errors"

// Frame IDs carried in the wire header.
const (
	IDUndef   ID = 0
	IDStream  ID = 1 // stream data event
	IDDevInfo ID = 2 // device info request/response
	IDChInfo  ID = 3 // channel info request/response
	IDAck     ID = 4 // command acknowledgement
	IDStart   ID = 5 // stream start/stop command
	IDEnable  ID = 6 // channel enable command
	IDDiv     ID = 7 // channel divider command
)

// ID identifies the frame type. IDs outside the known range still decode
// as valid frames; interpreting them is the decoder's concern.
type ID uint8

func (id ID) String() string {
	switch id {
	case IDStream:
		return "stream"
	case IDDevInfo:
		return "devinfo"
	case IDChInfo:
		return "chinfo"
	case IDAck:
		return "ack"
	case IDStart:
		return "start"
	case IDEnable:
		return "enable"
	case IDDiv:
		return "div"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit of the wire protocol.
type Frame struct {
	ID      ID
	Payload []byte
}

// Header is a decoded frame header. Length is the total frame length
// including header and footer.
type Header struct {
	ID     ID
	Length int
}

var (
	// ErrBadHeader reports a malformed header (wrong start marker or an
	// impossible length). Recoverable: the reader should resynchronize.
	ErrBadHeader = errors.New("frame: malformed header")

	// ErrChecksum reports a checksum mismatch over a complete frame.
	// Recoverable: the reader should resynchronize.
	ErrChecksum = errors.New("frame: checksum mismatch")

	// ErrTooShort reports that the input does not hold a complete frame.
	ErrTooShort = errors.New("frame: not enough data")
)

// Codec encodes and decodes wire frames. Implementations are stateless and
// safe for concurrent use. The synchronizer and communication handler depend
// only on this interface, so alternate wire formats can be plugged in.
type Codec interface {
	// HeaderLen returns the fixed header size in bytes.
	HeaderLen() int

	// FooterLen returns the fixed footer (checksum) size in bytes.
	FooterLen() int

	// FindStart returns the index of the first plausible frame start in
	// data, or -1 if none is present.
	FindStart(data []byte) int

	// DecodeHeader decodes a header from the start of data.
	// Returns ErrTooShort if data is shorter than HeaderLen and
	// ErrBadHeader if the bytes cannot be a header.
	DecodeHeader(data []byte) (Header, error)

	// Decode decodes one complete frame from the start of data. The input
	// must hold at least Header.Length bytes. Returns ErrChecksum when the
	// footer does not validate.
	Decode(data []byte) (Frame, error)

	// Encode builds a complete wire frame for the given ID and payload.
	Encode(id ID, payload []byte) []byte
}
