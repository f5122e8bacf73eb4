package comm

import (
	"github.com/muurk/nxscope/internal/logging"
	"github.com/muurk/nxscope/pkg/frame"
)

// Synchronizer recovers frame boundaries from an unaligned byte stream.
// Transport reads are appended with Feed; Next extracts complete frames,
// skipping garbage and corrupted frames one byte at a time until a valid
// start is found. Not safe for concurrent use; the communication handler
// owns one per connection.
type Synchronizer struct {
	codec frame.Codec
	buf   []byte
}

// NewSynchronizer returns a synchronizer over the given frame codec.
func NewSynchronizer(codec frame.Codec) *Synchronizer {
	return &Synchronizer{codec: codec}
}

// Feed appends raw transport bytes.
func (s *Synchronizer) Feed(data []byte) {
	s.buf = append(s.buf, data...)
}

// Next extracts the next complete, valid frame. ok is false when the
// buffered data holds no complete frame yet; more input may complete it.
func (s *Synchronizer) Next() (frame.Frame, bool) {
	for {
		start := s.codec.FindStart(s.buf)
		if start < 0 {
			s.buf = s.buf[:0]
			return frame.Frame{}, false
		}
		if start > 0 {
			logging.Debug("discarding bytes before frame start")
			s.consume(start)
		}

		if len(s.buf) < s.codec.HeaderLen() {
			return frame.Frame{}, false
		}
		hdr, err := s.codec.DecodeHeader(s.buf)
		if err != nil {
			// candidate start was not a frame, try the next byte
			s.consume(1)
			continue
		}
		if len(s.buf) < hdr.Length {
			return frame.Frame{}, false
		}

		f, err := s.codec.Decode(s.buf[:hdr.Length])
		if err != nil {
			logging.LogRawBytes("corrupted frame", s.buf[:hdr.Length])
			s.consume(1)
			continue
		}
		s.consume(hdr.Length)
		return f, true
	}
}

// Reset discards all buffered data.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
}

// Buffered returns the number of bytes awaiting frame extraction.
func (s *Synchronizer) Buffered() int {
	return len(s.buf)
}

func (s *Synchronizer) consume(n int) {
	s.buf = append(s.buf[:0], s.buf[n:]...)
}
