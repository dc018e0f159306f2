package protocol

import (
	"io"

	"github.com/dededodu/locoloco/errors"
)

// readChunkSize bounds each read from the underlying stream. It exceeds the
// largest legal frame, so a frame whose bytes have all arrived never needs
// two reads.
const readChunkSize = HeaderSize + MaxPayloadSize

// FrameReader decodes frames from a byte stream and holds partially
// received frames across reads. With a read deadline on the underlying
// conn, a timeout mid-frame surfaces as the net.Error while the buffered
// prefix stays put; the next call resumes the same frame.
type FrameReader struct {
	r       io.Reader
	buf     []byte
	scratch [readChunkSize]byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Buffered reports whether a partial frame is waiting for more bytes.
func (fr *FrameReader) Buffered() bool { return len(fr.buf) > 0 }

// Next returns the next complete frame. Malformed frames surface as
// *FramingError; io errors, deadline timeouts included, pass through
// unchanged with any partial frame retained.
func (fr *FrameReader) Next() (Message, error) {
	for {
		if len(fr.buf) > 0 {
			msg, n, err := Decode(fr.buf)
			if err == nil {
				fr.buf = append(fr.buf[:0], fr.buf[n:]...)
				return msg, nil
			}
			if !errors.Is(err, errors.ErrIncompleteFrame) {
				return nil, err
			}
		}

		n, err := fr.r.Read(fr.scratch[:])
		if n > 0 {
			fr.buf = append(fr.buf, fr.scratch[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}
