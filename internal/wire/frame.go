package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen is the hard cap on a single frame's payload length. Frames
// claiming to be larger are rejected before any allocation proportional to
// the claimed size happens.
const MaxFrameLen = 64 << 20 // 64 MiB

// readFrame reads one length-prefixed frame: a big-endian uint32 length
// followed by exactly that many bytes. A short read anywhere is reported as
// "need more bytes" via the wrapped io error; an oversize length is
// ErrBadFrame and never allocates a buffer for the claimed size.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("%w: frame length %d exceeds max %d", ErrBadFrame, n, MaxFrameLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame emits a length-prefixed frame for payload.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return fmt.Errorf("%w: payload length %d exceeds max %d", ErrBadFrame, len(payload), MaxFrameLen)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
