// Package streamio adapts the message-oriented wire codec into a
// byte-oriented io.ReadWriteCloser duplex, so a single bidirectional-copy
// primitive can relay bytes between a wire.Codec and a plain net.Conn.
package streamio

import (
	"errors"
	"io"
	"sync"

	"github.com/jbsouthe/relaymesh/internal/wire"
)

// ErrStreamClosed is returned by Write after CloseWrite or Close has run.
var ErrStreamClosed = errors.New("streamio: stream closed")

// Stream is a byte-duplex view of exactly one stream-id over a wire.Codec.
// A transport carries exactly one Stream for its lifetime; once Close runs
// the underlying codec is closed too, since connections are never reused
// after serving a stream. CloseWrite, unlike Close, only signals this
// stream's own write side is done: it lets the read half keep pulling
// DataPackets for the other direction of a Relay.
type Stream struct {
	codec    *wire.Codec
	streamID string

	pending []byte // leftover bytes from the last DataPacket, unread by Read

	writeCloseOnce sync.Once
	writeClosed    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps codec as a Stream scoped to streamID. codec must not be shared
// with any other Stream.
func New(codec *wire.Codec, streamID string) *Stream {
	return &Stream{
		codec:       codec,
		streamID:    streamID,
		writeClosed: make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// Codec exposes the underlying wire codec, primarily so tests can assert
// that distinct Obtain calls never return the same transport.
func (s *Stream) Codec() *wire.Codec {
	return s.codec
}

// Read implements io.Reader by pulling DataPackets matching this stream's id
// off the wire until it has bytes to hand back or sees the terminal packet.
// Messages with a different stream-id, or of any type other than Data, are
// protocol anomalies here (this transport owns exactly one stream) and are
// silently dropped.
func (s *Stream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		msg, err := s.codec.Recv()
		if err != nil {
			return 0, err
		}
		dp, ok := msg.(wire.DataPacket)
		if !ok || dp.StreamID != s.streamID {
			continue
		}
		if dp.IsEnd && len(dp.Data) == 0 {
			return 0, io.EOF
		}
		s.pending = dp.Data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write implements io.Writer by framing p as one DataPacket. The call does
// not return until the codec has fully buffered the frame, so a fast writer
// naturally blocks behind a slow underlying connection.
func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.writeClosed:
		return 0, ErrStreamClosed
	default:
	}
	if err := s.codec.Send(wire.DataPacket{StreamID: s.streamID, Data: p, IsEnd: false}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite sends the terminal DataPacket{data=[], is-end=true} marking this
// stream's write side done, without closing the underlying codec. The peer
// sees it as a clean Read EOF; this stream's own Read keeps working, and the
// codec stays usable for whatever the other relay direction is still doing
// with it. Safe to call more than once.
func (s *Stream) CloseWrite() error {
	var err error
	s.writeCloseOnce.Do(func() {
		close(s.writeClosed)
		err = s.codec.Send(wire.DataPacket{StreamID: s.streamID, Data: nil, IsEnd: true})
	})
	return err
}

// Close half-closes the write side (if CloseWrite hasn't already run) and
// then closes the underlying transport. Safe to call more than once.
func (s *Stream) Close() error {
	_ = s.CloseWrite()
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.codec.Close()
	})
	return err
}
