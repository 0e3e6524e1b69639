package streamio

import (
	"io"

	"golang.org/x/sync/errgroup"
)

// copyBufSize matches the largest datagram this relay ever has to carry in
// one chunk, so the same buffer works for both TCP streaming and UDP-style
// chunked relaying.
const copyBufSize = 65535

// halfCloseWriter is satisfied by anything that can shut down its write side
// independently of a full Close, such as *net.TCPConn's CloseWrite or
// Stream's CloseWrite.
type halfCloseWriter interface {
	CloseWrite() error
}

// closeWrite half-closes w's write side if it supports that, and is a no-op
// otherwise.
func closeWrite(w io.Writer) {
	if hc, ok := w.(halfCloseWriter); ok {
		_ = hc.CloseWrite()
	}
}

// Relay copies bytes bidirectionally between a and b until both directions
// have ended, half-closing whichever destination finishes first so the other
// direction keeps running independently. It returns the first non-nil error
// encountered, or nil if both directions ended in a clean EOF.
func Relay(a, b io.ReadWriteCloser) error {
	return RelayWithHooks(a, b, nil, nil)
}

// RelayWithHooks is Relay with an optional per-chunk observer for each
// direction (onAToB sees bytes flowing a->b, onBToA the reverse); either may
// be nil. Bandwidth accounting and chunk-size stats hang off this without
// the copy primitive itself knowing about users or counters.
//
// A direction's clean EOF half-closes only the destination it was writing
// to; it does not tear down the other, still-running direction. A genuine
// error on either side closes both ends immediately, since the connection is
// no longer trustworthy in either direction.
func RelayWithHooks(a, b io.ReadWriteCloser, onAToB, onBToA func(n int)) error {
	defer a.Close()
	defer b.Close()

	var g errgroup.Group

	g.Go(func() error {
		_, err := io.CopyBuffer(hookWriter{b, onAToB}, a, make([]byte, copyBufSize))
		if err != nil {
			a.Close()
			b.Close()
			return err
		}
		closeWrite(b)
		return nil
	})
	g.Go(func() error {
		_, err := io.CopyBuffer(hookWriter{a, onBToA}, b, make([]byte, copyBufSize))
		if err != nil {
			a.Close()
			b.Close()
			return err
		}
		closeWrite(a)
		return nil
	})

	return g.Wait()
}

// RelayDatagram copies bytes bidirectionally between a and b, tearing down
// both sides the instant either direction ends, whether by clean EOF or
// error. Unlike Relay, it makes no attempt at half-close: it's for
// connectionless UDP-style transports, where one side going quiet usually
// means the datagram flow itself has ended, not that one half of a duplex
// stream finished independently of the other.
func RelayDatagram(a, b io.ReadWriteCloser) error {
	return RelayDatagramWithHooks(a, b, nil, nil)
}

// RelayDatagramWithHooks is RelayDatagram with the same optional per-chunk
// observers RelayWithHooks takes.
func RelayDatagramWithHooks(a, b io.ReadWriteCloser, onAToB, onBToA func(n int)) error {
	var g errgroup.Group

	g.Go(func() error {
		defer a.Close()
		defer b.Close()
		_, err := io.CopyBuffer(hookWriter{b, onAToB}, a, make([]byte, copyBufSize))
		return err
	})
	g.Go(func() error {
		defer a.Close()
		defer b.Close()
		_, err := io.CopyBuffer(hookWriter{a, onBToA}, b, make([]byte, copyBufSize))
		return err
	})

	return g.Wait()
}

// hookWriter wraps a Writer and calls hook with the length of every
// successful Write, if hook is non-nil.
type hookWriter struct {
	w    io.Writer
	hook func(n int)
}

func (h hookWriter) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	if h.hook != nil && n > 0 {
		h.hook(n)
	}
	return n, err
}
