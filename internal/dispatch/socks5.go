package dispatch

import (
	"context"
	"fmt"
	"io"

	"github.com/jbsouthe/relaymesh/internal/streamio"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// SOCKS5 reply codes, RFC 1928 §6.
const (
	socksSucceeded         byte = 0x00
	socksCommandNotSupport byte = 0x07
	socksHostUnreachable   byte = 0x04
)

const (
	socksATYPIPv4   byte = 0x01
	socksATYPDomain byte = 0x03
	socksATYPIPv6   byte = 0x04
)

const socksCmdConnect byte = 0x01

// handleSOCKS5 speaks just enough of the protocol to bridge a client: a
// no-auth greeting, a single CONNECT command, then the pooled-stream bridge.
func (s *Server) handleSOCKS5(ctx context.Context, conn *bufferedConn) {
	if err := socks5Greeting(conn); err != nil {
		s.logger.Debug().Err(err).Msg("socks5 greeting failed")
		return
	}

	target, isConnect, err := socks5ReadCommand(conn)
	if err != nil {
		s.logger.Debug().Err(err).Msg("socks5 command read failed")
		return
	}
	if !isConnect {
		_ = writeSOCKS5Reply(conn, socksCommandNotSupport)
		return
	}

	stream, err := s.pool.Obtain(ctx, target, wire.TransportTCP)
	if err != nil {
		s.logger.Warn().Err(err).Str("target", target.String()).Msg("socks5 connect failed")
		_ = writeSOCKS5Reply(conn, socksHostUnreachable)
		return
	}

	if err := writeSOCKS5Reply(conn, socksSucceeded); err != nil {
		stream.Close()
		return
	}

	if err := streamio.Relay(conn, stream); err != nil && err != io.EOF {
		s.logger.Debug().Err(err).Msg("socks5 relay ended")
	}
}

// socks5Greeting reads the version/nmethods/methods triplet and answers with
// no-auth (0x00), regardless of what the client offered.
func socks5Greeting(rw io.ReadWriter) error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(rw, hdr); err != nil {
		return fmt.Errorf("dispatch: read greeting: %w", err)
	}
	if hdr[0] != 0x05 {
		return fmt.Errorf("dispatch: unexpected socks version %d", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(rw, methods); err != nil {
		return fmt.Errorf("dispatch: read methods: %w", err)
	}
	_, err := rw.Write([]byte{0x05, 0x00})
	return err
}

// socks5ReadCommand reads the CONNECT/BIND/UDP-ASSOCIATE request line and
// decodes the target address. isConnect is false for any command other than
// CONNECT; BIND and UDP-ASSOCIATE are not supported.
func socks5ReadCommand(r io.Reader) (addr wire.Address, isConnect bool, err error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return wire.Address{}, false, fmt.Errorf("dispatch: read command header: %w", err)
	}
	cmd, atyp := hdr[1], hdr[3]

	switch atyp {
	case socksATYPIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return wire.Address{}, false, err
		}
		port, err := readPort(r)
		if err != nil {
			return wire.Address{}, false, err
		}
		addr = wire.IPv4Address(ip, port)
	case socksATYPDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return wire.Address{}, false, err
		}
		host := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(r, host); err != nil {
			return wire.Address{}, false, err
		}
		port, err := readPort(r)
		if err != nil {
			return wire.Address{}, false, err
		}
		addr = wire.DomainAddress(string(host), port)
	case socksATYPIPv6:
		var ip [16]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return wire.Address{}, false, err
		}
		port, err := readPort(r)
		if err != nil {
			return wire.Address{}, false, err
		}
		addr = wire.IPv6Address(ip, port)
	default:
		return wire.Address{}, false, fmt.Errorf("dispatch: unknown socks5 address type %d", atyp)
	}

	return addr, cmd == socksCmdConnect, nil
}

func readPort(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// writeSOCKS5Reply writes a reply with a fixed bind address of 0.0.0.0:0
// regardless of outcome; real clients ignore it once CONNECT has succeeded.
func writeSOCKS5Reply(w io.Writer, rep byte) error {
	_, err := w.Write([]byte{0x05, rep, 0x00, socksATYPIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
