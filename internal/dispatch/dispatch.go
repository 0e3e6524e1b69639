// Package dispatch implements the Agent-side accept loop: sniff the first
// byte of each inbound connection to tell SOCKS5 from HTTP, speak just enough
// of whichever dialect to learn the target, obtain a pooled stream to it, and
// bridge bytes. SOCKS5 and HTTP framing are hand-rolled here rather than
// grounded on a library, since both protocols are peripheral to the relay
// itself and only need to be understood well enough to extract a target
// address.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jbsouthe/relaymesh/internal/streamio"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// Obtainer is the pool operation dispatch needs: obtain a single-use stream
// to target. internal/pool.Pool satisfies this.
type Obtainer interface {
	Obtain(ctx context.Context, target wire.Address, transport wire.Transport) (*streamio.Stream, error)
}

// hopByHopHeaders are stripped from a forwarded plain-HTTP request, per the
// standard proxy hop-by-hop list.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Transfer-Encoding":   true,
	"Te":                  true,
	"Trailer":             true,
	"Upgrade":             true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
}

// Server accepts client connections on a single port and dispatches each one
// to the SOCKS5 or HTTP handler based on its first byte.
type Server struct {
	listener net.Listener
	pool     Obtainer
	logger   zerolog.Logger
}

// NewServer binds addr and returns a Server ready for Run.
func NewServer(addr string, pool Obtainer, logger zerolog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dispatch: listen %s: %w", addr, err)
	}
	return &Server{listener: l, pool: pool, logger: logger.With().Str("component", "dispatch").Logger()}, nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections until ctx is canceled or the listener errors.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("dispatch: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// bufferedConn lets the dispatcher peek the first byte through a bufio
// buffer while still using the same buffer (rather than the raw conn) for
// every subsequent read, so nothing peeked-but-unconsumed is ever dropped.
type bufferedConn struct {
	r *bufio.Reader
	net.Conn
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// CloseWrite forwards to the embedded conn's CloseWrite when it supports
// half-close, and is a no-op otherwise. net.Conn's method set doesn't include
// CloseWrite, so embedding the interface alone doesn't promote it from the
// concrete *net.TCPConn underneath.
func (b *bufferedConn) CloseWrite() error {
	if hc, ok := b.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		return
	}
	bc := &bufferedConn{r: br, Conn: conn}

	switch {
	case first[0] == 0x05:
		s.handleSOCKS5(ctx, bc)
	case isHTTPMethodByte(first[0]):
		s.handleHTTP(ctx, bc)
	default:
		s.logger.Debug().Uint8("byte", first[0]).Msg("dropping connection with unrecognized first byte")
	}
}

// isHTTPMethodByte reports whether b is the leading byte of one of the HTTP
// methods this dispatcher recognizes: C, D, G, H, O, P, T.
func isHTTPMethodByte(b byte) bool {
	switch b {
	case 'C', 'D', 'G', 'H', 'O', 'P', 'T':
		return true
	default:
		return false
	}
}

func (s *Server) obtain(ctx context.Context, host string, port uint16) (*streamio.Stream, error) {
	return s.pool.Obtain(ctx, wire.DomainAddress(host, port), wire.TransportTCP)
}

func splitHostPort(hostport string, defaultPort uint16) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("dispatch: bad port %q: %w", portStr, err)
	}
	return host, uint16(port), nil
}

func readHeaders(r *bufio.Reader) (textproto.MIMEHeader, error) {
	tp := textproto.NewReader(r)
	return tp.ReadMIMEHeader()
}

// writeRewrittenRequest emits a minimal forwarded request: an origin-form
// request line, hop-by-hop headers stripped, and the Host header prepended.
// This is intentionally not a full HTTP/1.1
// client; message bodies are forwarded as raw bytes by the relay that
// follows, not parsed or re-chunked.
func writeRewrittenRequest(w io.Writer, method, target, proto, host string, headers textproto.MIMEHeader) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", method, target, proto)
	fmt.Fprintf(&buf, "Host: %s\r\n", host)
	for name, values := range headers {
		if hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(name)] || textproto.CanonicalMIMEHeaderKey(name) == "Host" {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
	}
	buf.WriteString("\r\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// requestLineTarget reduces an absolute-form request target ("http://host/path")
// to origin-form ("/path"), leaving an already-origin-form target untouched.
func requestLineTarget(raw string) string {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw
	}
	rest := raw[strings.Index(raw, "://")+3:]
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i:]
	}
	return "/"
}
