package dispatch

import (
	"context"
	"io"
	"net/textproto"
	"strings"

	"github.com/jbsouthe/relaymesh/internal/streamio"
)

const http502Response = "HTTP/1.1 502 Bad Gateway\r\nContent-Length: 11\r\n\r\nbad gateway"

// handleHTTP tunnels CONNECT requests after the outbound stream is ready;
// anything else is rewritten and forwarded as bytes via a minimal ad hoc
// client rather than a full HTTP/1.1 implementation.
func (s *Server) handleHTTP(ctx context.Context, conn *bufferedConn) {
	requestLine, err := conn.r.ReadString('\n')
	if err != nil {
		s.logger.Debug().Err(err).Msg("read request line failed")
		return
	}
	method, target, proto, ok := parseRequestLine(requestLine)
	if !ok {
		s.logger.Debug().Str("line", requestLine).Msg("malformed request line")
		return
	}

	headers, err := readHeaders(conn.r)
	if err != nil {
		s.logger.Debug().Err(err).Msg("read headers failed")
		return
	}

	if strings.EqualFold(method, "CONNECT") {
		s.handleHTTPConnect(ctx, conn, target)
		return
	}

	s.handleHTTPForward(ctx, conn, method, target, proto, headers)
}

func (s *Server) handleHTTPConnect(ctx context.Context, conn *bufferedConn, target string) {
	host, port, err := splitHostPort(target, 443)
	if err != nil {
		s.logger.Debug().Err(err).Msg("bad CONNECT target")
		_, _ = conn.Write([]byte(http502Response))
		return
	}

	stream, err := s.obtain(ctx, host, port)
	if err != nil {
		s.logger.Warn().Err(err).Str("target", target).Msg("http connect failed")
		_, _ = conn.Write([]byte(http502Response))
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		stream.Close()
		return
	}

	if err := streamio.Relay(conn, stream); err != nil && err != io.EOF {
		s.logger.Debug().Err(err).Msg("http connect relay ended")
	}
}

func (s *Server) handleHTTPForward(ctx context.Context, conn *bufferedConn, method, target, proto string, headers textproto.MIMEHeader) {
	host := headers.Get("Host")
	if host == "" {
		host = target
	}
	hostOnly, port, err := splitHostPort(host, 80)
	if err != nil {
		s.logger.Debug().Err(err).Msg("bad Host header")
		_, _ = conn.Write([]byte(http502Response))
		return
	}

	stream, err := s.obtain(ctx, hostOnly, port)
	if err != nil {
		s.logger.Warn().Err(err).Str("target", host).Msg("plain http connect failed")
		_, _ = conn.Write([]byte(http502Response))
		return
	}

	originForm := requestLineTarget(target)
	if err := writeRewrittenRequest(stream, method, originForm, proto, host, headers); err != nil {
		stream.Close()
		s.logger.Debug().Err(err).Msg("forward rewritten request failed")
		return
	}

	if err := streamio.Relay(conn, stream); err != nil && err != io.EOF {
		s.logger.Debug().Err(err).Msg("plain http relay ended")
	}
}

// parseRequestLine splits "METHOD target HTTP/1.1\r\n" into its three parts.
func parseRequestLine(line string) (method, target, proto string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
