// Package relay implements the Proxy's accept loop and per-connection state
// machine: authenticate the Agent's transport, honor exactly one
// ConnectRequest by dialing the requested target, then bridge bytes until
// either side closes. State transitions (AwaitAuth/AwaitConnect/Relay/Closed)
// are reported through internal/stats so telemetry and state live in one
// place.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbsouthe/relaymesh/internal/bandwidth"
	"github.com/jbsouthe/relaymesh/internal/session"
	"github.com/jbsouthe/relaymesh/internal/stats"
	"github.com/jbsouthe/relaymesh/internal/streamio"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// ErrBandwidthExceeded is returned (and reported to the Agent as a failed
// ConnectResponse) when the user's bandwidth gate denies the connect.
var ErrBandwidthExceeded = errors.New("relay: bandwidth limit exceeded")

// BandwidthLimitLookup resolves a username to its configured cap in
// megabits-per-second (0 = unlimited). internal/userstore.Store satisfies
// this via its BandwidthLimit method.
type BandwidthLimitLookup interface {
	BandwidthLimit(username string) int64
}

// Options configures a Server beyond the pieces it needs collaborators for.
type Options struct {
	Compression  wire.CompressionMode
	ReplayWindow time.Duration
	AuthTimeout  time.Duration
	DialTimeout  time.Duration
}

// DefaultDialTimeout bounds how long the Proxy waits to open the target
// socket before replying with a failed ConnectResponse.
const DefaultDialTimeout = 10 * time.Second

// Forwarder opens target/transport some other way than a local net.Dialer,
// returning a byte-duplex it can be relayed onto. internal/upstream.Connect
// (adapted to this signature) satisfies it for forward-chaining mode.
type Forwarder func(ctx context.Context, target wire.Address, transport wire.Transport) (io.ReadWriteCloser, error)

// Server accepts Agent transports, authenticates them, and relays each one's
// single stream to its requested target.
type Server struct {
	listener net.Listener

	lookup    session.PublicKeyLookup
	limits    BandwidthLimitLookup
	bandwidth *bandwidth.Registry
	stats     *stats.Registry
	opts      Options
	forward   Forwarder

	logger zerolog.Logger
}

// NewServer binds addr and returns a Server ready for Run. lookup resolves
// usernames to RSA public keys (internal/userstore.Store satisfies this);
// limits, bw, and st may all be nil, in which case bandwidth gating and
// telemetry are both skipped and every user is treated as unlimited.
func NewServer(addr string, lookup session.PublicKeyLookup, limits BandwidthLimitLookup, bw *bandwidth.Registry, st *stats.Registry, opts Options, logger zerolog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: listen %s: %w", addr, err)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	return &Server{
		listener:  l,
		lookup:    lookup,
		limits:    limits,
		bandwidth: bw,
		stats:     st,
		opts:      opts,
		logger:    logger.With().Str("component", "relay").Logger(),
	}, nil
}

// SetForwarder switches the Proxy from dialing targets directly to chaining
// every ConnectRequest through fwd, known as forward-chaining mode. Called
// before Run; nil restores direct dialing.
func (s *Server) SetForwarder(fwd Forwarder) {
	s.forward = fwd
}

// Addr reports the bound listen address, useful when addr was "host:0".
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
			return fmt.Errorf("relay: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn drives one Agent transport through AwaitAuth -> AwaitConnect ->
// Relay -> Closed, emitting a stats.Event at every transition.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	state := stats.StateAwaitAuth
	started := time.Now()

	sess, username, err := session.ProxyHandshake(conn, s.lookup, s.opts.Compression, s.opts.ReplayWindow, s.opts.AuthTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Msg("handshake failed")
		s.emit(&stats.Event{
			Username:     username,
			HandshakeOK:  false,
			HandshakeDur: int64(time.Since(started)),
		})
		s.transition(username, state, stats.StateClosed)
		return
	}
	s.emit(&stats.Event{
		Username:     username,
		HandshakeOK:  true,
		HandshakeDur: int64(time.Since(started)),
	})
	state = s.transition(username, state, stats.StateAwaitConnect)

	s.serveStream(ctx, sess, username, state)
}

// serveStream waits for the Agent's one ConnectRequest and, on success,
// relays the resulting stream to completion, recording every state
// transition starting from state. A transport is consumed by its first
// stream, so this runs at most once per connection.
func (s *Server) serveStream(ctx context.Context, sess *session.Session, username string, state stats.RelayState) {
	msg, err := sess.Codec.Recv()
	if err != nil {
		s.transition(username, state, stats.StateClosed)
		return
	}
	req, ok := msg.(wire.ConnectRequest)
	if !ok {
		s.logger.Warn().Str("user", username).Msg("expected ConnectRequest")
		s.transition(username, state, stats.StateClosed)
		return
	}

	limiter := s.limiterFor(username)
	if limiter != nil && !limiter.Allow() {
		_ = sess.Codec.Send(wire.ConnectResponse{RequestID: req.RequestID, Success: false, Message: ErrBandwidthExceeded.Error()})
		s.transition(username, state, stats.StateClosed)
		return
	}

	target, err := s.dial(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("target", req.Address.String()).Msg("dial failed")
		_ = sess.Codec.Send(wire.ConnectResponse{RequestID: req.RequestID, Success: false, Message: err.Error()})
		s.transition(username, state, stats.StateClosed)
		return
	}

	if err := sess.Codec.Send(wire.ConnectResponse{RequestID: req.RequestID, Success: true}); err != nil {
		target.Close()
		s.transition(username, state, stats.StateClosed)
		return
	}

	state = s.transition(username, state, stats.StateRelay)

	stream := streamio.New(sess.Codec, req.RequestID)
	onToTarget := func(n int) {
		if limiter != nil {
			limiter.Record(bandwidth.Sent, n)
		}
		s.emitChunk(username, n)
	}
	onToStream := func(n int) {
		if limiter != nil {
			limiter.Record(bandwidth.Received, n)
		}
		s.emitChunk(username, n)
	}

	relay := streamio.RelayWithHooks
	if req.Transport == wire.TransportUDP {
		relay = streamio.RelayDatagramWithHooks
	}
	if err := relay(stream, target, onToTarget, onToStream); err != nil {
		s.logger.Debug().Err(err).Str("user", username).Msg("relay ended")
	}

	s.transition(username, state, stats.StateClosed)
}

func (s *Server) limiterFor(username string) *bandwidth.Limiter {
	if s.bandwidth == nil {
		return nil
	}
	var limitMbps int64
	if s.limits != nil {
		limitMbps = s.limits.BandwidthLimit(username)
	}
	return s.bandwidth.Get(username, limitMbps)
}

// dial opens the requested target over the requested transport. In
// forward-chaining mode (s.forward set) the target is reached by chaining to
// an upstream Proxy instead; otherwise it's dialed directly. UDP targets are
// dialed as a connected socket, matching the TCP case closely enough that
// both satisfy io.ReadWriteCloser.
func (s *Server) dial(ctx context.Context, req wire.ConnectRequest) (io.ReadWriteCloser, error) {
	if s.forward != nil {
		return s.forward(ctx, req.Address, req.Transport)
	}
	network := "tcp"
	if req.Transport == wire.TransportUDP {
		network = "udp"
	}
	d := net.Dialer{Timeout: s.opts.DialTimeout}
	return d.DialContext(ctx, network, req.Address.String())
}

func (s *Server) emit(ev *stats.Event) {
	if s.stats == nil {
		return
	}
	s.stats.OnEvent(ev)
}

func (s *Server) emitChunk(username string, n int) {
	if s.stats == nil || n <= 0 {
		return
	}
	s.stats.OnEvent(&stats.Event{Username: username, ChunkBytes: n})
}

func (s *Server) transition(username string, from, to stats.RelayState) stats.RelayState {
	s.emit(&stats.Event{Username: username, Transition: &stats.Transition{From: from, To: to}})
	return to
}
