// Package upstream implements the Proxy's forward-chaining mode: acting as
// another hop's Agent, it picks one of the configured upstream Proxy
// addresses at random, performs the same Agent-side handshake
// internal/session already implements, and bridges the local Agent's stream
// onto the one the upstream hands back.
package upstream

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"

	"github.com/jbsouthe/relaymesh/internal/session"
	"github.com/jbsouthe/relaymesh/internal/streamio"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// DefaultConnectTimeout is the dial timeout used when the Proxy CLI's
// --connect-timeout-secs flag is left unset.
const DefaultConnectTimeout = 30 * time.Second

// ErrNoUpstreamAddrs is returned when Config.Addrs is empty.
var ErrNoUpstreamAddrs = errors.New("upstream: no upstream proxy addresses configured")

// Config holds everything needed to dial and authenticate to an upstream hop.
type Config struct {
	Addrs          []string
	Username       string
	PrivateKey     *rsa.PrivateKey
	Compression    wire.CompressionMode
	ConnectTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

// pickAddr chooses one configured upstream address uniformly at random,
// spreading load evenly across the configured upstream Proxies.
func pickAddr(addrs []string) (string, error) {
	if len(addrs) == 0 {
		return "", ErrNoUpstreamAddrs
	}
	return addrs[rand.IntN(len(addrs))], nil
}

var requestCounter atomic.Int64

func newStreamID() string {
	return fmt.Sprintf("%d-%d", time.Now().Unix(), requestCounter.Add(1))
}

// Connect dials a randomly chosen upstream address, authenticates as cfg's
// user, and asks it to open target over transport. On success it returns a
// byte-duplex Stream carrying that single upstream stream.
func Connect(ctx context.Context, cfg Config, target wire.Address, transport wire.Transport) (*streamio.Stream, error) {
	addr, err := pickAddr(cfg.Addrs)
	if err != nil {
		return nil, err
	}

	timeout := cfg.timeout()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial %s: %w", addr, err)
	}

	sess, err := session.AgentHandshake(conn, cfg.Username, cfg.PrivateKey, cfg.Compression, timeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("upstream: handshake with %s: %w", addr, err)
	}

	streamID := newStreamID()
	if err := sess.Codec.Send(wire.ConnectRequest{RequestID: streamID, Address: target, Transport: transport}); err != nil {
		sess.Codec.Close()
		return nil, fmt.Errorf("upstream: send ConnectRequest: %w", err)
	}

	msg, err := sess.Codec.Recv()
	if err != nil {
		sess.Codec.Close()
		return nil, fmt.Errorf("upstream: recv ConnectResponse: %w", err)
	}
	resp, ok := msg.(wire.ConnectResponse)
	if !ok {
		sess.Codec.Close()
		return nil, fmt.Errorf("upstream: unexpected message %T, want ConnectResponse", msg)
	}
	if !resp.Success {
		sess.Codec.Close()
		return nil, fmt.Errorf("upstream: rejected connect: %s", resp.Message)
	}

	return streamio.New(sess.Codec, streamID), nil
}

// Bridge connects upstream for target/transport and relays local onto it,
// closing both when the relay ends: for TCP once both directions have ended,
// for UDP as soon as either direction ends. local is typically the stream
// already obtained from the connecting Agent on this Proxy's near side.
func Bridge(ctx context.Context, cfg Config, target wire.Address, transport wire.Transport, local io.ReadWriteCloser) error {
	remote, err := Connect(ctx, cfg, target, transport)
	if err != nil {
		return err
	}
	if transport == wire.TransportUDP {
		return streamio.RelayDatagram(local, remote)
	}
	return streamio.Relay(local, remote)
}

// Forwarder adapts cfg to internal/relay.Forwarder's signature, letting a
// relay.Server chain every ConnectRequest to this upstream instead of
// dialing the target itself.
func Forwarder(cfg Config) func(ctx context.Context, target wire.Address, transport wire.Transport) (io.ReadWriteCloser, error) {
	return func(ctx context.Context, target wire.Address, transport wire.Transport) (io.ReadWriteCloser, error) {
		return Connect(ctx, cfg, target, transport)
	}
}
