package session

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jbsouthe/relaymesh/internal/cryptoutil"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

type staticLookup struct {
	keys map[string]*rsa.PublicKey
}

func (s staticLookup) Lookup(username string) (*rsa.PublicKey, bool) {
	k, ok := s.keys[username]
	return k, ok
}

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func TestHandshakeSucceeds(t *testing.T) {
	alicePriv := genKey(t)
	lookup := staticLookup{keys: map[string]*rsa.PublicKey{"alice": &alicePriv.PublicKey}}

	agentConn, proxyConn := net.Pipe()
	defer agentConn.Close()
	defer proxyConn.Close()

	type result struct {
		sess *Session
		err  error
	}
	agentCh := make(chan result, 1)
	proxyCh := make(chan result, 1)

	go func() {
		s, err := AgentHandshake(agentConn, "alice", alicePriv, wire.CompressionNone, time.Second)
		agentCh <- result{s, err}
	}()
	go func() {
		s, _, err := ProxyHandshake(proxyConn, lookup, wire.CompressionNone, DefaultReplayWindow, time.Second)
		proxyCh <- result{s, err}
	}()

	ar := <-agentCh
	pr := <-proxyCh

	if ar.err != nil {
		t.Fatalf("agent handshake: %v", ar.err)
	}
	if pr.err != nil {
		t.Fatalf("proxy handshake: %v", pr.err)
	}
	if !ar.sess.Codec.CipherInstalled() || !pr.sess.Codec.CipherInstalled() {
		t.Fatalf("expected cipher installed on both sides")
	}
}

func TestHandshakeReplayRejected(t *testing.T) {
	alicePriv := genKey(t)
	lookup := staticLookup{keys: map[string]*rsa.PublicKey{"alice": &alicePriv.PublicKey}}

	agentConn, proxyConn := net.Pipe()
	defer agentConn.Close()
	defer proxyConn.Close()

	// Manually send an AuthRequest with a stale timestamp instead of going
	// through AgentHandshake, which always stamps "now".
	codec := wire.NewCodec(agentConn, wire.CompressionNone)
	key := make([]byte, 32)
	wrapped, err := cryptoutil.Wrap(alicePriv, key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- codec.Send(wire.AuthRequest{
			Username:        "alice",
			Timestamp:       time.Now().Add(-1 * time.Hour).Unix(),
			EncryptedAESKey: wrapped,
		})
	}()

	_, _, err = ProxyHandshake(proxyConn, lookup, wire.CompressionNone, 300*time.Second, 200*time.Millisecond)
	if err == nil {
		t.Fatalf("expected replay rejection")
	}
	if !errors.Is(err, ErrReplayWindow) {
		t.Fatalf("expected ErrReplayWindow, got %v", err)
	}
	if sendErr := <-errCh; sendErr != nil {
		t.Fatalf("send AuthRequest: %v", sendErr)
	}
}

func TestHandshakeUsernameKeyMismatchRejected(t *testing.T) {
	alicePriv := genKey(t)
	bobPriv := genKey(t)
	lookup := staticLookup{keys: map[string]*rsa.PublicKey{"alice": &alicePriv.PublicKey}}

	agentConn, proxyConn := net.Pipe()
	defer agentConn.Close()
	defer proxyConn.Close()

	proxyCh := make(chan error, 1)
	go func() {
		_, _, err := ProxyHandshake(proxyConn, lookup, wire.CompressionNone, DefaultReplayWindow, time.Second)
		proxyCh <- err
	}()

	// Claim to be "alice" but wrap with Bob's private key.
	_, err := AgentHandshake(agentConn, "alice", bobPriv, wire.CompressionNone, time.Second)
	if err == nil {
		t.Fatalf("expected agent-side rejection")
	}
	if proxyErr := <-proxyCh; proxyErr == nil {
		t.Fatalf("expected proxy-side error")
	}
}
