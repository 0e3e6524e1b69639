package session

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/jbsouthe/relaymesh/internal/cryptoutil"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// DefaultReplayWindow is the default handshake timestamp tolerance.
const DefaultReplayWindow = 300 * time.Second

// DefaultAuthTimeout bounds how long either side waits for the auth exchange.
const DefaultAuthTimeout = 10 * time.Second

var (
	// ErrAuthRejected is returned to the Agent when the Proxy's AuthResponse
	// reports failure.
	ErrAuthRejected = errors.New("session: authentication rejected")
	// ErrUnexpectedMessage is returned when a message of the wrong type
	// arrives where the handshake expects a specific one.
	ErrUnexpectedMessage = errors.New("session: unexpected message type")
	// ErrUnknownUser is sent back to the Agent when the username has no
	// registered public key.
	ErrUnknownUser = errors.New("session: unknown user")
	// ErrReplayWindow is sent back to the Agent when the AuthRequest
	// timestamp falls outside the configured tolerance.
	ErrReplayWindow = errors.New("session: timestamp expired")
)

// PublicKeyLookup resolves a username to the RSA public key it is expected
// to have wrapped its session key with. internal/userstore implements this.
type PublicKeyLookup interface {
	Lookup(username string) (*rsa.PublicKey, bool)
}

// AgentHandshake performs the client half of the handshake over conn: it
// generates a fresh session key, wraps it with priv, sends the AuthRequest,
// and — only after the AuthResponse has been decoded — installs the cipher.
func AgentHandshake(conn net.Conn, username string, priv *rsa.PrivateKey, compression wire.CompressionMode, authTimeout time.Duration) (*Session, error) {
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTimeout
	}
	codec := wire.NewCodec(conn, compression)

	key, err := cryptoutil.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("session: generate key: %w", err)
	}
	wrapped, err := cryptoutil.Wrap(priv, key)
	if err != nil {
		return nil, fmt.Errorf("session: wrap key: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(authTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	req := wire.AuthRequest{
		Username:        username,
		Timestamp:       time.Now().Unix(),
		EncryptedAESKey: wrapped,
	}
	if err := codec.Send(req); err != nil {
		return nil, fmt.Errorf("session: send AuthRequest: %w", err)
	}

	msg, err := codec.Recv()
	if err != nil {
		return nil, fmt.Errorf("session: recv AuthResponse: %w", err)
	}
	resp, ok := msg.(wire.AuthResponse)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want AuthResponse", ErrUnexpectedMessage, msg)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, resp.Message)
	}

	if err := codec.InstallCipher(key); err != nil {
		return nil, err
	}

	return &Session{Codec: codec, SessionID: resp.SessionID}, nil
}

// ProxyHandshake performs the server half of the handshake over conn. On
// success it returns the handshaken Session and the authenticated username.
// On an authentication failure (unknown user, bad key wrap, timestamp outside
// the replay window) it sends a failing AuthResponse before returning an
// error; a failed read or a first message that is not an AuthRequest returns
// an error without any response. The caller is expected to close conn.
func ProxyHandshake(conn net.Conn, lookup PublicKeyLookup, compression wire.CompressionMode, replayWindow, authTimeout time.Duration) (*Session, string, error) {
	if replayWindow <= 0 {
		replayWindow = DefaultReplayWindow
	}
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTimeout
	}
	codec := wire.NewCodec(conn, compression)

	if err := conn.SetDeadline(time.Now().Add(authTimeout)); err != nil {
		return nil, "", err
	}
	defer conn.SetDeadline(time.Time{})

	msg, err := codec.Recv()
	if err != nil {
		return nil, "", fmt.Errorf("session: recv AuthRequest: %w", err)
	}
	req, ok := msg.(wire.AuthRequest)
	if !ok {
		return nil, "", fmt.Errorf("%w: got %T, want AuthRequest", ErrUnexpectedMessage, msg)
	}

	pub, found := lookup.Lookup(req.Username)
	if !found {
		_ = codec.Send(wire.AuthResponse{Success: false, Message: "unknown user"})
		return nil, req.Username, fmt.Errorf("%w: %s", ErrUnknownUser, req.Username)
	}

	key, err := cryptoutil.Unwrap(pub, req.EncryptedAESKey)
	if err != nil {
		_ = codec.Send(wire.AuthResponse{Success: false, Message: "bad key wrap"})
		return nil, req.Username, fmt.Errorf("session: unwrap: %w", err)
	}

	now := time.Now().Unix()
	delta := now - req.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(replayWindow.Seconds()) {
		_ = codec.Send(wire.AuthResponse{Success: false, Message: "Timestamp expired outside replay window"})
		return nil, req.Username, fmt.Errorf("%w: delta %ds exceeds tolerance %s", ErrReplayWindow, delta, replayWindow)
	}

	sessionID := uuid.NewString()
	if err := codec.Send(wire.AuthResponse{Success: true, Message: "ok", SessionID: sessionID}); err != nil {
		return nil, req.Username, fmt.Errorf("session: send AuthResponse: %w", err)
	}

	if err := codec.InstallCipher(key); err != nil {
		return nil, req.Username, err
	}

	return &Session{Codec: codec, SessionID: sessionID}, req.Username, nil
}
