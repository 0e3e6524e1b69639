// Package session implements the authentication handshake: the Agent wraps
// a fresh AES key with its RSA private key and sends it inside an
// AuthRequest; the Proxy unwraps it with the claimed user's public key,
// checks the replay window, and installs the session cipher on both sides
// only after the AuthResponse has crossed the wire in plaintext.
package session

import (
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// Session is a fully handshaken transport: its Codec has a cipher installed
// and is ready to carry a ConnectRequest/ConnectResponse pair followed by
// Data frames. A Session/transport carries exactly one stream and is never
// reused afterward.
type Session struct {
	Codec     *wire.Codec
	SessionID string
}
