package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jbsouthe/relaymesh/internal/cryptoutil"
)

// ErrCipherAlreadyInstalled is returned by InstallCipher on a second call;
// the cipher slot is write-once for the lifetime of a Codec.
var ErrCipherAlreadyInstalled = errors.New("wire: cipher already installed")

// Codec implements the encode/decode pipeline over a single underlying
// connection: serialize -> maybe-compress -> maybe-encrypt on send, and the
// exact inverse on receive. Auth messages are never encrypted, so the
// handshake can run before a cipher exists.
//
// The cipher slot is installed at most once, after the handshake's success
// response has been encoded (sender) or decoded (receiver); reads of the
// slot afterward are lock-free.
type Codec struct {
	r    *bufio.Reader
	w    io.Writer
	conn io.Closer

	// compression is the mode this Codec uses when *sending*; the mode used
	// on receive is whatever the frame's compression byte says.
	compression CompressionMode

	cipher atomic.Pointer[cryptoutil.Cipher]

	writeMu sync.Mutex
}

// NewCodec wraps rw with the frame/envelope pipeline. compression selects
// the mode applied to outbound messages; it has no effect on what this Codec
// can decode, since the compression flag travels with every frame.
func NewCodec(rw io.ReadWriter, compression CompressionMode) *Codec {
	c := &Codec{
		r:           bufio.NewReader(rw),
		w:           rw,
		compression: compression,
	}
	if closer, ok := rw.(io.Closer); ok {
		c.conn = closer
	}
	return c
}

// Close closes the underlying connection, if it supports closing.
func (c *Codec) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// InstallCipher activates the session AEAD cipher for every subsequent
// non-Auth message. It may be called exactly once per Codec.
func (c *Codec) InstallCipher(key []byte) error {
	cip, err := cryptoutil.NewCipher(key)
	if err != nil {
		return err
	}
	if !c.cipher.CompareAndSwap(nil, cip) {
		return ErrCipherAlreadyInstalled
	}
	return nil
}

// CipherInstalled reports whether the session cipher has been activated.
func (c *Codec) CipherInstalled() bool {
	return c.cipher.Load() != nil
}

// Send encodes and writes msg: serialize, maybe-compress, maybe-encrypt,
// length-prefix. The write is fully buffered into the frame before it
// touches the underlying writer, so a partial message is never observable.
func (c *Codec) Send(msg Message) error {
	body := msg.marshal()
	mt := msg.Type()
	usedCompression := CompressionNone

	if c.compression != CompressionNone && len(body) >= minCompressLen {
		compressed, err := compress(c.compression, body)
		if err == nil && len(compressed) < len(body) {
			body = compressed
			usedCompression = c.compression
		}
	}

	if cip := c.cipher.Load(); cip != nil && !mt.isAuth() {
		enc, err := cip.Encrypt(body)
		if err != nil {
			return err
		}
		body = enc
	}

	frame := make([]byte, 0, 3+len(body))
	frame = append(frame, ProtocolVersion, byte(mt), byte(usedCompression))
	frame = append(frame, body...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.w, frame)
}

// Recv blocks until the next frame arrives and decodes it: deframe ->
// decrypt (if a cipher is installed and the type isn't Auth*) -> decompress
// -> deserialize.
func (c *Codec) Recv() (Message, error) {
	frame, err := readFrame(c.r)
	if err != nil {
		return nil, err
	}
	if len(frame) < 3 {
		return nil, fmt.Errorf("%w: envelope shorter than header", ErrBadFrame)
	}

	version := frame[0]
	mt := MessageType(frame[1])
	compMode := CompressionMode(frame[2])
	body := frame[3:]

	if version != ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", ErrBadFrame, version)
	}

	if cip := c.cipher.Load(); cip != nil && !mt.isAuth() {
		dec, err := cip.Decrypt(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
		body = dec
	}

	if compMode != CompressionNone {
		dec, err := decompress(compMode, body)
		if err != nil {
			return nil, err
		}
		body = dec
	}

	return unmarshal(mt, body)
}
