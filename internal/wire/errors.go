package wire

import "errors"

// Errors are all fatal to the connection they occur on; the codec does not
// attempt to resynchronize a stream after any of these.
var (
	// ErrBadFrame covers length-prefix overflow and malformed framing.
	ErrBadFrame = errors.New("wire: bad frame")
	// ErrCrypto covers AEAD verification failure.
	ErrCrypto = errors.New("wire: crypto error")
	// ErrDecompress covers a failed decompression pass.
	ErrDecompress = errors.New("wire: decompress error")
	// ErrDeserialize covers a malformed message body.
	ErrDeserialize = errors.New("wire: deserialize error")
)
