package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// putBytes appends a uint32-length-prefixed byte slice to buf.
func putBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

// putString appends a uint32-length-prefixed utf-8 string to buf.
func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

// takeBytes reads a uint32-length-prefixed byte slice from the front of b,
// returning the slice and the remainder.
func takeBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", ErrDeserialize)
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(n) > uint64(len(b)) {
		return nil, nil, fmt.Errorf("%w: truncated body (want %d, have %d)", ErrDeserialize, n, len(b))
	}
	return b[:n], b[n:], nil
}

// takeString is takeBytes for utf-8 strings.
func takeString(b []byte) (string, []byte, error) {
	v, rest, err := takeBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(v), rest, nil
}

func takeByte(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, nil, fmt.Errorf("%w: truncated byte", ErrDeserialize)
	}
	return b[0], b[1:], nil
}

func takeUint16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, fmt.Errorf("%w: truncated uint16", ErrDeserialize)
	}
	return binary.BigEndian.Uint16(b[:2]), b[2:], nil
}

func takeInt64(b []byte) (int64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated int64", ErrDeserialize)
	}
	return int64(binary.BigEndian.Uint64(b[:8])), b[8:], nil
}

func takeBool(b []byte) (bool, []byte, error) {
	v, rest, err := takeByte(b)
	if err != nil {
		return false, nil, err
	}
	return v != 0, rest, nil
}
