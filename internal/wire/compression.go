package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func getZstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEnc
}

func getZstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// compress applies mode to src and returns the compressed bytes. Callers are
// responsible for the "only if it actually shrinks" decision; this function
// always returns the codec's raw output.
func compress(mode CompressionMode, src []byte) ([]byte, error) {
	switch mode {
	case CompressionNone:
		return src, nil
	case CompressionZstd:
		return getZstdEncoder().EncodeAll(src, make([]byte, 0, len(src))), nil
	case CompressionLZ4:
		dst := make([]byte, 4+lz4.CompressBlockBound(len(src)))
		binary.BigEndian.PutUint32(dst[:4], uint32(len(src)))
		var c lz4.Compressor
		n, err := c.CompressBlock(src, dst[4:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible block per lz4's own judgment; caller will
			// notice the result isn't smaller and fall back to "none".
			return src, nil
		}
		return dst[:4+n], nil
	case CompressionGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(src); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression mode %d", ErrDecompress, mode)
	}
}

// decompress is the inverse of compress for the given mode.
func decompress(mode CompressionMode, src []byte) ([]byte, error) {
	switch mode {
	case CompressionNone:
		return src, nil
	case CompressionZstd:
		out, err := getZstdDecoder().DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		return out, nil
	case CompressionLZ4:
		if len(src) < 4 {
			return nil, fmt.Errorf("%w: lz4 payload too short", ErrDecompress)
		}
		origLen := binary.BigEndian.Uint32(src[:4])
		dst := make([]byte, origLen)
		n, err := lz4.UncompressBlock(src[4:], dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		return dst[:n], nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		defer zr.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(zr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression mode %d", ErrDecompress, mode)
	}
}
