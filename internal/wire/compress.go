package wire

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// compressMinSize is the payload size at or below which the codec never
// attempts compression; at these sizes LZ4's block overhead usually beats
// it, matching the reference implementation's compress-if-smaller policy.
const compressMinSize = 100

// Compressor is the narrow external-collaborator interface the codec
// depends on for payload compression (spec: compression primitive is out
// of scope for the core, only its use is in scope).
type Compressor interface {
	// Compress returns the compressed form of data, or nil if compression
	// did not help (caller falls back to the raw payload).
	Compress(data []byte) []byte
	// Decompress restores compressed data back to its originalSize bytes.
	Decompress(data []byte, originalSize int) ([]byte, error)
}

// lz4Compressor is the default Compressor, backed by the LZ4 block API.
type lz4Compressor struct{}

// DefaultCompressor is the LZ4-backed Compressor the codec uses unless a
// caller overrides it.
var DefaultCompressor Compressor = lz4Compressor{}

func (lz4Compressor) Compress(data []byte) []byte {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil || n <= 0 || n >= len(data) {
		return nil
	}
	return buf[:n]
}

func (lz4Compressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	out := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	if n != originalSize {
		return nil, ErrDecompressionFailed
	}
	return out, nil
}

// maybeCompress applies DefaultCompressor to payload when it is large
// enough and the result is strictly smaller, returning the framed
// "2B original-size prefix ++ compressed body" form and true, or
// (nil, false) when compression should not be used.
func maybeCompress(payload []byte) ([]byte, bool) {
	if len(payload) <= compressMinSize {
		return nil, false
	}
	compressed := DefaultCompressor.Compress(payload)
	if compressed == nil || len(compressed) >= len(payload) {
		return nil, false
	}
	out := make([]byte, 2+len(compressed))
	binary.BigEndian.PutUint16(out[:2], uint16(len(payload)))
	copy(out[2:], compressed)
	return out, true
}
