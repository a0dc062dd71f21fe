package persistence

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression applied to snapshot sections.
type Codec uint8

const (
	// CodecNone stores sections uncompressed.
	CodecNone Codec = iota

	// CodecZstd favors compression ratio, a good fit for cold snapshots
	// in remote blob stores.
	CodecZstd

	// CodecLZ4 favors speed, a good fit for local snapshots on fast
	// disks.
	CodecLZ4
)

func (c Codec) Valid() bool {
	return c <= CodecLZ4
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

var (
	zstdEncoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

const blockHeaderSize = 8

// compress prefixes data with [rawLen][compLen] and the compressed bytes.
// compLen of zero marks a stored block, used when compression does not pay
// off or the codec is CodecNone.
func compress(data []byte, codec Codec) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CodecZstd:
		enc := zstdEncoderPool.Get().(*zstd.Encoder)
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n] // n == 0 means incompressible
	}

	stored := len(compressed) == 0 || len(compressed) >= len(data)

	payload := compressed
	if stored {
		payload = data
	}

	out := make([]byte, blockHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	if !stored {
		binary.LittleEndian.PutUint32(out[4:], uint32(len(payload)))
	}
	copy(out[blockHeaderSize:], payload)
	return out, nil
}

func decompress(block []byte, codec Codec) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errors.New("persistence: section block too small")
	}

	rawLen := int(binary.LittleEndian.Uint32(block[0:]))
	compLen := int(binary.LittleEndian.Uint32(block[4:]))
	payload := block[blockHeaderSize:]

	if compLen == 0 {
		if len(payload) < rawLen {
			return nil, ErrTruncated
		}
		out := make([]byte, rawLen)
		copy(out, payload)
		return out, nil
	}

	if len(payload) < compLen {
		return nil, ErrTruncated
	}
	payload = payload[:compLen]

	switch codec {
	case CodecZstd:
		dec := zstdDecoderPool.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, errors.New("persistence: decompressed size mismatch")
		}
		return out, nil

	case CodecLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if n != rawLen {
			return nil, errors.New("persistence: decompressed size mismatch")
		}
		return out, nil

	default:
		return nil, errors.New("persistence: compressed block with codec none")
	}
}
