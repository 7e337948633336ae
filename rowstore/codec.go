package rowstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/rowcache/model"
)

// Compression selects the codec used for on-disk row payloads.
type Compression uint8

const (
	// CompressionNone stores payloads raw.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast with a modest ratio; a good default for
	// frequently evicted rows.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades CPU for a better ratio; suited to cold
	// tables that are mostly written once.
	CompressionZSTD Compression = 2
)

// String returns a string representation of the Compression.
func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// zstd coders are pooled: construction is expensive and they are safe to
// reuse serially.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// payloadHeaderSize is the size of the payload framing:
// [rawSize uint32][compressedSize uint32], compressedSize 0 meaning the
// payload is stored raw (compression did not pay off).
const payloadHeaderSize = 8

// compressionCutoff skips storing compressed output when it saves less
// than 10% over raw.
const compressionCutoff = 0.9

// encodePayload frames and optionally compresses raw.
func encodePayload(raw []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(raw, buf)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	}

	useRaw := len(compressed) == 0 ||
		float64(len(compressed)) > float64(len(raw))*compressionCutoff

	body := compressed
	if useRaw {
		body = raw
	}

	out := make([]byte, payloadHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(raw)))
	if !useRaw {
		binary.LittleEndian.PutUint32(out[4:8], uint32(len(body)))
	}
	copy(out[payloadHeaderSize:], body)
	return out, nil
}

// decodePayload reverses encodePayload.
func decodePayload(framed []byte, c Compression) ([]byte, error) {
	if len(framed) < payloadHeaderSize {
		return nil, fmt.Errorf("%w: payload of %d bytes shorter than header", model.ErrInvalidArgument, len(framed))
	}

	rawSize := binary.LittleEndian.Uint32(framed[0:4])
	compressedSize := binary.LittleEndian.Uint32(framed[4:8])
	body := framed[payloadHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(body)) != rawSize {
			return nil, fmt.Errorf("%w: raw payload %d bytes, header says %d", model.ErrInvalidArgument, len(body), rawSize)
		}
		out := make([]byte, rawSize)
		copy(out, body)
		return out, nil
	}

	if uint32(len(body)) != compressedSize {
		return nil, fmt.Errorf("%w: compressed payload %d bytes, header says %d", model.ErrInvalidArgument, len(body), compressedSize)
	}

	switch c {
	case CompressionLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out[:n], nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(body, make([]byte, 0, rawSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed payload but codec is %s", model.ErrInvalidArgument, c)
	}
}
