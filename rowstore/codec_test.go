package rowstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowcache/model"
)

func TestCodec_RoundTrip(t *testing.T) {
	// Repetitive data compresses; random-ish data falls back to raw.
	compressible := bytes.Repeat([]byte{1, 2, 3, 4}, 256)
	incompressible := make([]byte, 64)
	for i := range incompressible {
		incompressible[i] = byte(i*37 + 11)
	}

	for _, codec := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for name, raw := range map[string][]byte{"compressible": compressible, "incompressible": incompressible} {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				framed, err := encodePayload(raw, codec)
				require.NoError(t, err)

				got, err := decodePayload(framed, codec)
				require.NoError(t, err)
				assert.Equal(t, raw, got)
			})
		}
	}
}

func TestCodec_CompressionShrinksPayload(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, 4096)

	framedRaw, err := encodePayload(raw, CompressionNone)
	require.NoError(t, err)

	for _, codec := range []Compression{CompressionLZ4, CompressionZSTD} {
		framed, err := encodePayload(raw, codec)
		require.NoError(t, err)
		assert.Less(t, len(framed), len(framedRaw), codec.String())
	}
}

func TestCodec_Truncated(t *testing.T) {
	_, err := decodePayload([]byte{1, 2, 3}, CompressionNone)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	framed, err := encodePayload(bytes.Repeat([]byte{7}, 128), CompressionLZ4)
	require.NoError(t, err)

	_, err = decodePayload(framed[:len(framed)-1], CompressionLZ4)
	assert.Error(t, err)
}
