package audioconv

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pcmWAV builds a minimal 16-bit mono PCM WAV file.
func pcmWAV(t *testing.T, rate int, samples []int16) []byte {
	t.Helper()

	var b bytes.Buffer
	dataLen := uint32(len(samples) * 2)
	w := func(v any) { require.NoError(t, binary.Write(&b, binary.LittleEndian, v)) }

	b.WriteString("RIFF")
	w(uint32(36 + dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(1)) // mono
	w(uint32(rate))
	w(uint32(rate * 2))
	w(uint16(2))
	w(uint16(16))
	b.WriteString("data")
	w(dataLen)
	w(samples)
	return b.Bytes()
}

func TestDecodeWAVResamples(t *testing.T) {
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(i * 10)
	}
	data := pcmWAV(t, 8000, samples)

	pcm, err := DecodeToPCM16k(context.Background(), data, "audio/wav", Options{})

	require.NoError(t, err)
	assert.Len(t, pcm, 1600)
	for _, v := range pcm {
		assert.True(t, v >= -1 && v <= 1)
	}
}

func TestDecodeSniffsUnknownType(t *testing.T) {
	data := pcmWAV(t, 16000, make([]int16, 320))

	pcm, err := DecodeToPCM16k(context.Background(), data, "audio/x-unknown", Options{MaxSamples: 100})

	require.NoError(t, err)
	assert.Len(t, pcm, 100)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeToPCM16k(context.Background(), []byte("definitely not audio"), "audio/x-unknown", Options{})
	assert.Error(t, err)

	_, err = DecodeToPCM16k(context.Background(), nil, "audio/ogg", Options{})
	assert.Error(t, err)
}

func TestDownmixInterleaved(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, downmixInterleaved([]float32{1, 0, -1, 1}, 2))
	mono := []float32{0.1, 0.2}
	assert.Equal(t, mono, downmixInterleaved(mono, 1))
}

func TestResampleLinear(t *testing.T) {
	out := resampleLinear([]float32{0, 1}, 8000, 16000)
	assert.Equal(t, []float32{0, 0.5, 1, 1}, out)

	same := []float32{0.3}
	assert.Equal(t, same, resampleLinear(same, 16000, 16000))
}

func TestDecodeOggReportsBothCodecs(t *testing.T) {
	_, err := DecodeToPCM16k(context.Background(), []byte("OggS\x00garbage"), "audio/ogg", Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "opus:")
	assert.Contains(t, err.Error(), "vorbis:")
}
