// Package audioconv decodes compressed audio into PCM for local speech
// recognition.
package audioconv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

const targetRate = 16000

// Options bounds the decoded output.
type Options struct {
	MaxSamples int
}

// DecodeToPCM16k decodes an encoded audio payload into mono float32 PCM at
// 16 kHz. mediaType is the bare MIME type ("audio/ogg"); unknown types are
// sniffed from the payload's magic bytes.
func DecodeToPCM16k(_ context.Context, data []byte, mediaType string, opt Options) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio payload")
	}
	r := bytes.NewReader(data)

	switch strings.ToLower(mediaType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return decodeWAVTo16k(r, opt)
	case "audio/mpeg", "audio/mp3":
		return decodeMP3To16k(r, opt)
	case "audio/ogg", "audio/opus", "audio/oga":
		return decodeOgg(r, opt)
	}

	switch sniff(data) {
	case "RIFF":
		return decodeWAVTo16k(r, opt)
	case "OggS":
		return decodeOgg(r, opt)
	case "ID3":
		return decodeMP3To16k(r, opt)
	}
	return nil, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg-opus/ogg-vorbis)", mediaType)
}

// decodeOgg tries Opus first (voice notes), then Vorbis. Opus needs libopus
// and is only decoded in builds tagged opus or whisper.
func decodeOgg(r *bytes.Reader, opt Options) ([]float32, error) {
	s, errOpus := decodeOggOpusTo16k(r, opt)
	if errOpus == nil {
		return s, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	s, errVorbis := decodeOggVorbisTo16k(r, opt)
	if errVorbis == nil {
		return s, nil
	}
	return nil, fmt.Errorf("cannot decode ogg container: opus: %v; vorbis: %v", errOpus, errVorbis)
}

func sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "RIFF"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "OggS"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "ID3"
	}
	return ""
}

func decodeWAVTo16k(r io.ReadSeeker, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return finish(downmixInterleaved(x, ch), sr, opt), nil
}

func decodeMP3To16k(r io.Reader, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	// go-mp3 always emits interleaved stereo
	x := downmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return finish(x, sr, opt), nil
}

func decodeOggVorbisTo16k(r io.Reader, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return finish(downmixInterleaved(pcm, format.Channels), format.SampleRate, opt), nil
}

// finish brings mono samples at rate sr to the 16 kHz output, capped.
func finish(x []float32, sr int, opt Options) []float32 {
	if sr != targetRate {
		x = resampleLinear(x, sr, targetRate)
	}
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
