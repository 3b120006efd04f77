//go:build opus || whisper

package audioconv

import (
	"errors"
	"io"

	popus "github.com/pekim/opus"
)

const opusRate = 48000

func decodeOggOpusTo16k(rs io.ReadSeeker, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// libopus always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, opusRate*ch/2)
	)
	for {
		n, err := dec.Read(buf) // n is per channel
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if opt.MaxSamples > 0 && len(pcm48)/ch/3 >= opt.MaxSamples {
			break
		}
	}

	if len(pcm48) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return finish(downmixInterleaved(pcm48, ch), opusRate, opt), nil
}
