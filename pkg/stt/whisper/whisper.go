//go:build whisper

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	wcpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"chatrelay/pkg/audioconv"
	"chatrelay/pkg/stt"
)

const Available = true

// Whisper is an stt.Transcriber backed by a whisper.cpp model. Calls are
// serialized: one model, one inference at a time.
type Whisper struct {
	mu    sync.Mutex
	model wcpp.Model // interface, not pointer
	opt   Options
}

var _ stt.Transcriber = (*Whisper)(nil)

func New(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := wcpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (t *Whisper) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

func (t *Whisper) Transcribe(ctx context.Context, audio []byte, mediaType string) (stt.Result, error) {
	mt, err := stt.AudioType(mediaType)
	if err != nil {
		return stt.Result{}, err
	}

	pcm, err := audioconv.DecodeToPCM16k(ctx, audio, mt, audioconv.Options{MaxSamples: t.opt.MaxSamples})
	if err != nil {
		return stt.Result{}, fmt.Errorf("decode %s: %w", mt, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcribePCM(ctx, pcm)
}

// pcm16k must be mono @ 16 kHz, float32 in [-1, 1]
func (t *Whisper) transcribePCM(ctx context.Context, pcm16k []float32) (stt.Result, error) {
	if t.model == nil {
		return stt.Result{}, errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return stt.Result{}, errors.New("no audio samples provided")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("new context: %w", err)
	}

	opt := t.opt
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return stt.Result{}, fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs     []stt.Segment
		fullText string
	)
	for {
		if err := ctx.Err(); err != nil {
			return stt.Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("next segment: %w", err)
		}
		segs = append(segs, stt.Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if fullText == "" {
			fullText = s.Text
		} else {
			fullText += " " + s.Text
		}
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}

	return stt.Result{
		Text:     fullText,
		Segments: segs,
		Language: lang,
	}, nil
}
