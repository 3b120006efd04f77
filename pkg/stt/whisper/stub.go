//go:build !whisper

package whisper

import (
	"context"
	"errors"

	"chatrelay/pkg/stt"
)

const Available = false

var ErrNotCompiled = errors.New("whisper backend not compiled in; rebuild with -tags whisper")

type Whisper struct{}

var _ stt.Transcriber = (*Whisper)(nil)

func New(string, Options) (*Whisper, error) {
	return nil, ErrNotCompiled
}

func (*Whisper) Close() error { return nil }

func (*Whisper) Transcribe(context.Context, []byte, string) (stt.Result, error) {
	return stt.Result{}, ErrNotCompiled
}
