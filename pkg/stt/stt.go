// Package stt turns voice notes into text.
package stt

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
)

var ErrUnsupportedMedia = errors.New("unsupported media type")

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Transcriber converts an encoded audio payload into text. mediaType is the
// MIME type declared by the sender, e.g. "audio/ogg; codecs=opus".
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mediaType string) (Result, error)
}

// AudioType validates a declared media type and returns its bare form
// ("audio/ogg"). Anything that is not audio/* is rejected.
func AudioType(mediaType string) (string, error) {
	if strings.TrimSpace(mediaType) == "" {
		return "", fmt.Errorf("%w: missing", ErrUnsupportedMedia)
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnsupportedMedia, mediaType, err)
	}
	if !strings.HasPrefix(mt, "audio/") {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, mt)
	}
	return mt, nil
}

// extension picks a filename extension for an audio type.
func extension(mt string) string {
	switch mt {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mp4", "audio/aac", "audio/x-m4a":
		return ".m4a"
	case "audio/webm":
		return ".webm"
	}
	return ".ogg"
}
