// Package whisper transcribes locally with a whisper.cpp model. The model
// links the native whisper and libopus libraries, so the backend is only
// compiled in with -tags whisper; other builds get a constructor that fails.
package whisper

type Options struct {
	Language      string // e.g. "auto", "en", "pt"
	TranslateToEn bool   // if true, translate non-EN -> EN
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string // optional prefix prompt
	BeamSize      int    // 0 = greedy
	MaxSamples    int    // cap on decoded 16 kHz samples; 0 = no cap
}
