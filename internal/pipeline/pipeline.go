// Package pipeline turns one inbound chat message into at most one reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/events"
	"chatrelay/internal/gate"
	"chatrelay/internal/history"
	"chatrelay/internal/settings"
	"chatrelay/pkg/stt"
)

const (
	DefaultMaxExchanges        = 20
	DefaultTranscriptionNotice = "❌ I couldn't transcribe your audio."
	DefaultFailureNotice       = "❌ Sorry, something went wrong while processing your message."
)

var DefaultGroupPattern = regexp.MustCompile(`@g\.us$`)

// Voice is a voice-note attachment. Fetch returns the decoded payload and
// the MIME type declared by the sender.
type Voice struct {
	MediaType string
	Fetch     func(ctx context.Context) ([]byte, string, error)
}

type Message struct {
	ID      string // trace id, filled in by the dispatcher
	ChatID  string
	Text    string
	IsGroup bool
	Voice   *Voice
}

// Sender delivers text and presence to a conversation.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
	SetComposing(ctx context.Context, chatID string, composing bool) error
}

type Responder interface {
	Respond(ctx context.Context, req chat.Request) (string, error)
}

type Config struct {
	// MaxExchanges bounds history to 2*MaxExchanges turns after each reply.
	MaxExchanges        int
	GroupPattern        *regexp.Regexp
	TranscriptionNotice string
	FailureNotice       string
}

type Deps struct {
	Settings    *settings.Holder
	History     *history.Store
	Gate        *gate.Gate
	Transcriber stt.Transcriber
	Chat        Responder
	Sender      Sender
	Events      events.Publisher
}

type Pipeline struct {
	cfg Config
	Deps

	sleep func(ctx context.Context, d time.Duration)
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.MaxExchanges <= 0 {
		cfg.MaxExchanges = DefaultMaxExchanges
	}
	if cfg.GroupPattern == nil {
		cfg.GroupPattern = DefaultGroupPattern
	}
	if cfg.TranscriptionNotice == "" {
		cfg.TranscriptionNotice = DefaultTranscriptionNotice
	}
	if cfg.FailureNotice == "" {
		cfg.FailureNotice = DefaultFailureNotice
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	return &Pipeline{cfg: cfg, Deps: deps, sleep: sleep}
}

// Window is the longest a conversation's history gets after a reply.
func (p *Pipeline) Window() int { return 2 * p.cfg.MaxExchanges }

func (p *Pipeline) Handle(ctx context.Context, m Message) Outcome {
	logger := log.With("chat", m.ChatID, "msg", m.ID)
	p.publish(events.Received, m, "")

	text := m.Text
	if m.Voice != nil {
		t, err := p.transcribe(ctx, m.Voice)
		if err != nil {
			logger.Error("Failed to transcribe", "err", err)
			p.notice(ctx, m.ChatID, p.cfg.TranscriptionNotice)
			p.publish(events.TranscriptionFailed, m, err.Error())
			return TranscriptionFailed
		}
		logger.Info("Transcribed", "text", t)
		text = t
	}

	if out := p.check(m, text); out != Accepted {
		logger.Debug("Message skipped", "reason", out)
		p.publish(events.Skipped, m, out.String())
		return out
	}

	p.History.Append(m.ChatID, history.Turn{Role: history.User, Content: text})

	s := p.Settings.Get()
	reply, err := p.Chat.Respond(ctx, chat.Request{
		Prompt:       s.Prompt,
		AgentName:    s.AgentName,
		Message:      text,
		Conversation: p.History.Get(m.ChatID),
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = chat.ErrEmptyResponse
	}
	if err != nil {
		logger.Error("Failed to get a reply", "err", err)
		p.notice(ctx, m.ChatID, p.cfg.FailureNotice)
		p.publish(events.ChatFailed, m, err.Error())
		return ChatFailed
	}

	// Leave room for the reply so the window holds after appending it.
	if n := p.History.Trim(m.ChatID, p.Window()-1); n > 0 {
		logger.Debug("History trimmed", "dropped", n)
	}
	p.History.Append(m.ChatID, history.Turn{Role: history.Assistant, Content: reply})

	if d := p.Settings.Get().Delay.Duration(); d > 0 {
		p.sleep(ctx, d)
	}

	if err := p.Sender.SetComposing(ctx, m.ChatID, true); err != nil {
		logger.Warn("Failed to set composing", "err", err)
	}
	if err := p.Sender.SetComposing(ctx, m.ChatID, false); err != nil {
		logger.Warn("Failed to clear composing", "err", err)
	}

	if err := p.Sender.Send(ctx, m.ChatID, reply); err != nil {
		logger.Error("Failed to deliver reply", "err", err)
		p.publish(events.Undelivered, m, err.Error())
		return Undelivered
	}

	logger.Info("Replied", "chars", len(reply))
	p.publish(events.Replied, m, "")
	return Replied
}

func (p *Pipeline) check(m Message, text string) Outcome {
	switch {
	case !p.Gate.Enabled():
		return Disabled
	case m.IsGroup || p.cfg.GroupPattern.MatchString(m.ChatID):
		return Group
	case p.Gate.IsPaused(m.ChatID):
		return Paused
	case strings.TrimSpace(text) == "":
		return Empty
	}
	return Accepted
}

func (p *Pipeline) transcribe(ctx context.Context, v *Voice) (string, error) {
	if p.Transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	if v.Fetch == nil {
		return "", errors.New("voice note has no payload")
	}

	data, mt, err := v.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if mt == "" {
		mt = v.MediaType
	}
	if _, err := stt.AudioType(mt); err != nil {
		return "", err
	}

	res, err := p.Transcriber.Transcribe(ctx, data, mt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (p *Pipeline) notice(ctx context.Context, chatID, text string) {
	if err := p.Sender.Send(ctx, chatID, text); err != nil {
		log.Error("Failed to send notice", "chat", chatID, "err", err)
	}
}

func (p *Pipeline) publish(kind events.Kind, m Message, detail string) {
	p.Events.Publish(events.Event{ID: m.ID, Kind: kind, ChatID: m.ChatID, Detail: detail})
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
