package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/chat"
	"chatrelay/internal/events"
	"chatrelay/internal/gate"
	"chatrelay/internal/history"
	"chatrelay/internal/settings"
	"chatrelay/pkg/stt"
)

type sent struct {
	chatID string
	text   string
	at     time.Time
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	presence []string
	err      error
	notify   chan sent
}

func (f *fakeSender) Send(_ context.Context, chatID, text string) error {
	s := sent{chatID: chatID, text: text, at: time.Now()}
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- s
	}
	return f.err
}

func (f *fakeSender) SetComposing(_ context.Context, chatID string, composing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, fmt.Sprintf("%s:%v", chatID, composing))
	return nil
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeChat struct {
	mu       sync.Mutex
	requests []chat.Request
	respond  func(chat.Request) (string, error)
}

func (f *fakeChat) Respond(_ context.Context, req chat.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeChat) calls() []chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Request(nil), f.requests...)
}

func echo(prefix string) func(chat.Request) (string, error) {
	return func(r chat.Request) (string, error) { return prefix + r.Message, nil }
}

type fakeSTT struct {
	text  string
	err   error
	calls int
	got   string
}

func (f *fakeSTT) Transcribe(_ context.Context, audio []byte, mediaType string) (stt.Result, error) {
	f.calls++
	f.got = mediaType
	return stt.Result{Text: f.text}, f.err
}

type fixture struct {
	p        *Pipeline
	settings *settings.Holder
	history  *history.Store
	gate     *gate.Gate
	chat     *fakeChat
	sender   *fakeSender
	stt      *fakeSTT
	hub      *events.Hub
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		settings: settings.NewHolder(settings.Settings{Prompt: "be nice", AgentName: "Ana"}),
		history:  history.NewStore(),
		gate:     gate.New(nil),
		chat:     &fakeChat{respond: echo("re: ")},
		sender:   &fakeSender{},
		stt:      &fakeSTT{text: "transcribed words"},
		hub:      events.NewHub(0),
	}
	f.p = New(cfg, Deps{
		Settings:    f.settings,
		History:     f.history,
		Gate:        f.gate,
		Transcriber: f.stt,
		Chat:        f.chat,
		Sender:      f.sender,
		Events:      f.hub,
	})
	return f
}

func voice(mediaType string, err error) *Voice {
	return &Voice{
		MediaType: mediaType,
		Fetch: func(context.Context) ([]byte, string, error) {
			return []byte("OggS"), mediaType, err
		},
	}
}

func TestHelloScenario(t *testing.T) {
	f := newFixture(t, Config{})
	f.chat.respond = func(chat.Request) (string, error) { return "hi there", nil }

	out := f.p.Handle(context.Background(), Message{ChatID: "A", Text: "hello"})

	require.Equal(t, Replied, out)
	reqs := f.chat.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, chat.Request{
		Prompt:       "be nice",
		AgentName:    "Ana",
		Message:      "hello",
		Conversation: []history.Turn{{Role: history.User, Content: "hello"}},
	}, reqs[0])
	assert.Equal(t, []history.Turn{
		{Role: history.User, Content: "hello"},
		{Role: history.Assistant, Content: "hi there"},
	}, f.history.Get("A"))

	got := f.sender.all()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].chatID)
	assert.Equal(t, "hi there", got[0].text)
	assert.Equal(t, []string{"A:true", "A:false"}, f.sender.presence)
}

func TestRequestCarriesPreTrimHistory(t *testing.T) {
	f := newFixture(t, Config{MaxExchanges: 1})
	ctx := context.Background()

	f.p.Handle(ctx, Message{ChatID: "A", Text: "one"})
	f.p.Handle(ctx, Message{ChatID: "A", Text: "two"})

	reqs := f.chat.calls()
	require.Len(t, reqs, 2)
	assert.Equal(t, []history.Turn{
		{Role: history.User, Content: "one"},
		{Role: history.Assistant, Content: "re: one"},
		{Role: history.User, Content: "two"},
	}, reqs[1].Conversation)
	assert.Equal(t, []history.Turn{
		{Role: history.User, Content: "two"},
		{Role: history.Assistant, Content: "re: two"},
	}, f.history.Get("A"))
}

func TestHistoryWindow(t *testing.T) {
	const exchanges = 3
	f := newFixture(t, Config{MaxExchanges: exchanges})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.Equal(t, Replied, f.p.Handle(ctx, Message{ChatID: "A", Text: fmt.Sprint("m", i)}))
		assert.LessOrEqual(t, f.history.Len("A"), 2*exchanges)
	}

	turns := f.history.Get("A")
	require.Len(t, turns, 2*exchanges)
	assert.Equal(t, history.Turn{Role: history.Assistant, Content: "re: m9"}, turns[len(turns)-1])
	assert.Equal(t, history.Turn{Role: history.User, Content: "m7"}, turns[0])
}

func TestVoiceNoteIsTranscribed(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.p.Handle(context.Background(), Message{ChatID: "A", Voice: voice("audio/ogg; codecs=opus", nil)})

	require.Equal(t, Replied, out)
	assert.Equal(t, 1, f.stt.calls)
	assert.Equal(t, "audio/ogg; codecs=opus", f.stt.got)
	assert.Equal(t, "transcribed words", f.chat.calls()[0].Message)
	assert.Equal(t, "re: transcribed words", f.sender.all()[0].text)
}

func TestTranscriptionFailure(t *testing.T) {
	cases := map[string]*Voice{
		"collaborator error": voice("audio/ogg", nil),
		"download error":     voice("audio/ogg", errors.New("media expired")),
		"missing media type": voice("", nil),
		"not audio":          voice("image/png", nil),
		"no payload":         {MediaType: "audio/ogg"},
	}

	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{})
			if name == "collaborator error" {
				f.stt.err = errors.New("service down")
			}

			out := f.p.Handle(context.Background(), Message{ChatID: "A", Voice: v})

			assert.Equal(t, TranscriptionFailed, out)
			assert.Empty(t, f.history.Get("A"))
			assert.Empty(t, f.chat.calls())
			got := f.sender.all()
			require.Len(t, got, 1)
			assert.Equal(t, DefaultTranscriptionNotice, got[0].text)
		})
	}
}

func TestTranscriptionFailureNoticeEvenWhenDisabled(t *testing.T) {
	f := newFixture(t, Config{TranscriptionNotice: "no audio, sorry"})
	f.gate.SetEnabled(false)
	f.stt.err = errors.New("service down")

	out := f.p.Handle(context.Background(), Message{ChatID: "A", Voice: voice("audio/ogg", nil)})

	assert.Equal(t, TranscriptionFailed, out)
	require.Len(t, f.sender.all(), 1)
	assert.Equal(t, "no audio, sorry", f.sender.all()[0].text)
}

func TestChatFailureKeepsUserTurn(t *testing.T) {
	f := newFixture(t, Config{})
	f.chat.respond = func(chat.Request) (string, error) { return "", errors.New("timeout") }

	out := f.p.Handle(context.Background(), Message{ChatID: "A", Text: "hello"})

	assert.Equal(t, ChatFailed, out)
	assert.Equal(t, []history.Turn{{Role: history.User, Content: "hello"}}, f.history.Get("A"))
	got := f.sender.all()
	require.Len(t, got, 1)
	assert.Equal(t, DefaultFailureNotice, got[0].text)
	assert.Empty(t, f.sender.presence)
}

func TestEmptyReplyCountsAsFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.chat.respond = func(chat.Request) (string, error) { return "  ", nil }

	assert.Equal(t, ChatFailed, f.p.Handle(context.Background(), Message{ChatID: "A", Text: "hello"}))
	assert.Equal(t, 1, f.history.Len("A"))
}

func TestDisabledDoesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.gate.SetEnabled(false)

	for _, text := range []string{"hello", "anything", "/start"} {
		assert.Equal(t, Disabled, f.p.Handle(context.Background(), Message{ChatID: "A", Text: text}))
	}

	assert.Empty(t, f.sender.all())
	assert.Empty(t, f.history.IDs())
	assert.Empty(t, f.chat.calls())
}

func TestGroupMessagesIgnored(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, Group, f.p.Handle(context.Background(), Message{ChatID: "12036@g.us", Text: "hi"}))
	assert.Equal(t, Group, f.p.Handle(context.Background(), Message{ChatID: "A", Text: "hi", IsGroup: true}))
	assert.Empty(t, f.sender.all())
	assert.Empty(t, f.history.IDs())
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.gate.Pause("B")
	assert.Equal(t, Paused, f.p.Handle(ctx, Message{ChatID: "B", Text: "hello"}))
	assert.Empty(t, f.sender.all())
	assert.Empty(t, f.history.Get("B"))

	assert.Equal(t, Replied, f.p.Handle(ctx, Message{ChatID: "A", Text: "hello"}))

	f.gate.Resume("B")
	assert.Equal(t, Replied, f.p.Handle(ctx, Message{ChatID: "B", Text: "hello"}))
	assert.Len(t, f.history.Get("B"), 2)
}

func TestEmptyTextIgnored(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, Empty, f.p.Handle(context.Background(), Message{ChatID: "A", Text: "  "}))
	assert.Empty(t, f.chat.calls())
}

func TestDeliveryFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.sender.err = errors.New("not connected")

	assert.Equal(t, Undelivered, f.p.Handle(context.Background(), Message{ChatID: "A", Text: "hello"}))
	assert.Equal(t, 2, f.history.Len("A"))
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t, Config{})
	f.gate.Pause("B")

	f.p.Handle(context.Background(), Message{ID: "m1", ChatID: "A", Text: "hello"})
	f.p.Handle(context.Background(), Message{ID: "m2", ChatID: "B", Text: "hello"})

	var kinds []events.Kind
	for _, e := range f.hub.Recent() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []events.Kind{events.Received, events.Replied, events.Received, events.Skipped}, kinds)
	assert.Equal(t, "paused", f.hub.Recent()[3].Detail)
}

func TestDelayAppliesBeforeReply(t *testing.T) {
	f := newFixture(t, Config{})
	f.settings.Replace(settings.Settings{Prompt: "p", AgentName: "Ana", Delay: 50})

	var slept time.Duration
	f.p.sleep = func(_ context.Context, d time.Duration) { slept = d }

	f.p.Handle(context.Background(), Message{ChatID: "A", Text: "hello"})

	assert.Equal(t, 50*time.Millisecond, slept)
}

func TestDelayDoesNotBlockOtherConversations(t *testing.T) {
	f := newFixture(t, Config{})
	f.sender.notify = make(chan sent, 4)
	f.settings.Replace(settings.Settings{Prompt: "p", AgentName: "Ana", Delay: 500})

	sleeping := make(chan time.Duration, 2)
	f.p.sleep = func(ctx context.Context, d time.Duration) {
		sleeping <- d
		sleep(ctx, d)
	}

	d := NewDispatcher(context.Background(), f.p)
	start := time.Now()
	d.Submit(Message{ChatID: "A", Text: "slow"})

	require.Equal(t, 500*time.Millisecond, <-sleeping)
	f.settings.Replace(settings.Settings{Prompt: "p", AgentName: "Ana", Delay: 0})
	d.Submit(Message{ChatID: "B", Text: "fast"})

	first := <-f.sender.notify
	assert.Equal(t, "B", first.chatID)
	assert.Less(t, first.at.Sub(start), 500*time.Millisecond)

	second := <-f.sender.notify
	assert.Equal(t, "A", second.chatID)
	assert.GreaterOrEqual(t, second.at.Sub(start), 500*time.Millisecond)

	d.Wait()
}
