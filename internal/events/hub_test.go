package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFillsBacklog(t *testing.T) {
	h := NewHub(2)
	h.Publish(Event{Kind: Received, ChatID: "a"})
	h.Publish(Event{Kind: Replied, ChatID: "a"})
	h.Publish(Event{Kind: Skipped, ChatID: "b"})

	recent := h.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, Replied, recent[0].Kind)
	assert.Equal(t, Skipped, recent[1].Kind)
	assert.False(t, recent[0].Time.IsZero())
}

func TestSubscribeReceivesNewEvents(t *testing.T) {
	h := NewHub(0)
	sub := h.Subscribe()

	h.Publish(Event{Kind: Paused, ChatID: "b"})

	select {
	case e := <-sub:
		assert.Equal(t, Paused, e.Kind)
		assert.Equal(t, "b", e.ChatID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	h.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
	h.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(0)
	_ = h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subBuffer*3; i++ {
			h.Publish(Event{Kind: Received})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestServeWS(t *testing.T) {
	h := NewHub(0)
	h.Publish(Event{Kind: Enabled})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var backlog []Event
	require.NoError(t, conn.ReadJSON(&backlog))
	require.Len(t, backlog, 1)
	assert.Equal(t, Enabled, backlog[0].Kind)

	h.Publish(Event{Kind: Disabled})

	var live Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, Disabled, live.Kind)
}

func TestWatch(t *testing.T) {
	h := NewHub(0)
	h.Publish(Event{Kind: Connected})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), 0, func(e Event) { got <- e })
	}()

	first := <-got
	assert.Equal(t, Connected, first.Kind)

	h.Publish(Event{Kind: Paused, ChatID: "B"})
	select {
	case e := <-got:
		assert.Equal(t, Paused, e.Kind)
		assert.Equal(t, "B", e.ChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("live event not delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchRedialSkipsDeliveredBacklog(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a := Event{ID: "m1", Time: base, Kind: Received, ChatID: "A"}
	b := Event{ID: "m1", Time: base.Add(time.Second), Kind: Replied, ChatID: "A"}
	c := Event{Time: base.Add(2 * time.Second), Kind: Paused, ChatID: "A"}

	var dials atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if dials.Add(1) == 1 {
			_ = conn.WriteJSON([]Event{a, b})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		_ = conn.WriteJSON([]Event{a, b, c})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond, func(e Event) { got <- e })
	}()

	var kinds []Kind
	for len(kinds) < 3 {
		select {
		case e := <-got:
			kinds = append(kinds, e.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("events after redial not delivered, got %v", kinds)
		}
	}
	assert.Equal(t, []Kind{Received, Replied, Paused}, kinds)
	assert.GreaterOrEqual(t, dials.Load(), int32(2))

	select {
	case e := <-got:
		t.Fatalf("duplicate event delivered: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestCursorSeen(t *testing.T) {
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	var c cursor
	assert.False(t, c.seen(Event{Time: base}))

	c.advance(Event{ID: "m2", Time: base})
	assert.True(t, c.seen(Event{ID: "m2", Time: base}))
	assert.True(t, c.seen(Event{ID: "m1", Time: base.Add(-time.Millisecond)}))
	assert.False(t, c.seen(Event{ID: "m3", Time: base}))
	assert.False(t, c.seen(Event{Time: base.Add(time.Millisecond)}))
}

func TestWatchDialFailure(t *testing.T) {
	err := Watch(context.Background(), "ws://127.0.0.1:1/events", 0, func(Event) {})
	assert.Error(t, err)
}
