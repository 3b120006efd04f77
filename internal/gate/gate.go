// Package gate holds the switches that decide whether the bot answers at all:
// a global enable flag and a set of paused conversations.
package gate

import (
	"context"
	log "log/slog"
	"sort"
	"sync"
	"time"
)

const notifyTimeout = 10 * time.Second

// Notifier is told about pause state changes. Calls are best effort.
type Notifier interface {
	Pause(ctx context.Context, chatID string) error
	Resume(ctx context.Context, chatID string) error
}

type Gate struct {
	mu       sync.RWMutex
	enabled  bool
	paused   map[string]struct{}
	notifier Notifier
}

// New returns an enabled gate with nothing paused. n may be nil.
func New(n Notifier) *Gate {
	return &Gate{
		enabled:  true,
		paused:   make(map[string]struct{}),
		notifier: n,
	}
}

func (g *Gate) SetEnabled(on bool) {
	g.mu.Lock()
	g.enabled = on
	g.mu.Unlock()
}

func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled
}

func (g *Gate) Pause(chatID string) {
	g.mu.Lock()
	g.paused[chatID] = struct{}{}
	g.mu.Unlock()

	g.notify(chatID, "pause", func(ctx context.Context, n Notifier) error {
		return n.Pause(ctx, chatID)
	})
}

func (g *Gate) Resume(chatID string) {
	g.mu.Lock()
	delete(g.paused, chatID)
	g.mu.Unlock()

	g.notify(chatID, "resume", func(ctx context.Context, n Notifier) error {
		return n.Resume(ctx, chatID)
	})
}

func (g *Gate) IsPaused(chatID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.paused[chatID]
	return ok
}

// Paused lists the paused conversations, sorted.
func (g *Gate) Paused() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.paused))
	for id := range g.paused {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// notify runs detached; the outcome never reaches the caller.
func (g *Gate) notify(chatID, action string, call func(context.Context, Notifier) error) {
	if g.notifier == nil {
		return
	}

	n := g.notifier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := call(ctx, n); err != nil {
			log.Debug("Pause notification dropped", "action", action, "chat", chatID, "err", err)
		}
	}()
}
