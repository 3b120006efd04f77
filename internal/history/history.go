package history

import (
	"sort"
	"sync"
	"time"
)

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Turn is one message of a conversation, tagged with who said it.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type conversation struct {
	turns      []Turn
	lastActive time.Time
}

// Store keeps the recent turns of every conversation in memory.
type Store struct {
	mu    sync.Mutex
	convs map[string]*conversation
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		convs: make(map[string]*conversation),
		now:   time.Now,
	}
}

// Get returns a copy of the conversation's turns, oldest first.
// Unknown conversations yield an empty, non-nil slice.
func (s *Store) Get(id string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return []Turn{}
	}
	return append([]Turn(nil), c.turns...)
}

func (s *Store) Append(id string, t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		c = &conversation{}
		s.convs[id] = c
	}
	c.turns = append(c.turns, t)
	c.lastActive = s.now()
}

// Trim drops the oldest turns so at most max remain and reports how many
// were removed.
func (s *Store) Trim(id string, max int) int {
	if max < 0 {
		max = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok || len(c.turns) <= max {
		return 0
	}

	drop := len(c.turns) - max
	kept := make([]Turn, max)
	copy(kept, c.turns[drop:])
	c.turns = kept
	return drop
}

func (s *Store) Len(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[id]; ok {
		return len(c.turns)
	}
	return 0
}

// IDs lists every conversation that has history, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.convs, id)
}

// ExpireIdle forgets conversations whose last turn is older than before.
func (s *Store) ExpireIdle(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.convs {
		if c.lastActive.Before(before) {
			delete(s.convs, id)
			removed++
		}
	}
	return removed
}
