package pipeline

import (
	"context"
	log "log/slog"
	"sync"

	"github.com/google/uuid"
)

type Handler interface {
	Handle(ctx context.Context, m Message) Outcome
}

type queue struct {
	pending []Message
}

// Dispatcher runs messages of one conversation strictly one after another,
// in arrival order, while different conversations proceed concurrently.
// A worker goroutine exists only while its conversation has work queued.
type Dispatcher struct {
	ctx context.Context
	h   Handler

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(ctx context.Context, h Handler) *Dispatcher {
	return &Dispatcher{
		ctx:    ctx,
		h:      h,
		queues: make(map[string]*queue),
	}
}

func (d *Dispatcher) Submit(m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		log.Warn("Dropping message, dispatcher closed", "chat", m.ChatID, "id", m.ID)
		return
	}
	if q, ok := d.queues[m.ChatID]; ok {
		q.pending = append(q.pending, m)
		return
	}

	q := &queue{pending: []Message{m}}
	d.queues[m.ChatID] = q
	d.wg.Add(1)
	go d.drain(m.ChatID, q)
}

func (d *Dispatcher) drain(chatID string, q *queue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		m := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.h.Handle(d.ctx, m)
	}
}

// Active is the number of conversations with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait blocks until every submitted message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting messages and waits for the queued ones. Later
// Submits are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
