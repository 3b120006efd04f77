package events

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

// Watch follows an event stream served by ServeWS and calls fn for the
// backlog and then for every live event. A dropped connection is redialled
// every reconn until ctx ends; reconn <= 0 returns on the first drop. Backlog
// entries already delivered before a redial are not delivered again.
func Watch(ctx context.Context, url string, reconn time.Duration, fn func(Event)) error {
	var cur cursor
	deliver := func(e Event) {
		cur.advance(e)
		fn(e)
	}
	for {
		err := watchOnce(ctx, url, &cur, deliver)
		if ctx.Err() != nil {
			return nil
		}
		if reconn <= 0 {
			return err
		}
		log.Debug("Event stream dropped, redialling", "url", url, "err", err)

		select {
		case <-time.After(reconn):
		case <-ctx.Done():
			return nil
		}
	}
}

// cursor is the last event handed to the caller.
type cursor struct {
	set  bool
	time time.Time
	id   string
}

func (c *cursor) advance(e Event) {
	c.set, c.time, c.id = true, e.Time, e.ID
}

// seen reports whether e is at or before the cursor.
func (c *cursor) seen(e Event) bool {
	if !c.set {
		return false
	}
	if e.Time.Equal(c.time) {
		return e.ID == c.id
	}
	return e.Time.Before(c.time)
}

func watchOnce(ctx context.Context, url string, cur *cursor, fn func(Event)) error {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var backlog []Event
	if err := conn.ReadJSON(&backlog); err != nil {
		return fmt.Errorf("read backlog: %w", err)
	}
	for _, e := range backlog {
		if cur.seen(e) {
			continue
		}
		fn(e)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
		var e Event
		if err := json.Unmarshal(msg, &e); err != nil {
			log.Debug("Skipping malformed event", "err", err)
			continue
		}
		fn(e)
	}
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
