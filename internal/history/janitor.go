package history

import (
	"fmt"
	log "log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSweep = "@every 10m"

// Janitor periodically drops conversations that went quiet.
type Janitor struct {
	store *Store
	ttl   time.Duration
	cron  *cron.Cron
}

func NewJanitor(store *Store, ttl time.Duration, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSweep
	}

	j := &Janitor{
		store: store,
		ttl:   ttl,
		cron:  cron.New(),
	}

	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Sweep() {
	removed := j.store.ExpireIdle(j.store.now().Add(-j.ttl))
	if removed > 0 {
		log.Info("Expired idle conversations", "count", removed, "ttl", j.ttl)
	}
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
