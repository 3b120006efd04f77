// Package settings keeps the operator's prompt, agent name and reply delay,
// in memory and in a small JSON file.
package settings

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Settings struct {
	Prompt    string `json:"prompt"`
	AgentName string `json:"agentName"`
	Delay     Delay  `json:"delay"`
}

// Configured reports whether the required fields are present.
func (s Settings) Configured() bool {
	return s.Prompt != "" && s.AgentName != ""
}

// Delay is the pause before each reply, in milliseconds. It decodes from
// numbers or numeric strings; anything else, and negatives, become zero.
type Delay int64

func (d Delay) Duration() time.Duration {
	return time.Duration(d) * time.Millisecond
}

func (d *Delay) UnmarshalJSON(data []byte) error {
	*d = ParseDelay(data)
	return nil
}

// ParseDelay coerces a raw JSON value into a Delay.
func ParseDelay(raw json.RawMessage) Delay {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if x {
			f = 1
		}
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f > math.MaxInt32 {
		return 0
	}
	return Delay(f)
}

// Holder is the in-memory copy the running process trusts.
type Holder struct {
	mu  sync.RWMutex
	cur Settings
}

func NewHolder(initial Settings) *Holder {
	return &Holder{cur: initial}
}

func (h *Holder) Get() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

func (h *Holder) Replace(s Settings) {
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
}
