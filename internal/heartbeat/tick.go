package heartbeat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CheckStatus is the outcome of one check execution.
type CheckStatus string

const (
	CheckSuccess CheckStatus = "success"
	CheckFailed  CheckStatus = "failed"
	CheckTimeout CheckStatus = "timeout"
	CheckSkipped CheckStatus = "skipped"
)

// TickStatus is the combined outcome of one heartbeat tick.
type TickStatus string

const (
	TickPending               TickStatus = "pending"
	TickCompleted             TickStatus = "completed"
	TickCompletedWithFailures TickStatus = "completed_with_failures"
	TickFailed                TickStatus = "failed"
	TickSkipped               TickStatus = "skipped"
)

// TriggerKind records what started a tick.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
	TriggerEvent     TriggerKind = "event"
)

// CheckResult is the outcome of a single check within a tick.
type CheckResult struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Tick is one heartbeat execution. Sequential runs preserve declared
// check order in Results.
type Tick struct {
	ID          string        `json:"id"`
	BotName     string        `json:"bot_name"`
	StartedAt   time.Time     `json:"started_at"`
	Trigger     TriggerKind   `json:"trigger"`
	TriggeredBy string        `json:"triggered_by,omitempty"`
	Results     []CheckResult `json:"results"`
	Status      TickStatus    `json:"status"`
}

func newTick(botName string, trigger TriggerKind, reason string) *Tick {
	return &Tick{
		ID:          uuid.NewString(),
		BotName:     botName,
		StartedAt:   time.Now(),
		Trigger:     trigger,
		TriggeredBy: reason,
		Status:      TickPending,
	}
}

func (t *Tick) succeeded() bool {
	return t.Status == TickCompleted || t.Status == TickCompletedWithFailures
}

// History is a bounded record of recent ticks for one bot.
type History struct {
	mu    sync.RWMutex
	ticks []*Tick
	cap   int
}

// NewHistory keeps at most cap ticks; older ones are discarded.
func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = 100
	}
	return &History{cap: cap}
}

func (h *History) Append(t *Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, t)
	if len(h.ticks) > h.cap {
		h.ticks = h.ticks[len(h.ticks)-h.cap:]
	}
}

// Recent returns up to n most recent ticks, newest last.
func (h *History) Recent(n int) []*Tick {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.ticks) {
		n = len(h.ticks)
	}
	out := make([]*Tick, n)
	copy(out, h.ticks[len(h.ticks)-n:])
	return out
}

// SuccessRate is the fraction of executed ticks that completed, with or
// without partial failures. Skipped ticks do not count either way.
func (h *History) SuccessRate() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	executed, ok := 0, 0
	for _, t := range h.ticks {
		if t.Status == TickSkipped || t.Status == TickPending {
			continue
		}
		executed++
		if t.succeeded() {
			ok++
		}
	}
	if executed == 0 {
		return 1.0
	}
	return float64(ok) / float64(executed)
}

// Uptime is the success rate over ticks started within the window.
func (h *History) Uptime(window time.Duration) float64 {
	cutoff := time.Now().Add(-window)
	h.mu.RLock()
	defer h.mu.RUnlock()
	executed, ok := 0, 0
	for _, t := range h.ticks {
		if t.StartedAt.Before(cutoff) || t.Status == TickSkipped || t.Status == TickPending {
			continue
		}
		executed++
		if t.succeeded() {
			ok++
		}
	}
	if executed == 0 {
		return 1.0
	}
	return float64(ok) / float64(executed)
}
