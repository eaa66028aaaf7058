package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CrossCheckFunc is a periodic task over the whole fleet, scheduled
// independently of any single bot's cadence.
type CrossCheckFunc func(ctx context.Context, botIDs []string) error

type crossCheck struct {
	name     string
	interval time.Duration
	fn       CrossCheckFunc
}

// BotHealth is one bot's aggregate heartbeat condition.
type BotHealth struct {
	SuccessRate  float64      `json:"success_rate"`
	Uptime24h    float64      `json:"uptime_24h"`
	BreakerState BreakerState `json:"breaker_state"`
	LastTick     *Tick        `json:"last_tick,omitempty"`
}

// FleetManager supervises per-bot heartbeats and fleet-wide checks.
type FleetManager struct {
	mu          sync.Mutex
	bots        map[string]*BotHeartbeat
	crossChecks []crossCheck
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewFleetManager() *FleetManager {
	return &FleetManager{bots: make(map[string]*BotHeartbeat)}
}

// Register adds a bot's heartbeat to the fleet. Replacing an existing
// registration stops the old one first.
func (f *FleetManager) Register(botID string, hb *BotHeartbeat) {
	f.mu.Lock()
	old := f.bots[botID]
	f.bots[botID] = hb
	f.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	slog.Info("bot registered with fleet", "bot", botID)
}

// Unregister stops and removes a bot's heartbeat.
func (f *FleetManager) Unregister(botID string) {
	f.mu.Lock()
	hb := f.bots[botID]
	delete(f.bots, botID)
	f.mu.Unlock()
	if hb != nil {
		hb.Stop()
	}
}

// RegisterCrossCheck adds a fleet-wide periodic task. Call before
// StartAll.
func (f *FleetManager) RegisterCrossCheck(name string, interval time.Duration, fn CrossCheckFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crossChecks = append(f.crossChecks, crossCheck{name: name, interval: interval, fn: fn})
}

// StartAll launches every registered heartbeat and the cross-check
// loops.
func (f *FleetManager) StartAll(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	bots := make([]*BotHeartbeat, 0, len(f.bots))
	for _, hb := range f.bots {
		bots = append(bots, hb)
	}
	checks := make([]crossCheck, len(f.crossChecks))
	copy(checks, f.crossChecks)
	f.mu.Unlock()

	for _, hb := range bots {
		hb.Start(ctx)
	}
	for _, cc := range checks {
		f.wg.Add(1)
		go f.runCrossCheck(ctx, cc)
	}
	slog.Info("fleet started", "bots", len(bots), "cross_checks", len(checks))
}

// StopAll stops the cross-check loops and every heartbeat.
func (f *FleetManager) StopAll() {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	bots := make([]*BotHeartbeat, 0, len(f.bots))
	for _, hb := range f.bots {
		bots = append(bots, hb)
	}
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	for _, hb := range bots {
		hb.Stop()
	}
	slog.Info("fleet stopped")
}

func (f *FleetManager) runCrossCheck(ctx context.Context, cc crossCheck) {
	defer f.wg.Done()
	ticker := time.NewTicker(cc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cc.fn(ctx, f.botIDs()); err != nil {
				slog.Warn("cross check failed", "check", cc.name, "error", err)
			}
		}
	}
}

func (f *FleetManager) botIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.bots))
	for id := range f.bots {
		ids = append(ids, id)
	}
	return ids
}

// TriggerBot runs one bot's tick out of cadence. Returns nil for an
// unknown bot.
func (f *FleetManager) TriggerBot(ctx context.Context, botID, reason string) *Tick {
	f.mu.Lock()
	hb := f.bots[botID]
	f.mu.Unlock()
	if hb == nil {
		slog.Warn("trigger for unknown bot", "bot", botID)
		return nil
	}
	return hb.TriggerNow(ctx, reason)
}

// TriggerAll ticks the whole fleet and returns ticks by bot id.
func (f *FleetManager) TriggerAll(ctx context.Context, reason string) map[string]*Tick {
	f.mu.Lock()
	bots := make(map[string]*BotHeartbeat, len(f.bots))
	for id, hb := range f.bots {
		bots[id] = hb
	}
	f.mu.Unlock()

	out := make(map[string]*Tick, len(bots))
	for id, hb := range bots {
		out[id] = hb.TriggerNow(ctx, reason)
	}
	return out
}

// TeamHealth aggregates per-bot success rate, uptime, and breaker state.
func (f *FleetManager) TeamHealth() map[string]BotHealth {
	f.mu.Lock()
	bots := make(map[string]*BotHeartbeat, len(f.bots))
	for id, hb := range f.bots {
		bots[id] = hb
	}
	f.mu.Unlock()

	health := make(map[string]BotHealth, len(bots))
	for id, hb := range bots {
		h := BotHealth{
			SuccessRate:  hb.history.SuccessRate(),
			Uptime24h:    hb.history.Uptime(24 * time.Hour),
			BreakerState: hb.breaker.State(),
		}
		if recent := hb.history.Recent(1); len(recent) == 1 {
			h.LastTick = recent[0]
		}
		health[id] = h
	}
	return health
}
