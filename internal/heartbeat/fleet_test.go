package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func fleetWithBots(t *testing.T, names ...string) (*FleetManager, *CheckRegistry) {
	t.Helper()
	reg := NewCheckRegistry()
	reg.Register("ping", func(ctx context.Context) (string, error) { return "pong", nil })
	f := NewFleetManager()
	for _, n := range names {
		cfg := testConfig(okCheck("ping"))
		cfg.BotName = n
		f.Register(n, New(cfg, reg, nil))
	}
	return f, reg
}

func TestTriggerAllTicksEveryBot(t *testing.T) {
	f, _ := fleetWithBots(t, "alpha", "beta", "gamma")

	ticks := f.TriggerAll(context.Background(), "drill")
	if len(ticks) != 3 {
		t.Fatalf("got %d ticks", len(ticks))
	}
	for id, tick := range ticks {
		if tick.BotName != id || tick.Status != TickCompleted {
			t.Errorf("bot %s tick = %+v", id, tick)
		}
	}
}

func TestTriggerUnknownBot(t *testing.T) {
	f, _ := fleetWithBots(t, "alpha")
	if tick := f.TriggerBot(context.Background(), "ghost", "drill"); tick != nil {
		t.Errorf("unknown bot returned a tick: %+v", tick)
	}
}

func TestTeamHealthAggregation(t *testing.T) {
	f, _ := fleetWithBots(t, "alpha", "beta")

	f.TriggerAll(context.Background(), "drill")
	f.TriggerAll(context.Background(), "drill")

	health := f.TeamHealth()
	if len(health) != 2 {
		t.Fatalf("health for %d bots", len(health))
	}
	for id, h := range health {
		if h.SuccessRate != 1.0 || h.Uptime24h != 1.0 {
			t.Errorf("%s: rate=%f uptime=%f", id, h.SuccessRate, h.Uptime24h)
		}
		if h.BreakerState != BreakerClosed {
			t.Errorf("%s: breaker %s", id, h.BreakerState)
		}
		if h.LastTick == nil || h.LastTick.Status != TickCompleted {
			t.Errorf("%s: last tick %+v", id, h.LastTick)
		}
	}
}

func TestCrossCheckRuns(t *testing.T) {
	f, _ := fleetWithBots(t, "alpha", "beta")
	var seen atomic.Int32
	f.RegisterCrossCheck("census", 10*time.Millisecond, func(ctx context.Context, botIDs []string) error {
		if len(botIDs) == 2 {
			seen.Add(1)
		}
		return nil
	})

	f.StartAll(context.Background())
	defer f.StopAll()

	deadline := time.Now().Add(time.Second)
	for seen.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if seen.Load() == 0 {
		t.Error("cross check never ran")
	}
}

func TestUnregisterStopsHeartbeat(t *testing.T) {
	f, _ := fleetWithBots(t, "alpha")
	f.StartAll(context.Background())
	f.Unregister("alpha")
	if len(f.TeamHealth()) != 0 {
		t.Error("bot still in fleet after unregister")
	}
	f.StopAll()
}
