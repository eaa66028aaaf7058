package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DirectiveRunner executes one LLM-driven step against a non-empty
// directive file and returns the model's response text.
type DirectiveRunner func(ctx context.Context, directive string) (string, error)

// TickCallback observes a finished tick. Panics are swallowed.
type TickCallback func(*Tick)

// CheckCallback observes each finished check. Panics are swallowed.
type CheckCallback func(CheckResult)

const directiveCheckName = "heartbeat_directive"

// BotHeartbeat is one bot's cadenced work loop. Ticks are serialised:
// a manual trigger during a scheduled tick waits its turn.
type BotHeartbeat struct {
	cfg      Config
	registry *CheckRegistry
	breaker  *CircuitBreaker
	history  *History

	runDirective DirectiveRunner
	onTick       TickCallback
	onCheck      CheckCallback

	tickMu sync.Mutex
	inTick atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a heartbeat for one bot. runDirective may be nil to
// disable the directive branch.
func New(cfg Config, registry *CheckRegistry, runDirective DirectiveRunner) *BotHeartbeat {
	return &BotHeartbeat{
		cfg:          cfg,
		registry:     registry,
		breaker:      NewCircuitBreaker(cfg.FailureThreshold, cfg.BreakerTimeout),
		history:      NewHistory(100),
		runDirective: runDirective,
	}
}

// OnTickComplete registers the tick observer. Call before Start.
func (h *BotHeartbeat) OnTickComplete(cb TickCallback) { h.onTick = cb }

// OnCheckComplete registers the check observer. Call before Start.
func (h *BotHeartbeat) OnCheckComplete(cb CheckCallback) { h.onCheck = cb }

// History exposes the bot's tick record.
func (h *BotHeartbeat) History() *History { return h.history }

// BreakerState reports the circuit breaker position.
func (h *BotHeartbeat) BreakerState() BreakerState { return h.breaker.State() }

// Start launches the cadenced loop. No-op when disabled or running.
func (h *BotHeartbeat) Start(ctx context.Context) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if !h.cfg.Enabled || h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		slog.Info("heartbeat started", "bot", h.cfg.BotName, "interval", h.cfg.Interval)
		for {
			select {
			case <-ctx.Done():
				slog.Info("heartbeat stopped", "bot", h.cfg.BotName)
				return
			case <-ticker.C:
				h.runTick(ctx, TriggerScheduled, "interval")
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (h *BotHeartbeat) Stop() {
	h.runMu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// TriggerNow runs one tick out of cadence and returns it.
func (h *BotHeartbeat) TriggerNow(ctx context.Context, reason string) *Tick {
	return h.runTick(ctx, TriggerManual, reason)
}

// TriggerEvent runs one tick in response to an external event.
func (h *BotHeartbeat) TriggerEvent(ctx context.Context, reason string) *Tick {
	return h.runTick(ctx, TriggerEvent, reason)
}

// WaitForCurrentTick polls until no tick is executing, or the timeout
// elapses.
func (h *BotHeartbeat) WaitForCurrentTick(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for h.inTick.Load() {
		if time.Now().After(deadline) {
			return fmt.Errorf("tick still running after %s", timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func (h *BotHeartbeat) runTick(ctx context.Context, trigger TriggerKind, reason string) *Tick {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()
	h.inTick.Store(true)
	defer h.inTick.Store(false)

	tick := newTick(h.cfg.BotName, trigger, reason)

	if !h.breaker.Allow() {
		tick.Status = TickSkipped
		slog.Warn("tick skipped, breaker open", "bot", h.cfg.BotName)
		h.finishTick(tick)
		return tick
	}

	if res, ok := h.directiveStep(ctx); ok {
		tick.Results = append(tick.Results, res)
		h.notifyCheck(res)
	}

	if h.cfg.Parallel {
		tick.Results = append(tick.Results, h.runParallel(ctx)...)
	} else {
		tick.Results = append(tick.Results, h.runSequential(ctx)...)
	}

	failures := 0
	for _, r := range tick.Results {
		if !r.Success && r.Status != CheckSkipped {
			failures++
		}
	}
	switch {
	case failures > 0 && h.cfg.StopOnFirstFailure:
		tick.Status = TickFailed
	case failures > 0:
		tick.Status = TickCompletedWithFailures
	default:
		tick.Status = TickCompleted
	}

	h.finishTick(tick)
	slog.Info("tick finished", "bot", h.cfg.BotName, "status", tick.Status,
		"checks", len(tick.Results), "trigger", trigger)
	return tick
}

// directiveStep runs the LLM branch when the directive file has
// actionable content.
func (h *BotHeartbeat) directiveStep(ctx context.Context) (CheckResult, bool) {
	if h.runDirective == nil || h.cfg.DirectivePath == "" {
		return CheckResult{}, false
	}
	data, err := os.ReadFile(h.cfg.DirectivePath)
	if err != nil || DirectiveEmpty(string(data)) {
		return CheckResult{}, false
	}

	res := CheckResult{Name: directiveCheckName, StartedAt: time.Now()}
	response, err := h.runDirective(ctx, string(data))
	res.EndedAt = time.Now()
	if err != nil {
		res.Status = CheckFailed
		res.Error = err.Error()
		res.ErrorKind = "upstream_failure"
		h.breaker.RecordFailure()
		return res, true
	}
	res.Status = CheckSuccess
	res.Success = true
	if ContainsOKToken(response) {
		res.Message = "no action needed"
	} else {
		res.Message = truncateResponse(response, 500)
	}
	h.breaker.RecordSuccess()
	return res, true
}

func (h *BotHeartbeat) runSequential(ctx context.Context) []CheckResult {
	var results []CheckResult
	for _, def := range h.cfg.Checks {
		if !def.Enabled {
			continue
		}
		res := h.executeWithRetry(ctx, def)
		results = append(results, res)
		h.notifyCheck(res)
		if !res.Success && h.cfg.StopOnFirstFailure {
			break
		}
	}
	return results
}

func (h *BotHeartbeat) runParallel(ctx context.Context) []CheckResult {
	limit := int64(h.cfg.MaxConcurrentChecks)
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	var enabled []CheckDefinition
	for _, def := range h.cfg.Checks {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	results := make([]CheckResult, len(enabled))
	var wg sync.WaitGroup
	for i, def := range enabled {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = CheckResult{
				Name: def.Name, Status: CheckSkipped,
				StartedAt: time.Now(), EndedAt: time.Now(),
				Error: err.Error(), ErrorKind: "cancelled",
			}
			continue
		}
		wg.Add(1)
		go func(i int, def CheckDefinition) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = h.executeWithRetry(ctx, def)
			h.notifyCheck(results[i])
		}(i, def)
	}
	wg.Wait()
	return results
}

// executeWithRetry runs one check with the effective retry policy and
// records the final outcome on the circuit breaker.
func (h *BotHeartbeat) executeWithRetry(ctx context.Context, def CheckDefinition) CheckResult {
	attempts := def.RetryAttempts
	if attempts == 0 {
		attempts = h.cfg.RetryAttempts
	}
	delay := def.RetryDelay
	if delay == 0 {
		delay = h.cfg.RetryDelay
	}
	backoff := def.RetryBackoff
	if backoff == 0 {
		backoff = h.cfg.RetryBackoff
	}
	if backoff == 0 {
		backoff = 1
	}

	var res CheckResult
	for attempt := 0; ; attempt++ {
		res = h.registry.ExecuteCheck(ctx, def.Name, def.MaxDuration)
		if res.Success {
			h.breaker.RecordSuccess()
			return res
		}
		if attempt >= attempts || ctx.Err() != nil {
			break
		}
		wait := time.Duration(float64(delay) * math.Pow(backoff, float64(attempt)))
		slog.Debug("check retry", "bot", h.cfg.BotName, "check", def.Name,
			"attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			h.breaker.RecordFailure()
			return res
		case <-time.After(wait):
		}
	}
	h.breaker.RecordFailure()
	return res
}

func (h *BotHeartbeat) finishTick(t *Tick) {
	h.history.Append(t)
	if h.onTick != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("tick callback panicked", "bot", h.cfg.BotName, "panic", p)
				}
			}()
			h.onTick(t)
		}()
	}
}

func (h *BotHeartbeat) notifyCheck(r CheckResult) {
	if h.onCheck == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("check callback panicked", "bot", h.cfg.BotName, "panic", p)
		}
	}()
	h.onCheck(r)
}
