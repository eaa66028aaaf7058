package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(checks ...CheckDefinition) Config {
	cfg := DefaultConfig("testbot")
	cfg.Checks = checks
	cfg.RetryAttempts = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func okCheck(name string) CheckDefinition {
	return CheckDefinition{Name: name, Enabled: true, MaxDuration: time.Second}
}

func TestSequentialStopOnFirstFailure(t *testing.T) {
	reg := NewCheckRegistry()
	reg.Register("a", func(ctx context.Context) (string, error) { return "ok", nil })
	reg.Register("b", func(ctx context.Context) (string, error) { return "", errors.New("down") })
	reg.Register("c", func(ctx context.Context) (string, error) { return "ok", nil })

	cfg := testConfig(okCheck("a"), okCheck("b"), okCheck("c"))
	cfg.StopOnFirstFailure = true
	hb := New(cfg, reg, nil)

	tick := hb.TriggerNow(context.Background(), "test")

	if tick.Status != TickFailed {
		t.Errorf("status = %s, want failed", tick.Status)
	}
	// The failure must be the last result; "c" never ran.
	failures := 0
	for _, r := range tick.Results {
		if !r.Success {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failures = %d, want exactly 1", failures)
	}
	last := tick.Results[len(tick.Results)-1]
	if last.Name != "b" || last.Success {
		t.Errorf("last result = %+v, want failed b", last)
	}
	if len(tick.Results) != 2 {
		t.Errorf("got %d results, want 2 (c skipped)", len(tick.Results))
	}
}

func TestSequentialPreservesOrder(t *testing.T) {
	reg := NewCheckRegistry()
	for _, n := range []string{"first", "second", "third"} {
		name := n
		reg.Register(name, func(ctx context.Context) (string, error) { return name, nil })
	}
	hb := New(testConfig(okCheck("first"), okCheck("second"), okCheck("third")), reg, nil)

	tick := hb.TriggerNow(context.Background(), "test")
	if tick.Status != TickCompleted {
		t.Fatalf("status = %s", tick.Status)
	}
	want := []string{"first", "second", "third"}
	for i, r := range tick.Results {
		if r.Name != want[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestParallelRunsAllChecks(t *testing.T) {
	reg := NewCheckRegistry()
	var running, peak atomic.Int32
	for i := 0; i < 6; i++ {
		reg.Register(fmt.Sprintf("c%d", i), func(ctx context.Context) (string, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return "ok", nil
		})
	}
	cfg := testConfig(okCheck("c0"), okCheck("c1"), okCheck("c2"), okCheck("c3"), okCheck("c4"), okCheck("c5"))
	cfg.Parallel = true
	cfg.MaxConcurrentChecks = 2
	hb := New(cfg, reg, nil)

	tick := hb.TriggerNow(context.Background(), "test")
	if tick.Status != TickCompleted || len(tick.Results) != 6 {
		t.Fatalf("status = %s, results = %d", tick.Status, len(tick.Results))
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency peaked at %d, cap is 2", peak.Load())
	}
}

func TestRetryWithBackoffEventuallySucceeds(t *testing.T) {
	reg := NewCheckRegistry()
	var calls atomic.Int32
	reg.Register("flaky", func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("transient")
		}
		return "recovered", nil
	})
	cfg := testConfig(okCheck("flaky"))
	cfg.RetryAttempts = 3
	cfg.RetryDelay = time.Millisecond
	cfg.RetryBackoff = 2.0
	hb := New(cfg, reg, nil)

	tick := hb.TriggerNow(context.Background(), "test")
	if tick.Status != TickCompleted {
		t.Errorf("status = %s, want completed after retries", tick.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("check ran %d times, want 3", calls.Load())
	}
}

func TestCheckTimeout(t *testing.T) {
	reg := NewCheckRegistry()
	reg.Register("slow", func(ctx context.Context) (string, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	cfg := testConfig(CheckDefinition{Name: "slow", Enabled: true, MaxDuration: 20 * time.Millisecond})
	hb := New(cfg, reg, nil)

	tick := hb.TriggerNow(context.Background(), "test")
	if tick.Results[0].Status != CheckTimeout {
		t.Errorf("status = %s, want timeout", tick.Results[0].Status)
	}
}

func TestBreakerOpensAndSkipsTicks(t *testing.T) {
	reg := NewCheckRegistry()
	reg.Register("broken", func(ctx context.Context) (string, error) { return "", errors.New("down") })
	cfg := testConfig(okCheck("broken"))
	cfg.FailureThreshold = 2
	cfg.BreakerTimeout = time.Hour
	hb := New(cfg, reg, nil)

	hb.TriggerNow(context.Background(), "1")
	hb.TriggerNow(context.Background(), "2")
	if hb.BreakerState() != BreakerOpen {
		t.Fatalf("breaker = %s after threshold failures", hb.BreakerState())
	}

	tick := hb.TriggerNow(context.Background(), "3")
	if tick.Status != TickSkipped || len(tick.Results) != 0 {
		t.Errorf("open breaker did not skip: %+v", tick)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("breaker not open")
	}
	if b.Allow() {
		t.Fatal("open breaker allowed work before timeout")
	}
	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expired breaker did not move to half open")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Errorf("success in half open did not close breaker")
	}
}

func TestDirectiveBranch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "HEARTBEAT.md")

	tests := []struct {
		name     string
		content  string
		response string
		wantRun  bool
		wantMsg  string
	}{
		{
			name:    "empty file skips the branch",
			content: "# Tasks\n\n- [ ]\n* [x] shipped already\n<!-- notes -->\n",
			wantRun: false,
		},
		{
			name:     "ok token means no action",
			content:  "- [ ] water the plants\n",
			response: "All quiet. HEARTBEAT_OK",
			wantRun:  true,
			wantMsg:  "no action needed",
		},
		{
			name:     "ok token survives case and underscores",
			content:  "- [ ] water the plants\n",
			response: "heartbeat ok, nothing to do",
			wantRun:  true,
			wantMsg:  "no action needed",
		},
		{
			name:     "action taken keeps the response",
			content:  "- [ ] water the plants\n",
			response: "Watered the plants and logged it.",
			wantRun:  true,
			wantMsg:  "Watered the plants and logged it.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg := testConfig()
			cfg.DirectivePath = path
			ran := false
			hb := New(cfg, NewCheckRegistry(), func(ctx context.Context, directive string) (string, error) {
				ran = true
				return tt.response, nil
			})

			tick := hb.TriggerNow(context.Background(), "test")
			if ran != tt.wantRun {
				t.Fatalf("directive branch ran = %v, want %v", ran, tt.wantRun)
			}
			if !tt.wantRun {
				return
			}
			if len(tick.Results) != 1 || tick.Results[0].Name != directiveCheckName {
				t.Fatalf("results = %+v", tick.Results)
			}
			if tick.Results[0].Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", tick.Results[0].Message, tt.wantMsg)
			}
		})
	}
}

func TestDirectiveErrorBecomesFailedResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "HEARTBEAT.md")
	os.WriteFile(path, []byte("- [ ] do the thing\n"), 0o644)

	cfg := testConfig()
	cfg.DirectivePath = path
	hb := New(cfg, NewCheckRegistry(), func(ctx context.Context, _ string) (string, error) {
		return "", errors.New("model unavailable")
	})

	tick := hb.TriggerNow(context.Background(), "test")
	if tick.Status != TickCompletedWithFailures {
		t.Errorf("status = %s", tick.Status)
	}
	if tick.Results[0].Status != CheckFailed || tick.Results[0].Error == "" {
		t.Errorf("result = %+v", tick.Results[0])
	}
}

func TestCallbackPanicsAreSwallowed(t *testing.T) {
	reg := NewCheckRegistry()
	reg.Register("a", func(ctx context.Context) (string, error) { return "ok", nil })
	hb := New(testConfig(okCheck("a")), reg, nil)
	hb.OnTickComplete(func(*Tick) { panic("observer bug") })
	hb.OnCheckComplete(func(CheckResult) { panic("observer bug") })

	tick := hb.TriggerNow(context.Background(), "test")
	if tick.Status != TickCompleted {
		t.Errorf("panicking callbacks affected the tick: %s", tick.Status)
	}
}

func TestWaitForCurrentTick(t *testing.T) {
	reg := NewCheckRegistry()
	release := make(chan struct{})
	reg.Register("slow", func(ctx context.Context) (string, error) {
		<-release
		return "ok", nil
	})
	hb := New(testConfig(okCheck("slow")), reg, nil)

	go hb.TriggerNow(context.Background(), "test")
	for !hb.inTick.Load() {
		time.Sleep(time.Millisecond)
	}

	if err := hb.WaitForCurrentTick(30 * time.Millisecond); err == nil {
		t.Error("wait should time out while the tick is blocked")
	}
	close(release)
	if err := hb.WaitForCurrentTick(time.Second); err != nil {
		t.Errorf("wait after release: %v", err)
	}
}

func TestHistoryBoundedAndRates(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		status := TickCompleted
		if i%2 == 1 {
			status = TickFailed
		}
		h.Append(&Tick{ID: fmt.Sprint(i), StartedAt: time.Now(), Status: status})
	}
	if got := len(h.Recent(0)); got != 3 {
		t.Errorf("history holds %d ticks, cap is 3", got)
	}
	// Remaining: ticks 2 (ok), 3 (failed), 4 (ok).
	if rate := h.SuccessRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("success rate = %f, want 2/3", rate)
	}
	if up := h.Uptime(24 * time.Hour); up < 0.66 || up > 0.67 {
		t.Errorf("uptime = %f, want 2/3", up)
	}
}
