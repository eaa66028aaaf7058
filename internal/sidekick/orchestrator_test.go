package sidekick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func instantRunner(_ context.Context, task TaskEnvelope) (Result, error) {
	return Result{Summary: "done: " + task.Goal}, nil
}

func TestCanSpawnEnforcesBothCaps(t *testing.T) {
	o := NewOrchestrator(Config{MaxPerBot: 2, MaxPerRoom: 3, TaskTimeout: time.Second})

	block := make(chan struct{})
	var wg sync.WaitGroup
	runBatch := func(tasks []TaskEnvelope) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Run(context.Background(), tasks, func(ctx context.Context, _ TaskEnvelope) (Result, error) {
				<-block
				return Result{}, nil
			})
		}()
	}

	// Two tasks for coder in the lounge fill its per-bot cap.
	runBatch([]TaskEnvelope{NewTask("coder", "lounge", "a"), NewTask("coder", "lounge", "b")})
	waitFor(t, func() bool { bot, _ := o.ActiveCounts("coder", "lounge"); return bot == 2 })

	if o.CanSpawn("coder", "lounge", 1) {
		t.Error("coder at per-bot cap, spawn should be refused")
	}
	if !o.CanSpawn("researcher", "lounge", 1) {
		t.Error("room has a free slot, researcher should fit")
	}

	// A third task from another bot fills the room.
	runBatch([]TaskEnvelope{NewTask("researcher", "lounge", "c")})
	waitFor(t, func() bool { _, room := o.ActiveCounts("researcher", "lounge"); return room == 3 })

	if o.CanSpawn("designer", "lounge", 1) {
		t.Error("room at cap, spawn should be refused")
	}
	if !o.CanSpawn("designer", "library", 1) {
		t.Error("other rooms are unaffected")
	}

	close(block)
	wg.Wait()

	// Slots released; everything fits again.
	if !o.CanSpawn("coder", "lounge", 2) {
		t.Error("slots not released after completion")
	}
}

func TestRunReservationIsAllOrNothing(t *testing.T) {
	o := NewOrchestrator(Config{MaxPerBot: 2, MaxPerRoom: 3, TaskTimeout: time.Second})

	// Three tasks for one bot exceed max_per_bot; none may run.
	ran := 0
	_, err := o.Run(context.Background(),
		[]TaskEnvelope{NewTask("coder", "lounge", "a"), NewTask("coder", "lounge", "b"), NewTask("coder", "lounge", "c")},
		func(ctx context.Context, task TaskEnvelope) (Result, error) {
			ran++
			return Result{}, nil
		})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want limit exceeded", err)
	}
	if ran != 0 {
		t.Errorf("%d tasks ran from a rejected batch", ran)
	}
	if bot, room := o.ActiveCounts("coder", "lounge"); bot != 0 || room != 0 {
		t.Errorf("rejected batch leaked reservations: bot=%d room=%d", bot, room)
	}
}

func TestRunResultsAlignedAndTimed(t *testing.T) {
	o := NewOrchestrator(DefaultConfig())
	tasks := []TaskEnvelope{NewTask("coder", "lounge", "first"), NewTask("researcher", "lounge", "second")}

	results, err := o.Run(context.Background(), tasks, instantRunner)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.TaskID != tasks[i].TaskID {
			t.Errorf("results[%d].TaskID = %s, want %s", i, r.TaskID, tasks[i].TaskID)
		}
		if r.Status != StatusSuccess {
			t.Errorf("results[%d].Status = %s", i, r.Status)
		}
		if r.DurationMs < 0 {
			t.Errorf("results[%d].DurationMs = %d", i, r.DurationMs)
		}
	}
}

func TestRunTimeoutStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	o := NewOrchestrator(cfg)

	results, err := o.Run(context.Background(),
		[]TaskEnvelope{NewTask("coder", "lounge", "slow")},
		func(ctx context.Context, _ TaskEnvelope) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != StatusTimeout {
		t.Errorf("status = %s, want timeout", results[0].Status)
	}
}

func TestCancelRoomCancelsInFlight(t *testing.T) {
	o := NewOrchestrator(DefaultConfig())

	started := make(chan struct{})
	var once sync.Once
	done := make(chan []Result, 1)
	go func() {
		results, _ := o.Run(context.Background(),
			[]TaskEnvelope{NewTask("coder", "lounge", "long job")},
			func(ctx context.Context, _ TaskEnvelope) (Result, error) {
				once.Do(func() { close(started) })
				<-ctx.Done()
				return Result{}, ctx.Err()
			})
		done <- results
	}()

	<-started
	if n := o.CancelRoom("lounge"); n != 1 {
		t.Fatalf("cancelled %d tasks, want 1", n)
	}

	results := <-done
	if results[0].Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", results[0].Status)
	}
	if bot, room := o.ActiveCounts("coder", "lounge"); bot != 0 || room != 0 {
		t.Errorf("counts not released: bot=%d room=%d", bot, room)
	}
}

func TestRecursionRejected(t *testing.T) {
	o := NewOrchestrator(DefaultConfig())
	task := NewTask("coder", "lounge", "meta")
	task.ParentIsSidekick = true

	_, err := o.Run(context.Background(), []TaskEnvelope{task}, instantRunner)
	if !errors.Is(err, ErrRecursion) {
		t.Errorf("err = %v, want recursion rejection", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never reached")
		}
		time.Sleep(time.Millisecond)
	}
}
