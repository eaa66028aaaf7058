package sidekick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrLimitExceeded rejects a batch that cannot reserve slots.
var ErrLimitExceeded = errors.New("sidekick limit exceeded")

// ErrRecursion rejects tasks submitted by a sidekick.
var ErrRecursion = errors.New("sidekicks may not spawn sidekicks")

// Config bounds sidekick fan-out.
type Config struct {
	MaxPerBot   int           `json:"max_per_bot"`
	MaxPerRoom  int           `json:"max_per_room"`
	MaxTokens   int           `json:"max_tokens"`
	TaskTimeout time.Duration `json:"task_timeout"`
}

// DefaultConfig returns the standard fan-out limits.
func DefaultConfig() Config {
	return Config{
		MaxPerBot:   2,
		MaxPerRoom:  3,
		MaxTokens:   8000,
		TaskTimeout: 2 * time.Minute,
	}
}

// Runner executes one sub-task. Implementations honour ctx
// cancellation; the orchestrator enforces the wall clock.
type Runner func(ctx context.Context, task TaskEnvelope) (Result, error)

// Orchestrator tracks active sub-task counts per parent bot and per
// room, enforcing both caps with all-or-nothing reservation.
type Orchestrator struct {
	cfg Config

	mu           sync.Mutex
	activeByBot  map[string]int
	activeByRoom map[string]int
	roomCancels  map[string]map[string]context.CancelFunc // room -> task id -> cancel
}

func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		activeByBot:  make(map[string]int),
		activeByRoom: make(map[string]int),
		roomCancels:  make(map[string]map[string]context.CancelFunc),
	}
}

// CanSpawn reports whether count more sub-tasks fit under both caps.
func (o *Orchestrator) CanSpawn(parentBot, room string, count int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.canSpawnLocked(parentBot, room, count)
}

func (o *Orchestrator) canSpawnLocked(parentBot, room string, count int) bool {
	return o.activeByBot[parentBot]+count <= o.cfg.MaxPerBot &&
		o.activeByRoom[room]+count <= o.cfg.MaxPerRoom
}

// reserve claims slots for the whole batch or none of it.
func (o *Orchestrator) reserve(tasks []TaskEnvelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	perBot := make(map[string]int)
	perRoom := make(map[string]int)
	for _, t := range tasks {
		perBot[t.ParentBotID]++
		perRoom[t.RoomID]++
	}
	for bot, n := range perBot {
		if o.activeByBot[bot]+n > o.cfg.MaxPerBot {
			return fmt.Errorf("%w: bot %s at %d/%d", ErrLimitExceeded, bot, o.activeByBot[bot], o.cfg.MaxPerBot)
		}
	}
	for room, n := range perRoom {
		if o.activeByRoom[room]+n > o.cfg.MaxPerRoom {
			return fmt.Errorf("%w: room %s at %d/%d", ErrLimitExceeded, room, o.activeByRoom[room], o.cfg.MaxPerRoom)
		}
	}
	for bot, n := range perBot {
		o.activeByBot[bot] += n
	}
	for room, n := range perRoom {
		o.activeByRoom[room] += n
	}
	return nil
}

func (o *Orchestrator) release(t TaskEnvelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeByBot[t.ParentBotID]--; o.activeByBot[t.ParentBotID] <= 0 {
		delete(o.activeByBot, t.ParentBotID)
	}
	if o.activeByRoom[t.RoomID]--; o.activeByRoom[t.RoomID] <= 0 {
		delete(o.activeByRoom, t.RoomID)
	}
	if cancels := o.roomCancels[t.RoomID]; cancels != nil {
		delete(cancels, t.TaskID)
		if len(cancels) == 0 {
			delete(o.roomCancels, t.RoomID)
		}
	}
}

func (o *Orchestrator) track(t TaskEnvelope, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.roomCancels[t.RoomID] == nil {
		o.roomCancels[t.RoomID] = make(map[string]context.CancelFunc)
	}
	o.roomCancels[t.RoomID][t.TaskID] = cancel
}

// Run reserves slots for the whole batch, then executes every task
// concurrently under the per-task timeout. The returned slice is
// positionally aligned with tasks.
func (o *Orchestrator) Run(ctx context.Context, tasks []TaskEnvelope, runner Runner) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	for _, t := range tasks {
		if t.ParentIsSidekick {
			return nil, fmt.Errorf("%w: task %s", ErrRecursion, t.TaskID)
		}
	}
	if err := o.reserve(tasks); err != nil {
		slog.Warn("sidekick batch rejected", "tasks", len(tasks), "error", err)
		return nil, err
	}

	results := make([]Result, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			defer o.release(task)

			taskCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
			defer cancel()
			o.track(task, cancel)

			start := time.Now()
			res, err := runner(taskCtx, task)
			res.TaskID = task.TaskID
			res.DurationMs = time.Since(start).Milliseconds()
			switch {
			case err == nil && res.Status == "":
				res.Status = StatusSuccess
			case err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded):
				res.Status = StatusTimeout
				res.Notes = err.Error()
			case err != nil && errors.Is(taskCtx.Err(), context.Canceled):
				res.Status = StatusCancelled
				res.Notes = err.Error()
			case err != nil:
				res.Status = StatusFailed
				res.Notes = err.Error()
			}
			results[i] = res
			slog.Info("sidekick finished", "task", task.TaskID, "parent", task.ParentBotID,
				"status", res.Status, "duration_ms", res.DurationMs)
			return nil
		})
	}
	g.Wait()
	return results, nil
}

// CancelRoom cancels every in-flight sub-task for the room.
func (o *Orchestrator) CancelRoom(room string) int {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.roomCancels[room]))
	for _, c := range o.roomCancels[room] {
		cancels = append(cancels, c)
	}
	o.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	if len(cancels) > 0 {
		slog.Info("room sidekicks cancelled", "room", room, "count", len(cancels))
	}
	return len(cancels)
}

// ActiveCounts snapshots in-flight totals for a parent bot and room.
func (o *Orchestrator) ActiveCounts(parentBot, room string) (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeByBot[parentBot], o.activeByRoom[room]
}
