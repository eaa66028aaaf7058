package routines

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"botfleet/internal/bus"
)

// Deliver hands a synthetic envelope to the orchestrator, the same
// entrypoint channel adapters use.
type Deliver func(env bus.MessageEnvelope)

// EventHandler services one system_event routine tag.
type EventHandler func(ctx context.Context, r *Routine) error

// Scheduler owns the job list. The in-memory index and the on-disk
// file move in lockstep: every mutation persists before returning, and
// a failed persist rolls the memory back.
type Scheduler struct {
	store    *Store
	deliver  Deliver
	cadence  time.Duration
	now      func() time.Time
	handlers map[string]EventHandler

	mu   sync.Mutex
	jobs map[string]*Routine

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler loads persisted jobs. deliver may be nil when no
// agent_turn routines exist yet.
func NewScheduler(store *Store, deliver Deliver) (*Scheduler, error) {
	jobs, err := store.Load()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		store:    store,
		deliver:  deliver,
		cadence:  time.Second,
		now:      time.Now,
		handlers: make(map[string]EventHandler),
		jobs:     make(map[string]*Routine, len(jobs)),
	}
	for _, r := range jobs {
		s.jobs[r.ID] = r
	}
	return s, nil
}

// RegisterHandler binds a system_event routine tag to its handler.
func (s *Scheduler) RegisterHandler(tag string, h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[tag] = h
}

// AddRoutine validates, assigns an id, computes the first run, and
// persists.
func (s *Scheduler) AddRoutine(r *Routine) (*Routine, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	next, err := r.NextRunAfter(now)
	if err != nil {
		return nil, err
	}
	r.State.NextRunAtMs = next
	r.CreatedAtMs = now.UnixMilli()
	r.UpdatedAtMs = now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[r.ID]; exists {
		return nil, fmt.Errorf("routine %s already exists", r.ID)
	}
	s.jobs[r.ID] = r
	if err := s.persistLocked(); err != nil {
		delete(s.jobs, r.ID)
		return nil, err
	}
	slog.Info("routine added", "id", r.ID, "name", r.Name, "kind", r.Schedule.Kind)
	return r, nil
}

// UpdateRoutine replaces a job's schedule and payload, recomputing the
// next run. Invalid updates leave the stored job untouched.
func (s *Scheduler) UpdateRoutine(id string, schedule Schedule, payload Payload) (*Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("routine %s not found", id)
	}
	prev := *r
	r.Schedule = schedule
	r.Payload = payload
	r.UpdatedAtMs = s.now().UnixMilli()
	if err := r.Validate(); err != nil {
		*r = prev
		return nil, err
	}
	next, err := r.NextRunAfter(s.now())
	if err != nil {
		*r = prev
		return nil, err
	}
	r.State.NextRunAtMs = next
	if err := s.persistLocked(); err != nil {
		*r = prev
		return nil, err
	}
	return r, nil
}

// RemoveRoutine deletes a job. Unknown ids return false.
func (s *Scheduler) RemoveRoutine(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		slog.Warn("remove for unknown routine", "id", id)
		return false, nil
	}
	delete(s.jobs, id)
	if err := s.persistLocked(); err != nil {
		s.jobs[id] = r
		return false, err
	}
	return true, nil
}

// EnableRoutine flips the enabled flag, recomputing the next run when
// turning on.
func (s *Scheduler) EnableRoutine(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("routine %s not found", id)
	}
	prev := *r
	r.Enabled = enabled
	r.UpdatedAtMs = s.now().UnixMilli()
	if enabled {
		next, err := r.NextRunAfter(s.now())
		if err != nil {
			*r = prev
			return err
		}
		r.State.NextRunAtMs = next
	}
	if err := s.persistLocked(); err != nil {
		*r = prev
		return err
	}
	return nil
}

// ListRoutines returns jobs, optionally filtered by payload scope,
// ordered by (next_run, id).
func (s *Scheduler) ListRoutines(scope string) []*Routine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Routine
	for _, r := range s.jobs {
		if scope != "" && r.Payload.Scope != scope {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State.NextRunAtMs != out[j].State.NextRunAtMs {
			return out[i].State.NextRunAtMs < out[j].State.NextRunAtMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunRoutine fires one job immediately. Without force, disabled jobs
// are rejected.
func (s *Scheduler) RunRoutine(ctx context.Context, id string, force bool) error {
	s.mu.Lock()
	r, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("routine %s not found", id)
	}
	if !r.Enabled && !force {
		s.mu.Unlock()
		return fmt.Errorf("routine %s is disabled", id)
	}
	s.mu.Unlock()
	s.fire(ctx, id)
	return nil
}

// Start launches the cadence loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	slog.Info("routines scheduler started", "jobs", len(s.jobs))
}

// Stop cancels the loop and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("routines scheduler stopped")
}

// Status summarises the scheduler for operators.
func (s *Scheduler) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled := 0
	for _, r := range s.jobs {
		if r.Enabled {
			enabled++
		}
	}
	return map[string]any{
		"jobs":    len(s.jobs),
		"enabled": enabled,
		"running": s.cancel != nil,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue fires every enabled job whose next run has arrived, earliest
// first with ties broken by id.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now().UnixMilli()

	s.mu.Lock()
	var due []*Routine
	for _, r := range s.jobs {
		if r.Enabled && r.State.NextRunAtMs > 0 && r.State.NextRunAtMs <= now {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].State.NextRunAtMs != due[j].State.NextRunAtMs {
			return due[i].State.NextRunAtMs < due[j].State.NextRunAtMs
		}
		return due[i].ID < due[j].ID
	})
	ids := make([]string, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.fire(ctx, id)
	}
}

// fire runs one job: the next run advances before dispatch so an
// overlapping tick cannot double-fire.
func (s *Scheduler) fire(ctx context.Context, id string) {
	s.mu.Lock()
	r, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if next, err := r.NextRunAfter(now); err == nil {
		r.State.NextRunAtMs = next
	} else {
		r.State.NextRunAtMs = 0
	}
	payload := r.Payload
	s.mu.Unlock()

	err := s.dispatch(ctx, r, payload)

	s.mu.Lock()
	if r, ok = s.jobs[id]; ok {
		r.State.LastRunAtMs = now.UnixMilli()
		if err != nil {
			r.State.LastStatus = "error"
			r.State.LastError = err.Error()
		} else {
			r.State.LastStatus = "ok"
			r.State.LastError = ""
		}
		if r.Schedule.Kind == ScheduleAt && r.DeleteAfterRun {
			delete(s.jobs, id)
		} else if r.Schedule.Kind == ScheduleAt {
			// One-shot without delete stays around, disabled.
			r.Enabled = false
			r.State.NextRunAtMs = 0
		}
	}
	if perr := s.persistLocked(); perr != nil {
		slog.Error("persist after routine run failed", "id", id, "error", perr)
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("routine run failed", "id", id, "error", err)
	} else {
		slog.Info("routine ran", "id", id)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, r *Routine, p Payload) error {
	switch p.Kind {
	case PayloadAgentTurn:
		if s.deliver == nil {
			return fmt.Errorf("no envelope delivery wired")
		}
		s.deliver(bus.MessageEnvelope{
			Channel:    p.Channel,
			ChatID:     p.To,
			Content:    p.Message,
			Direction:  bus.DirectionInbound,
			SenderRole: bus.RoleSystem,
			BotName:    p.Bot,
			Timestamp:  s.now(),
			Metadata:   p.Metadata,
		})
		return nil
	case PayloadSystemEvent:
		s.mu.Lock()
		h := s.handlers[p.Routine]
		s.mu.Unlock()
		if h == nil {
			return fmt.Errorf("no handler for system event %q", p.Routine)
		}
		return h(ctx, r)
	}
	return fmt.Errorf("unknown payload kind %q", p.Kind)
}

func (s *Scheduler) persistLocked() error {
	jobs := make([]*Routine, 0, len(s.jobs))
	for _, r := range s.jobs {
		jobs = append(jobs, r)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return s.store.Save(jobs)
}
