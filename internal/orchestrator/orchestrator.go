// Package orchestrator is the composition root. It receives inbound
// envelopes from channel adapters, drives the coordinator, and emits
// the replies back through the egress registry.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"botfleet/internal/bus"
	"botfleet/internal/config"
	"botfleet/internal/content"
	"botfleet/internal/coordinator"
	"botfleet/internal/heartbeat"
	"botfleet/internal/providers"
	"botfleet/internal/routines"
	"botfleet/internal/secrets"
	"botfleet/internal/sessions"
	"botfleet/internal/sidekick"
	"botfleet/internal/team"
	"botfleet/internal/tracing"
	"botfleet/internal/worklog"
	"botfleet/internal/workspace"
)

// Deps carries every collaborator the orchestrator needs. All wiring
// is explicit; nothing here is a package-level singleton.
type Deps struct {
	Bus        *bus.MessageBus
	Coord      *coordinator.Coordinator
	Expertise  *team.Expertise
	Sessions   *sessions.Manager
	Compactor  *sessions.Compactor
	Fleet      *heartbeat.FleetManager
	Scheduler  *routines.Scheduler
	Sidekicks  *sidekick.Orchestrator
	Content    *content.Store
	Secrets    *secrets.Resolver
	WorkLogs   worklog.Store
	Workspaces *workspace.Manager
	Tracer     *tracing.Provider
}

// Orchestrator ties the core together behind a single Deliver
// entrypoint.
type Orchestrator struct {
	cfg    *config.Config
	deps   Deps
	egress *egressRegistry

	mu      sync.Mutex
	pending map[string]bus.MessageEnvelope // task id -> origin envelope

	focusCursor atomic.Uint64
}

// New wires the orchestrator, subscribes it to coordinator traffic on
// the bus, and registers the system routine handlers.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		egress:  newEgressRegistry(60),
		pending: make(map[string]bus.MessageEnvelope),
	}
	deps.Bus.Subscribe(team.CoordinatorID, o.onBotMessage)
	o.registerRoutineHandlers()
	return o
}

// RegisterChannel binds a channel adapter for outbound delivery.
func (o *Orchestrator) RegisterChannel(channel string, fn EgressFunc) {
	o.egress.register(channel, fn)
}

// Deliver is the single ingress entrypoint for channel adapters and
// the routines scheduler.
func (o *Orchestrator) Deliver(ctx context.Context, env bus.MessageEnvelope) error {
	if env.Direction != bus.DirectionInbound {
		return fmt.Errorf("deliver expects inbound envelopes, got %q", env.Direction)
	}
	ctx, span := o.deps.Tracer.StartSpan(ctx, "orchestrator.deliver",
		attribute.String("channel", env.Channel),
		attribute.String("session", env.SessionKey()))
	defer span.End()

	key := env.SessionKey()
	o.deps.Sessions.AddMessage(key, providers.Message{Role: "user", Content: env.Content})
	o.maybeCompact(ctx, key)

	wl := worklog.NewWorkLog(key, env.Content)
	wl.AddEntry(worklog.LevelInfo, "ingress",
		fmt.Sprintf("Message received on %s", env.Channel), worklog.EntryOpts{})

	analysis := o.deps.Coord.AnalyzeRequest(env.Content, env.SenderID)
	wl.AddEntry(worklog.LevelThinking, "routing",
		fmt.Sprintf("Analyzed request: %d domain(s), %s complexity", len(analysis.Domains), analysis.Complexity),
		worklog.EntryOpts{Details: map[string]any{
			"approach": string(analysis.Approach),
			"domains":  strings.Join(analysis.Domains, ","),
		}})

	var reply string
	if analysis.Approach == coordinator.ApproachClarify {
		reply = "I want to make sure I route this well. Could you tell me a bit more about what you need?"
		wl.AddEntry(worklog.LevelDecision, "routing", "Asking for clarification", worklog.EntryOpts{})
	} else {
		assigned := o.delegate(env, analysis, wl)
		reply = acknowledgement(assigned)
	}

	wl.End(reply)
	if err := o.deps.WorkLogs.SaveLog(ctx, wl); err != nil {
		slog.Warn("work log save failed", "session", key, "error", err)
	}

	o.deps.Sessions.AddMessage(key, providers.Message{Role: "assistant", Content: reply})
	o.saveSession(key)
	return o.egress.emit(ctx, o.reply(env, team.CoordinatorID, reply))
}

// saveSession persists the session after a mutation. Persistence
// failures are logged, never surfaced to the sender.
func (o *Orchestrator) saveSession(key string) {
	if err := o.deps.Sessions.Save(key); err != nil {
		slog.Warn("session save failed", "session", key, "error", err)
	}
}

// delegate creates one task per analysis domain and returns the
// assigned bot ids in domain order.
func (o *Orchestrator) delegate(env bus.MessageEnvelope, analysis coordinator.Analysis, wl *worklog.WorkLog) []string {
	candidates := o.candidates(env.RoomID)
	var assigned []string
	for _, domain := range analysis.Domains {
		// Ties in expertise keep the first candidate, so the domain
		// specialist leads the list.
		bot := o.deps.Coord.FindBestBot(domain, orderForDomain(domain, candidates), analysis.Complexity)
		task := o.deps.Coord.CreateTask(
			fmt.Sprintf("%s request from %s", domain, env.Channel),
			env.Content, domain, bot,
			coordinator.CreateOpts{})

		o.mu.Lock()
		o.pending[task.ID] = env
		o.mu.Unlock()

		conf := o.deps.Expertise.ExpertiseScore(bot, domain)
		wl.AddEntry(worklog.LevelDecision, "routing",
			fmt.Sprintf("Delegated %s work to %s", domain, bot),
			worklog.EntryOpts{Confidence: &conf})
		assigned = append(assigned, bot)
	}
	return assigned
}

// candidates returns the bots eligible for delegation in a room: the
// workspace participants when the room has its own roster, otherwise
// every specialist.
func (o *Orchestrator) candidates(roomID string) []string {
	if roomID == "" {
		roomID = workspace.DefaultWorkspaceID
	}
	var out []string
	if ws, ok := o.deps.Workspaces.Get(roomID); ok {
		for _, p := range ws.Participants {
			if p != team.CoordinatorID {
				out = append(out, p)
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, rc := range team.Roster() {
		if rc.BotID != team.CoordinatorID {
			out = append(out, rc.BotID)
		}
	}
	return out
}

// orderForDomain moves the domain's specialist to the front of the
// candidate list when present.
func orderForDomain(domain string, candidates []string) []string {
	specialist := team.SpecialistForDomain(domain)
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == specialist {
			out = append([]string{c}, out...)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// onBotMessage closes tasks when specialists report back and forwards
// the result to the originating channel.
func (o *Orchestrator) onBotMessage(msg bus.BotMessage) {
	if msg.Kind != bus.KindResponse {
		return
	}
	taskID := msg.TaskID()
	if taskID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if msg.Context["status"] == "failed" {
		o.deps.Coord.HandleTaskFailure(taskID, msg.Content, msg.Context["recovery"])
		o.forget(taskID)
		return
	}

	confidence := 0.8
	if v, err := strconv.ParseFloat(msg.Context["confidence"], 64); err == nil {
		confidence = v
	}
	if !o.deps.Coord.HandleTaskResult(taskID, msg.Content, confidence, nil, nil) {
		return
	}

	o.mu.Lock()
	origin, ok := o.pending[taskID]
	delete(o.pending, taskID)
	o.mu.Unlock()
	if !ok {
		return
	}

	// Secret values never leave the core in the clear.
	sanitized, err := o.deps.Secrets.ConvertToSymbolic(msg.Content, origin.SessionKey())
	if err != nil {
		slog.Warn("outbound sanitisation failed", "task_id", taskID, "error", err)
		sanitized = msg.Content
	}
	o.deps.Sessions.AddMessage(origin.SessionKey(),
		providers.Message{Role: "assistant", Content: sanitized})
	o.saveSession(origin.SessionKey())

	out := o.reply(origin, msg.SenderID, sanitized)
	if err := o.egress.emit(ctx, out); err != nil {
		slog.Warn("result emission failed", "task_id", taskID, "channel", origin.Channel, "error", err)
	}
}

func (o *Orchestrator) forget(taskID string) {
	o.mu.Lock()
	delete(o.pending, taskID)
	o.mu.Unlock()
}

func (o *Orchestrator) maybeCompact(ctx context.Context, key string) {
	history := o.deps.Sessions.History(key)
	if !o.deps.Compactor.ShouldCompact(history, o.cfg.Sessions.ContextWindow) {
		return
	}
	res, err := o.deps.Compactor.Compact(ctx, history)
	if err != nil {
		slog.Warn("compaction failed, keeping full history", "session", key, "error", err)
		return
	}
	o.deps.Sessions.ReplaceHistory(key, res.Messages)
	o.saveSession(key)
	slog.Info("session compacted", "session", key,
		"before", res.OriginalCount, "after", res.CompactedCount)
}

// reply builds the outbound mirror of an inbound envelope.
func (o *Orchestrator) reply(origin bus.MessageEnvelope, botID, content string) bus.MessageEnvelope {
	return bus.MessageEnvelope{
		Channel:    origin.Channel,
		ChatID:     origin.ChatID,
		Content:    content,
		Direction:  bus.DirectionOutbound,
		SenderID:   botID,
		SenderRole: bus.RoleBot,
		BotName:    botID,
		ReplyTo:    origin.SenderID,
		Timestamp:  time.Now(),
		RoomID:     origin.RoomID,
		TraceID:    origin.TraceID,
	}
}

func acknowledgement(assigned []string) string {
	switch len(assigned) {
	case 0:
		return "I'll take this one myself."
	case 1:
		return fmt.Sprintf("On it. %s is taking this.", assigned[0])
	default:
		return fmt.Sprintf("On it. Working in parallel: %s.", strings.Join(assigned, ", "))
	}
}

// Start brings up the long-running services: per-bot heartbeats and
// the routines scheduler, with the default routines seeded for the
// default workspace.
func (o *Orchestrator) Start(ctx context.Context) error {
	profile := routines.EnergyProfile(o.cfg.Team.EnergyProfile)
	if err := o.deps.Scheduler.SeedDefaults(workspace.DefaultWorkspaceID, profile); err != nil {
		return fmt.Errorf("seed default routines: %w", err)
	}
	o.deps.Fleet.StartAll(ctx)
	o.deps.Scheduler.Start(ctx)
	slog.Info("orchestrator started")
	return nil
}

// Stop shuts the services down in reverse order of Start.
func (o *Orchestrator) Stop() {
	o.deps.Scheduler.Stop()
	o.deps.Fleet.StopAll()
	slog.Info("orchestrator stopped")
}

// RunSidekicks fans a bot's subtasks out to bounded ephemeral helpers
// and returns one result per goal, in order.
func (o *Orchestrator) RunSidekicks(ctx context.Context, parentBot, roomID string, goals []string, runner sidekick.Runner) ([]sidekick.Result, error) {
	if roomID == "" {
		roomID = workspace.DefaultWorkspaceID
	}
	tasks := make([]sidekick.TaskEnvelope, len(goals))
	for i, goal := range goals {
		tasks[i] = sidekick.NewTask(parentBot, roomID, goal)
	}
	return o.deps.Sidekicks.Run(ctx, tasks, runner)
}

// IngestContent stores fetched web content after the injection scan
// and returns the text a bot should see: a reference block for safe
// content, a refusal for blocked content.
func (o *Orchestrator) IngestContent(url, text, title string) string {
	id, result := o.deps.Content.Add(url, text, title, true)
	if result.Blocked() {
		return o.deps.Content.BlockedMessage(url, result)
	}
	return o.deps.Content.Reference(id, url, result)
}

// ReadContent serves a bot's read-by-id request for previously fetched
// content. The store gates the body: blocked entries come back as the
// refusal, never the raw text.
func (o *Orchestrator) ReadContent(id string) string {
	return o.deps.Content.Read(id)
}
