package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"botfleet/internal/bus"
	"botfleet/internal/config"
	"botfleet/internal/content"
	"botfleet/internal/coordinator"
	"botfleet/internal/heartbeat"
	"botfleet/internal/orchestrator"
	"botfleet/internal/routines"
	"botfleet/internal/secrets"
	"botfleet/internal/sessions"
	"botfleet/internal/sidekick"
	"botfleet/internal/team"
	"botfleet/internal/tracing"
	"botfleet/internal/worklog"
	"botfleet/internal/workspace"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot fleet",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	b := bus.NewMessageBus()
	for _, rc := range team.Roster() {
		b.RegisterBot(rc.BotID, rc.Title)
	}
	wireSpecialists(b)

	expertise, err := team.NewExpertise(filepath.Join(cfg.Workspace.StateDir, "expertise.json"))
	if err != nil {
		slog.Error("failed to load expertise tracker", "error", err)
		os.Exit(1)
	}
	coord := coordinator.New(b, expertise)

	wlStore, err := openWorkLogStore(cfg)
	if err != nil {
		slog.Error("failed to open work log store", "error", err)
		os.Exit(1)
	}
	defer wlStore.Close()
	if n, err := wlStore.CleanupOldLogs(ctx, time.Duration(cfg.WorkLogs.RetentionDays)*24*time.Hour); err != nil {
		slog.Warn("work log cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("cleaned up old work logs", "removed", n)
	}

	wm, err := workspace.NewManager(cfg.Workspace.StateDir)
	if err != nil {
		slog.Error("failed to load workspaces", "error", err)
		os.Exit(1)
	}

	// Deliver closures run only after the orchestrator exists.
	var orch *orchestrator.Orchestrator
	sched, err := routines.NewScheduler(routines.NewStore(cfg.Routines.StorePath), func(env bus.MessageEnvelope) {
		if err := orch.Deliver(context.Background(), env); err != nil {
			slog.Warn("routine delivery failed", "channel", env.Channel, "error", err)
		}
	})
	if err != nil {
		slog.Error("failed to load routines", "error", err)
		os.Exit(1)
	}

	fleet, watchers := buildFleet(cfg, b, wm, wlStore, tracer, func(ctx context.Context, botID, directive string) (string, error) {
		env := bus.MessageEnvelope{
			Channel:    "system",
			ChatID:     botID,
			Content:    directive,
			Direction:  bus.DirectionInbound,
			SenderID:   botID,
			SenderRole: bus.RoleSystem,
			Timestamp:  time.Now(),
		}
		if err := orch.Deliver(ctx, env); err != nil {
			return "", err
		}
		return "directive dispatched to the coordinator", nil
	})
	defer func() {
		for _, w := range watchers {
			w.Close()
		}
	}()

	orch = orchestrator.New(cfg, orchestrator.Deps{
		Bus:        b,
		Coord:      coord,
		Expertise:  expertise,
		Sessions:   sessions.NewManager(cfg.Sessions.Storage),
		Compactor:  sessions.NewCompactor(compactorConfig(cfg), nil, nil),
		Fleet:      fleet,
		Scheduler:  sched,
		Sidekicks:  sidekick.NewOrchestrator(sidekickConfig(cfg)),
		Content:    content.NewStore(content.NewScanner(), cfg.Content.MaxSize, time.Duration(cfg.Content.TTLHours)*time.Hour),
		Secrets:    secrets.NewResolver(openSecretStore(cfg)),
		WorkLogs:   wlStore,
		Workspaces: wm,
		Tracer:     tracer,
	})

	// Local channels: interactive stdin plus a sink for system traffic.
	orch.RegisterChannel("cli", func(_ context.Context, env bus.MessageEnvelope) error {
		fmt.Printf("[%s] %s\n", env.BotName, env.Content)
		return nil
	})
	orch.RegisterChannel("system", func(_ context.Context, env bus.MessageEnvelope) error {
		slog.Info("system reply", "bot", env.BotName, "content", env.Content)
		return nil
	})

	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	for _, w := range watchers {
		w.Start(ctx)
	}

	go readStdin(ctx, orch)

	slog.Info("botfleet running", "version", Version)
	<-ctx.Done()

	orch.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	slog.Info("botfleet stopped")
}

// buildFleet registers one heartbeat per roster bot, a directive
// watcher where the bot has a directive file, and the fleet-level
// cross-checks.
func buildFleet(cfg *config.Config, b *bus.MessageBus, wm *workspace.Manager, wlStore worklog.Store,
	tracer *tracing.Provider,
	runDirective func(ctx context.Context, botID, directive string) (string, error)) (*heartbeat.FleetManager, []*heartbeat.DirectiveWatcher) {

	fleet := heartbeat.NewFleetManager()
	var watchers []*heartbeat.DirectiveWatcher
	for _, rc := range team.Roster() {
		botID := rc.BotID
		hbCfg := heartbeatConfig(cfg, botID)
		hbCfg.DirectivePath = wm.DirectivePath(cfg.Workspace.Root, botID)

		registry := heartbeat.NewCheckRegistry()
		registry.Register("bus_presence", func(ctx context.Context) (string, error) {
			if _, ok := b.ListBots()[botID]; !ok {
				return "", fmt.Errorf("bot %s not registered on the bus", botID)
			}
			return "registered", nil
		})
		hbCfg.Checks = append(hbCfg.Checks, heartbeat.CheckDefinition{Name: "bus_presence", Enabled: true})

		hb := heartbeat.New(hbCfg, registry, func(ctx context.Context, directive string) (string, error) {
			return runDirective(ctx, botID, directive)
		})
		hb.OnTickComplete(func(t *heartbeat.Tick) {
			_, span := tracer.StartSpan(context.Background(), "heartbeat.tick",
				attribute.String("bot", t.BotName),
				attribute.String("status", string(t.Status)),
				attribute.String("trigger", string(t.Trigger)))
			span.End()
		})
		fleet.Register(botID, hb)

		if _, err := os.Stat(hbCfg.DirectivePath); err == nil {
			if w, err := heartbeat.NewDirectiveWatcher(hb); err == nil {
				watchers = append(watchers, w)
			} else {
				slog.Warn("directive watcher unavailable", "bot", botID, "error", err)
			}
		}
	}

	fleet.RegisterCrossCheck("worklog_store", 5*time.Minute, func(ctx context.Context, _ []string) error {
		_, err := wlStore.LastLog(ctx)
		return err
	})
	return fleet, watchers
}

// wireSpecialists subscribes every non-coordinator bot so delegated
// tasks are executed and answered on the bus.
func wireSpecialists(b *bus.MessageBus) {
	for _, rc := range team.Roster() {
		if rc.BotID == team.CoordinatorID {
			continue
		}
		sp := team.NewSpecialist(rc, team.Strategy{})
		botID := rc.BotID
		b.Subscribe(botID, func(msg bus.BotMessage) {
			if msg.Kind != bus.KindRequest {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				outcome, err := sp.ExecuteTask(ctx, msg.Content)
				if err != nil {
					b.Send(bus.NewBotMessage(botID, msg.SenderID, bus.KindResponse, err.Error(),
						map[string]string{bus.CtxTaskID: msg.TaskID(), "status": "failed"}))
					return
				}
				b.Send(bus.NewBotMessage(botID, msg.SenderID, bus.KindResponse, outcome.Result,
					map[string]string{bus.CtxTaskID: msg.TaskID(), "confidence": fmt.Sprintf("%.2f", outcome.Confidence)}))
			}()
		})
	}
}

// readStdin turns terminal lines into inbound envelopes on the cli
// channel.
func readStdin(ctx context.Context, orch *orchestrator.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		env := bus.MessageEnvelope{
			Channel:    "cli",
			ChatID:     "local",
			Content:    line,
			Direction:  bus.DirectionInbound,
			SenderID:   "user",
			SenderRole: bus.RoleUser,
			Timestamp:  time.Now(),
		}
		if err := orch.Deliver(ctx, env); err != nil {
			slog.Warn("delivery failed", "error", err)
		}
	}
}

func openWorkLogStore(cfg *config.Config) (worklog.Store, error) {
	if cfg.WorkLogs.PostgresDSN != "" {
		return worklog.NewPGStore(cfg.WorkLogs.PostgresDSN)
	}
	return worklog.NewSQLiteStore(cfg.WorkLogs.SQLitePath)
}

func openSecretStore(cfg *config.Config) secrets.Store {
	if cfg.Secrets.Backend == "file" {
		return secrets.NewFileStore(cfg.Secrets.FilePath)
	}
	return secrets.NewKeyringStore()
}

func heartbeatConfig(cfg *config.Config, botID string) heartbeat.Config {
	hb := heartbeat.DefaultConfig(botID)
	hb.Enabled = cfg.Heartbeat.Enabled
	if cfg.Heartbeat.IntervalSec > 0 {
		hb.Interval = time.Duration(cfg.Heartbeat.IntervalSec) * time.Second
	}
	hb.Parallel = cfg.Heartbeat.Parallel
	if cfg.Heartbeat.MaxConcurrent > 0 {
		hb.MaxConcurrentChecks = cfg.Heartbeat.MaxConcurrent
	}
	hb.StopOnFirstFailure = cfg.Heartbeat.StopOnFirstFailure
	if cfg.Heartbeat.RetryAttempts > 0 {
		hb.RetryAttempts = cfg.Heartbeat.RetryAttempts
	}
	if cfg.Heartbeat.RetryDelayMs > 0 {
		hb.RetryDelay = time.Duration(cfg.Heartbeat.RetryDelayMs) * time.Millisecond
	}
	if cfg.Heartbeat.RetryBackoff > 0 {
		hb.RetryBackoff = cfg.Heartbeat.RetryBackoff
	}
	if cfg.Heartbeat.FailureThreshold > 0 {
		hb.FailureThreshold = cfg.Heartbeat.FailureThreshold
	}
	if cfg.Heartbeat.BreakerTimeoutSec > 0 {
		hb.BreakerTimeout = time.Duration(cfg.Heartbeat.BreakerTimeoutSec) * time.Second
	}
	return hb
}

func compactorConfig(cfg *config.Config) sessions.CompactorConfig {
	cc := sessions.DefaultCompactorConfig()
	if cfg.Sessions.CompactionMode != "" {
		cc.Mode = sessions.CompactionMode(cfg.Sessions.CompactionMode)
	}
	if cfg.Sessions.ThresholdPercent > 0 {
		cc.ThresholdPercent = cfg.Sessions.ThresholdPercent
	}
	if cfg.Sessions.TargetTokens > 0 {
		cc.TargetTokens = cfg.Sessions.TargetTokens
	}
	if cfg.Sessions.MinMessages > 0 {
		cc.MinMessages = cfg.Sessions.MinMessages
	}
	if cfg.Sessions.PreserveRecent > 0 {
		cc.PreserveRecent = cfg.Sessions.PreserveRecent
	}
	cc.EnableMemoryFlush = cfg.Sessions.MemoryFlush
	return cc
}

func sidekickConfig(cfg *config.Config) sidekick.Config {
	sc := sidekick.DefaultConfig()
	if cfg.Sidekicks.MaxPerBot > 0 {
		sc.MaxPerBot = cfg.Sidekicks.MaxPerBot
	}
	if cfg.Sidekicks.MaxPerRoom > 0 {
		sc.MaxPerRoom = cfg.Sidekicks.MaxPerRoom
	}
	if cfg.Sidekicks.MaxTokens > 0 {
		sc.MaxTokens = cfg.Sidekicks.MaxTokens
	}
	if cfg.Sidekicks.TaskTimeoutSec > 0 {
		sc.TaskTimeout = time.Duration(cfg.Sidekicks.TaskTimeoutSec) * time.Second
	}
	return sc
}
