package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"botfleet/internal/bus"
	"botfleet/internal/routines"
	"botfleet/internal/team"
)

// registerRoutineHandlers binds the standing system_event routines to
// their behaviour.
func (o *Orchestrator) registerRoutineHandlers() {
	o.deps.Scheduler.RegisterHandler("team_check_in", o.handleTeamCheckIn)
	o.deps.Scheduler.RegisterHandler("room_pulse", o.handleRoomPulse)
	o.deps.Scheduler.RegisterHandler("bot_focus", o.handleBotFocus)
	o.deps.Scheduler.RegisterHandler("calibration", o.handleCalibration)
}

// handleTeamCheckIn opens a team-wide discussion so bots surface
// anything they are stuck on.
func (o *Orchestrator) handleTeamCheckIn(ctx context.Context, r *routines.Routine) error {
	o.deps.Coord.BroadcastToTeam(
		"Check-in time. Share anything blocked, surprising, or worth a second pair of eyes.",
		bus.KindDiscussion)
	return nil
}

// handleRoomPulse broadcasts the aggregated team status to the room's
// channel, when one is bound.
func (o *Orchestrator) handleRoomPulse(ctx context.Context, r *routines.Routine) error {
	status := o.deps.Coord.TeamStatus()
	o.deps.Coord.BroadcastToTeam(status, bus.KindAnnouncement)
	slog.Info("room pulse", "room", r.Payload.Metadata["room_id"])
	return nil
}

// handleBotFocus triggers an on-demand heartbeat tick for one
// specialist, rotating through the roster across firings.
func (o *Orchestrator) handleBotFocus(ctx context.Context, r *routines.Routine) error {
	bot := r.Payload.Bot
	if bot == "" {
		bot = o.nextFocusBot()
	}
	tick := o.deps.Fleet.TriggerBot(ctx, bot, "focus rotation")
	if tick == nil {
		return fmt.Errorf("no heartbeat registered for bot %q", bot)
	}
	slog.Info("bot focus tick", "bot", bot, "status", tick.Status)
	return nil
}

// handleCalibration broadcasts each bot's current expertise picture so
// the team sees where delegation confidence stands.
func (o *Orchestrator) handleCalibration(ctx context.Context, r *routines.Routine) error {
	var lines []string
	for _, rc := range team.Roster() {
		report := o.deps.Expertise.Report(rc.BotID)
		if len(report) == 0 {
			continue
		}
		domains := make([]string, 0, len(report))
		for d := range report {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		parts := make([]string, 0, len(domains))
		for _, d := range domains {
			parts = append(parts, fmt.Sprintf("%s %.2f", d, report[d]))
		}
		lines = append(lines, fmt.Sprintf("%s: %s", rc.BotID, strings.Join(parts, ", ")))
	}
	if len(lines) == 0 {
		return nil
	}
	o.deps.Coord.BroadcastToTeam("Expertise calibration:\n"+strings.Join(lines, "\n"),
		bus.KindAnnouncement)
	return nil
}

// nextFocusBot walks the non-coordinator roster round-robin.
func (o *Orchestrator) nextFocusBot() string {
	var specialists []string
	for _, rc := range team.Roster() {
		if rc.BotID != team.CoordinatorID {
			specialists = append(specialists, rc.BotID)
		}
	}
	n := o.focusCursor.Add(1)
	return specialists[int(n-1)%len(specialists)]
}
