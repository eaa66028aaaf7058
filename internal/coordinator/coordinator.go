package coordinator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"botfleet/internal/bus"
	"botfleet/internal/team"
)

// Coordinator owns the task lifecycle. All mutations go through its
// single lock; external callers reach it through the bus.
type Coordinator struct {
	id        string
	bus       *bus.MessageBus
	expertise *team.Expertise

	mu          sync.Mutex
	activeTasks map[string]*Task
	waiting     map[string]bus.BotMessage // task id -> delegation message
}

// New creates a coordinator bound to the bus and expertise tracker.
func New(b *bus.MessageBus, expertise *team.Expertise) *Coordinator {
	return &Coordinator{
		id:          team.CoordinatorID,
		bus:         b,
		expertise:   expertise,
		activeTasks: make(map[string]*Task),
		waiting:     make(map[string]bus.BotMessage),
	}
}

// AnalyzeRequest scores a user request and recommends a handling
// approach.
func (c *Coordinator) AnalyzeRequest(content, userID string) Analysis {
	a := Analysis{
		Content:    content,
		UserID:     userID,
		Complexity: estimateComplexity(content),
		Domains:    extractDomains(content),
		Approach:   ApproachRoute,
	}

	switch {
	case len(a.Domains) == 0:
		a.Approach = ApproachClarify
	case len(a.Domains) == 1:
		if a.Complexity == ComplexityHigh {
			a.RequiresTeam = true
			a.Approach = ApproachDecompose
		}
	default:
		a.RequiresTeam = true
		a.Approach = ApproachParallel
	}

	slog.Info("request analysis",
		"approach", a.Approach, "domains", len(a.Domains), "complexity", a.Complexity)
	return a
}

// FindBestBot selects the highest-expertise candidate for the domain.
// Ties keep the first candidate; an empty candidate list falls back to
// the coordinator itself.
func (c *Coordinator) FindBestBot(domain string, candidates []string, _ Complexity) string {
	if len(candidates) == 0 {
		return c.id
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	best := c.expertise.BestBotForDomain(domain, candidates)
	slog.Info("selected bot", "bot", best, "domain", domain,
		"score", fmt.Sprintf("%.2f", c.expertise.ExpertiseScore(best, domain)))
	return best
}

// CreateOpts carries the optional fields of CreateTask.
type CreateOpts struct {
	Requirements []string
	DueDate      *time.Time
	ParentTaskID string
}

// CreateTask records a new in-progress task, delegates it over the bus,
// and tracks the assignment in the waiting map.
func (c *Coordinator) CreateTask(title, description, domain, assignedTo string, opts CreateOpts) *Task {
	t := newTask(title, description, domain, assignedTo, c.id)
	t.Requirements = opts.Requirements
	t.DueDate = opts.DueDate
	t.ParentTaskID = opts.ParentTaskID

	msg := bus.NewBotMessage(c.id, assignedTo, bus.KindRequest,
		fmt.Sprintf("Task: %s\n%s", title, description),
		map[string]string{bus.CtxTaskID: t.ID, bus.CtxSubject: title})

	c.mu.Lock()
	c.activeTasks[t.ID] = t
	c.waiting[t.ID] = msg
	c.mu.Unlock()

	c.bus.Send(msg)

	slog.Info("task created", "title", title, "assigned_to", assignedTo, "task_id", t.ID)
	return t
}

// HandleTaskResult completes the matching task. Unknown or terminal
// task ids are logged and dropped; replay is a no-op returning false.
func (c *Coordinator) HandleTaskResult(taskID, result string, confidence float64, learnings, followUps []string) bool {
	c.mu.Lock()
	t, ok := c.activeTasks[taskID]
	if !ok || t.IsTerminal() {
		c.mu.Unlock()
		slog.Warn("result for unknown or terminal task", "task_id", taskID)
		return false
	}
	t.markCompleted(result, confidence)
	if len(learnings) > 0 {
		t.Learnings = learnings
	}
	if len(followUps) > 0 {
		t.FollowUps = followUps
	}
	delete(c.waiting, taskID)
	assignedTo, domain, title := t.AssignedTo, t.Domain, t.Title
	c.mu.Unlock()

	c.expertise.RecordInteraction(assignedTo, domain, true)

	slog.Info("task completed", "title", title, "assigned_to", assignedTo,
		"confidence", fmt.Sprintf("%.2f", confidence))
	return true
}

// HandleTaskFailure fails the matching task and, when a recovery
// suggestion is given, opens a team discussion about it.
func (c *Coordinator) HandleTaskFailure(taskID, errMsg, recovery string) bool {
	c.mu.Lock()
	t, ok := c.activeTasks[taskID]
	if !ok || t.IsTerminal() {
		c.mu.Unlock()
		slog.Warn("failure report for unknown or terminal task", "task_id", taskID)
		return false
	}
	t.markFailed(errMsg)
	delete(c.waiting, taskID)
	assignedTo, domain, title := t.AssignedTo, t.Domain, t.Title
	c.mu.Unlock()

	c.expertise.RecordInteraction(assignedTo, domain, false)

	slog.Warn("task failed", "title", title, "assigned_to", assignedTo, "error", errMsg)

	if recovery != "" {
		c.bus.Send(bus.NewBotMessage(c.id, bus.TeamRecipient, bus.KindDiscussion,
			fmt.Sprintf("Task '%s' failed. Suggested recovery: %s", title, recovery),
			map[string]string{bus.CtxTaskID: taskID, bus.CtxSubject: "Task Recovery: " + title}))
	}
	return true
}

// BroadcastToTeam sends content to every registered bot.
func (c *Coordinator) BroadcastToTeam(content string, kind bus.MessageKind) string {
	id := c.bus.Send(bus.NewBotMessage(c.id, bus.TeamRecipient, kind, content,
		map[string]string{bus.CtxSubject: "Team announcement"}))
	slog.Info("broadcast to team", "content", truncate(content, 50))
	return id
}

// Task returns a copy of the tracked task, if known.
func (c *Coordinator) Task(taskID string) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.activeTasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// TeamStatus renders aggregated task counts and per-bot message volume.
func (c *Coordinator) TeamStatus() string {
	c.mu.Lock()
	var pending, completed, failed []*Task
	for _, t := range c.activeTasks {
		switch t.Status {
		case StatusInProgress, StatusCreated:
			pending = append(pending, t)
		case StatusCompleted:
			completed = append(completed, t)
		case StatusFailed:
			failed = append(failed, t)
		}
	}
	c.mu.Unlock()

	lines := []string{"=== Team Status ==="}
	lines = append(lines, fmt.Sprintf("Active: %d | Completed: %d | Failed: %d",
		len(pending), len(completed), len(failed)))

	bots := c.bus.ListBots()
	lines = append(lines, fmt.Sprintf("Team members: %d", len(bots)))
	ids := make([]string, 0, len(bots))
	for id := range bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("  - %s (%s): %d messages", bots[id].Name, id, bots[id].MessageCount))
	}

	if len(pending) > 0 {
		sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
		lines = append(lines, "", "Pending tasks:")
		for i, t := range pending {
			if i == 3 {
				break
			}
			lines = append(lines, fmt.Sprintf("  - %s (assigned to %s)", t.Title, t.AssignedTo))
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
