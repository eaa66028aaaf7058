package coordinator

import (
	"testing"

	"botfleet/internal/bus"
	"botfleet/internal/team"
)

func newTestCoordinator() (*Coordinator, *bus.MessageBus) {
	b := bus.NewMessageBus()
	for _, rc := range team.Roster() {
		b.RegisterBot(rc.BotID, rc.Title)
	}
	e, _ := team.NewExpertise("")
	return New(b, e), b
}

func TestAnalyzeRequestRouting(t *testing.T) {
	c, _ := newTestCoordinator()

	tests := []struct {
		name         string
		content      string
		complexity   Complexity
		domains      []string
		requiresTeam bool
		approach     Approach
	}{
		{
			name:         "multi domain high complexity",
			content:      "please analyze the sales data and design a dashboard",
			complexity:   ComplexityHigh,
			domains:      []string{team.DomainResearch, team.DomainDesign},
			requiresTeam: true,
			approach:     ApproachParallel,
		},
		{
			name:       "single domain low complexity",
			content:    "fetch the latest community stats",
			complexity: ComplexityLow,
			domains:    []string{team.DomainCommunity},
			approach:   ApproachRoute,
		},
		{
			name:         "single domain high complexity decomposes",
			content:      "architect the social engagement pipeline",
			complexity:   ComplexityHigh,
			domains:      []string{team.DomainCommunity},
			requiresTeam: true,
			approach:     ApproachDecompose,
		},
		{
			name:       "no domains asks for clarification",
			content:    "hmm",
			complexity: ComplexityLow,
			approach:   ApproachClarify,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := c.AnalyzeRequest(tt.content, "user")
			if a.Complexity != tt.complexity {
				t.Errorf("complexity = %s, want %s", a.Complexity, tt.complexity)
			}
			if len(a.Domains) != len(tt.domains) {
				t.Fatalf("domains = %v, want %v", a.Domains, tt.domains)
			}
			for i := range tt.domains {
				if a.Domains[i] != tt.domains[i] {
					t.Errorf("domains = %v, want %v", a.Domains, tt.domains)
					break
				}
			}
			if a.RequiresTeam != tt.requiresTeam {
				t.Errorf("requires_team = %v, want %v", a.RequiresTeam, tt.requiresTeam)
			}
			if a.Approach != tt.approach {
				t.Errorf("approach = %s, want %s", a.Approach, tt.approach)
			}
		})
	}
}

func TestCreateTaskDelegatesOverBus(t *testing.T) {
	c, b := newTestCoordinator()

	var received []bus.BotMessage
	b.Subscribe("coder", func(m bus.BotMessage) { received = append(received, m) })

	task := c.CreateTask("Build widget", "make it spin", team.DomainDevelopment, "coder", CreateOpts{})

	if task.Status != StatusInProgress {
		t.Errorf("new task status = %s", task.Status)
	}
	if len(received) != 1 {
		t.Fatalf("delegation message not delivered: %d", len(received))
	}
	if received[0].Kind != bus.KindRequest || received[0].TaskID() != task.ID {
		t.Errorf("bad delegation message: %+v", received[0])
	}
}

func TestHandleTaskResultIdempotent(t *testing.T) {
	c, _ := newTestCoordinator()
	task := c.CreateTask("Audit", "check it", team.DomainQuality, "auditor", CreateOpts{})

	if !c.HandleTaskResult(task.ID, "all good", 0.9, []string{"l1"}, nil) {
		t.Fatal("first result rejected")
	}

	got, _ := c.Task(task.ID)
	if got.Status != StatusCompleted || got.Result != "all good" {
		t.Fatalf("task not completed: %+v", got)
	}

	// Replays and late failure reports must not mutate a terminal task.
	if c.HandleTaskResult(task.ID, "other", 0.1, nil, nil) {
		t.Error("replayed result accepted")
	}
	if c.HandleTaskFailure(task.ID, "boom", "") {
		t.Error("failure accepted after completion")
	}
	got, _ = c.Task(task.ID)
	if got.Result != "all good" || got.Status != StatusCompleted {
		t.Errorf("terminal task mutated: %+v", got)
	}
}

func TestHandleTaskResultUnknownTask(t *testing.T) {
	c, _ := newTestCoordinator()
	if c.HandleTaskResult("nope", "x", 0.5, nil, nil) {
		t.Error("unknown task id accepted")
	}
}

func TestHandleTaskFailureBroadcastsRecovery(t *testing.T) {
	c, b := newTestCoordinator()

	var discussions []bus.BotMessage
	b.Subscribe("researcher", func(m bus.BotMessage) {
		if m.Kind == bus.KindDiscussion {
			discussions = append(discussions, m)
		}
	})

	task := c.CreateTask("Deploy", "ship it", team.DomainDevelopment, "coder", CreateOpts{})
	if !c.HandleTaskFailure(task.ID, "tests red", "re-run with fixtures") {
		t.Fatal("failure rejected")
	}

	got, _ := c.Task(task.ID)
	if got.Status != StatusFailed || got.Error != "tests red" {
		t.Errorf("task not failed: %+v", got)
	}
	if len(discussions) != 1 {
		t.Fatalf("recovery discussion not broadcast: %d", len(discussions))
	}
	if discussions[0].TaskID() != task.ID {
		t.Errorf("discussion missing task id: %+v", discussions[0])
	}
}

func TestFindBestBotFallsBackToSelf(t *testing.T) {
	c, _ := newTestCoordinator()
	if got := c.FindBestBot(team.DomainResearch, nil, ComplexityLow); got != team.CoordinatorID {
		t.Errorf("empty candidates = %q, want coordinator", got)
	}
	if got := c.FindBestBot(team.DomainResearch, []string{"solo"}, ComplexityLow); got != "solo" {
		t.Errorf("single candidate = %q", got)
	}
}
