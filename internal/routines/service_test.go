package routines

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"botfleet/internal/bus"
)

func testScheduler(t *testing.T) (*Scheduler, *[]bus.MessageEnvelope) {
	t.Helper()
	var delivered []bus.MessageEnvelope
	store := NewStore(filepath.Join(t.TempDir(), "routines.json"))
	s, err := NewScheduler(store, func(env bus.MessageEnvelope) {
		delivered = append(delivered, env)
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, &delivered
}

func agentTurn(msg string) Payload {
	return Payload{Kind: PayloadAgentTurn, Message: msg, Channel: "matrix", To: "chat1", Scope: "user"}
}

func TestAddRoutineComputesNextRun(t *testing.T) {
	s, _ := testScheduler(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	r, err := s.AddRoutine(&Routine{
		Name:     "pulse",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Payload:  agentTurn("pulse"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.State.NextRunAtMs != base.UnixMilli()+60_000 {
		t.Errorf("next_run = %d, want now+60s", r.State.NextRunAtMs)
	}
}

func TestCronNextRunHonoursTimezone(t *testing.T) {
	s, _ := testScheduler(t)
	// 06:00 UTC on 2026-03-01 is 01:00 in New York (EST, UTC-5).
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	r, err := s.AddRoutine(&Routine{
		Name:     "nightly",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleCron, Cron: "0 2 * * *", Timezone: "America/New_York"},
		Payload:  agentTurn("nightly digest"),
	})
	if err != nil {
		t.Fatal(err)
	}
	// Next 02:00 New York is 07:00 UTC the same day.
	want := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC).UnixMilli()
	if r.State.NextRunAtMs != want {
		t.Errorf("next_run = %d (%s), want %d",
			r.State.NextRunAtMs, time.UnixMilli(r.State.NextRunAtMs).UTC(), want)
	}
}

func TestCronRequiresTimezone(t *testing.T) {
	s, _ := testScheduler(t)
	_, err := s.AddRoutine(&Routine{
		Name:     "no tz",
		Schedule: Schedule{Kind: ScheduleCron, Cron: "0 2 * * *"},
		Payload:  agentTurn("x"),
	})
	if err == nil {
		t.Error("cron without timezone accepted")
	}
	_, err = s.AddRoutine(&Routine{
		Name:     "bad tz",
		Schedule: Schedule{Kind: ScheduleCron, Cron: "0 2 * * *", Timezone: "Mars/Olympus"},
		Payload:  agentTurn("x"),
	})
	if err == nil {
		t.Error("unknown timezone accepted")
	}
}

func TestRunDueDispatchesAgentTurn(t *testing.T) {
	s, delivered := testScheduler(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	if _, err := s.AddRoutine(&Routine{
		Name:     "pulse",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Payload:  agentTurn("time for the pulse"),
	}); err != nil {
		t.Fatal(err)
	}

	now = base.Add(61 * time.Second)
	s.runDue(context.Background())

	if len(*delivered) != 1 {
		t.Fatalf("delivered %d envelopes", len(*delivered))
	}
	env := (*delivered)[0]
	if env.Direction != bus.DirectionInbound || env.SenderRole != bus.RoleSystem {
		t.Errorf("envelope = %+v", env)
	}
	if env.Channel != "matrix" || env.ChatID != "chat1" || env.Content != "time for the pulse" {
		t.Errorf("envelope = %+v", env)
	}

	got := s.ListRoutines("")[0]
	if got.State.LastStatus != "ok" || got.State.LastRunAtMs != now.UnixMilli() {
		t.Errorf("state = %+v", got.State)
	}
	if got.State.NextRunAtMs != now.UnixMilli()+60_000 {
		t.Errorf("next_run not advanced: %d", got.State.NextRunAtMs)
	}
}

func TestRunDueOrdersByNextRunThenID(t *testing.T) {
	s, _ := testScheduler(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	var fired []string
	s.RegisterHandler("mark", func(_ context.Context, r *Routine) error {
		fired = append(fired, r.ID)
		return nil
	})
	mark := Payload{Kind: PayloadSystemEvent, Routine: "mark", Scope: "system"}

	mustAdd := func(id string, everyMs int64) {
		t.Helper()
		if _, err := s.AddRoutine(&Routine{
			ID: id, Name: id, Enabled: true,
			Schedule: Schedule{Kind: ScheduleEvery, EveryMs: everyMs},
			Payload:  mark,
		}); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd("b-later", 30_000)
	mustAdd("z-early", 10_000)
	mustAdd("a-later", 30_000)

	now = base.Add(time.Minute)
	s.runDue(context.Background())

	want := []string{"z-early", "a-later", "b-later"}
	if len(fired) != 3 {
		t.Fatalf("fired = %v", fired)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}

func TestOneShotDeleteAfterRun(t *testing.T) {
	s, delivered := testScheduler(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	if _, err := s.AddRoutine(&Routine{
		Name:           "reminder",
		Enabled:        true,
		Schedule:       Schedule{Kind: ScheduleAt, AtMs: base.Add(10 * time.Second).UnixMilli()},
		Payload:        agentTurn("remember the milk"),
		DeleteAfterRun: true,
	}); err != nil {
		t.Fatal(err)
	}

	now = base.Add(11 * time.Second)
	s.runDue(context.Background())

	if len(*delivered) != 1 {
		t.Fatalf("one-shot did not fire")
	}
	if left := s.ListRoutines(""); len(left) != 0 {
		t.Errorf("one-shot still present: %+v", left[0])
	}
}

func TestInvalidUpdateRollsBack(t *testing.T) {
	s, _ := testScheduler(t)
	r, err := s.AddRoutine(&Routine{
		Name:     "pulse",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Payload:  agentTurn("pulse"),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.UpdateRoutine(r.ID, Schedule{Kind: ScheduleCron, Cron: "not a cron", Timezone: "UTC"}, r.Payload)
	if err == nil {
		t.Fatal("invalid update accepted")
	}

	got := s.ListRoutines("")[0]
	if got.Schedule.Kind != ScheduleEvery || got.Schedule.EveryMs != 60_000 {
		t.Errorf("schedule mutated by failed update: %+v", got.Schedule)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routines.json")
	store := NewStore(path)
	s, err := NewScheduler(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddRoutine(&Routine{
		Name:     "pulse",
		Enabled:  true,
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Payload:  Payload{Kind: PayloadSystemEvent, Routine: "team_check_in", Scope: "system"},
	}); err != nil {
		t.Fatal(err)
	}

	s2, err := NewScheduler(NewStore(path), nil)
	if err != nil {
		t.Fatal(err)
	}
	jobs := s2.ListRoutines("")
	if len(jobs) != 1 || jobs[0].Name != "pulse" {
		t.Fatalf("reloaded jobs = %+v", jobs)
	}
	if jobs[0].State.NextRunAtMs == 0 {
		t.Error("next_run lost across reload")
	}
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	s, _ := testScheduler(t)
	if err := s.SeedDefaults("lounge", EnergyBalanced); err != nil {
		t.Fatal(err)
	}
	if err := s.SeedDefaults("lounge", EnergyBalanced); err != nil {
		t.Fatal(err)
	}
	jobs := s.ListRoutines("system")
	if len(jobs) != 3 {
		t.Fatalf("seeded %d routines, want 3", len(jobs))
	}
	tags := map[string]bool{}
	for _, r := range jobs {
		tags[r.Payload.Routine] = true
	}
	for _, want := range []string{"team_check_in", "room_pulse", "bot_focus"} {
		if !tags[want] {
			t.Errorf("missing default routine %s", want)
		}
	}
}

func TestRunRoutineRespectsDisabled(t *testing.T) {
	s, delivered := testScheduler(t)
	r, err := s.AddRoutine(&Routine{
		Name:     "pulse",
		Enabled:  false,
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Payload:  agentTurn("pulse"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RunRoutine(context.Background(), r.ID, false); err == nil {
		t.Error("disabled routine ran without force")
	}
	if err := s.RunRoutine(context.Background(), r.ID, true); err != nil {
		t.Errorf("force run failed: %v", err)
	}
	if len(*delivered) != 1 {
		t.Errorf("force run delivered %d envelopes", len(*delivered))
	}
}
