package worklog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStepNumbersAreSequential(t *testing.T) {
	log := NewWorkLog("sess1", "build the report")
	log.AddEntry(LevelThinking, "routing", "looking at the request", EntryOpts{})
	log.AddEntry(LevelDecision, "routing", "delegating to researcher", EntryOpts{})
	log.AddToolEntry("web_search", map[string]any{"q": "sales"}, "10 results", "success", 120, "")
	log.AddEntry(LevelInfo, "memory", "stored findings", EntryOpts{})

	for i, e := range log.Entries {
		if e.Step != i+1 {
			t.Errorf("entries[%d].Step = %d, want %d", i, e.Step, i+1)
		}
	}
	if !log.Entries[2].IsToolEntry() || log.Entries[2].ToolStatus != "success" {
		t.Errorf("tool entry = %+v", log.Entries[2])
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "worklogs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	log := NewWorkLog("sess1", "summarize the meeting")
	conf := 0.85
	log.AddEntry(LevelDecision, "routing", "handled locally", EntryOpts{
		Details:    map[string]any{"domains": []any{"research"}},
		Confidence: &conf,
	})
	log.AddToolEntry("fetch", map[string]any{"url": "https://example.com"}, map[string]any{"status": "ok"}, "success", 42, "")
	log.End("Meeting summary sent.")

	if err := store.SaveLog(ctx, log); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetLog(ctx, "sess1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("saved log not found")
	}
	if got.Query != "summarize the meeting" || got.FinalOutput != "Meeting summary sent." {
		t.Errorf("log = %+v", got)
	}
	if got.EndTime == nil {
		t.Error("end time lost")
	}
	if len(got.Entries) != 2 {
		t.Fatalf("entries = %d", len(got.Entries))
	}
	e := got.Entries[0]
	if e.Step != 1 || e.Level != LevelDecision || e.Confidence == nil || *e.Confidence != 0.85 {
		t.Errorf("entry = %+v", e)
	}
	if got.Entries[1].ToolName != "fetch" || got.Entries[1].ToolInput["url"] != "https://example.com" {
		t.Errorf("tool entry = %+v", got.Entries[1])
	}
}

func TestSQLiteSaveIsIdempotentUpsert(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "worklogs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	log := NewWorkLog("sess1", "q")
	log.AddEntry(LevelInfo, "memory", "one", EntryOpts{})
	if err := store.SaveLog(ctx, log); err != nil {
		t.Fatal(err)
	}

	log.AddEntry(LevelInfo, "memory", "two", EntryOpts{})
	log.End("done")
	if err := store.SaveLog(ctx, log); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetLog(ctx, "sess1")
	if len(got.Entries) != 2 || got.FinalOutput != "done" {
		t.Errorf("resaved log = %+v", got)
	}
}

func TestSQLiteLastLogAndCleanup(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "worklogs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	old := NewWorkLog("old", "ancient question")
	old.StartTime = time.Now().Add(-40 * 24 * time.Hour)
	if err := store.SaveLog(ctx, old); err != nil {
		t.Fatal(err)
	}
	fresh := NewWorkLog("fresh", "new question")
	if err := store.SaveLog(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	last, err := store.LastLog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.SessionID != "fresh" {
		t.Errorf("last = %s", last.SessionID)
	}

	n, err := store.CleanupOldLogs(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned %d logs, want 1", n)
	}
	if got, _ := store.GetLog(ctx, "old"); got != nil {
		t.Error("old log survived cleanup")
	}
	if got, _ := store.GetLog(ctx, "fresh"); got == nil {
		t.Error("fresh log removed by cleanup")
	}
}

func TestGetLogUnknownSession(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "worklogs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	got, err := store.GetLog(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestFormatModes(t *testing.T) {
	log := NewWorkLog("sess1", "investigate the outage")
	log.AddEntry(LevelThinking, "routing", "reading alerts", EntryOpts{})
	log.AddEntry(LevelDecision, "routing", "pulling recent deploys", EntryOpts{})
	log.AddEntry(LevelError, "tool", "metrics API unreachable", EntryOpts{})
	log.End("Root cause: expired certificate.")

	summary := Format(log, FormatSummary)
	if !strings.Contains(summary, "Steps: 3") || !strings.Contains(summary, "Errors:") {
		t.Errorf("summary = %q", summary)
	}
	// Thinking entries stay out of the summary's key events.
	if strings.Contains(summary, "reading alerts") {
		t.Error("summary includes thinking entries")
	}

	detailed := Format(log, FormatDetailed)
	for i := 1; i <= 3; i++ {
		if !strings.Contains(detailed, fmt.Sprintf("Step %d", i)) {
			t.Errorf("detailed missing step %d", i)
		}
	}

	debug := Format(log, FormatDebug)
	if !strings.Contains(debug, `"session_id": "sess1"`) {
		t.Errorf("debug = %q", debug)
	}
	if Format(nil, FormatSummary) != "No work log available" {
		t.Error("nil log formatting")
	}
}
