package sessions

import (
	"testing"

	"botfleet/internal/providers"
)

func TestManagerPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	m.GetOrCreate("room|matrix|chat1")
	m.AddMessage("room|matrix|chat1", providers.Message{Role: "user", Content: "hello"})
	m.AddMessage("room|matrix|chat1", providers.Message{Role: "assistant", Content: "hi there"})
	m.SetSummary("room|matrix|chat1", "greeting exchange")
	if err := m.Save("room|matrix|chat1"); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(dir)
	got := m2.History("room|matrix|chat1")
	if len(got) != 2 || got[1].Content != "hi there" {
		t.Fatalf("reloaded history = %+v", got)
	}
	if m2.Summary("room|matrix|chat1") != "greeting exchange" {
		t.Errorf("summary not persisted")
	}
}

func TestReplaceHistoryBumpsCompactionCount(t *testing.T) {
	m := NewManager("")
	s := m.GetOrCreate("k")
	m.AddMessage("k", providers.Message{Role: "user", Content: "one"})
	m.AddMessage("k", providers.Message{Role: "user", Content: "two"})

	m.ReplaceHistory("k", []providers.Message{{Role: "system", Content: "condensed"}})
	if len(s.Messages) != 1 || s.CompactionCount != 1 {
		t.Errorf("replace did not apply: %d messages, %d compactions", len(s.Messages), s.CompactionCount)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	m := NewManager("")
	m.GetOrCreate("k")
	m.AddMessage("k", providers.Message{Role: "user", Content: "original"})

	h := m.History("k")
	h[0].Content = "mutated"
	if m.History("k")[0].Content != "original" {
		t.Error("History leaked internal slice")
	}
}
