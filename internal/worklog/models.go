// Package worklog records an agent's step-by-step decision making for
// one session and persists it to a relational store.
package worklog

import (
	"time"
)

// Level classifies a work log entry.
type Level string

const (
	LevelInfo        Level = "info"
	LevelThinking    Level = "thinking"
	LevelDecision    Level = "decision"
	LevelCorrection  Level = "correction"
	LevelUncertainty Level = "uncertainty"
	LevelWarning     Level = "warning"
	LevelError       Level = "error"
	LevelTool        Level = "tool"
)

// Entry is one step in a session's work log. Step numbers are assigned
// by the owning WorkLog and always equal the entry's position plus one.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Step       int            `json:"step"`
	Category   string         `json:"category"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`

	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput any            `json:"tool_output,omitempty"`
	ToolStatus string         `json:"tool_status,omitempty"` // success, error, timeout
	ToolError  string         `json:"tool_error,omitempty"`
}

// IsToolEntry reports whether the entry records a tool execution.
func (e *Entry) IsToolEntry() bool { return e.ToolName != "" }

// WorkLog is the full record of one session.
type WorkLog struct {
	SessionID   string     `json:"session_id"`
	Query       string     `json:"query"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Entries     []Entry    `json:"entries"`
	FinalOutput string     `json:"final_output,omitempty"`
}

// NewWorkLog opens a log for a session.
func NewWorkLog(sessionID, query string) *WorkLog {
	return &WorkLog{SessionID: sessionID, Query: query, StartTime: time.Now()}
}

// EntryOpts carries the optional fields of AddEntry.
type EntryOpts struct {
	Details    map[string]any
	Confidence *float64
	DurationMs *int64
}

// AddEntry appends a step. The step number is the new length of the
// entry list, keeping entries[i].Step == i+1.
func (w *WorkLog) AddEntry(level Level, category, message string, opts EntryOpts) *Entry {
	w.Entries = append(w.Entries, Entry{
		Timestamp:  time.Now(),
		Level:      level,
		Step:       len(w.Entries) + 1,
		Category:   category,
		Message:    message,
		Details:    opts.Details,
		Confidence: opts.Confidence,
		DurationMs: opts.DurationMs,
	})
	return &w.Entries[len(w.Entries)-1]
}

// AddToolEntry appends a tool execution step.
func (w *WorkLog) AddToolEntry(toolName string, input map[string]any, output any, status string, durationMs int64, message string) *Entry {
	if message == "" {
		message = "Executed " + toolName
	}
	e := w.AddEntry(LevelTool, "tool", message, EntryOpts{DurationMs: &durationMs})
	e.ToolName = toolName
	e.ToolInput = input
	e.ToolOutput = output
	e.ToolStatus = status
	if status == "error" {
		if s, ok := output.(string); ok {
			e.ToolError = s
		}
	}
	return e
}

// End closes the log with the final output.
func (w *WorkLog) End(finalOutput string) {
	now := time.Now()
	w.EndTime = &now
	w.FinalOutput = finalOutput
}

// Duration renders elapsed time, or "In progress" for an open log.
func (w *WorkLog) Duration() string {
	if w.EndTime == nil {
		return "In progress"
	}
	return formatSeconds(w.EndTime.Sub(w.StartTime))
}
