package worklog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FormatMode selects the rendering of a work log.
type FormatMode string

const (
	FormatSummary  FormatMode = "summary"
	FormatDetailed FormatMode = "detailed"
	FormatDebug    FormatMode = "debug"
)

var levelIcons = map[Level]string{
	LevelInfo:        "ℹ️",
	LevelThinking:    "🧠",
	LevelDecision:    "🎯",
	LevelCorrection:  "🔄",
	LevelUncertainty: "❓",
	LevelWarning:     "⚠️",
	LevelError:       "❌",
	LevelTool:        "🔧",
}

func levelIcon(l Level) string {
	if icon, ok := levelIcons[l]; ok {
		return icon
	}
	return "•"
}

// Format renders the log in the requested mode; unknown modes fall
// back to summary.
func Format(log *WorkLog, mode FormatMode) string {
	if log == nil {
		return "No work log available"
	}
	switch mode {
	case FormatDetailed:
		return formatDetailed(log)
	case FormatDebug:
		data, err := json.MarshalIndent(log, "", "  ")
		if err != nil {
			return fmt.Sprintf("marshal work log: %v", err)
		}
		return string(data)
	default:
		return formatSummary(log)
	}
}

func formatSummary(log *WorkLog) string {
	query := log.Query
	if len(query) > 80 {
		query = query[:80] + "..."
	}
	lines := []string{
		"Work Log Summary",
		"Query: " + query,
		fmt.Sprintf("Steps: %d", len(log.Entries)),
		"Duration: " + log.Duration(),
		"",
		"Key Events:",
	}

	for _, e := range log.Entries {
		switch e.Level {
		case LevelDecision, LevelTool, LevelError:
			lines = append(lines, fmt.Sprintf("  %s Step %d: %s", levelIcon(e.Level), e.Step, e.Message))
		}
	}

	var errs []Entry
	for _, e := range log.Entries {
		if e.Level == LevelError {
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		lines = append(lines, "", "Errors:")
		for _, e := range errs {
			lines = append(lines, fmt.Sprintf("  ❌ Step %d: %s", e.Step, e.Message))
		}
	}
	return strings.Join(lines, "\n")
}

func formatDetailed(log *WorkLog) string {
	lines := []string{
		"Detailed Work Log",
		strings.Repeat("=", 50),
		"Session: " + log.SessionID,
		"Query: " + log.Query,
		"Started: " + log.StartTime.Format("2006-01-02 15:04:05"),
		"Duration: " + log.Duration(),
		"",
		"Steps:",
		strings.Repeat("-", 50),
	}

	for _, e := range log.Entries {
		lines = append(lines,
			fmt.Sprintf("\n%s Step %d [%s]", levelIcon(e.Level), e.Step, strings.ToUpper(string(e.Level))),
			"   Time: "+e.Timestamp.Format("15:04:05"),
			"   Category: "+e.Category,
			"   Message: "+e.Message,
		)
		if e.Confidence != nil {
			lines = append(lines, fmt.Sprintf("   Confidence: %.0f%%", *e.Confidence*100))
		}
		if e.DurationMs != nil {
			lines = append(lines, fmt.Sprintf("   Duration: %dms", *e.DurationMs))
		}
		if e.ToolName != "" {
			lines = append(lines, fmt.Sprintf("   Tool: %s (%s)", e.ToolName, e.ToolStatus))
		}
	}
	return strings.Join(lines, "\n")
}

func formatSeconds(d time.Duration) string {
	s := d.Seconds()
	if s < 60 {
		return fmt.Sprintf("%.1fs", s)
	}
	return fmt.Sprintf("%.1fm", s/60)
}
