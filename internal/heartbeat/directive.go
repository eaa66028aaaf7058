package heartbeat

import "strings"

// DirectiveEmpty reports whether a directive file holds no actionable
// work: only blank lines, comments, bare unchecked boxes, or completed
// items. An unchecked box with text is actionable.
func DirectiveEmpty(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "", strings.HasPrefix(line, "#"), strings.HasPrefix(line, "<!--"):
		case line == "- [ ]", line == "* [ ]":
		case strings.HasPrefix(line, "- [x]"), strings.HasPrefix(line, "* [x]"):
		default:
			return false
		}
	}
	return true
}

// ContainsOKToken detects the HEARTBEAT_OK signal, tolerating case and
// underscore variations.
func ContainsOKToken(response string) bool {
	normalized := strings.ToLower(response)
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	return strings.Contains(normalized, "heartbeatok")
}

// truncateResponse caps an LLM response for tick persistence.
func truncateResponse(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
