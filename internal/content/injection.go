// Package content quarantines externally fetched text behind opaque
// ids and scans it for prompt-injection attempts.
package content

import (
	"regexp"
	"time"
)

// Confidence is the scanner's tiered certainty level.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Action is what the caller must do with the scanned content.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// PatternMatch is one pattern hit inside scanned content.
type PatternMatch struct {
	Pattern    string     `json:"pattern"`
	Matched    string     `json:"matched"`
	Confidence Confidence `json:"confidence"`
	Position   int        `json:"position"`
}

// ScanResult is the verdict for one piece of content. The action
// follows the highest-confidence tier hit.
type ScanResult struct {
	URL        string         `json:"url"`
	ScannedAt  time.Time      `json:"scanned_at"`
	Confidence Confidence     `json:"confidence"`
	Action     Action         `json:"action"`
	Matches    []PatternMatch `json:"matches,omitempty"`
}

// Blocked reports whether the content must not reach the model.
func (r ScanResult) Blocked() bool { return r.Action == ActionBlock }

// Warned reports whether the content carries a warning verdict.
func (r ScanResult) Warned() bool { return r.Action == ActionWarn }

type tierPattern struct {
	expr string
	name string
}

// Direct override attempts. A hit blocks the content.
var highConfidencePatterns = []tierPattern{
	{`ignore\s+(all\s+)?(previous|earlier|above)\s+(instructions|prompts|commands)`, "direct_override"},
	{`disregard\s+(all\s+)?(previous|your\s+)?(instructions|system|guidelines)`, "disregard_instructions"},
	{`forget\s+(everything|all|your)\s+(instructions|training|guidelines)`, "forget_instructions"},
	{`(you\s+are\s+now|act\s+as|pretend\s+to\s+be|you\s+must\s+act\s+as)`, "role_manipulation"},
	{`(new\s+system\s+instructions?|system\s*:\s*)`, "system_override"},
	{`override\s+(your\s+)?(instructions|safety|guidelines)`, "override_safety"},
	{`bypass\s+(your\s+)?(restrictions|guidelines|safety)`, "bypass_safety"},
}

// Response coercion and task reassignment. A hit warns.
var mediumConfidencePatterns = []tierPattern{
	{`instead\s+(of\s+)?respond\s+with`, "respond_instead"},
	{`always\s+(respond|start|begin)\s+your\s+response\s+with`, "response_manipulation"},
	{`(you\s+should|you\s+must|you\s+have\s+to|you\s+need\s+to).*(respond|answer|do\s+something)`, "obligation_action"},
	{`(respond|answer).*(with|using)\s+['"]([^'"]+)['"]`, "force_response"},
	{`your\s+(task|job)\s+is\s+to`, "task_reassignment"},
	{`(forget|ignore)\s+what\s+you\s+(were|are)\s+(told|asked|said)`, "memory_manipulation"},
}

// Subtle manipulation. A hit is recorded but allowed through.
var lowConfidencePatterns = []tierPattern{
	{`(as\s+an?|you\s+are\s+an?)\s+(AI|language\s+model|assistant|bot)`, "ai_identification"},
	{`this\s+is\s+(a|an)\s+(system|admin|developer)\s+(message|command|notice)`, "authority_claim"},
	{`(helpful|harmless).*assistant`, "jailbreak_legacy"},
	{`let's\s+play\s+(a\s+)?game`, "roleplay_initiation"},
	{`(in\s+the\s+following|from\s+now\s+on).*(respond|act|be)`, "behavior_modification"},
	{`remember\s+(that\s+)?(you|your)`, "memory_injection"},
}

type compiledPattern struct {
	re   *regexp.Regexp
	name string
}

func compileTier(tier []tierPattern) []compiledPattern {
	out := make([]compiledPattern, len(tier))
	for i, p := range tier {
		out[i] = compiledPattern{re: regexp.MustCompile(`(?i)` + p.expr), name: p.name}
	}
	return out
}

// Scanner holds the three pattern tiers, compiled once at construction.
type Scanner struct {
	high   []compiledPattern
	medium []compiledPattern
	low    []compiledPattern
}

func NewScanner() *Scanner {
	return &Scanner{
		high:   compileTier(highConfidencePatterns),
		medium: compileTier(mediumConfidencePatterns),
		low:    compileTier(lowConfidencePatterns),
	}
}

// Scan inspects content fetched from url and returns the verdict.
func (s *Scanner) Scan(url, text string) ScanResult {
	res := ScanResult{
		URL:        url,
		ScannedAt:  time.Now(),
		Confidence: ConfidenceLow,
		Action:     ActionAllow,
	}

	if hits := matchTier(s.high, text, ConfidenceHigh); len(hits) > 0 {
		res.Matches = append(res.Matches, hits...)
		res.Confidence = ConfidenceHigh
		res.Action = ActionBlock
	}
	if hits := matchTier(s.medium, text, ConfidenceMedium); len(hits) > 0 {
		res.Matches = append(res.Matches, hits...)
		if res.Action != ActionBlock {
			res.Confidence = ConfidenceMedium
			res.Action = ActionWarn
		}
	}
	res.Matches = append(res.Matches, matchTier(s.low, text, ConfidenceLow)...)
	return res
}

func matchTier(patterns []compiledPattern, text string, conf Confidence) []PatternMatch {
	var out []PatternMatch
	for _, p := range patterns {
		if loc := p.re.FindStringIndex(text); loc != nil {
			out = append(out, PatternMatch{
				Pattern:    p.name,
				Matched:    text[loc[0]:loc[1]],
				Confidence: conf,
				Position:   loc[0],
			})
		}
	}
	return out
}
