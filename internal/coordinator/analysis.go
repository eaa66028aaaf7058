package coordinator

import (
	"strings"

	"botfleet/internal/team"
)

// Complexity buckets for a user request.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Approach is the recommended handling strategy for a request.
type Approach string

const (
	ApproachClarify   Approach = "ask_for_clarification"
	ApproachRoute     Approach = "route_to_specialist"
	ApproachDecompose Approach = "decompose_and_delegate"
	ApproachParallel  Approach = "parallel_delegation"
)

// Analysis is the routing decision for one user request.
type Analysis struct {
	Content      string     `json:"content"`
	UserID       string     `json:"user_id"`
	Complexity   Complexity `json:"complexity"`
	Domains      []string   `json:"domains"`
	RequiresTeam bool       `json:"requires_team"`
	Approach     Approach   `json:"approach"`
}

// Keyword scoring is deliberately simple; the contract is the analysis
// output, not the scoring method.
var complexityKeywords = []struct {
	level    Complexity
	keywords []string
}{
	{ComplexityHigh, []string{"analyze", "design", "architect", "recommend", "comprehensive"}},
	{ComplexityMedium, []string{"implement", "review", "check", "update", "modify"}},
	{ComplexityLow, []string{"fetch", "list", "get", "find"}},
}

// domainKeywords preserves declared order: earlier entries win the
// ordering of Analysis.Domains.
var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{team.DomainResearch, []string{"research", "investigate", "analyze", "study", "explore"}},
	{team.DomainDevelopment, []string{"build", "implement", "code", "develop", "create"}},
	{team.DomainCommunity, []string{"community", "social", "engagement", "communication"}},
	{team.DomainDesign, []string{"design", "ui", "ux", "interface", "visual"}},
	{team.DomainQuality, []string{"test", "review", "audit", "check", "verify"}},
}

func estimateComplexity(content string) Complexity {
	lower := strings.ToLower(content)
	for _, level := range complexityKeywords {
		for _, kw := range level.keywords {
			if strings.Contains(lower, kw) {
				return level.level
			}
		}
	}
	switch {
	case len(content) > 200:
		return ComplexityHigh
	case len(content) > 100:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

func extractDomains(content string) []string {
	lower := strings.ToLower(content)
	var found []string
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				found = append(found, entry.domain)
				break
			}
		}
	}
	return found
}
