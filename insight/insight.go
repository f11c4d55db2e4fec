// Package insight turns a service's configured pattern rules into
// operator recommendations. A rule fires when any of its patterns
// appears in the supplied log content, compared case-insensitively as
// plain substrings.
package insight

import (
	"strings"

	"github.com/elis-salobehaj/log-ai/registry"
)

// Messages returned when no rule produced a recommendation.
const (
	NoRulesMessage   = "No specific insight rules configured for this service."
	NoMatchesMessage = "No issues matched known patterns."
)

// Insight is one fired recommendation.
type Insight struct {
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// String renders the operator-facing line.
func (i Insight) String() string {
	return "[" + strings.ToUpper(i.Severity) + "] Recommendation: " + i.Recommendation
}

// Apply evaluates every rule of svc against content, in rule order.
func Apply(svc *registry.ServiceDefinition, content string) []Insight {
	if svc == nil || len(svc.InsightRules) == 0 {
		return nil
	}

	lower := strings.ToLower(content)
	var fired []Insight
	for _, rule := range svc.InsightRules {
		for _, pattern := range rule.Patterns {
			if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
				fired = append(fired, Insight{
					Severity:       rule.Severity,
					Recommendation: rule.Recommendation,
				})
				break
			}
		}
	}
	return fired
}

// Render formats the fired insights as the operator-facing report,
// falling back to the standard no-rules / no-matches lines.
func Render(svc *registry.ServiceDefinition, insights []Insight) string {
	if svc == nil || len(svc.InsightRules) == 0 {
		return NoRulesMessage
	}
	if len(insights) == 0 {
		return NoMatchesMessage
	}
	lines := make([]string, len(insights))
	for i, ins := range insights {
		lines[i] = ins.String()
	}
	return strings.Join(lines, "\n")
}
