package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/registry"
)

func ruleService() *registry.ServiceDefinition {
	return &registry.ServiceDefinition{
		Name: "hub-ca-auth",
		InsightRules: []registry.InsightRule{
			{
				Patterns:       []string{"connection refused", "connection reset"},
				Recommendation: "Check upstream availability and restart the connector.",
				Severity:       "critical",
			},
			{
				Patterns:       []string{"token expired"},
				Recommendation: "Rotate the service credentials.",
				Severity:       "warning",
			},
		},
	}
}

func TestApplyAnyPatternFires(t *testing.T) {
	svc := ruleService()
	content := "2024-03-01 ERROR dial tcp: Connection REFUSED by peer\n"

	insights := Apply(svc, content)
	require.Len(t, insights, 1)
	assert.Equal(t, "critical", insights[0].Severity)
	assert.Equal(t,
		"[CRITICAL] Recommendation: Check upstream availability and restart the connector.",
		insights[0].String())
}

func TestApplyMultipleRules(t *testing.T) {
	svc := ruleService()
	content := "connection reset by peer\nauth: token expired for user 42\n"

	insights := Apply(svc, content)
	require.Len(t, insights, 2)
	assert.Equal(t, "critical", insights[0].Severity)
	assert.Equal(t, "warning", insights[1].Severity)
}

func TestApplyRuleFiresOncePerRule(t *testing.T) {
	svc := ruleService()
	content := "connection refused\nconnection refused\nconnection reset\n"

	insights := Apply(svc, content)
	assert.Len(t, insights, 1)
}

func TestApplyNoRules(t *testing.T) {
	svc := &registry.ServiceDefinition{Name: "bare"}
	assert.Empty(t, Apply(svc, "connection refused"))
	assert.Equal(t, NoRulesMessage, Render(svc, nil))
	assert.Equal(t, NoRulesMessage, Render(nil, nil))
}

func TestApplyNoMatches(t *testing.T) {
	svc := ruleService()
	insights := Apply(svc, "all systems nominal")
	assert.Empty(t, insights)
	assert.Equal(t, NoMatchesMessage, Render(svc, insights))
}

func TestRenderJoinsLines(t *testing.T) {
	svc := ruleService()
	insights := Apply(svc, "connection refused and token expired")
	got := Render(svc, insights)
	assert.Equal(t,
		"[CRITICAL] Recommendation: Check upstream availability and restart the connector.\n"+
			"[WARNING] Recommendation: Rotate the service credentials.",
		got)
}
