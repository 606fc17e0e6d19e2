package mitigate

import (
	"strings"
	"testing"

	"aegisflow/platform/shared/types"
)

func hasAction(actions []types.MitigationAction, want types.MitigationAction) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func assessment(overall, piiScore float64) *types.RiskAssessment {
	return &types.RiskAssessment{OverallScore: overall, PIIScore: piiScore}
}

func TestApply_CriticalAdversarialBlocks(t *testing.T) {
	m := New(nil)
	adv := []types.AdversarialDetection{
		{Kind: types.AdvJailbreak, Severity: types.SeverityCritical, Confidence: 0.9},
	}

	result := m.Apply("how to hack the mainframe", assessment(3, 0), nil, nil, adv)

	if !result.Blocked || !result.Escalated {
		t.Errorf("blocked=%v escalated=%v, want both", result.Blocked, result.Escalated)
	}
	if result.MitigatedText != BlockedMarker {
		t.Errorf("mitigated = %q, want the blocked marker", result.MitigatedText)
	}
	if result.RiskReduction != 3 {
		t.Errorf("risk reduction = %v, want the full overall score", result.RiskReduction)
	}
}

func TestApply_CriticalAdversarialLowConfidenceDoesNotBlock(t *testing.T) {
	m := New(nil)
	adv := []types.AdversarialDetection{
		{Kind: types.AdvJailbreak, Severity: types.SeverityCritical, Confidence: 0.7},
	}

	result := m.Apply("borderline text", assessment(3, 0), nil, nil, adv)
	if result.Blocked {
		t.Error("confidence at or below 0.8 must not trigger the adversarial rule")
	}
}

func TestApply_HeavyPIISanitizes(t *testing.T) {
	m := New(nil)
	text := "mail john.doe@example.com or ssn 123-45-6789 or 10.0.0.1"
	pii := []types.PIIEntity{
		{Span: types.TextSpan{Start: 5, End: 25}, Kind: types.PIIEmail, Confidence: 0.9},
		{Span: types.TextSpan{Start: 33, End: 44}, Kind: types.PIISSN, Confidence: 0.9},
		{Span: types.TextSpan{Start: 48, End: 56}, Kind: types.PIIIPAddress, Confidence: 0.9},
	}

	result := m.Apply(text, assessment(4, 6), pii, nil, nil)

	if !result.Sanitized || result.Blocked {
		t.Errorf("sanitized=%v blocked=%v, want sanitize only", result.Sanitized, result.Blocked)
	}
	if strings.Contains(result.MitigatedText, "123-45-6789") {
		t.Errorf("raw SSN survived: %q", result.MitigatedText)
	}
	if len(result.AuditTrail) != 3 {
		t.Errorf("audit trail = %d entries, want 3", len(result.AuditTrail))
	}
	if result.RiskReduction != 0.7*4 {
		t.Errorf("risk reduction = %v, want 2.8", result.RiskReduction)
	}
}

func TestApply_ConfidentBiasEscalates(t *testing.T) {
	m := New(nil)
	bias := []types.BiasDetection{
		{Kind: types.BiasStereotyping, Severity: types.SeverityMedium, Confidence: 0.8},
	}

	result := m.Apply("those people are all the same", assessment(3, 0), nil, bias, nil)

	if !result.Escalated {
		t.Error("bias above 0.7 confidence must escalate")
	}
	if result.Blocked || result.Sanitized {
		t.Errorf("blocked=%v sanitized=%v, want neither", result.Blocked, result.Sanitized)
	}
	if result.EscalationLevel != types.EscalationLow {
		t.Errorf("escalation level = %v, want low for score 3", result.EscalationLevel)
	}

	// The escalation itself is audited.
	if len(result.AuditTrail) != 1 || result.AuditTrail[0].EntityKind != "escalation" {
		t.Errorf("audit trail = %+v, want one escalation entry", result.AuditTrail)
	}
}

func TestApply_ScoreThresholds(t *testing.T) {
	tests := []struct {
		name       string
		overall    float64
		block      bool
		sanitize   bool
		escalate   bool
		quarantine bool
	}{
		{"low", 3, false, false, false, false},
		{"sanitize band", 5.5, false, true, false, false},
		{"escalate band", 6.5, false, true, true, false},
		{"block band", 8.5, true, false, true, false},
		{"quarantine band", 9.5, true, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil)
			result := m.Apply("text under policy evaluation", assessment(tt.overall, 0), nil, nil, nil)

			if got := hasAction(result.Actions, types.ActionBlock); got != tt.block {
				t.Errorf("block = %v, want %v (actions %v)", got, tt.block, result.Actions)
			}
			if got := hasAction(result.Actions, types.ActionSanitize); got != tt.sanitize {
				t.Errorf("sanitize = %v, want %v (actions %v)", got, tt.sanitize, result.Actions)
			}
			if got := hasAction(result.Actions, types.ActionEscalate); got != tt.escalate {
				t.Errorf("escalate = %v, want %v (actions %v)", got, tt.escalate, result.Actions)
			}
			if got := hasAction(result.Actions, types.ActionQuarantine); got != tt.quarantine {
				t.Errorf("quarantine = %v, want %v (actions %v)", got, tt.quarantine, result.Actions)
			}
		})
	}
}

func TestApply_CleanContentAllows(t *testing.T) {
	m := New(nil)
	result := m.Apply("a perfectly ordinary request", assessment(1, 0), nil, nil, nil)

	if !hasAction(result.Actions, types.ActionAllow) {
		t.Errorf("actions = %v, want allow", result.Actions)
	}
	if result.MitigatedText != "a perfectly ordinary request" {
		t.Errorf("clean content must pass through unchanged: %q", result.MitigatedText)
	}
	if result.RiskReduction != 0 {
		t.Errorf("risk reduction = %v, want 0", result.RiskReduction)
	}
}

func TestEscalationLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  types.EscalationLevel
	}{
		{9.5, types.EscalationEmergency},
		{8.2, types.EscalationCritical},
		{6.8, types.EscalationHigh},
		{4.1, types.EscalationMedium},
		{2.0, types.EscalationLow},
	}
	for _, tt := range tests {
		if got := escalationLevel(tt.score); got != tt.want {
			t.Errorf("escalationLevel(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestGetStats_TracksAverages(t *testing.T) {
	m := New(nil)

	m.Apply("clean", assessment(1, 0), nil, nil, nil)
	m.Apply("risky", assessment(8.5, 0), nil, nil, nil) // blocked, reduction 8.5

	stats := m.GetStats()
	if stats["total_processed"].(int64) != 2 {
		t.Errorf("total_processed = %v, want 2", stats["total_processed"])
	}
	if stats["total_blocked"].(int64) != 1 {
		t.Errorf("total_blocked = %v, want 1", stats["total_blocked"])
	}
	avg := stats["average_risk_reduction"].(float64)
	if avg != 8.5/2 {
		t.Errorf("average_risk_reduction = %v, want 4.25", avg)
	}
}
