// Copyright 2025 AegisFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mitigate turns a risk assessment into enforcement: blocking,
// sanitizing, escalating, or quarantining content per policy rules.
package mitigate

import (
	"sync"
	"time"

	"aegisflow/platform/gateway/sanitize"
	"aegisflow/platform/shared/logger"
	"aegisflow/platform/shared/types"
)

// BlockedMarker replaces content the mitigator blocks.
const BlockedMarker = "[CONTENT_BLOCKED_DUE_TO_SECURITY_RISK]"

// Thresholds maps the overall score to threshold-driven actions.
type Thresholds struct {
	Block      float64
	Sanitize   float64
	Escalate   float64
	Quarantine float64
}

// DefaultThresholds returns the standard action thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: 8, Sanitize: 5, Escalate: 6, Quarantine: 9}
}

// Mitigator applies built-in rules plus score thresholds on top of an
// assessment. Safe for concurrent use.
type Mitigator struct {
	thresholds Thresholds
	sanitizer  *sanitize.Sanitizer
	log        *logger.Logger

	mu               sync.Mutex
	totalProcessed   int64
	totalBlocked     int64
	totalSanitized   int64
	totalEscalated   int64
	avgRiskReduction float64
}

// New builds a mitigator with default thresholds.
func New(log *logger.Logger) *Mitigator {
	if log == nil {
		log = logger.New("mitigator")
	}
	return &Mitigator{
		thresholds: DefaultThresholds(),
		sanitizer:  sanitize.New(),
		log:        log,
	}
}

// SetThresholds replaces the action threshold table.
func (m *Mitigator) SetThresholds(t Thresholds) {
	m.mu.Lock()
	m.thresholds = t
	m.mu.Unlock()
}

// Apply evaluates the rules and thresholds and enforces the chosen actions.
// The audit trail is the sanitizer's trail plus an escalation entry when
// escalation fires.
func (m *Mitigator) Apply(text string, assessment *types.RiskAssessment,
	pii []types.PIIEntity, bias []types.BiasDetection,
	adv []types.AdversarialDetection) types.MitigationResult {

	m.mu.Lock()
	thresholds := m.thresholds
	m.mu.Unlock()

	chosen := evaluateActions(thresholds, assessment, pii, bias, adv)

	result := types.MitigationResult{
		Actions:       chosen,
		MitigatedText: text,
	}
	has := func(a types.MitigationAction) bool {
		for _, c := range chosen {
			if c == a {
				return true
			}
		}
		return false
	}

	if has(types.ActionSanitize) && len(pii) > 0 {
		san := m.sanitizer.Sanitize(text, pii, 0)
		result.MitigatedText = san.SanitizedText
		result.AuditTrail = san.AuditTrail
		result.Sanitized = true
	}

	if has(types.ActionBlock) {
		result.MitigatedText = BlockedMarker
		result.Blocked = true
	}

	if has(types.ActionEscalate) {
		result.Escalated = true
		result.EscalationLevel = escalationLevel(assessment.OverallScore)
		result.AuditTrail = append(result.AuditTrail, types.AuditEntry{
			Timestamp:     time.Now().UTC(),
			EntityKind:    "escalation",
			OriginalValue: preview(text, 100),
			Replacement:   string(result.EscalationLevel),
		})
		m.log.Warn("", "", "risk escalation", map[string]interface{}{
			"level":      string(result.EscalationLevel),
			"risk_score": assessment.OverallScore,
		})
	}

	switch {
	case result.Blocked:
		result.RiskReduction = assessment.OverallScore
	case result.Sanitized:
		result.RiskReduction = 0.7 * assessment.OverallScore
	}

	m.updateStats(result)
	return result
}

// evaluateActions merges the built-in rules with the score thresholds. The
// rules run in priority order; log_only is always included.
func evaluateActions(t Thresholds, assessment *types.RiskAssessment,
	pii []types.PIIEntity, bias []types.BiasDetection,
	adv []types.AdversarialDetection) []types.MitigationAction {

	want := map[types.MitigationAction]bool{types.ActionLogOnly: true}

	// Rule 1: critical adversarial content at high confidence.
	for _, d := range adv {
		if d.Severity == types.SeverityCritical && d.Confidence > 0.8 {
			want[types.ActionBlock] = true
			want[types.ActionEscalate] = true
			break
		}
	}

	// Rule 2: heavy PII presence.
	if assessment.PIIScore >= 7 || len(pii) >= 3 {
		want[types.ActionSanitize] = true
	}

	// Rule 3: confident bias findings.
	for _, d := range bias {
		if d.Confidence > 0.7 {
			want[types.ActionEscalate] = true
			break
		}
	}

	score := assessment.OverallScore
	if score >= t.Block {
		want[types.ActionBlock] = true
	} else if score >= t.Sanitize {
		want[types.ActionSanitize] = true
	}
	if score >= t.Escalate {
		want[types.ActionEscalate] = true
	}
	if score >= t.Quarantine {
		want[types.ActionQuarantine] = true
	}

	// Emit in a fixed order so results are deterministic.
	ordered := []types.MitigationAction{
		types.ActionBlock, types.ActionQuarantine, types.ActionSanitize,
		types.ActionEscalate, types.ActionLogOnly,
	}
	var out []types.MitigationAction
	for _, a := range ordered {
		if want[a] {
			out = append(out, a)
		}
	}
	if len(out) == 1 {
		// Nothing beyond logging: the content passes through.
		out = append([]types.MitigationAction{types.ActionAllow}, out...)
	}
	return out
}

func escalationLevel(score float64) types.EscalationLevel {
	switch {
	case score >= 9:
		return types.EscalationEmergency
	case score >= 8:
		return types.EscalationCritical
	case score >= 6:
		return types.EscalationHigh
	case score >= 4:
		return types.EscalationMedium
	}
	return types.EscalationLow
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func (m *Mitigator) updateStats(result types.MitigationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalProcessed++
	if result.Blocked {
		m.totalBlocked++
	}
	if result.Sanitized {
		m.totalSanitized++
	}
	if result.Escalated {
		m.totalEscalated++
	}
	m.avgRiskReduction += (result.RiskReduction - m.avgRiskReduction) / float64(m.totalProcessed)
}

// GetStats returns the mitigator's counters for the stats endpoint.
func (m *Mitigator) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"total_processed":        m.totalProcessed,
		"total_blocked":          m.totalBlocked,
		"total_sanitized":        m.totalSanitized,
		"total_escalated":        m.totalEscalated,
		"average_risk_reduction": m.avgRiskReduction,
	}
}
