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

package risk

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"aegisflow/platform/shared/types"
)

// Weights blends the five component scores into the overall score.
type Weights struct {
	PII     float64
	Bias    float64
	Adv     float64
	Content float64
	Context float64
}

// WeightsForMode returns the blend for a processing mode. Strict mode weighs
// adversarial signals heavier, permissive mode lighter.
func WeightsForMode(mode types.ProcessingMode) Weights {
	w := Weights{PII: 0.25, Bias: 0.25, Adv: 0.25, Content: 0.15, Context: 0.10}
	switch mode {
	case types.ModeStrict:
		w.Adv = 0.30
	case types.ModePermissive:
		w.Adv = 0.20
	}
	return w
}

// LevelThresholds maps an overall score to a risk level. Each field is the
// exclusive upper bound of its level; scores at or above High are critical.
type LevelThresholds struct {
	Safe   float64
	Low    float64
	Medium float64
	High   float64
}

// DefaultThresholds returns the standard level boundaries.
func DefaultThresholds() LevelThresholds {
	return LevelThresholds{Safe: 2, Low: 4, Medium: 6, High: 8}
}

// Validate rejects boundaries that are not strictly ascending.
func (t LevelThresholds) Validate() error {
	if !(t.Safe < t.Low && t.Low < t.Medium && t.Medium < t.High) {
		return fmt.Errorf("level thresholds must be strictly ascending: %.1f < %.1f < %.1f < %.1f",
			t.Safe, t.Low, t.Medium, t.High)
	}
	if t.Safe < 0 {
		return fmt.Errorf("level thresholds must be non-negative, got safe=%.1f", t.Safe)
	}
	return nil
}

// LevelFor maps an overall score to its risk level.
func (t LevelThresholds) LevelFor(score float64) types.RiskLevel {
	switch {
	case score < t.Safe:
		return types.RiskLevelSafe
	case score < t.Low:
		return types.RiskLevelLow
	case score < t.Medium:
		return types.RiskLevelMedium
	case score < t.High:
		return types.RiskLevelHigh
	}
	return types.RiskLevelCritical
}

// Content and context lexicons.
var (
	suspiciousCredentials = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]`),
		regexp.MustCompile(`(?i)\b(?:api[_\s]?key|secret[_\s]?key|access[_\s]?token)\b`),
		regexp.MustCompile(`(?i)\b(?:login|signin)\s+credentials?\b`),
		regexp.MustCompile(`(?i)\bprivate\s+key\b`),
	}
	urgencyLexicon   = regexp.MustCompile(`(?i)\b(?:urgent|immediately|asap|right\s+now|emergency|critical|hurry)\b`)
	sensitiveContext = regexp.MustCompile(`(?i)\b(?:login|payment|medical|legal)\b`)
)

// Scorer aggregates detector output into a RiskAssessment. Thresholds are
// validated once at construction.
type Scorer struct {
	thresholds LevelThresholds
}

// NewScorer builds a scorer over the default level boundaries.
func NewScorer() *Scorer {
	s, err := NewScorerWithThresholds(DefaultThresholds())
	if err != nil {
		panic(err) // defaults are ascending by construction
	}
	return s
}

// NewScorerWithThresholds builds a scorer with custom boundaries, rejecting
// non-monotonic tables.
func NewScorerWithThresholds(t LevelThresholds) (*Scorer, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{thresholds: t}, nil
}

// Thresholds returns the active level boundaries.
func (s *Scorer) Thresholds() LevelThresholds { return s.thresholds }

// Score blends the per-component risks into one assessment.
func (s *Scorer) Score(text string, pii []types.PIIEntity, bias []types.BiasDetection,
	adv []types.AdversarialDetection, mode types.ProcessingMode, processingMs float64) *types.RiskAssessment {

	a := &types.RiskAssessment{
		PIIEntities:    pii,
		BiasDetections: bias,
		AdvDetections:  adv,
		TextLength:     utf8.RuneCountInString(text),
		ProcessingMs:   processingMs,
	}

	a.PIIScore = PIIScore(pii)
	a.BiasScore = biasScore(bias)
	if len(adv) > 0 {
		a.AdvScore = 10
	}
	a.ContentScore = contentScore(text)
	a.ContextScore = contextScore(text, pii, bias)

	w := WeightsForMode(mode)
	a.OverallScore = clamp10(a.PIIScore*w.PII + a.BiasScore*w.Bias + a.AdvScore*w.Adv +
		a.ContentScore*w.Content + a.ContextScore*w.Context)
	a.Level = s.thresholds.LevelFor(a.OverallScore)
	a.Confidence = assessmentConfidence(a)
	a.RiskFactors = riskFactors(a)
	a.Suggestions = suggestions(a)

	return a
}

// PIIScore is the PII risk component: confidence-weighted mean of per-kind
// weights, boosted 1.2x when two or more financial-class kinds co-occur.
func PIIScore(entities []types.PIIEntity) float64 {
	if len(entities) == 0 {
		return 0
	}
	sum := 0.0
	financialKinds := map[types.PIIKind]bool{}
	for _, e := range entities {
		sum += piiWeight(e.Kind) * e.Confidence
		if e.Kind.IsFinancialClass() {
			financialKinds[e.Kind] = true
		}
	}
	score := sum / float64(len(entities))
	if len(financialKinds) >= 2 {
		score *= 1.2
	}
	return clamp10(score)
}

func piiWeight(kind types.PIIKind) float64 {
	switch kind {
	case types.PIISSN:
		return 10
	case types.PIICreditCard:
		return 9
	case types.PIIFinancial:
		return 8
	case types.PIIEmail:
		return 6
	case types.PIIPhone:
		return 5
	case types.PIIAddress:
		return 4
	case types.PIIIPAddress:
		return 3
	case types.PIIDate, types.PIIURL:
		return 2
	case types.PIIName, types.PIIPerson:
		return 1
	}
	return 1
}

func biasScore(dets []types.BiasDetection) float64 {
	if len(dets) == 0 {
		return 0
	}
	sum := 0.0
	highCount := 0
	for _, d := range dets {
		sum += severityWeight(d.Severity) * d.Confidence
		if d.Severity.AtLeast(types.SeverityHigh) {
			highCount++
		}
	}
	score := sum / float64(len(dets))
	if highCount >= 2 {
		score *= 1.5
	}
	return clamp10(score)
}

func severityWeight(sev types.Severity) float64 {
	switch sev {
	case types.SeverityCritical:
		return 10
	case types.SeverityHigh:
		return 7.5
	case types.SeverityMedium:
		return 5
	}
	return 2.5
}

func contentScore(text string) float64 {
	score := 0.0
	for _, p := range suspiciousCredentials {
		if p.MatchString(text) {
			score++
		}
	}

	urgency := float64(len(urgencyLexicon.FindAllStringIndex(text, -1))) * 0.5
	score += math.Min(2, urgency)

	n := utf8.RuneCountInString(text)
	if n < 10 {
		score++
	} else if n > 10000 {
		score += 0.5
	}
	return clamp10(score)
}

func contextScore(text string, pii []types.PIIEntity, bias []types.BiasDetection) float64 {
	score := 0.0

	for i := range pii {
		for j := i + 1; j < len(pii); j++ {
			if absInt(pii[i].Span.Start-pii[j].Span.Start) < 100 {
				score += 0.5
			}
		}
	}

	if len(pii) > 0 && len(bias) > 0 {
		score++
	}

	highPII := 0
	for _, e := range pii {
		if e.Confidence > 0.8 {
			highPII++
		}
	}
	highBias := 0
	for _, d := range bias {
		if d.Confidence > 0.8 {
			highBias++
		}
	}
	if highPII >= 2 || highBias >= 1 {
		score++
	}

	score += float64(len(sensitiveContext.FindAllStringIndex(text, -1))) * 0.5

	return clamp10(score)
}

// assessmentConfidence is the mean detection confidence with small length
// adjustments; 0.95 means a confident "safe" on empty findings.
func assessmentConfidence(a *types.RiskAssessment) float64 {
	n := len(a.PIIEntities) + len(a.BiasDetections) + len(a.AdvDetections)
	if n == 0 {
		return 0.95
	}
	sum := 0.0
	for _, e := range a.PIIEntities {
		sum += e.Confidence
	}
	for _, d := range a.BiasDetections {
		sum += d.Confidence
	}
	for _, d := range a.AdvDetections {
		sum += d.Confidence
	}
	conf := sum / float64(n)
	if a.TextLength > 100 && n >= 3 {
		conf += 0.1
	}
	if a.TextLength < 50 && n >= 1 {
		conf -= 0.1
	}
	return math.Max(0, math.Min(1, conf))
}

func riskFactors(a *types.RiskAssessment) []string {
	var factors []string
	if len(a.PIIEntities) > 0 {
		factors = append(factors, fmt.Sprintf("pii_detected (%d entities)", len(a.PIIEntities)))
	}
	if len(a.BiasDetections) > 0 {
		factors = append(factors, fmt.Sprintf("bias_detected (%d statements)", len(a.BiasDetections)))
	}
	if len(a.AdvDetections) > 0 {
		factors = append(factors, fmt.Sprintf("adversarial_detected (%d patterns)", len(a.AdvDetections)))
	}
	if a.ContentScore >= 1 {
		factors = append(factors, "suspicious_content")
	}
	if a.ContextScore >= 1 {
		factors = append(factors, "sensitive_context")
	}
	return factors
}

func suggestions(a *types.RiskAssessment) []string {
	var out []string
	if a.PIIScore >= 5 {
		out = append(out, "Remove or mask personal identifiers before sending")
	}
	if a.BiasScore >= 5 {
		out = append(out, "Rephrase statements that generalize over groups")
	}
	if a.AdvScore > 0 {
		out = append(out, "Remove instruction-override or jailbreak phrasing")
	}
	if len(out) == 0 && a.Level != types.RiskLevelSafe {
		out = append(out, "Review flagged spans before sending")
	}
	return out
}

func clamp10(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
