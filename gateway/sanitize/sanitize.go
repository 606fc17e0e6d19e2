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

// Package sanitize rewrites detected PII spans by per-kind strategy and emits
// an audit trail that reproduces the rewrite exactly.
package sanitize

import (
	"math"
	"sort"
	"time"

	"aegisflow/platform/shared/types"
)

// Rule configures how one PII kind is rewritten.
type Rule struct {
	Kind              types.PIIKind
	Strategy          types.SanitizeStrategy
	PreserveFormat    bool
	CustomReplacement string
}

// Sanitizer applies per-kind masking rules to detected entities. Kinds
// without an explicit rule fall back to the placeholder strategy so no
// detected value ever survives sanitization verbatim.
type Sanitizer struct {
	rules       map[types.PIIKind]Rule
	defaultRule Rule
}

// New builds a sanitizer with the default rule set.
func New() *Sanitizer {
	return &Sanitizer{
		rules:       defaultRules(),
		defaultRule: Rule{Strategy: types.StrategyPlaceholder},
	}
}

func defaultRules() map[types.PIIKind]Rule {
	rules := map[types.PIIKind]Rule{
		types.PIISSN:        {Kind: types.PIISSN, Strategy: types.StrategyFullMask, PreserveFormat: true},
		types.PIIFinancial:  {Kind: types.PIIFinancial, Strategy: types.StrategyFullMask, PreserveFormat: true},
		types.PIIIBAN:       {Kind: types.PIIIBAN, Strategy: types.StrategyFullMask, PreserveFormat: true},
		types.PIIEmail:      {Kind: types.PIIEmail, Strategy: types.StrategyPartialMask, PreserveFormat: true},
		types.PIIPhone:      {Kind: types.PIIPhone, Strategy: types.StrategyPartialMask, PreserveFormat: true},
		types.PIICreditCard: {Kind: types.PIICreditCard, Strategy: types.StrategyPartialMask, PreserveFormat: true},
	}
	for _, kind := range []types.PIIKind{
		types.PIIIPAddress, types.PIIAddress, types.PIIURL, types.PIIDate,
		types.PIIName, types.PIIPerson, types.PIILocation, types.PIIOrganization,
	} {
		rules[kind] = Rule{Kind: kind, Strategy: types.StrategyPlaceholder}
	}
	return rules
}

// SetRule overrides the rule for one kind.
func (s *Sanitizer) SetRule(rule Rule) {
	s.rules[rule.Kind] = rule
}

// RuleFor returns the effective rule for a kind.
func (s *Sanitizer) RuleFor(kind types.PIIKind) Rule {
	if rule, ok := s.rules[kind]; ok {
		return rule
	}
	rule := s.defaultRule
	rule.Kind = kind
	return rule
}

// Sanitize rewrites every entity at or above threshold. Entities are spliced
// in descending start order so offsets left of each splice stay valid; the
// audit trail lists entries in that same order.
func (s *Sanitizer) Sanitize(text string, entities []types.PIIEntity, threshold float64) types.SanitizationResult {
	result := types.SanitizationResult{
		OriginalText:  text,
		SanitizedText: text,
	}
	if len(entities) == 0 {
		return result
	}

	var toMask []types.PIIEntity
	for _, e := range entities {
		if e.Confidence >= threshold {
			toMask = append(toMask, e)
		}
	}
	sort.Slice(toMask, func(i, j int) bool { return toMask[i].Span.Start > toMask[j].Span.Start })

	runes := []rune(text)
	now := time.Now().UTC()
	for _, e := range toMask {
		if e.Span.Start < 0 || e.Span.End > len(runes) || e.Span.Start > e.Span.End {
			continue
		}
		rule := s.RuleFor(e.Kind)
		value := string(runes[e.Span.Start:e.Span.End])
		replacement := s.replacement(e.Kind, value, rule)

		spliced := make([]rune, 0, len(runes)+len(replacement))
		spliced = append(spliced, runes[:e.Span.Start]...)
		spliced = append(spliced, []rune(replacement)...)
		spliced = append(spliced, runes[e.Span.End:]...)
		runes = spliced

		result.MaskedEntities = append(result.MaskedEntities, e)
		result.AuditTrail = append(result.AuditTrail, types.AuditEntry{
			Timestamp:     now,
			EntityKind:    string(e.Kind),
			OriginalValue: value,
			Replacement:   replacement,
			Confidence:    e.Confidence,
			Span:          e.Span,
			Strategy:      rule.Strategy,
		})
	}
	result.SanitizedText = string(runes)

	var remaining []types.PIIEntity
	for _, e := range entities {
		if e.Confidence < threshold {
			remaining = append(remaining, e)
		}
	}
	result.RiskReduced = math.Max(0, piiRisk(entities)-piiRisk(remaining))

	return result
}

func (s *Sanitizer) replacement(kind types.PIIKind, value string, rule Rule) string {
	if rule.CustomReplacement != "" {
		return rule.CustomReplacement
	}
	switch rule.Strategy {
	case types.StrategyFullMask:
		return FullMask(value, rule.PreserveFormat)
	case types.StrategyPartialMask:
		return PartialMask(value, kind)
	case types.StrategyHash:
		return HashMask(kind, value)
	case types.StrategyRemove:
		return ""
	}
	return Placeholder(kind)
}

// piiRisk mirrors the scorer's PII component so RiskReduced reports the
// assessment-scale delta between pre- and post-sanitization entity sets.
func piiRisk(entities []types.PIIEntity) float64 {
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
	return math.Min(10, score)
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
