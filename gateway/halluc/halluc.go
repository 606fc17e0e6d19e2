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

// Package halluc cross-references claims in generated text against the
// source row the response was built from.
package halluc

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"aegisflow/platform/shared/types"
)

// Detection kinds.
const (
	KindFactualMismatch    = "factual_mismatch"
	KindDateMismatch       = "date_mismatch"
	KindContradiction      = "contradiction"
	KindAbsoluteQuantifier = "absolute_quantifier"
)

// FlagThreshold is the assessment score at which the post-step tags or
// replaces the response.
const FlagThreshold = 5.0

var claimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:Your|The)\s+(?:order|package|item)\s+(?:[#\w-]+\s+)?(?:is|was|will be)\s+[^.!?]+`),
	regexp.MustCompile(`(?i)(?:Order|Package)\s+#?\d+\s+(?:is|was|will be)\s+[^.!?]+`),
	regexp.MustCompile(`(?i)(?:ETA|Estimated delivery|Expected arrival)\s+(?:is|was|will be)\s+[^.!?]+`),
	regexp.MustCompile(`(?i)(?:Status|Current status)\s+(?:is|was)\s+[^.!?]+`),
}

var (
	orderNumberRe = regexp.MustCompile(`\b\d{6,}\b`)
	orderIDRe     = regexp.MustCompile(`\b[A-Z]{2,}(?:-\w{2,})+\b`)
	statusTokenRe = regexp.MustCompile(`(?i)\b(in[ _]transit|delivered|pending|processing|shipped|cancelled|returned)\b`)
	dateRe        = regexp.MustCompile(`\b(?:(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
	quantifierRe  = regexp.MustCompile(`(?i)\b(always|never|everyone|nobody|definitely|certainly|absolutely)\b`)
)

// statusSynonyms maps a canonical status to phrasings that count as matches.
var statusSynonyms = map[string][]string{
	"in_transit": {"in transit", "in_transit", "shipping", "shipped", "on the way", "en route"},
	"delivered":  {"delivered", "completed", "arrived", "received"},
	"pending":    {"pending", "processing", "preparing", "waiting"},
}

// contradictoryStatuses lists status pairs that cannot both hold in one
// response.
var contradictoryStatuses = map[string][]string{
	"delivered":  {"in transit", "pending", "processing"},
	"in transit": {"delivered", "returned", "cancelled"},
	"pending":    {"delivered", "in transit", "cancelled"},
}

// Checker validates generated text against a source row.
type Checker struct{}

// NewChecker returns a checker. It is stateless and safe for concurrent use.
func NewChecker() *Checker { return &Checker{} }

// Detect extracts claims from the generated text and cross-references them
// against the source row. The source row may be nil; only text-internal
// checks run in that case.
func (c *Checker) Detect(llmText string, sourceRow map[string]interface{}, userQuestion string) types.HallucinationAssessment {
	var detections []types.HallucinationDetection

	claims := extractClaims(llmText)

	if sourceRow != nil {
		detections = append(detections, checkOrderNumbers(llmText, sourceRow)...)
		detections = append(detections, checkStatus(llmText, sourceRow)...)
		detections = append(detections, checkDate(llmText, sourceRow)...)
	}
	detections = append(detections, checkContradictions(llmText)...)
	detections = append(detections, checkQuantifiers(llmText)...)

	return types.HallucinationAssessment{
		Detections:      detections,
		Score:           score(detections),
		FactualAccuracy: accuracy(detections, len(claims)),
		ClaimsChecked:   len(claims),
	}
}

func extractClaims(text string) []string {
	var claims []string
	for _, re := range claimPatterns {
		for _, m := range re.FindAllString(text, -1) {
			m = strings.TrimSpace(m)
			if utf8.RuneCountInString(m) > 10 {
				claims = append(claims, m)
			}
		}
	}
	return claims
}

// checkOrderNumbers flags numeric tokens of six or more digits that do not
// appear in the source row's order id.
func checkOrderNumbers(text string, row map[string]interface{}) []types.HallucinationDetection {
	orderID, ok := row["order_id"]
	if !ok {
		return nil
	}
	actual := fmt.Sprint(orderID)

	var out []types.HallucinationDetection
	locs := orderIDRe.FindAllStringIndex(text, -1)
	locs = append(locs, orderNumberRe.FindAllStringIndex(text, -1)...)
	for _, loc := range locs {
		claimed := text[loc[0]:loc[1]]
		if strings.Contains(actual, claimed) {
			continue
		}
		out = append(out, types.HallucinationDetection{
			Kind:       KindFactualMismatch,
			Severity:   types.SeverityHigh,
			Claim:      claimed,
			Expected:   actual,
			Confidence: 0.9,
			Span:       runeSpan(text, loc[0], loc[1]),
		})
	}
	return out
}

// checkStatus flags status tokens that match neither the source status nor
// its synonym set.
func checkStatus(text string, row map[string]interface{}) []types.HallucinationDetection {
	status, ok := row["status"]
	if !ok {
		return nil
	}
	actual := normalizeStatus(fmt.Sprint(status))

	var out []types.HallucinationDetection
	for _, loc := range statusTokenRe.FindAllStringIndex(text, -1) {
		claimed := normalizeStatus(text[loc[0]:loc[1]])
		if statusMatches(claimed, actual) {
			continue
		}
		out = append(out, types.HallucinationDetection{
			Kind:       KindFactualMismatch,
			Severity:   types.SeverityHigh,
			Claim:      text[loc[0]:loc[1]],
			Expected:   fmt.Sprint(status),
			Confidence: 0.8,
			Span:       runeSpan(text, loc[0], loc[1]),
		})
	}
	return out
}

// checkDate flags the first recognizable date when it does not substring
// match the source row's estimated delivery.
func checkDate(text string, row map[string]interface{}) []types.HallucinationDetection {
	delivery, ok := row["estimated_delivery"]
	if !ok {
		return nil
	}
	actual := fmt.Sprint(delivery)
	if actual == "" {
		return nil
	}

	loc := dateRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	claimed := text[loc[0]:loc[1]]
	if datesOverlap(claimed, actual) {
		return nil
	}
	return []types.HallucinationDetection{{
		Kind:       KindDateMismatch,
		Severity:   types.SeverityMedium,
		Claim:      claimed,
		Expected:   actual,
		Confidence: 0.7,
		Span:       runeSpan(text, loc[0], loc[1]),
	}}
}

// checkContradictions finds status pairs that cannot both be true within the
// same response.
func checkContradictions(text string) []types.HallucinationDetection {
	lower := strings.ToLower(text)
	var out []types.HallucinationDetection
	for status, conflicts := range contradictoryStatuses {
		if !strings.Contains(lower, status) {
			continue
		}
		for _, conflict := range conflicts {
			if strings.Contains(lower, conflict) {
				out = append(out, types.HallucinationDetection{
					Kind:       KindContradiction,
					Severity:   types.SeverityHigh,
					Claim:      fmt.Sprintf("%s vs %s", status, conflict),
					Confidence: 0.9,
				})
			}
		}
	}
	return out
}

func checkQuantifiers(text string) []types.HallucinationDetection {
	var out []types.HallucinationDetection
	for _, loc := range quantifierRe.FindAllStringIndex(text, -1) {
		out = append(out, types.HallucinationDetection{
			Kind:       KindAbsoluteQuantifier,
			Severity:   types.SeverityLow,
			Claim:      text[loc[0]:loc[1]],
			Confidence: 0.6,
			Span:       runeSpan(text, loc[0], loc[1]),
		})
	}
	return out
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "_", " ")
}

func statusMatches(claimed, actual string) bool {
	if claimed == actual {
		return true
	}
	for _, synonyms := range statusSynonyms {
		actualIn, claimedIn := false, false
		for _, syn := range synonyms {
			syn = normalizeStatus(syn)
			if syn == actual {
				actualIn = true
			}
			if syn == claimed {
				claimedIn = true
			}
		}
		if actualIn && claimedIn {
			return true
		}
	}
	return false
}

func datesOverlap(claimed, actual string) bool {
	norm := func(s string) string {
		s = strings.ToLower(s)
		return strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' {
				return r
			}
			return ' '
		}, s)
	}
	a, b := strings.Join(strings.Fields(norm(claimed)), " "), strings.Join(strings.Fields(norm(actual)), " ")
	return strings.Contains(a, b) || strings.Contains(b, a)
}

var severityWeights = map[types.Severity]float64{
	types.SeverityLow:      1,
	types.SeverityMedium:   2,
	types.SeverityHigh:     3,
	types.SeverityCritical: 4,
}

// score normalizes weighted detections against the maximum possible weight.
func score(detections []types.HallucinationDetection) float64 {
	if len(detections) == 0 {
		return 0
	}
	var total float64
	for _, d := range detections {
		total += severityWeights[d.Severity] * d.Confidence
	}
	s := total / (float64(len(detections)) * 4) * 10
	if s > 10 {
		s = 10
	}
	return s
}

var accuracyDeductions = map[types.Severity]float64{
	types.SeverityLow:      0.05,
	types.SeverityMedium:   0.1,
	types.SeverityHigh:     0.2,
	types.SeverityCritical: 0.3,
}

func accuracy(detections []types.HallucinationDetection, claims int) float64 {
	if claims == 0 {
		return 1
	}
	acc := 1.0
	for _, d := range detections {
		acc -= accuracyDeductions[d.Severity]
	}
	if acc < 0 {
		acc = 0
	}
	return acc
}

func runeSpan(text string, byteStart, byteEnd int) types.TextSpan {
	return types.TextSpan{
		Start:        utf8.RuneCountInString(text[:byteStart]),
		End:          utf8.RuneCountInString(text[:byteEnd]),
		OriginalText: text[byteStart:byteEnd],
	}
}
