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

package detect

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"aegisflow/platform/shared/types"
)

// Token-overflow and context-poisoning structural limits.
const (
	overflowLengthLimit   = 10000
	wordRepeatLimit       = 4
	punctuationDensityMax = 0.10
)

// AdversarialDetector locates prompt-injection, jailbreak, and related
// attack patterns. It combines the regex catalog with structural heuristics
// (repeated words, oversized inputs, punctuation density).
type AdversarialDetector struct {
	patterns []*AdvPattern
}

// NewAdversarialDetector builds a detector over the default catalog.
func NewAdversarialDetector() *AdversarialDetector {
	return &AdversarialDetector{patterns: defaultAdvPatterns()}
}

// Detect returns the deduplicated, threshold-filtered adversarial detections.
// Thresholds are per-kind; strict mode lowers each by 0.2.
func (d *AdversarialDetector) Detect(text string, cfg Config) []types.AdversarialDetection {
	var all []types.AdversarialDetection

	for _, p := range d.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			span := spanOf(text, loc[0], loc[1])
			det := types.AdversarialDetection{
				Span:       span,
				Kind:       p.Kind,
				Severity:   p.Kind.Severity(),
				Confidence: 0.8,
				Indicators: []string{p.Name},
			}
			det.Confidence = finalAdvConfidence(det, text)
			all = append(all, det)
		}
	}

	all = append(all, d.detectHeuristics(text)...)

	var filtered []types.AdversarialDetection
	for _, det := range all {
		threshold := advThreshold(det.Kind)
		if cfg.StrictMode {
			threshold -= 0.2
		}
		if det.Confidence >= threshold && det.Confidence >= cfg.ConfidenceThreshold-0.2 {
			filtered = append(filtered, det)
		}
	}

	return dedupeAdv(filtered)
}

// detectHeuristics covers structural attacks the catalog cannot express.
func (d *AdversarialDetector) detectHeuristics(text string) []types.AdversarialDetection {
	var dets []types.AdversarialDetection

	// A word repeated 4+ times in a row is an overflow probe.
	if span, ok := findRepeatedWord(text, wordRepeatLimit); ok {
		dets = append(dets, types.AdversarialDetection{
			Span:       span,
			Kind:       types.AdvTokenOverflow,
			Severity:   types.AdvTokenOverflow.Severity(),
			Confidence: 0.6,
			Indicators: []string{"repeated_word"},
		})
	}

	// Oversized inputs are overflow attempts regardless of content.
	if n := utf8.RuneCountInString(text); n > overflowLengthLimit {
		dets = append(dets, types.AdversarialDetection{
			Span:       types.TextSpan{Start: 0, End: n, OriginalText: ""},
			Kind:       types.AdvTokenOverflow,
			Severity:   types.AdvTokenOverflow.Severity(),
			Confidence: 0.7,
			Indicators: []string{"input_length"},
		})
	}

	// Abnormal punctuation density suggests structure-breaking payloads.
	if density := punctuationDensity(text); density > punctuationDensityMax && utf8.RuneCountInString(text) >= 20 {
		dets = append(dets, types.AdversarialDetection{
			Span:       types.TextSpan{Start: 0, End: utf8.RuneCountInString(text), OriginalText: ""},
			Kind:       types.AdvContextPoisoning,
			Severity:   types.AdvContextPoisoning.Severity(),
			Confidence: 0.6,
			Indicators: []string{"punctuation_density"},
		})
	}

	return dets
}

// findRepeatedWord scans for the same word appearing minRepeats+ times in a
// row, case-insensitively. Returns the span covering the run.
func findRepeatedWord(text string, minRepeats int) (types.TextSpan, bool) {
	type token struct {
		word       string
		start, end int // byte offsets
	}

	var tokens []token
	inWord := false
	start := 0
	for i, r := range text {
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
		if isWord && !inWord {
			start = i
			inWord = true
		}
		if !isWord && inWord {
			tokens = append(tokens, token{strings.ToLower(text[start:i]), start, i})
			inWord = false
		}
	}
	if inWord {
		tokens = append(tokens, token{strings.ToLower(text[start:]), start, len(text)})
	}

	runStart := 0
	for i := 1; i <= len(tokens); i++ {
		if i < len(tokens) && tokens[i].word == tokens[runStart].word {
			continue
		}
		if i-runStart >= minRepeats {
			return spanOf(text, tokens[runStart].start, tokens[i-1].end), true
		}
		runStart = i
	}
	return types.TextSpan{}, false
}

func punctuationDensity(text string) float64 {
	total := 0
	punct := 0
	for _, r := range text {
		total++
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(punct) / float64(total)
}

// finalAdvConfidence applies the confidence model mirroring the bias
// detector: base x severity multiplier x context quality x indicator bonus.
func finalAdvConfidence(det types.AdversarialDetection, text string) float64 {
	mult := 1.0
	switch det.Severity {
	case types.SeverityCritical:
		mult = 1.2
	case types.SeverityHigh:
		mult = 1.1
	case types.SeverityLow:
		mult = 0.9
	}
	indicatorBonus := 1.0 + 0.1*float64(len(det.Indicators))
	return clamp01(det.Confidence * mult * contextQuality(text) * indicatorBonus)
}

func dedupeAdv(dets []types.AdversarialDetection) []types.AdversarialDetection {
	if len(dets) <= 1 {
		return dets
	}

	ordered := make([]types.AdversarialDetection, len(dets))
	copy(ordered, dets)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if la, lb := a.Span.End-a.Span.Start, b.Span.End-b.Span.Start; la != lb {
			return la > lb
		}
		return a.Span.Start < b.Span.Start
	})

	var kept []types.AdversarialDetection
	for _, cand := range ordered {
		overlaps := false
		for _, k := range kept {
			if cand.Span.Overlaps(k.Span) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Span.Start < kept[j].Span.Start })
	return kept
}

// HasCriticalShortCircuit reports whether detections warrant blocking before
// any further pipeline stage: any critical severity, or a high-severity
// detection of an instruction-subversion kind.
func HasCriticalShortCircuit(dets []types.AdversarialDetection) bool {
	for _, det := range dets {
		if det.Severity == types.SeverityCritical {
			return true
		}
		if det.Severity == types.SeverityHigh {
			switch det.Kind {
			case types.AdvPromptInjection, types.AdvJailbreak, types.AdvSystemPromptLeak:
				return true
			}
		}
	}
	return false
}
