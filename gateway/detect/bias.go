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

	"aegisflow/platform/shared/types"
)

// BiasDetector locates biased or discriminatory statements through the
// pattern catalog plus two structural heuristics (universal quantifiers over
// groups, comparatives across groups).
type BiasDetector struct {
	patterns []*BiasPattern
}

// NewBiasDetector builds a detector over the default catalog.
func NewBiasDetector() *BiasDetector {
	return &BiasDetector{patterns: defaultBiasPatterns()}
}

// Detect returns the deduplicated, threshold-filtered bias detections.
func (d *BiasDetector) Detect(text string, cfg Config) []types.BiasDetection {
	var all []types.BiasDetection

	// Catalog patterns fire with base confidence 0.8.
	for _, p := range d.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			span := spanOf(text, loc[0], loc[1])
			det := types.BiasDetection{
				Span:       span,
				Kind:       p.Kind,
				Severity:   p.Kind.Severity(),
				Confidence: 0.8,
				Indicators: []string{p.Name},
			}
			det.Confidence = finalBiasConfidence(det, text)
			all = append(all, det)
		}
	}

	// Universal quantifier over a group adds a stereotyping detection.
	for _, loc := range universalQuantifier.FindAllStringIndex(text, -1) {
		span := spanOf(text, loc[0], loc[1])
		det := types.BiasDetection{
			Span:       span,
			Kind:       types.BiasStereotyping,
			Severity:   types.BiasStereotyping.Severity(),
			Confidence: 0.7,
			Indicators: []string{"universal_quantifier"},
		}
		det.Confidence = finalBiasConfidence(det, text)
		all = append(all, det)
	}

	// Comparative claims across groups.
	for _, loc := range comparativeGroups.FindAllStringIndex(text, -1) {
		span := spanOf(text, loc[0], loc[1])
		det := types.BiasDetection{
			Span:       span,
			Kind:       types.BiasStereotyping,
			Severity:   types.SeverityHigh,
			Confidence: 0.8,
			Indicators: []string{"comparative_groups"},
		}
		det.Confidence = finalBiasConfidence(det, text)
		all = append(all, det)
	}

	var filtered []types.BiasDetection
	for _, det := range all {
		if det.Confidence >= cfg.ConfidenceThreshold {
			filtered = append(filtered, det)
		}
	}

	return dedupeBias(filtered)
}

// finalBiasConfidence applies the confidence model:
// base x severity multiplier x context quality x indicator bonus, clamped.
func finalBiasConfidence(det types.BiasDetection, text string) float64 {
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

func dedupeBias(dets []types.BiasDetection) []types.BiasDetection {
	if len(dets) <= 1 {
		return dets
	}

	ordered := make([]types.BiasDetection, len(dets))
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

	var kept []types.BiasDetection
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
