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
	"regexp"
	"sort"
	"strings"

	"aegisflow/platform/shared/types"
)

// PIIDetector locates personally identifiable information. Three layers run
// in order: regex catalog, named-entity heuristics, statistical analyzer.
// Output is deduplicated so spans never overlap; detection is deterministic
// on identical (text, config).
type PIIDetector struct {
	patterns []*PIIPattern
}

// NewPIIDetector builds a detector over the default pattern catalog.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{patterns: defaultPIIPatterns()}
}

// Detect returns the deduplicated, threshold-filtered PII entities in text.
func (d *PIIDetector) Detect(text string, cfg Config) []types.PIIEntity {
	var all []types.PIIEntity

	all = append(all, d.detectRegex(text)...)
	if cfg.EnableNER {
		all = append(all, d.detectNER(text)...)
	}
	if cfg.EnableStatistical {
		all = append(all, d.detectStatistical(text)...)
	}

	var filtered []types.PIIEntity
	for _, e := range all {
		if e.Confidence >= cfg.ConfidenceThreshold {
			filtered = append(filtered, e)
		}
	}

	return dedupePII(filtered)
}

// ====== Regex layer ======

func (d *PIIDetector) detectRegex(text string) []types.PIIEntity {
	var entities []types.PIIEntity
	for _, p := range d.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			span := spanOf(text, loc[0], loc[1])
			entities = append(entities, types.PIIEntity{
				Span:       span,
				Kind:       p.Kind,
				Confidence: p.Confidence,
				Method:     types.MethodRegex,
				RiskClass:  piiRiskClass(p.Kind, p.Confidence),
			})
		}
	}
	return entities
}

// ====== Named-entity layer ======

var (
	capitalizedRun = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	orgSuffix      = regexp.MustCompile(`\b(?:Inc|Corp|Corporation|LLC|Ltd|GmbH|Company)\b\.?`)
	monthName      = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`)
	locationCue    = regexp.MustCompile(`(?i)\b(?:in|at|from|near|to)\s+$`)
	personCue      = regexp.MustCompile(`(?i)\b(?:mr|mrs|ms|dr|prof|name\s+is|i\s+am|i'm|contact|regards|sincerely)\W*$`)
)

// detectNER is the lightweight named-entity layer. It classifies capitalized
// token runs by local cues; every hit carries confidence 0.8.
func (d *PIIDetector) detectNER(text string) []types.PIIEntity {
	var entities []types.PIIEntity

	for _, loc := range monthName.FindAllStringIndex(text, -1) {
		span := spanOf(text, loc[0], loc[1])
		entities = append(entities, types.PIIEntity{
			Span:       span,
			Kind:       types.PIIDate,
			Confidence: 0.8,
			Method:     types.MethodNER,
			RiskClass:  piiRiskClass(types.PIIDate, 0.8),
		})
	}

	for _, loc := range capitalizedRun.FindAllStringIndex(text, -1) {
		matched := text[loc[0]:loc[1]]
		before := text[:loc[0]]

		kind := types.PIIPerson
		switch {
		case orgSuffix.MatchString(matched) || orgSuffix.MatchString(firstWordAfter(text, loc[1])):
			kind = types.PIIOrganization
		case locationCue.MatchString(before):
			kind = types.PIILocation
		case personCue.MatchString(before):
			kind = types.PIIPerson
		case strings.Count(matched, " ") > 3:
			// Long capitalized runs are usually headings, not names
			continue
		}

		span := spanOf(text, loc[0], loc[1])
		entities = append(entities, types.PIIEntity{
			Span:       span,
			Kind:       kind,
			Confidence: 0.8,
			Method:     types.MethodNER,
			RiskClass:  piiRiskClass(kind, 0.8),
		})
	}

	return entities
}

func firstWordAfter(text string, byteOff int) string {
	rest := strings.TrimLeft(text[byteOff:], " \t")
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		return rest[:i]
	}
	return rest
}

// ====== Statistical layer ======

// detectStatistical covers shapes the regex catalog cannot pin down exactly:
// IBAN checksums and context-supported account-number digit runs.
func (d *PIIDetector) detectStatistical(text string) []types.PIIEntity {
	var entities []types.PIIEntity

	for _, loc := range ibanShape.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		conf := 0.7
		if ibanChecksumValid(candidate) {
			conf = 0.95
		}
		span := spanOf(text, loc[0], loc[1])
		entities = append(entities, types.PIIEntity{
			Span:       span,
			Kind:       types.PIIIBAN,
			Confidence: conf,
			Method:     types.MethodStatistical,
			RiskClass:  piiRiskClass(types.PIIIBAN, conf),
		})
	}

	hasFinancialContext := financialContext.MatchString(text)
	if hasFinancialContext {
		for _, loc := range digitRun.FindAllStringIndex(text, -1) {
			candidate := text[loc[0]:loc[1]]
			digits := countDigits(candidate)
			if digits < 6 || digits > 17 {
				continue
			}
			span := spanOf(text, loc[0], loc[1])
			entities = append(entities, types.PIIEntity{
				Span:       span,
				Kind:       types.PIIFinancial,
				Confidence: 0.75,
				Method:     types.MethodStatistical,
				RiskClass:  piiRiskClass(types.PIIFinancial, 0.75),
			})
		}
	}

	return entities
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// ibanChecksumValid runs the ISO 13616 mod-97 check.
func ibanChecksumValid(iban string) bool {
	if len(iban) < 15 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
		var v int
		switch {
		case r >= '0' && r <= '9':
			v = int(r - '0')
		case r >= 'A' && r <= 'Z':
			v = int(r-'A') + 10
		default:
			return false
		}
		if v >= 10 {
			rem = (rem*100 + v) % 97
		} else {
			rem = (rem*10 + v) % 97
		}
	}
	return rem == 1
}

// ====== Risk classification and dedup ======

// piiRiskClass assigns the fixed risk-class table: credentials and financial
// identifiers are critical or high regardless of confidence, the rest scale
// with confidence.
func piiRiskClass(kind types.PIIKind, confidence float64) types.Severity {
	switch kind {
	case types.PIISSN, types.PIICreditCard, types.PIIAPIKey, types.PIISSHKey:
		return types.SeverityCritical
	case types.PIIPassword, types.PIISecretKey, types.PIIPrivateKey, types.PIIJWT:
		return types.SeverityHigh
	}
	if confidence >= 0.9 {
		return types.SeverityMedium
	}
	return types.SeverityLow
}

// dedupePII drops the lower-confidence entity for every overlapping pair.
// Ties break by method priority (regex > statistical > ner), then by longer
// span, then by earlier start, keeping the result deterministic.
func dedupePII(entities []types.PIIEntity) []types.PIIEntity {
	if len(entities) <= 1 {
		return entities
	}

	ordered := make([]types.PIIEntity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if pa, pb := a.Method.Priority(), b.Method.Priority(); pa != pb {
			return pa > pb
		}
		if la, lb := a.Span.End-a.Span.Start, b.Span.End-b.Span.Start; la != lb {
			return la > lb
		}
		return a.Span.Start < b.Span.Start
	})

	var kept []types.PIIEntity
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
