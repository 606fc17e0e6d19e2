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
	"unicode/utf8"

	"aegisflow/platform/shared/types"
)

// Config tunes the detector set. It is an immutable value: callers pass a
// fresh copy per pipeline run so mode changes never bleed across requests.
type Config struct {
	// ConfidenceThreshold filters detections below this confidence.
	ConfidenceThreshold float64

	// StrictMode lowers adversarial per-kind thresholds by 0.2.
	StrictMode bool

	// EnableNER enables the named-entity layer (person, organization,
	// location, date).
	EnableNER bool

	// EnableStatistical enables the statistical analyzer layer
	// (iban, financial digit runs).
	EnableStatistical bool
}

// DefaultConfig returns the detector configuration used by the balanced mode.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		StrictMode:          false,
		EnableNER:           true,
		EnableStatistical:   true,
	}
}

// spanOf converts byte offsets from a regexp match into code-point offsets.
// All spans handed to the pipeline index the unicode code-point sequence.
func spanOf(text string, byteStart, byteEnd int) types.TextSpan {
	return types.TextSpan{
		Start:        utf8.RuneCountInString(text[:byteStart]),
		End:          utf8.RuneCountInString(text[:byteEnd]),
		OriginalText: text[byteStart:byteEnd],
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// contextQuality grades how much surrounding text supports a detection.
// Short snippets carry less signal.
func contextQuality(text string) float64 {
	switch n := utf8.RuneCountInString(text); {
	case n < 50:
		return 0.8
	case n < 100:
		return 0.9
	default:
		return 1.0
	}
}
