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

	"aegisflow/platform/shared/types"
)

// AdvPattern is one compiled rule in the adversarial catalog.
type AdvPattern struct {
	Name        string
	Kind        types.AdvKind
	Regex       *regexp.Regexp
	Description string
}

func defaultAdvPatterns() []*AdvPattern {
	return []*AdvPattern{
		{
			Name:        "injection_ignore_instructions",
			Kind:        types.AdvPromptInjection,
			Regex:       regexp.MustCompile(`(?i)\b(?:ignore|forget|disregard|skip|bypass)\s+(?:previous|above|all|the)\s+(?:instructions?|rules?|guidelines?|prompts?)\b`),
			Description: "Attempt to discard prior instructions",
		},
		{
			Name:        "injection_override",
			Kind:        types.AdvPromptInjection,
			Regex:       regexp.MustCompile(`(?i)\b(?:new\s+instructions?|override|replace|substitute)\s+(?:instructions?|rules?|guidelines?)\b`),
			Description: "Attempt to substitute instructions",
		},
		{
			Name:        "injection_reset",
			Kind:        types.AdvPromptInjection,
			Regex:       regexp.MustCompile(`(?i)\b(?:ignore\s+everything|forget\s+everything|start\s+over|reset)\b`),
			Description: "Attempt to reset context",
		},
		{
			Name:        "injection_safety_bypass",
			Kind:        types.AdvPromptInjection,
			Regex:       regexp.MustCompile(`(?i)\b(?:ignore\s+safety|bypass\s+restrictions|ignore\s+ethical|ignore\s+guidelines)\b`),
			Description: "Attempt to bypass safety constraints",
		},
		{
			Name:        "jailbreak_harmful_howto",
			Kind:        types.AdvJailbreak,
			Regex:       regexp.MustCompile(`(?i)\b(?:how\s+to\s+hack|how\s+to\s+break\s+into|how\s+to\s+steal|how\s+to\s+harm|how\s+to\s+make\s+bombs?|how\s+to\s+make\s+drugs?|how\s+to\s+kill)\b`),
			Description: "Request for harmful instructions",
		},
		{
			Name:        "jailbreak_evasion",
			Kind:        types.AdvJailbreak,
			Regex:       regexp.MustCompile(`(?i)\b(?:bypass\s+security|circumvent\s+protection|evade\s+detection|exploit\s+vulnerabilit(?:y|ies)|find\s+loopholes?|work\s+around\s+restrictions?)\b`),
			Description: "Evasion or exploitation language",
		},
		{
			Name:        "role_play_persona",
			Kind:        types.AdvRolePlay,
			Regex:       regexp.MustCompile(`(?i)\b(?:you\s+are\s+now|act\s+as\s+if|pretend\s+to\s+be|roleplay\s+as)\b`),
			Description: "Persona coercion",
		},
		{
			Name:        "role_play_identity",
			Kind:        types.AdvRolePlay,
			Regex:       regexp.MustCompile(`(?i)\b(?:pretend\s+you\s+are|act\s+like\s+you\s+are|imagine\s+you\s+are|suppose\s+you\s+are|assume\s+you\s+are)\b`),
			Description: "Identity substitution",
		},
		{
			Name:        "prompt_leak_probe",
			Kind:        types.AdvSystemPromptLeak,
			Regex:       regexp.MustCompile(`(?i)\b(?:what\s+are\s+your\s+(?:instructions?|rules?)|show\s+me\s+your\s+prompt|repeat\s+your\s+instructions?|reveal\s+the\s+system\s+prompt|what\s+is\s+your\s+(?:system\s+message|initial\s+prompt))\b`),
			Description: "System prompt extraction probe",
		},
		{
			Name:        "prompt_leak_echo",
			Kind:        types.AdvSystemPromptLeak,
			Regex:       regexp.MustCompile(`(?i)\b(?:echo\s+back|repeat\s+back|mirror\s+back)\s+(?:what\s+I\s+said|my\s+message)\b`),
			Description: "Echo-based extraction",
		},
		{
			Name:        "rate_abuse_language",
			Kind:        types.AdvRateAbuse,
			Regex:       regexp.MustCompile(`(?i)\b(?:spam|flood|overwhelm|bombard|hammer)\b`),
			Description: "Flooding language",
		},
		{
			Name:        "rate_abuse_automation",
			Kind:        types.AdvRateAbuse,
			Regex:       regexp.MustCompile(`(?i)\b(?:automated\s+requests?|bot\s+behavior|script\s+generated|repeated\s+calls?|continuous\s+queries)\b`),
			Description: "Automation indicators",
		},
		{
			Name:        "overflow_request",
			Kind:        types.AdvTokenOverflow,
			Regex:       regexp.MustCompile(`(?i)\b(?:repeat\s+this\s+word\s+\d+\s+times|generate\s+\d{4,}\s+words|infinite\s+loop|endless\s+text|never\s+ending\s+content)\b`),
			Description: "Output amplification request",
		},
		{
			Name:        "context_poisoning_language",
			Kind:        types.AdvContextPoisoning,
			Regex:       regexp.MustCompile(`(?i)\b(?:misleading\s+context|false\s+information|fake\s+data|contradictory\s+statements?|conflicting\s+information|manipulate\s+context|alter\s+meaning)\b`),
			Description: "Context manipulation language",
		},
		{
			Name:        "social_engineering_pressure",
			Kind:        types.AdvSocialEng,
			Regex:       regexp.MustCompile(`(?i)\b(?:I'm\s+desperate|I'm\s+in\s+trouble|please\s+break\s+the\s+rules|it's\s+urgent\s+you\s+ignore)\b`),
			Description: "Emotional pressure to break policy",
		},
		{
			Name:        "text_fooler_language",
			Kind:        types.AdvTextFooler,
			Regex:       regexp.MustCompile(`(?i)\b(?:synonym|substitute|replace|change)\s+(?:word|term|phrase)\b|\b(?:fool|trick|deceive|mislead)\s+(?:model|system|ai)\b`),
			Description: "Word-substitution attack language",
		},
		{
			Name:        "gradient_attack_language",
			Kind:        types.AdvGradientAttack,
			Regex:       regexp.MustCompile(`(?i)\b(?:gradient|perturbation|epsilon|delta)\s+(?:attack|method|technique)\b|\b(?:fast\s+gradient|projected\s+gradient|iterative\s+attack|adversarial\s+example|perturbed\s+input)\b`),
			Description: "Gradient-based attack language",
		},
	}
}

// Per-kind confidence thresholds. Strict mode lowers each by 0.2.
func advThreshold(kind types.AdvKind) float64 {
	switch kind {
	case types.AdvJailbreak:
		return 0.5
	case types.AdvPromptInjection, types.AdvRolePlay, types.AdvSystemPromptLeak:
		return 0.6
	case types.AdvRateAbuse, types.AdvTokenOverflow:
		return 0.6
	case types.AdvContextPoisoning, types.AdvSocialEng:
		return 0.7
	}
	return 0.7
}
