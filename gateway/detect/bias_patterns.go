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

// BiasPattern is one compiled rule in the bias catalog.
type BiasPattern struct {
	Name        string
	Kind        types.BiasKind
	Regex       *regexp.Regexp
	Description string
}

func defaultBiasPatterns() []*BiasPattern {
	return []*BiasPattern{
		{
			Name:        "gender_prescriptive",
			Kind:        types.BiasGender,
			Regex:       regexp.MustCompile(`(?i)\b(?:women|girls|females?)\s+(?:should|must|always|never)\s+(?:be|stay|remain|work)\b`),
			Description: "Prescriptive statement about a gender",
		},
		{
			Name:        "gender_superiority",
			Kind:        types.BiasGender,
			Regex:       regexp.MustCompile(`(?i)\b(?:men|boys|males?)\s+(?:are\s+)?(?:better|superior|stronger|smarter)\b`),
			Description: "Gender superiority claim",
		},
		{
			Name:        "gender_role",
			Kind:        types.BiasGender,
			Regex:       regexp.MustCompile(`(?i)\b(?:housewife|homemaker|nurse|secretary)\s+(?:is\s+)?(?:women's\s+)?(?:job|role|duty)\b`),
			Description: "Gendered role assignment",
		},
		{
			Name:        "racial_generalization",
			Kind:        types.BiasRacial,
			Regex:       regexp.MustCompile(`(?i)\b(?:black|white|asian|hispanic|latino)\s+(?:people|person|individuals?)\s+(?:are|tend\s+to|usually)\b`),
			Description: "Generalization over a racial group",
		},
		{
			Name:        "racial_determinism",
			Kind:        types.BiasRacial,
			Regex:       regexp.MustCompile(`(?i)\b(?:skin\s+color|race|ethnicity)\s+(?:determines|affects|influences)\b`),
			Description: "Race-deterministic claim",
		},
		{
			Name:        "age_incapability",
			Kind:        types.BiasAge,
			Regex:       regexp.MustCompile(`(?i)\b(?:old|elderly|senior)\s+(?:people|person|individuals?)\s+(?:can't|cannot|unable|incapable)\b`),
			Description: "Incapability claim about older people",
		},
		{
			Name:        "age_immaturity",
			Kind:        types.BiasAge,
			Regex:       regexp.MustCompile(`(?i)\b(?:young|teen|teenagers?)\s+(?:people|person|individuals?)?\s*(?:are\s+)?(?:immature|irresponsible)\b`),
			Description: "Immaturity claim about young people",
		},
		{
			Name:        "religious_disparagement",
			Kind:        types.BiasReligious,
			Regex:       regexp.MustCompile(`(?i)\b(?:religious|faith|belief|atheist|agnostic)\s+(?:people|person|individuals?)\s+(?:are\s+)?(?:backward|primitive|immoral|untrustworthy)\b`),
			Description: "Disparagement tied to belief",
		},
		{
			Name:        "nationality_generalization",
			Kind:        types.BiasNationality,
			Regex:       regexp.MustCompile(`(?i)\b(?:americans?|europeans?|chinese|indians?|russians?|mexicans?|foreigners?|immigrants?)\s+(?:are\s+all|are\s+always|always|never)\b`),
			Description: "Generalization over a nationality",
		},
		{
			Name:        "stereotyping_typical",
			Kind:        types.BiasStereotyping,
			Regex:       regexp.MustCompile(`(?i)\b(?:typical|stereotypical|common)\s+(?:behavior|characteristic|trait)\s+(?:of|for)\b`),
			Description: "Explicit stereotyping language",
		},
		{
			Name:        "stereotyping_othering",
			Kind:        types.BiasStereotyping,
			Regex:       regexp.MustCompile(`(?i)\b(?:people\s+like\s+you|your\s+kind|those\s+people)\b`),
			Description: "Othering phrase",
		},
		{
			Name:        "hate_expression",
			Kind:        types.BiasHateSpeech,
			Regex:       regexp.MustCompile(`(?i)\b(?:hate|despise|loathe)\s+(?:women|men|black|white|asian|hispanic|gay|lesbian|trans)\b`),
			Description: "Expressed hatred of a group",
		},
		{
			Name:        "hate_violence",
			Kind:        types.BiasHateSpeech,
			Regex:       regexp.MustCompile(`(?i)\b(?:kill|harm|hurt)\s+(?:all|every)\s+(?:women|men|black|white|asian|hispanic)\b`),
			Description: "Violent statement against a group",
		},
		{
			Name:        "hate_dehumanization",
			Kind:        types.BiasHateSpeech,
			Regex:       regexp.MustCompile(`(?i)\b(?:inferior|subhuman|worthless)\s+(?:race|people|group)\b`),
			Description: "Dehumanizing language",
		},
		{
			Name:        "discrimination_basis",
			Kind:        types.BiasDiscrimination,
			Regex:       regexp.MustCompile(`(?i)\b(?:discriminate|exclude|reject)\s+(?:based\s+on|due\s+to|because\s+of)\b`),
			Description: "Discriminatory action statement",
		},
		{
			Name:        "discrimination_exclusive",
			Kind:        types.BiasDiscrimination,
			Regex:       regexp.MustCompile(`(?i)\b(?:only|exclusively)\s+(?:for|available\s+to)\s+(?:men|women|white|black|young|old)\b`),
			Description: "Exclusive availability by group",
		},
		{
			Name:        "cultural_superiority",
			Kind:        types.BiasCultural,
			Regex:       regexp.MustCompile(`(?i)\b(?:western|eastern|american|european|asian)\s+(?:culture|values|standards)\s+(?:(?:are|is)\s+)?(?:superior|better)\b`),
			Description: "Cultural superiority claim",
		},
		{
			Name:        "cultural_disparagement",
			Kind:        types.BiasCultural,
			Regex:       regexp.MustCompile(`(?i)\b(?:primitive|backward|uncivilized)\s+(?:culture|society|people)\b`),
			Description: "Cultural disparagement",
		},
		{
			Name:        "occupational_gendering",
			Kind:        types.BiasOccupational,
			Regex:       regexp.MustCompile(`(?i)\b(?:nursing|teaching|caregiving|engineering|construction|military)\s+(?:is\s+)?(?:women's|men's)\s+(?:work|profession|career)\b`),
			Description: "Gendered occupation claim",
		},
	}
}

// Heuristic patterns applied on top of the catalog.
var (
	universalQuantifier = regexp.MustCompile(`(?i)\b(?:all|every|each|none|no)\s+(?:women|men|black|white|asian|hispanic|old|young|gay|lesbian)\b`)
	comparativeGroups   = regexp.MustCompile(`(?i)\b(?:women|men|black|white|asian|hispanic)\s+(?:are\s+)?(?:better|worse|superior|inferior)(?:\s+than)?\b`)
)
