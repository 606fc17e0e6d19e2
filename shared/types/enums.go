// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import "fmt"

// RiskLevel classifies an aggregated risk assessment.
type RiskLevel string

const (
	RiskLevelSafe     RiskLevel = "safe"
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// IsValid returns true if the risk level is a known value.
func (l RiskLevel) IsValid() bool {
	switch l {
	case RiskLevelSafe, RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	}
	return false
}

func (l RiskLevel) String() string { return string(l) }

// Severity classifies a single detection.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid returns true if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) String() string { return string(s) }

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank(s) >= severityRank(other)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ProcessingMode selects detector thresholds, scorer weights, and the
// aggressiveness of the blocking decision table.
type ProcessingMode string

const (
	ModeStrict     ProcessingMode = "strict"
	ModeBalanced   ProcessingMode = "balanced"
	ModePermissive ProcessingMode = "permissive"
)

// DefaultMode is the processing mode used when the client does not pick one.
const DefaultMode = ModeBalanced

// IsValid returns true if the mode is a known value.
func (m ProcessingMode) IsValid() bool {
	switch m {
	case ModeStrict, ModeBalanced, ModePermissive:
		return true
	}
	return false
}

func (m ProcessingMode) String() string { return string(m) }

// ParseMode converts a string to a ProcessingMode, returning an error for
// unknown values.
func ParseMode(s string) (ProcessingMode, error) {
	m := ProcessingMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("invalid processing mode: %q (valid: strict, balanced, permissive)", s)
	}
	return m, nil
}

// ValidModes returns all supported processing modes.
func ValidModes() []ProcessingMode {
	return []ProcessingMode{ModeStrict, ModeBalanced, ModePermissive}
}

// PIIKind identifies the category of a detected PII entity. The set is closed;
// detectors must not invent new kinds at runtime.
type PIIKind string

const (
	PIIEmail        PIIKind = "email"
	PIIPhone        PIIKind = "phone"
	PIISSN          PIIKind = "ssn"
	PIICreditCard   PIIKind = "credit_card"
	PIIIBAN         PIIKind = "iban"
	PIIIPAddress    PIIKind = "ip"
	PIIDate         PIIKind = "date"
	PIILocation     PIIKind = "location"
	PIIPerson       PIIKind = "person"
	PIIOrganization PIIKind = "organization"
	PIIAddress      PIIKind = "address"
	PIIURL          PIIKind = "url"
	PIIFinancial    PIIKind = "financial"
	PIIName         PIIKind = "name"
	PIIAPIKey       PIIKind = "api_key"
	PIIDBConn       PIIKind = "db_conn"
	PIIJWT          PIIKind = "jwt"
	PIISSHKey       PIIKind = "ssh_key"
	PIIPassword     PIIKind = "password"
	PIISecretKey    PIIKind = "secret_key"
	PIIAccessToken  PIIKind = "access_token"
	PIIPrivateKey   PIIKind = "private_key"
	PIISessionID    PIIKind = "session_id"
	PIIUserID       PIIKind = "user_id"
)

func (k PIIKind) String() string { return string(k) }

// IsValid returns true if the kind is part of the closed PII set.
func (k PIIKind) IsValid() bool {
	switch k {
	case PIIEmail, PIIPhone, PIISSN, PIICreditCard, PIIIBAN, PIIIPAddress,
		PIIDate, PIILocation, PIIPerson, PIIOrganization, PIIAddress, PIIURL,
		PIIFinancial, PIIName, PIIAPIKey, PIIDBConn, PIIJWT, PIISSHKey,
		PIIPassword, PIISecretKey, PIIAccessToken, PIIPrivateKey, PIISessionID,
		PIIUserID:
		return true
	}
	return false
}

// IsFinancialClass reports whether the kind belongs to the financial trio used
// by the scorer multiplier and the high-risk PII rule.
func (k PIIKind) IsFinancialClass() bool {
	return k == PIISSN || k == PIICreditCard || k == PIIFinancial
}

// DetectorMethod identifies which detection layer produced an entity. Used to
// break confidence ties during span deduplication.
type DetectorMethod string

const (
	MethodRegex       DetectorMethod = "regex"
	MethodStatistical DetectorMethod = "statistical"
	MethodNER         DetectorMethod = "ner"
)

// Priority orders methods for dedup tie-breaking: regex wins over statistical,
// statistical wins over ner.
func (m DetectorMethod) Priority() int {
	switch m {
	case MethodRegex:
		return 3
	case MethodStatistical:
		return 2
	case MethodNER:
		return 1
	}
	return 0
}

func (m DetectorMethod) String() string { return string(m) }

// BiasKind identifies the category of a bias detection.
type BiasKind string

const (
	BiasGender         BiasKind = "gender"
	BiasRacial         BiasKind = "racial"
	BiasAge            BiasKind = "age"
	BiasReligious      BiasKind = "religious"
	BiasNationality    BiasKind = "nationality"
	BiasStereotyping   BiasKind = "stereotyping"
	BiasHateSpeech     BiasKind = "hate_speech"
	BiasDiscrimination BiasKind = "discrimination"
	BiasCultural       BiasKind = "cultural"
	BiasOccupational   BiasKind = "occupational"
)

func (k BiasKind) String() string { return string(k) }

// IsValid returns true if the kind is part of the closed bias set.
func (k BiasKind) IsValid() bool {
	switch k {
	case BiasGender, BiasRacial, BiasAge, BiasReligious, BiasNationality,
		BiasStereotyping, BiasHateSpeech, BiasDiscrimination, BiasCultural,
		BiasOccupational:
		return true
	}
	return false
}

// Severity returns the fixed severity assigned to this bias kind.
func (k BiasKind) Severity() Severity {
	switch k {
	case BiasHateSpeech, BiasDiscrimination:
		return SeverityCritical
	case BiasRacial, BiasGender:
		return SeverityHigh
	case BiasStereotyping, BiasCultural:
		return SeverityMedium
	}
	return SeverityLow
}

// AdvKind identifies the category of an adversarial detection.
type AdvKind string

const (
	AdvPromptInjection  AdvKind = "prompt_injection"
	AdvJailbreak        AdvKind = "jailbreak"
	AdvRolePlay         AdvKind = "role_play"
	AdvSystemPromptLeak AdvKind = "system_prompt_leak"
	AdvRateAbuse        AdvKind = "rate_abuse"
	AdvTokenOverflow    AdvKind = "token_overflow"
	AdvContextPoisoning AdvKind = "context_poisoning"
	AdvSocialEng        AdvKind = "social_engineering"
	AdvTextFooler       AdvKind = "text_fooler"
	AdvGradientAttack   AdvKind = "gradient_attack"
)

func (k AdvKind) String() string { return string(k) }

// IsValid returns true if the kind is part of the closed adversarial set.
func (k AdvKind) IsValid() bool {
	switch k {
	case AdvPromptInjection, AdvJailbreak, AdvRolePlay, AdvSystemPromptLeak,
		AdvRateAbuse, AdvTokenOverflow, AdvContextPoisoning, AdvSocialEng,
		AdvTextFooler, AdvGradientAttack:
		return true
	}
	return false
}

// Severity returns the fixed severity assigned to this adversarial kind.
func (k AdvKind) Severity() Severity {
	switch k {
	case AdvJailbreak, AdvSystemPromptLeak:
		return SeverityCritical
	case AdvPromptInjection, AdvRolePlay:
		return SeverityHigh
	case AdvTextFooler, AdvGradientAttack, AdvTokenOverflow, AdvContextPoisoning:
		return SeverityMedium
	}
	return SeverityLow
}

// MitigationAction is a policy action chosen by the mitigator.
type MitigationAction string

const (
	ActionAllow      MitigationAction = "allow"
	ActionSanitize   MitigationAction = "sanitize"
	ActionBlock      MitigationAction = "block"
	ActionEscalate   MitigationAction = "escalate"
	ActionQuarantine MitigationAction = "quarantine"
	ActionRedact     MitigationAction = "redact"
	ActionMask       MitigationAction = "mask"
	ActionLogOnly    MitigationAction = "log_only"
)

func (a MitigationAction) String() string { return string(a) }

// EscalationLevel grades a mitigation escalation.
type EscalationLevel string

const (
	EscalationLow       EscalationLevel = "low"
	EscalationMedium    EscalationLevel = "medium"
	EscalationHigh      EscalationLevel = "high"
	EscalationCritical  EscalationLevel = "critical"
	EscalationEmergency EscalationLevel = "emergency"
)

func (e EscalationLevel) String() string { return string(e) }

// TokenStatus is the lifecycle state of a vault token mapping.
type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenExpired  TokenStatus = "expired"
	TokenRevoked  TokenStatus = "revoked"
	TokenArchived TokenStatus = "archived"
)

func (s TokenStatus) String() string { return string(s) }

// VaultOp names a vault access-log operation.
type VaultOp string

const (
	VaultOpStore    VaultOp = "store"
	VaultOpRetrieve VaultOp = "retrieve"
	VaultOpValidate VaultOp = "validate"
	VaultOpRevoke   VaultOp = "revoke"
)

// AlertKind identifies an alert rule family.
type AlertKind string

const (
	AlertHighRisk   AlertKind = "high_risk"
	AlertBlocked    AlertKind = "blocked"
	AlertUsageLimit AlertKind = "usage_limit"
	AlertAnomaly    AlertKind = "anomaly"
)

func (k AlertKind) String() string { return string(k) }

// AlertChannel selects how an alert is dispatched.
type AlertChannel string

const (
	ChannelEmail   AlertChannel = "email"
	ChannelWebhook AlertChannel = "webhook"
	ChannelBoth    AlertChannel = "both"
)

func (c AlertChannel) String() string { return string(c) }
