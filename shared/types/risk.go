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

import "time"

// TextSpan is a half-open [Start, End) range of code-point offsets into the
// exact string handed to the pipeline. OriginalText is the covered substring.
type TextSpan struct {
	Start        int    `json:"start"`
	End          int    `json:"end"`
	OriginalText string `json:"original_text"`
}

// Overlaps reports whether two half-open spans intersect.
func (s TextSpan) Overlaps(other TextSpan) bool {
	return s.Start < other.End && other.Start < s.End
}

// PIIEntity is one detected piece of personally identifiable information.
type PIIEntity struct {
	Span       TextSpan       `json:"span"`
	Kind       PIIKind        `json:"kind"`
	Confidence float64        `json:"confidence"`
	Method     DetectorMethod `json:"detector"`
	RiskClass  Severity       `json:"risk_class"`
}

// BiasDetection is one detected biased statement.
type BiasDetection struct {
	Span       TextSpan `json:"span"`
	Kind       BiasKind `json:"kind"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators,omitempty"`
}

// AdversarialDetection is one detected adversarial pattern.
type AdversarialDetection struct {
	Span       TextSpan `json:"span"`
	Kind       AdvKind  `json:"kind"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators,omitempty"`
}

// RiskAssessment is the scorer's aggregated report for one piece of text.
type RiskAssessment struct {
	OverallScore float64   `json:"overall_score"`
	Level        RiskLevel `json:"level"`

	PIIScore     float64 `json:"pii_score"`
	BiasScore    float64 `json:"bias_score"`
	AdvScore     float64 `json:"adversarial_score"`
	ContentScore float64 `json:"content_score"`
	ContextScore float64 `json:"context_score"`

	PIIEntities    []PIIEntity            `json:"pii_entities,omitempty"`
	BiasDetections []BiasDetection        `json:"bias_detections,omitempty"`
	AdvDetections  []AdversarialDetection `json:"adversarial_detections,omitempty"`

	RiskFactors []string `json:"risk_factors,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	TextLength   int     `json:"text_length"`
	ProcessingMs float64 `json:"processing_ms"`
	Confidence   float64 `json:"confidence"`
}

// SanitizeStrategy selects how a span is rewritten.
type SanitizeStrategy string

const (
	StrategyPlaceholder SanitizeStrategy = "placeholder"
	StrategyFullMask    SanitizeStrategy = "full_mask"
	StrategyPartialMask SanitizeStrategy = "partial_mask"
	StrategyHash        SanitizeStrategy = "hash"
	StrategyRemove      SanitizeStrategy = "remove"
)

func (s SanitizeStrategy) String() string { return string(s) }

// AuditEntry records one sanitizer replacement. Every masked entity has
// exactly one audit entry carrying the identical span.
type AuditEntry struct {
	Timestamp     time.Time        `json:"timestamp"`
	EntityKind    string           `json:"entity_kind"`
	OriginalValue string           `json:"original_value"`
	Replacement   string           `json:"replacement"`
	Confidence    float64          `json:"confidence"`
	Span          TextSpan         `json:"span"`
	Strategy      SanitizeStrategy `json:"strategy"`
}

// SanitizationResult holds a rewritten text plus the trail that produced it.
// Applying AuditTrail replacements to OriginalText in reverse span order
// reproduces SanitizedText exactly.
type SanitizationResult struct {
	OriginalText   string       `json:"original_text"`
	SanitizedText  string       `json:"sanitized_text"`
	MaskedEntities []PIIEntity  `json:"masked_entities,omitempty"`
	AuditTrail     []AuditEntry `json:"audit_trail,omitempty"`
	RiskReduced    float64      `json:"risk_reduced"`
}

// ProcessingResult is the orchestrator's answer for one request. It exists
// only for the duration of that request.
type ProcessingResult struct {
	OriginalText  string                 `json:"original_text"`
	SanitizedText string                 `json:"sanitized_text"`
	Assessment    *RiskAssessment        `json:"assessment"`
	Sanitization  *SanitizationResult    `json:"sanitization,omitempty"`
	Mitigation    *MitigationResult      `json:"mitigation,omitempty"`
	IsSafe        bool                   `json:"is_safe"`
	ShouldBlock   bool                   `json:"should_block"`
	Warnings      []string               `json:"warnings,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// MitigationResult is the mitigator's decision on top of an assessment.
type MitigationResult struct {
	Actions         []MitigationAction `json:"actions"`
	Blocked         bool               `json:"blocked"`
	Sanitized       bool               `json:"sanitized"`
	Escalated       bool               `json:"escalated"`
	EscalationLevel EscalationLevel    `json:"escalation_level,omitempty"`
	MitigatedText   string             `json:"mitigated_text"`
	RiskReduction   float64            `json:"risk_reduction"`
	AuditTrail      []AuditEntry       `json:"audit_trail,omitempty"`
}

// TokenMapping is one vault entry. The vault is keyed by MaskedValue; a
// masked-value collision resolves to the first-stored row.
type TokenMapping struct {
	TokenID           string                 `json:"token_id"`
	HashedOriginal    string                 `json:"hashed_original"`
	MaskedValue       string                 `json:"masked_value"`
	Kind              PIIKind                `json:"kind"`
	Status            TokenStatus            `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
	ExpiresAt         time.Time              `json:"expires_at"`
	AccessCount       int64                  `json:"access_count"`
	LastAccessedAt    *time.Time             `json:"last_accessed_at,omitempty"`
	EncryptedOriginal string                 `json:"encrypted_original"`
	Salt              string                 `json:"salt"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// TokenAccessLog is one append-only vault access record.
type TokenAccessLog struct {
	LogID    string                 `json:"log_id"`
	TokenID  string                 `json:"token_id"`
	At       time.Time              `json:"at"`
	Op       VaultOp                `json:"op"`
	Success  bool                   `json:"success"`
	Actor    string                 `json:"actor,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AlertEvent is one dispatched (or dispatchable) alert.
type AlertEvent struct {
	Kind      AlertKind              `json:"kind"`
	ActorID   string                 `json:"actor_id"`
	Severity  EscalationLevel        `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	At        time.Time              `json:"at"`
	Threshold float64                `json:"threshold"`
	Actual    float64                `json:"actual"`
}

// HallucinationDetection is one claim in generated text that does not
// reconcile with the source row.
type HallucinationDetection struct {
	Kind       string   `json:"kind"`
	Severity   Severity `json:"severity"`
	Claim      string   `json:"claim"`
	Expected   string   `json:"expected,omitempty"`
	Confidence float64  `json:"confidence"`
	Span       TextSpan `json:"span"`
}

// HallucinationAssessment aggregates the checker's findings for one response.
type HallucinationAssessment struct {
	Detections      []HallucinationDetection `json:"detections,omitempty"`
	Score           float64                  `json:"score"`
	FactualAccuracy float64                  `json:"factual_accuracy"`
	ClaimsChecked   int                      `json:"claims_checked"`
}
