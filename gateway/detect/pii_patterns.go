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

// PIIPattern is one compiled regex rule in the PII catalog.
type PIIPattern struct {
	Name        string
	Kind        types.PIIKind
	Regex       *regexp.Regexp
	Confidence  float64
	Description string
}

// defaultPIIPatterns returns the high-precision regex catalog. Order matters
// only for readability; overlap resolution happens in deduplication.
func defaultPIIPatterns() []*PIIPattern {
	return []*PIIPattern{
		{
			Name:        "email_address",
			Kind:        types.PIIEmail,
			Regex:       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			Confidence:  0.9,
			Description: "RFC-shaped email address",
		},
		{
			Name:        "phone_nanp",
			Kind:        types.PIIPhone,
			Regex:       regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
			Confidence:  0.9,
			Description: "NANP-shaped phone number",
		},
		{
			Name:        "ssn_dashed",
			Kind:        types.PIISSN,
			Regex:       regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Confidence:  0.9,
			Description: "US social security number with dashes",
		},
		{
			Name:        "ssn_bare",
			Kind:        types.PIISSN,
			Regex:       regexp.MustCompile(`\b\d{9}\b`),
			Confidence:  0.75,
			Description: "Bare 9-digit run (SSN-shaped)",
		},
		{
			Name:        "credit_card_bin",
			Kind:        types.PIICreditCard,
			Regex:       regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6(?:011|5\d{2}))[-.\s]?\d{4}[-.\s]?\d{4}[-.\s]?\d{1,7}\b`),
			Confidence:  0.9,
			Description: "Visa/MC/Amex/Discover BIN families, 13-19 digits",
		},
		{
			Name:        "ipv4",
			Kind:        types.PIIIPAddress,
			Regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Confidence:  0.9,
			Description: "IPv4 address",
		},
		{
			Name:        "ipv6",
			Kind:        types.PIIIPAddress,
			Regex:       regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
			Confidence:  0.9,
			Description: "Canonical 8-group IPv6 address",
		},
		{
			Name:        "url",
			Kind:        types.PIIURL,
			Regex:       regexp.MustCompile(`\bhttps?://[^\s<>"]+`),
			Confidence:  0.9,
			Description: "HTTP(S) URL",
		},
		{
			Name:        "api_key_prefixed",
			Kind:        types.PIIAPIKey,
			Regex:       regexp.MustCompile(`\b(?:sk|pk)_[a-zA-Z0-9]{24,}\b`),
			Confidence:  0.9,
			Description: "Stripe-style prefixed API key",
		},
		{
			Name:        "api_key_github",
			Kind:        types.PIIAPIKey,
			Regex:       regexp.MustCompile(`\bgh[poasur]_[A-Za-z0-9_]{36}\b`),
			Confidence:  0.9,
			Description: "GitHub token",
		},
		{
			Name:        "api_key_google",
			Kind:        types.PIIAPIKey,
			Regex:       regexp.MustCompile(`\bAIza[A-Za-z0-9_\-]{35}\b`),
			Confidence:  0.9,
			Description: "Google API key",
		},
		{
			Name:        "api_key_generic",
			Kind:        types.PIIAPIKey,
			Regex:       regexp.MustCompile(`\b[a-zA-Z0-9]{32,}\b`),
			Confidence:  0.75,
			Description: "Generic 32+ base62 run",
		},
		{
			Name:        "jwt_token",
			Kind:        types.PIIJWT,
			Regex:       regexp.MustCompile(`\beyJ[A-Za-z0-9\-_=]+\.[A-Za-z0-9\-_=]+\.?[A-Za-z0-9\-_.+/=]*`),
			Confidence:  0.9,
			Description: "JWT (three base64url segments)",
		},
		{
			Name:        "ssh_key",
			Kind:        types.PIISSHKey,
			Regex:       regexp.MustCompile(`\b(?:ssh-rsa|ssh-dss|ecdsa-sha2-nistp(?:256|384|521)) [A-Za-z0-9+/=]+\S*`),
			Confidence:  0.9,
			Description: "SSH public key line",
		},
		{
			Name:        "db_connection",
			Kind:        types.PIIDBConn,
			Regex:       regexp.MustCompile(`\b(?:postgresql|mysql|mongodb)://\S+`),
			Confidence:  0.9,
			Description: "Database connection URL",
		},
		{
			Name:        "password_assignment",
			Kind:        types.PIIPassword,
			Regex:       regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*\S+`),
			Confidence:  0.9,
			Description: "Inline password assignment",
		},
		{
			Name:        "secret_assignment",
			Kind:        types.PIISecretKey,
			Regex:       regexp.MustCompile(`(?i)\b(?:secret|key|token)\s*[:=]\s*\S+`),
			Confidence:  0.9,
			Description: "Inline secret/key/token assignment",
		},
		{
			Name:        "date_numeric",
			Kind:        types.PIIDate,
			Regex:       regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
			Confidence:  0.8,
			Description: "Numeric date",
		},
		{
			Name:        "street_address",
			Kind:        types.PIIAddress,
			Regex:       regexp.MustCompile(`\b\d{1,5}\s+[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Court|Ct)\.?\b`),
			Confidence:  0.85,
			Description: "US street address",
		},
	}
}

// Context lexicons used by the statistical layer.
var (
	financialContext = regexp.MustCompile(`(?i)\b(?:account|acct|routing|balance|iban|swift|wire)\b`)
	ibanShape        = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	digitRun         = regexp.MustCompile(`\b\d[\d\-\s]{4,30}\d\b`)
)
