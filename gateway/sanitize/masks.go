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

package sanitize

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"aegisflow/platform/shared/types"
)

// Placeholder returns the bracketed uppercase kind marker, e.g. [EMAIL].
func Placeholder(kind types.PIIKind) string {
	return "[" + strings.ToUpper(string(kind)) + "]"
}

// HashMask returns [KIND:xxxxxxxx] using the first 8 hex of MD5(value).
func HashMask(kind types.PIIKind, value string) string {
	sum := md5.Sum([]byte(value))
	return "[" + strings.ToUpper(string(kind)) + ":" + hex.EncodeToString(sum[:])[:8] + "]"
}

// FullMask replaces every alphanumeric rune with '*'. With preserveFormat the
// separators survive (123-45-6789 becomes ***-**-****), otherwise the whole
// value is starred out.
func FullMask(value string, preserveFormat bool) string {
	if !preserveFormat {
		return strings.Repeat("*", len([]rune(value)))
	}
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune('*')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PartialMask dispatches to the kind-specific partial mask, falling back to
// first-two last-two for kinds without a dedicated shape.
func PartialMask(value string, kind types.PIIKind) string {
	switch kind {
	case types.PIIEmail:
		return MaskEmail(value)
	case types.PIIPhone:
		return MaskPhone(value)
	case types.PIICreditCard:
		return MaskCreditCard(value)
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
}

// MaskEmail keeps the first and last rune of the local part, the first rune of
// the domain label, and the TLD: john.doe@example.com -> j******e@e******.com.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return "***@***.***"
	}
	local := []rune(email[:at])
	domain := email[at+1:]

	var maskedLocal string
	if len(local) <= 2 {
		maskedLocal = strings.Repeat("*", len(local))
	} else {
		maskedLocal = string(local[0]) + strings.Repeat("*", len(local)-2) + string(local[len(local)-1])
	}

	maskedDomain := domain
	if dot := strings.LastIndex(domain, "."); dot > 0 {
		label := []rune(domain[:dot])
		maskedDomain = string(label[0]) + strings.Repeat("*", len(label)-1) + domain[dot:]
	}

	return maskedLocal + "@" + maskedDomain
}

// MaskPhone stars every digit except the last four, keeping separators.
func MaskPhone(phone string) string {
	return maskDigitsKeepingLast(phone, 4)
}

// MaskCreditCard stars every digit except the last four, keeping separators.
func MaskCreditCard(cc string) string {
	return maskDigitsKeepingLast(cc, 4)
}

func maskDigitsKeepingLast(value string, keep int) string {
	total := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			total++
		}
	}
	if total < keep {
		return strings.Repeat("*", len([]rune(value)))
	}

	var b strings.Builder
	seen := 0
	for _, r := range value {
		if unicode.IsDigit(r) {
			seen++
			if seen <= total-keep {
				b.WriteRune('*')
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskedValue is the vault's deterministic surrogate for (value, kind). It is
// derived from the value alone, so the same plaintext under the same kind
// always yields the same mask. Not injective; collisions resolve to the
// first-stored vault row.
func MaskedValue(value string, kind types.PIIKind) string {
	return PartialMask(value, kind)
}
