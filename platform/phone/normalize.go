// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "BR"

// suffixLength is the number of trailing digits used for lead resolution.
// Country code and formatting variance make a full-number match unreliable;
// the local subscriber number is stable across representations.
const suffixLength = 8

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Digits strips every non-digit rune from the input.
func Digits(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolutionSuffix returns the trailing digits used to match a lead by phone.
// Returns an empty string when the input carries too few digits to be a
// meaningful match key.
func ResolutionSuffix(input string) string {
	digits := Digits(NormalizeE164(input))
	if len(digits) < suffixLength {
		return ""
	}
	return digits[len(digits)-suffixLength:]
}
