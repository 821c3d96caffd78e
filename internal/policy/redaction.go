package policy

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	vinPattern    = regexp.MustCompile(`(?i)\b[A-HJ-NPR-Z0-9]{17}\b`)
	coordsPattern = regexp.MustCompile(`-?\d{1,3}\.\d{3,}\s*,\s*-?\d{1,3}\.\d{3,}`)
)

// RedactPII masks personal data that can show up in driver utterances
// before they reach logs.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Coordinates first: "37.7749, -122.4194" would otherwise read as a phone number.
	next = coordsPattern.ReplaceAllString(out, "[REDACTED_LOCATION]")
	changed = changed || next != out
	out = next

	// Card before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = vinPattern.ReplaceAllStringFunc(out, func(m string) string {
		if !containsLetterAndDigit(m) {
			return m
		}
		return "[REDACTED_VIN]"
	})
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redact is RedactPII without the change flag, for log attributes.
func Redact(input string) string {
	out, _ := RedactPII(input)
	return out
}

func containsLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letter = true
		}
	}
	return letter && digit
}
