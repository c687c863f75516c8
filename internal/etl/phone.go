package etl

import (
	"regexp"
	"strings"
)

var (
	// Direction marks and invisible characters WhatsApp wraps numbers in.
	invisibleRunes = regexp.MustCompile(`[\x{2066}\x{2069}\x{200e}\x{200f}\s]`)
	nonDigits      = regexp.MustCompile(`\D`)
)

// CleanPhone normalizes a phone number the way the roster stores them.
// Israeli numbers become "972 52-299-1474"; other countries keep bare digits.
// Non-numeric input yields an empty string.
func CleanPhone(phone string) string {
	cleaned := invisibleRunes.ReplaceAllString(phone, "")
	cleaned = strings.ReplaceAll(cleaned, "+", "")
	digits := nonDigits.ReplaceAllString(cleaned, "")

	if digits == "" {
		return ""
	}

	// Local Israeli mobile (05X...) to international.
	if len(digits) == 10 && strings.HasPrefix(digits, "05") {
		digits = "972" + digits[1:]
	}
	if len(digits) == 12 && strings.HasPrefix(digits, "972") {
		return digits[:3] + " " + digits[3:5] + "-" + digits[5:8] + "-" + digits[8:]
	}

	return digits
}
