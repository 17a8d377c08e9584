// Package phone canonicalizes and validates phone numbers used as account and challenge keys.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhoneFormat is returned when input is not "+" followed by 2 to 15 digits.
var ErrInvalidPhoneFormat = errors.New("invalid phone number format")

const (
	minDigits = 2
	maxDigits = 15
)

// Number is a canonical phone number: "+" followed by 2 to 15 digits.
// Construct it with Normalize; equality is plain string equality.
type Number string

// String returns the canonical form.
func (n Number) String() string { return string(n) }

// Normalize strips whitespace and common separators, turns a leading "00" into "+",
// adds "+" when missing and rejects anything that is not "+" followed by 2 to 15 digits.
// Normalize(Normalize(x)) == Normalize(x) for every accepted x.
func Normalize(raw string) (Number, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			if i != 0 || b.Len() != 0 {
				return "", ErrInvalidPhoneFormat
			}
			b.WriteRune(r)
		case isSeparator(r):
		default:
			return "", ErrInvalidPhoneFormat
		}
	}
	s := b.String()
	if !strings.HasPrefix(s, "+") {
		if strings.HasPrefix(s, "00") {
			s = s[2:]
		}
		s = "+" + s
	}
	digits := len(s) - 1
	if digits < minDigits || digits > maxDigits {
		return "", ErrInvalidPhoneFormat
	}
	return Number(s), nil
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '-', '.', '(', ')', '/':
		return true
	}
	return false
}

// Normalizer wraps Normalize with optional numbering-plan validation.
type Normalizer struct {
	// Strict additionally requires the number to be valid according to libphonenumber metadata.
	Strict bool
}

// Normalize canonicalizes raw; in strict mode the number must also be a valid
// number for its calling code.
func (n Normalizer) Normalize(raw string) (Number, error) {
	num, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if !n.Strict {
		return num, nil
	}
	parsed, err := phonenumbers.Parse(string(num), "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", ErrInvalidPhoneFormat
	}
	return num, nil
}

// CountryCode returns the international calling code of n (e.g. 1, 44, 55), or 0
// when libphonenumber cannot attribute the number to a calling code.
func CountryCode(n Number) int {
	parsed, err := phonenumbers.Parse(string(n), "")
	if err != nil {
		return 0
	}
	return int(parsed.GetCountryCode())
}

// Mask hides all but the last four digits, for logs and events.
func Mask(n Number) string {
	s := string(n)
	if len(s) <= 5 {
		return "+***"
	}
	return "+" + strings.Repeat("*", len(s)-5) + s[len(s)-4:]
}
