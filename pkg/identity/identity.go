package identity

import (
	"errors"
	"strings"
)

// ErrInvalid is returned when a raw value cannot be normalized into a
// deliverable identity.
var ErrInvalid = errors.New("invalid identity")

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// NormalizePhone reduces a raw phone string to its digits and applies the
// default country code when the number looks local (no prefix, 8-11 digits).
// Accepts 8 to 15 digits total, anything else is ErrInvalid.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// Leading zeros are trunk prefixes, not part of the identity.
	digits = strings.TrimLeft(digits, "0")

	if defaultCountryCode != "" && !strings.HasPrefix(digits, defaultCountryCode) {
		if len(digits) >= minPhoneDigits && len(digits) <= 11 {
			digits = defaultCountryCode + digits
		}
	}

	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalid
	}
	return digits, nil
}

// NormalizeEmail lower-cases and trims a raw email address.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", ErrInvalid
	}
	if strings.Count(email, "@") != 1 || strings.ContainsAny(email, " \t") {
		return "", ErrInvalid
	}
	return email, nil
}

// Normalize picks the normalization matching the channel's identity kind.
// Phone-based channels (sms, whatsapp) share the same rules.
func Normalize(raw, channel, defaultCountryCode string) (string, error) {
	if channel == "email" {
		return NormalizeEmail(raw)
	}
	return NormalizePhone(raw, defaultCountryCode)
}
