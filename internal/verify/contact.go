package verify

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/dukerupert/hotspot/internal/model"
)

// NormalizeContact canonicalizes a phone number or email address. Phones need
// a country code and must be valid for that country; they come back in E.164.
// Spaces, dashes, dots and parentheses are accepted as separators. Emails are
// lowercased and must be a bare address without a display name.
func NormalizeContact(raw string) (string, model.ContactKind, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", model.ErrInvalidContact
	}

	if strings.Contains(s, "@") {
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Name != "" || addr.Address != s {
			return "", "", fmt.Errorf("%w: %q", model.ErrInvalidContact, raw)
		}
		return strings.ToLower(addr.Address), model.ContactEmail, nil
	}

	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, s)
	if !strings.HasPrefix(phone, "+") {
		return "", "", fmt.Errorf("%w: phone numbers need a country code", model.ErrInvalidContact)
	}
	for _, r := range phone[1:] {
		if r < '0' || r > '9' {
			return "", "", fmt.Errorf("%w: %q", model.ErrInvalidContact, raw)
		}
	}

	num, err := phonenumbers.Parse(phone, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", "", fmt.Errorf("%w: %q", model.ErrInvalidContact, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), model.ContactPhone, nil
}
