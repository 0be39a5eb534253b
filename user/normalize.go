package user

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhoneNumber returns the E.164 form of phone when it parses as an
// international number, otherwise the trimmed input.
func NormalizePhoneNumber(phone string) string {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return ""
	}
	num, err := phonenumbers.Parse(trimmed, "")
	if err != nil {
		return trimmed
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func normalizeThirdParty(tp ThirdPartyInfo) ThirdPartyInfo {
	return ThirdPartyInfo{
		ID:     strings.TrimSpace(tp.ID),
		UserID: strings.TrimSpace(tp.UserID),
	}
}
