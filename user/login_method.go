package user

import (
	"slices"
	"strings"
)

// LoginMethod is one authentication method attached to a user.
type LoginMethod struct {
	RecipeID     RecipeID        `json:"recipeId"`
	RecipeUserID RecipeUserID    `json:"recipeUserId"`
	TenantIDs    []string        `json:"tenantIds"`
	Email        string          `json:"email,omitempty"`
	PhoneNumber  string          `json:"phoneNumber,omitempty"`
	ThirdParty   *ThirdPartyInfo `json:"thirdParty,omitempty"`
	Webauthn     *WebauthnInfo   `json:"webauthn,omitempty"`
	Verified     bool            `json:"verified"`
	TimeJoined   int64           `json:"timeJoined"`
}

// HasSameEmailAs compares emails case-insensitively after trimming. An empty
// input never matches.
func (lm LoginMethod) HasSameEmailAs(email string) bool {
	if lm.Email == "" {
		return false
	}
	want := NormalizeEmail(email)
	return want != "" && NormalizeEmail(lm.Email) == want
}

// HasSamePhoneNumberAs compares phone numbers in E.164 form when both parse,
// trimmed strings otherwise.
func (lm LoginMethod) HasSamePhoneNumberAs(phone string) bool {
	if lm.PhoneNumber == "" {
		return false
	}
	want := NormalizePhoneNumber(phone)
	return want != "" && NormalizePhoneNumber(lm.PhoneNumber) == want
}

// HasSameThirdPartyInfoAs requires both the provider id and the provider user
// id to match after trimming.
func (lm LoginMethod) HasSameThirdPartyInfoAs(tp *ThirdPartyInfo) bool {
	if lm.ThirdParty == nil || tp == nil {
		return false
	}
	have := normalizeThirdParty(*lm.ThirdParty)
	want := normalizeThirdParty(*tp)
	if want.ID == "" || want.UserID == "" {
		return false
	}
	return have == want
}

// HasSameWebauthnInfoAs reports whether credentialID is registered on this
// login method.
func (lm LoginMethod) HasSameWebauthnInfoAs(credentialID string) bool {
	if lm.Webauthn == nil {
		return false
	}
	credentialID = strings.TrimSpace(credentialID)
	return credentialID != "" && slices.Contains(lm.Webauthn.CredentialIDs, credentialID)
}

// MatchesAll reports whether this login method matches every non-empty field
// of info.
func (lm LoginMethod) MatchesAll(info AccountInfo) bool {
	if info.Email != "" && !lm.HasSameEmailAs(info.Email) {
		return false
	}
	if info.PhoneNumber != "" && !lm.HasSamePhoneNumberAs(info.PhoneNumber) {
		return false
	}
	if info.ThirdParty != nil && !lm.HasSameThirdPartyInfoAs(info.ThirdParty) {
		return false
	}
	if info.WebauthnCredentialID != "" && !lm.HasSameWebauthnInfoAs(info.WebauthnCredentialID) {
		return false
	}
	return true
}

// MatchesAny reports whether this login method matches at least one
// non-empty field of info.
func (lm LoginMethod) MatchesAny(info AccountInfo) bool {
	return (info.Email != "" && lm.HasSameEmailAs(info.Email)) ||
		(info.PhoneNumber != "" && lm.HasSamePhoneNumberAs(info.PhoneNumber)) ||
		(info.ThirdParty != nil && lm.HasSameThirdPartyInfoAs(info.ThirdParty)) ||
		(info.WebauthnCredentialID != "" && lm.HasSameWebauthnInfoAs(info.WebauthnCredentialID))
}

// InTenant reports whether the login method is available on tenantID.
func (lm LoginMethod) InTenant(tenantID string) bool {
	return slices.Contains(lm.TenantIDs, tenantID)
}

// Variant returns the recipe-specific view of the login method. Unknown
// recipe ids yield nil.
func (lm LoginMethod) Variant() Method {
	switch lm.RecipeID {
	case RecipeEmailPassword:
		return EmailPasswordMethod{Email: lm.Email}
	case RecipeThirdParty:
		m := ThirdPartyMethod{Email: lm.Email}
		if lm.ThirdParty != nil {
			m.ThirdParty = *lm.ThirdParty
		}
		return m
	case RecipePasswordless:
		return PasswordlessMethod{Email: lm.Email, PhoneNumber: lm.PhoneNumber}
	case RecipeWebauthn:
		m := WebauthnMethod{Email: lm.Email}
		if lm.Webauthn != nil {
			m.CredentialIDs = slices.Clone(lm.Webauthn.CredentialIDs)
		}
		return m
	}
	return nil
}

// Clone returns a deep copy.
func (lm LoginMethod) Clone() LoginMethod {
	out := lm
	out.TenantIDs = slices.Clone(lm.TenantIDs)
	if lm.ThirdParty != nil {
		tp := *lm.ThirdParty
		out.ThirdParty = &tp
	}
	if lm.Webauthn != nil {
		out.Webauthn = &WebauthnInfo{CredentialIDs: slices.Clone(lm.Webauthn.CredentialIDs)}
	}
	return out
}
