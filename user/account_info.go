package user

// AccountInfo is a partial identity descriptor used for uniqueness searches.
// Zero values mean "not given".
type AccountInfo struct {
	Email                string          `json:"email,omitempty"`
	PhoneNumber          string          `json:"phoneNumber,omitempty"`
	ThirdParty           *ThirdPartyInfo `json:"thirdParty,omitempty"`
	WebauthnCredentialID string          `json:"webauthnCredentialId,omitempty"`
}

// IsEmpty reports whether no identity field is set.
func (a AccountInfo) IsEmpty() bool {
	return a.Email == "" && a.PhoneNumber == "" && a.ThirdParty == nil && a.WebauthnCredentialID == ""
}

// AccountInfoFromLoginMethod extracts the identity fields of lm.
func AccountInfoFromLoginMethod(lm LoginMethod) AccountInfo {
	info := AccountInfo{
		Email:       lm.Email,
		PhoneNumber: lm.PhoneNumber,
	}
	if lm.ThirdParty != nil {
		tp := *lm.ThirdParty
		info.ThirdParty = &tp
	}
	return info
}

// Fields splits a into single-field descriptors, in email, phone, third-party
// order. Account linking checks conflicts one field at a time.
func (a AccountInfo) Fields() []AccountInfo {
	var out []AccountInfo
	if a.Email != "" {
		out = append(out, AccountInfo{Email: a.Email})
	}
	if a.PhoneNumber != "" {
		out = append(out, AccountInfo{PhoneNumber: a.PhoneNumber})
	}
	if a.ThirdParty != nil {
		tp := *a.ThirdParty
		out = append(out, AccountInfo{ThirdParty: &tp})
	}
	if a.WebauthnCredentialID != "" {
		out = append(out, AccountInfo{WebauthnCredentialID: a.WebauthnCredentialID})
	}
	return out
}

// FieldName names the single field a carries ("email", "phoneNumber",
// "thirdParty", "webauthn"). It is meant for descriptors returned by Fields.
func (a AccountInfo) FieldName() string {
	switch {
	case a.Email != "":
		return "email"
	case a.PhoneNumber != "":
		return "phoneNumber"
	case a.ThirdParty != nil:
		return "thirdParty"
	case a.WebauthnCredentialID != "":
		return "webauthn"
	}
	return ""
}
