package user

import (
	"slices"
	"sort"
)

// User is the aggregate view of a person: either a primary user with one or
// more linked login methods, or a standalone recipe user.
type User struct {
	ID            string           `json:"id"`
	IsPrimaryUser bool             `json:"isPrimaryUser"`
	TenantIDs     []string         `json:"tenantIds"`
	Emails        []string         `json:"emails"`
	PhoneNumbers  []string         `json:"phoneNumbers"`
	ThirdParty    []ThirdPartyInfo `json:"thirdParty"`
	Webauthn      WebauthnInfo     `json:"webauthn"`
	LoginMethods  []LoginMethod    `json:"loginMethods"`
	TimeJoined    int64            `json:"timeJoined"`
}

// New builds a User from its login methods and derives the aggregate fields.
// Login methods are ordered by join time, ties broken by recipe user id.
func New(id string, isPrimary bool, loginMethods []LoginMethod) User {
	lms := make([]LoginMethod, 0, len(loginMethods))
	for _, lm := range loginMethods {
		lms = append(lms, lm.Clone())
	}
	sort.SliceStable(lms, func(i, j int) bool {
		if lms[i].TimeJoined != lms[j].TimeJoined {
			return lms[i].TimeJoined < lms[j].TimeJoined
		}
		return lms[i].RecipeUserID < lms[j].RecipeUserID
	})

	u := User{
		ID:            id,
		IsPrimaryUser: isPrimary,
		TenantIDs:     []string{},
		Emails:        []string{},
		PhoneNumbers:  []string{},
		ThirdParty:    []ThirdPartyInfo{},
		Webauthn:      WebauthnInfo{CredentialIDs: []string{}},
		LoginMethods:  lms,
	}
	for i, lm := range lms {
		if i == 0 || lm.TimeJoined < u.TimeJoined {
			u.TimeJoined = lm.TimeJoined
		}
		for _, t := range lm.TenantIDs {
			if !slices.Contains(u.TenantIDs, t) {
				u.TenantIDs = append(u.TenantIDs, t)
			}
		}
		if lm.Email != "" && !slices.Contains(u.Emails, lm.Email) {
			u.Emails = append(u.Emails, lm.Email)
		}
		if lm.PhoneNumber != "" && !slices.Contains(u.PhoneNumbers, lm.PhoneNumber) {
			u.PhoneNumbers = append(u.PhoneNumbers, lm.PhoneNumber)
		}
		if lm.ThirdParty != nil && !slices.Contains(u.ThirdParty, *lm.ThirdParty) {
			u.ThirdParty = append(u.ThirdParty, *lm.ThirdParty)
		}
		if lm.Webauthn != nil {
			for _, c := range lm.Webauthn.CredentialIDs {
				if !slices.Contains(u.Webauthn.CredentialIDs, c) {
					u.Webauthn.CredentialIDs = append(u.Webauthn.CredentialIDs, c)
				}
			}
		}
	}
	return u
}

// LoginMethod returns the login method with the given recipe user id.
func (u *User) LoginMethod(id RecipeUserID) (LoginMethod, bool) {
	for _, lm := range u.LoginMethods {
		if lm.RecipeUserID == id {
			return lm, true
		}
	}
	return LoginMethod{}, false
}

// HasLoginMethod reports whether id is one of the user's recipe users.
func (u *User) HasLoginMethod(id RecipeUserID) bool {
	_, ok := u.LoginMethod(id)
	return ok
}

// InTenant reports whether any login method is available on tenantID.
func (u *User) InTenant(tenantID string) bool {
	return slices.Contains(u.TenantIDs, tenantID)
}

// Valid checks the primary/standalone shape: a primary user's id is one of
// its recipe user ids; a standalone user has exactly one login method whose
// recipe user id equals the user id.
func (u *User) Valid() bool {
	if u.IsPrimaryUser {
		return u.HasLoginMethod(RecipeUserID(u.ID))
	}
	return len(u.LoginMethods) == 1 && string(u.LoginMethods[0].RecipeUserID) == u.ID
}

// Clone returns a deep copy.
func (u User) Clone() User {
	return New(u.ID, u.IsPrimaryUser, u.LoginMethods)
}
