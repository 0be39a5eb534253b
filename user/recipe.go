package user

// RecipeID names the authentication method family a login method belongs to.
type RecipeID string

const (
	RecipeEmailPassword RecipeID = "emailpassword"
	RecipeThirdParty    RecipeID = "thirdparty"
	RecipePasswordless  RecipeID = "passwordless"
	RecipeWebauthn      RecipeID = "webauthn"
)

// Valid reports whether r is one of the known recipe families.
func (r RecipeID) Valid() bool {
	switch r {
	case RecipeEmailPassword, RecipeThirdParty, RecipePasswordless, RecipeWebauthn:
		return true
	}
	return false
}

// RecipeUserID identifies one login method instance. It is a value type:
// construct it, compare it, never mutate it.
type RecipeUserID string

// NewRecipeUserID wraps a raw id.
func NewRecipeUserID(id string) RecipeUserID {
	return RecipeUserID(id)
}

func (r RecipeUserID) String() string {
	return string(r)
}

// ThirdPartyInfo is the provider id plus the user's id at that provider.
type ThirdPartyInfo struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// IsZero reports whether no provider identity is set.
func (t ThirdPartyInfo) IsZero() bool {
	return t.ID == "" && t.UserID == ""
}

// WebauthnInfo lists the credential ids registered for a login method.
type WebauthnInfo struct {
	CredentialIDs []string `json:"credentialIds"`
}

// Method is the sealed per-recipe view of a login method. Switch on the
// concrete type to get the fields relevant to that recipe only.
type Method interface {
	recipe() RecipeID
}

type EmailPasswordMethod struct {
	Email string
}

type ThirdPartyMethod struct {
	Email      string
	ThirdParty ThirdPartyInfo
}

type PasswordlessMethod struct {
	Email       string
	PhoneNumber string
}

type WebauthnMethod struct {
	Email         string
	CredentialIDs []string
}

func (EmailPasswordMethod) recipe() RecipeID { return RecipeEmailPassword }
func (ThirdPartyMethod) recipe() RecipeID    { return RecipeThirdParty }
func (PasswordlessMethod) recipe() RecipeID  { return RecipePasswordless }
func (WebauthnMethod) recipe() RecipeID      { return RecipeWebauthn }
