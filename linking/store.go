package linking

import (
	"context"
	"strings"

	"github.com/MrEthical07/authsdk/user"
)

// TOTPDeviceRecord is a stored authenticator, including its secret.
type TOTPDeviceRecord struct {
	Name            string `json:"name"`
	Secret          string `json:"secret"`
	Period          uint   `json:"period"`
	Skew            uint   `json:"skew"`
	Verified        bool   `json:"verified"`
	LastUsedCounter int64  `json:"lastUsedCounter"`
	CreatedAt       int64  `json:"createdAt"`
}

// Store persists login methods, their identity indexes, the primary-user
// mapping and recipe-private state.
//
// Missing records are reported as zero values with a nil error. Lookups by
// identity take normalized input and return ids in no particular order.
type Store interface {
	// Lock serializes mutations across every user of the store. The
	// returned func releases the lock.
	Lock(ctx context.Context) (func(), error)

	LoginMethod(ctx context.Context, id user.RecipeUserID) (*user.LoginMethod, error)
	PutLoginMethod(ctx context.Context, lm user.LoginMethod) error
	DeleteLoginMethod(ctx context.Context, id user.RecipeUserID) error

	FindByEmail(ctx context.Context, email string) ([]user.RecipeUserID, error)
	FindByPhoneNumber(ctx context.Context, phone string) ([]user.RecipeUserID, error)
	FindByThirdParty(ctx context.Context, tp user.ThirdPartyInfo) ([]user.RecipeUserID, error)
	FindByWebauthnCredential(ctx context.Context, credentialID string) ([]user.RecipeUserID, error)

	// PrimaryOf returns the primary user id id is linked under, or "".
	PrimaryOf(ctx context.Context, id user.RecipeUserID) (string, error)
	// Members returns the recipe user ids linked under primaryUserID.
	Members(ctx context.Context, primaryUserID string) ([]user.RecipeUserID, error)
	AddMember(ctx context.Context, primaryUserID string, id user.RecipeUserID) error
	// RemoveMember drops id from the group and deletes the group when it
	// becomes empty. It returns the number of remaining members.
	RemoveMember(ctx context.Context, primaryUserID string, id user.RecipeUserID) (int, error)
	// RenamePrimary moves a group, its account-to-link intents and its TOTP
	// devices from one primary user id to another.
	RenamePrimary(ctx context.Context, from, to string) error

	SetAccountToLink(ctx context.Context, id user.RecipeUserID, primaryUserID string) error
	AccountToLink(ctx context.Context, id user.RecipeUserID) (string, error)
	ClearAccountToLink(ctx context.Context, id user.RecipeUserID) error
	// ClearAccountToLinkTarget drops every intent pointing at primaryUserID.
	ClearAccountToLinkTarget(ctx context.Context, primaryUserID string) error

	PasswordHash(ctx context.Context, id user.RecipeUserID) ([]byte, error)
	SetPasswordHash(ctx context.Context, id user.RecipeUserID, hash []byte) error

	TOTPDevices(ctx context.Context, userID string) ([]TOTPDeviceRecord, error)
	PutTOTPDevice(ctx context.Context, userID string, device TOTPDeviceRecord) error
	DeleteTOTPDevice(ctx context.Context, userID, name string) (bool, error)
}

func thirdPartyKey(tp user.ThirdPartyInfo) string {
	return tp.ID + "\x00" + tp.UserID
}

const (
	indexEmail      = "email"
	indexPhone      = "phone"
	indexThirdParty = "tp"
	indexWebauthn   = "webauthn"
)

type indexKey struct {
	kind  string
	value string
}

// indexKeys lists the normalized identity keys a login method is findable by.
func indexKeys(lm user.LoginMethod) []indexKey {
	var keys []indexKey
	if v := user.NormalizeEmail(lm.Email); v != "" {
		keys = append(keys, indexKey{indexEmail, v})
	}
	if v := user.NormalizePhoneNumber(lm.PhoneNumber); v != "" {
		keys = append(keys, indexKey{indexPhone, v})
	}
	if lm.ThirdParty != nil {
		keys = append(keys, indexKey{indexThirdParty, thirdPartyIndexValue(*lm.ThirdParty)})
	}
	if lm.Webauthn != nil {
		for _, c := range lm.Webauthn.CredentialIDs {
			keys = append(keys, indexKey{indexWebauthn, c})
		}
	}
	return keys
}

func thirdPartyIndexValue(tp user.ThirdPartyInfo) string {
	tp.ID = strings.TrimSpace(tp.ID)
	tp.UserID = strings.TrimSpace(tp.UserID)
	return thirdPartyKey(tp)
}
