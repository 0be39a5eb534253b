package core

import (
	"context"

	"github.com/MrEthical07/authsdk/user"
)

// CreatePrimaryUserResult is returned by CanCreatePrimaryUser and
// CreatePrimaryUser. PrimaryUserID is set on conflict statuses and names the
// primary user that blocked the operation.
type CreatePrimaryUserResult struct {
	Status                 Status
	User                   *user.User
	WasAlreadyAPrimaryUser bool
	PrimaryUserID          string
	ConflictingField       string
	Description            string
}

// LinkAccountsResult is returned by CanLinkAccounts and LinkAccounts.
type LinkAccountsResult struct {
	Status                Status
	User                  *user.User
	AccountsAlreadyLinked bool
	PrimaryUserID         string
	ConflictingField      string
	Description           string
}

// UnlinkAccountResult is returned by UnlinkAccount.
type UnlinkAccountResult struct {
	Status               Status
	WasRecipeUserDeleted bool
	WasLinked            bool
}

// SignInUpResult is returned by recipe sign-in and sign-up primitives.
type SignInUpResult struct {
	Status               Status
	User                 *user.User
	RecipeUserID         user.RecipeUserID
	CreatedNewRecipeUser bool
	Description          string
}

// TOTPDevice is one registered authenticator.
type TOTPDevice struct {
	Name     string `json:"name"`
	Period   int    `json:"period"`
	Skew     int    `json:"skew"`
	Verified bool   `json:"verified"`
}

// CreateTOTPDeviceResult carries the shared secret of a new device.
type CreateTOTPDeviceResult struct {
	Status     Status
	DeviceName string
	Secret     string
	QRCodeURL  string
}

// VerifyTOTPResult is returned by VerifyTOTPDevice and VerifyTOTP.
type VerifyTOTPResult struct {
	Status             Status
	WasAlreadyVerified bool
}

// Client is the linking contract of the core service.
type Client interface {
	// GetUser returns nil, nil when userID does not exist. Passing a linked
	// recipe user id returns its primary user.
	GetUser(ctx context.Context, userID string) (*user.User, error)
	ListUsersByAccountInfo(ctx context.Context, tenantID string, info user.AccountInfo, doUnion bool) ([]user.User, error)

	CanCreatePrimaryUser(ctx context.Context, recipeUserID user.RecipeUserID) (CreatePrimaryUserResult, error)
	CreatePrimaryUser(ctx context.Context, recipeUserID user.RecipeUserID) (CreatePrimaryUserResult, error)
	CanLinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (LinkAccountsResult, error)
	LinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (LinkAccountsResult, error)
	UnlinkAccount(ctx context.Context, recipeUserID user.RecipeUserID) (UnlinkAccountResult, error)
	DeleteUser(ctx context.Context, userID string, removeAllLinkedAccounts bool) error

	// RecordAccountToLink stores the intent to link recipeUserID into
	// primaryUserID once its email is verified.
	RecordAccountToLink(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) error
	AccountToLink(ctx context.Context, recipeUserID user.RecipeUserID) (string, error)

	// InvalidateCoreCallCache drops memoized reads for the rest of the
	// logical operation carried by ctx.
	InvalidateCoreCallCache(ctx context.Context)
}

// RecipeClient groups the recipe primitives the sign-in/up flows need.
type RecipeClient interface {
	ThirdPartySignInUp(ctx context.Context, tenantID, thirdPartyID, thirdPartyUserID, email string, isVerified bool) (SignInUpResult, error)
	EmailPasswordSignUp(ctx context.Context, tenantID, email, password string) (SignInUpResult, error)
	EmailPasswordSignIn(ctx context.Context, tenantID, email, password string) (SignInUpResult, error)

	VerifyEmail(ctx context.Context, recipeUserID user.RecipeUserID, email string) error
	IsEmailVerified(ctx context.Context, recipeUserID user.RecipeUserID, email string) (bool, error)

	CreateTOTPDevice(ctx context.Context, userID, deviceName string) (CreateTOTPDeviceResult, error)
	VerifyTOTPDevice(ctx context.Context, userID, deviceName, code string) (VerifyTOTPResult, error)
	VerifyTOTP(ctx context.Context, userID, code string) (VerifyTOTPResult, error)
	ListTOTPDevices(ctx context.Context, userID string) ([]TOTPDevice, error)
	RemoveTOTPDevice(ctx context.Context, userID, deviceName string) (bool, error)
}

// Core is everything the SDK consumes from the core service.
type Core interface {
	Client
	RecipeClient
}
