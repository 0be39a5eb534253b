package mfa

import (
	"context"
	"errors"
	"slices"

	"github.com/MrEthical07/authsdk/user"
)

// ErrUserNotFound is returned when the session's user no longer exists.
var ErrUserNotFound = errors.New("mfa: session user not found")

// Session is the view of an authenticated session the MFA recipe needs.
type Session interface {
	UserID() string
	RecipeUserID() user.RecipeUserID
	TenantID() string
	AccessTokenPayload() map[string]any
	MergeIntoAccessTokenPayload(ctx context.Context, patch map[string]any) error
}

// RequirementsInput carries everything GetMFARequirementsForAuth may use.
type RequirementsInput struct {
	TenantID                          string
	User                              *user.User
	AccessTokenPayload                map[string]any
	CompletedFactors                  map[string]int64
	FactorsSetUpForUser               []string
	RequiredSecondaryFactorsForUser   []string
	RequiredSecondaryFactorsForTenant []string
}

// SetupInput carries everything IsAllowedToSetupFactor may use.
type SetupInput struct {
	TenantID               string
	FactorID               string
	Session                Session
	User                   *user.User
	CompletedFactors       map[string]int64
	MFARequirementsForAuth []Requirement
	FactorsSetUpForUser    []string
}

// Functions is the overridable policy of the MFA recipe. Overrides receive
// the default set and return a replacement whose fields may call through.
type Functions struct {
	GetMFARequirementsForAuth                 func(ctx context.Context, in RequirementsInput) ([]Requirement, error)
	IsAllowedToSetupFactor                    func(ctx context.Context, in SetupInput) (bool, error)
	GetFactorsSetUpForUser                    func(ctx context.Context, u *user.User) ([]string, error)
	MarkFactorAsCompleteInSession             func(ctx context.Context, s Session, factorID string) error
	GetRequiredSecondaryFactorsForUser        func(ctx context.Context, userID string) ([]string, error)
	AddToRequiredSecondaryFactorsForUser      func(ctx context.Context, userID, factorID string) error
	RemoveFromRequiredSecondaryFactorsForUser func(ctx context.Context, userID, factorID string) error
}

// Override decorates a Functions set.
type Override func(original Functions) Functions

// DefaultMFARequirementsForAuth requires one of the union of the user's and
// the tenant's required secondary factors. With no required factors the
// list is empty.
func DefaultMFARequirementsForAuth(_ context.Context, in RequirementsInput) ([]Requirement, error) {
	all := make([]string, 0, len(in.RequiredSecondaryFactorsForUser)+len(in.RequiredSecondaryFactorsForTenant))
	for _, id := range slices.Concat(in.RequiredSecondaryFactorsForUser, in.RequiredSecondaryFactorsForTenant) {
		if !slices.Contains(all, id) {
			all = append(all, id)
		}
	}
	if len(all) == 0 {
		return []Requirement{}, nil
	}
	return []Requirement{OneOf(all...)}, nil
}

// DefaultIsAllowedToSetupFactor allows setup once the requirement list is
// satisfied. Before that, only a factor of the next unsatisfied node may be
// set up, and only while none of that node's factors is already set up.
func DefaultIsAllowedToSetupFactor(_ context.Context, in SetupInput) (bool, error) {
	next := NextSetOfUnsatisfiedFactors(in.CompletedFactors, in.MFARequirementsForAuth)
	if len(next.FactorIDs) == 0 {
		return true, nil
	}
	for _, id := range next.FactorIDs {
		if slices.Contains(in.FactorsSetUpForUser, id) {
			return false, nil
		}
	}
	return slices.Contains(next.FactorIDs, in.FactorID), nil
}
