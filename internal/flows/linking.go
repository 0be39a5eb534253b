package flows

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

// ErrAmbiguousPrimary is returned when more than one primary user shares
// the account info of a recipe user. The core never allows that state.
var ErrAmbiguousPrimary = errors.New("flows: several primary users share the same account info")

// GetPrimaryUserThatCanBeLinkedToRecipeUserID returns the primary user the
// recipe user would be linked to: itself when already linked, else the
// primary user sharing one of its identities in tenantID. It returns nil
// when there is none.
func GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx context.Context, tenantID string, recipeUserID user.RecipeUserID, deps LinkingDeps) (*user.User, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	u, err := getUser(ctx, &deps, recipeUserID.String())
	if err != nil {
		return nil, err
	}
	return linkablePrimary(ctx, &deps, tenantID, u)
}

func getUser(ctx context.Context, d *LinkingDeps, id string) (*user.User, error) {
	u, err := d.Core.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownUser, id)
	}
	return u, nil
}

func linkablePrimary(ctx context.Context, d *LinkingDeps, tenantID string, u *user.User) (*user.User, error) {
	if u.IsPrimaryUser {
		return u, nil
	}
	info := user.AccountInfoFromLoginMethod(u.LoginMethods[0])
	if info.IsEmpty() {
		return nil, nil
	}
	users, err := d.Core.ListUsersByAccountInfo(ctx, tenantID, info, true)
	if err != nil {
		return nil, err
	}
	var primary *user.User
	for i := range users {
		if !users[i].IsPrimaryUser {
			continue
		}
		if primary != nil && primary.ID != users[i].ID {
			return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousPrimary, primary.ID, users[i].ID)
		}
		primary = &users[i]
	}
	return primary, nil
}

// sharesIdentity reports whether lm carries the email or phone number of info.
func sharesIdentity(lm user.LoginMethod, info user.AccountInfo) bool {
	if info.Email != "" && lm.HasSameEmailAs(info.Email) {
		return true
	}
	return info.PhoneNumber != "" && lm.HasSamePhoneNumberAs(info.PhoneNumber)
}

// IsSignUpAllowed reports whether a new recipe user with info may be
// created in tenantID without letting an unverified identity take over an
// account through automatic linking later on.
func IsSignUpAllowed(ctx context.Context, tenantID string, info user.AccountInfo, isVerified bool, s Session, deps LinkingDeps) (bool, error) {
	if err := deps.normalize(); err != nil {
		return false, err
	}
	return isSignInUpAllowed(ctx, &deps, tenantID, info, isVerified, s, nil)
}

// IsSignInAllowed reports whether u may sign in with the login method
// recipeUserID. signInVerifies is true when the sign-in itself proves
// ownership of the login method's email, as a verified provider email does.
func IsSignInAllowed(ctx context.Context, tenantID string, u *user.User, recipeUserID user.RecipeUserID, signInVerifies bool, s Session, deps LinkingDeps) (bool, error) {
	if err := deps.normalize(); err != nil {
		return false, err
	}
	return isSignInAllowed(ctx, &deps, tenantID, u, recipeUserID, signInVerifies, s)
}

func isSignInAllowed(ctx context.Context, d *LinkingDeps, tenantID string, u *user.User, recipeUserID user.RecipeUserID, signInVerifies bool, s Session) (bool, error) {
	if u.IsPrimaryUser {
		return true, nil
	}
	lm, ok := u.LoginMethod(recipeUserID)
	if !ok {
		return false, fmt.Errorf("%w: %s", core.ErrUnknownUser, recipeUserID)
	}
	if lm.Verified || signInVerifies {
		return true, nil
	}
	return isSignInUpAllowed(ctx, d, tenantID, user.AccountInfoFromLoginMethod(lm), false, s, u)
}

// isSignInUpAllowed holds the rule shared by sign-up and sign-in. self is the
// signing-in user, excluded from the comparison.
func isSignInUpAllowed(ctx context.Context, d *LinkingDeps, tenantID string, info user.AccountInfo, isVerified bool, s Session, self *user.User) (bool, error) {
	users, err := d.Core.ListUsersByAccountInfo(ctx, tenantID, info, true)
	if err != nil {
		return false, err
	}
	others := make([]user.User, 0, len(users))
	for _, u := range users {
		if self != nil && u.ID == self.ID {
			continue
		}
		others = append(others, u)
	}
	if len(others) == 0 {
		return true, nil
	}

	var primary *user.User
	for i := range others {
		if others[i].IsPrimaryUser {
			primary = &others[i]
			break
		}
	}
	decision, err := d.ShouldDoAutomaticAccountLinking(ctx, info, primary, s, tenantID)
	if err != nil {
		return false, err
	}
	if !decision.ShouldAutomaticallyLink || !decision.ShouldRequireVerification || isVerified {
		return true, nil
	}

	if primary == nil {
		// Verifying the newcomer later would make it primary and pull in
		// these unverified look-alikes.
		for _, u := range others {
			for _, lm := range u.LoginMethods {
				if sharesIdentity(lm, info) && !lm.Verified {
					return false, nil
				}
			}
		}
		return true, nil
	}
	for _, lm := range primary.LoginMethods {
		if sharesIdentity(lm, info) && lm.Verified {
			return true, nil
		}
	}
	return false, nil
}

// CreatePrimaryUserIDOrLinkAccounts applies automatic account linking to
// a recipe user: it links it to the primary user sharing its identity, or
// makes it primary when there is none, as far as the linking policy
// allows. When verification is required but missing, the link is recorded
// as an intent for later. It returns the user the recipe user belongs to
// afterwards.
func CreatePrimaryUserIDOrLinkAccounts(ctx context.Context, tenantID string, recipeUserID user.RecipeUserID, s Session, deps LinkingDeps) (*user.User, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	return createPrimaryUserIDOrLinkAccounts(ctx, &deps, tenantID, recipeUserID, s)
}

func createPrimaryUserIDOrLinkAccounts(ctx context.Context, d *LinkingDeps, tenantID string, recipeUserID user.RecipeUserID, s Session) (*user.User, error) {
	return runWithRestarts(ctx, d, "createPrimaryUserIdOrLinkAccounts", func(int) (*user.User, *restart, error) {
		return createPrimaryOrLinkOnce(ctx, d, tenantID, recipeUserID, s)
	})
}

func createPrimaryOrLinkOnce(ctx context.Context, d *LinkingDeps, tenantID string, recipeUserID user.RecipeUserID, s Session) (*user.User, *restart, error) {
	u, err := getUser(ctx, d, recipeUserID.String())
	if err != nil {
		return nil, nil, err
	}
	if u.IsPrimaryUser {
		return u, nil, nil
	}
	lm := u.LoginMethods[0]
	info := user.AccountInfoFromLoginMethod(lm)
	log := logger.From(ctx, d.Log)

	primary, err := linkablePrimary(ctx, d, tenantID, u)
	if err != nil {
		return nil, nil, err
	}
	decision, err := d.ShouldDoAutomaticAccountLinking(ctx, info, primary, s, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !decision.ShouldAutomaticallyLink {
		return u, nil, nil
	}
	verificationMissing := decision.ShouldRequireVerification && !lm.Verified

	if primary == nil {
		if verificationMissing {
			return u, nil, nil
		}
		res, err := d.Core.CreatePrimaryUser(ctx, recipeUserID)
		if err != nil {
			return nil, nil, err
		}
		if res.Status.OK() {
			d.MetricInc(d.Metrics.PrimaryUserCreated)
			d.EmitAudit(ctx, d.Events.PrimaryUserCreated, true, res.User.ID, tenantID, nil, nil)
			log.Debug("recipe user made primary", logger.RecipeUserID(recipeUserID.String()), logger.TenantID(tenantID))
			return res.User, nil, nil
		}
		if res.Status.IsRaceSignal() {
			return nil, &restart{step: "createPrimaryUser", status: res.Status}, nil
		}
		log.Info("primary user not created", logger.RecipeUserID(recipeUserID.String()), logger.Status(res.Status.String()))
		return u, nil, nil
	}

	if verificationMissing {
		if err := d.Core.RecordAccountToLink(ctx, recipeUserID, primary.ID); err != nil {
			return nil, nil, err
		}
		d.MetricInc(d.Metrics.LinkDeferred)
		d.EmitAudit(ctx, d.Events.LinkDeferred, true, primary.ID, tenantID, nil, func() map[string]string {
			return map[string]string{"recipe_user_id": recipeUserID.String()}
		})
		return u, nil, nil
	}

	res, err := d.Core.LinkAccounts(ctx, recipeUserID, primary.ID)
	if err != nil {
		return nil, nil, err
	}
	switch res.Status {
	case core.StatusOK:
		d.MetricInc(d.Metrics.AccountsLinked)
		d.EmitAudit(ctx, d.Events.AccountsLinked, true, res.User.ID, tenantID, nil, func() map[string]string {
			return map[string]string{"recipe_user_id": recipeUserID.String()}
		})
		log.Debug("accounts linked",
			logger.RecipeUserID(recipeUserID.String()),
			logger.PrimaryUserID(res.User.ID),
			zap.Bool("already_linked", res.AccountsAlreadyLinked),
		)
		return res.User, nil, nil
	case core.StatusRecipeUserIDAlreadyLinkedWithAnotherPrimary:
		// Someone else linked it first; report where it ended up.
		d.Core.InvalidateCoreCallCache(ctx)
		cur, err := getUser(ctx, d, recipeUserID.String())
		if err != nil {
			return nil, nil, err
		}
		return cur, nil, nil
	}
	return nil, &restart{step: "linkAccounts", status: res.Status}, nil
}
