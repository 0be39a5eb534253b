package authsdk

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

// GetUser returns the user owning userID, or nil when there is none.
func (e *Engine) GetUser(ctx context.Context, userID string) (*user.User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.core.GetUser(ctx, userID)
}

// ListUsersByAccountInfo lists users in tenantID matching any (doUnion) or
// every field of info.
func (e *Engine) ListUsersByAccountInfo(ctx context.Context, tenantID string, info user.AccountInfo, doUnion bool) ([]user.User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.core.ListUsersByAccountInfo(ctx, tenantID, info, doUnion)
}

// GetPrimaryUserThatCanBeLinkedToRecipeUserID returns the primary user the
// recipe user would join under automatic linking, or nil.
func (e *Engine) GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx context.Context, tenantID string, recipeUserID user.RecipeUserID) (*user.User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	return flows.GetPrimaryUserThatCanBeLinkedToRecipeUserID(ctx, tenantID, recipeUserID, e.flows.Linking)
}

// IsSignUpAllowed reports whether a new login method with info may be
// created without letting it take over an existing account.
func (e *Engine) IsSignUpAllowed(ctx context.Context, tenantID string, info user.AccountInfo, isVerified bool, s *Session) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if info.IsEmpty() {
		return false, fmt.Errorf("%w: empty account info", core.ErrInvalidInput)
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	return flows.IsSignUpAllowed(ctx, tenantID, info, isVerified, asFlowSession(s), e.flows.Linking)
}

// IsSignInAllowed reports whether the login method recipeUserID of u may
// sign in. signInVerifies is true when the sign-in itself proves email
// ownership.
func (e *Engine) IsSignInAllowed(ctx context.Context, tenantID string, u *user.User, recipeUserID user.RecipeUserID, signInVerifies bool, s *Session) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	return flows.IsSignInAllowed(ctx, tenantID, u, recipeUserID, signInVerifies, asFlowSession(s), e.flows.Linking)
}

// CreatePrimaryUserIDOrLinkAccounts applies automatic account linking to
// recipeUserID and returns the user it belongs to afterwards.
func (e *Engine) CreatePrimaryUserIDOrLinkAccounts(ctx context.Context, tenantID string, recipeUserID user.RecipeUserID, s *Session) (*user.User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	return flows.CreatePrimaryUserIDOrLinkAccounts(ctx, tenantID, recipeUserID, asFlowSession(s), e.flows.Linking)
}

// LinkAccounts links recipeUserID into primaryUserID without consulting the
// linking policy. Conflicts are reported in the result status.
func (e *Engine) LinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (core.LinkAccountsResult, error) {
	if err := e.ready(); err != nil {
		return core.LinkAccountsResult{}, err
	}
	res, err := e.core.LinkAccounts(ctx, recipeUserID, primaryUserID)
	if err != nil {
		return res, err
	}
	if res.Status.OK() && !res.AccountsAlreadyLinked {
		e.metricInc(MetricAccountsLinked)
		e.emitAudit(ctx, AuditEventAccountsLinked, true, primaryUserID, "", "", nil, func() map[string]string {
			return map[string]string{"recipe_user_id": recipeUserID.String()}
		})
	}
	return res, nil
}

// UnlinkAccount detaches recipeUserID from its primary user.
func (e *Engine) UnlinkAccount(ctx context.Context, recipeUserID user.RecipeUserID) (core.UnlinkAccountResult, error) {
	if err := e.ready(); err != nil {
		return core.UnlinkAccountResult{}, err
	}
	before, err := e.core.GetUser(ctx, recipeUserID.String())
	if err != nil {
		return core.UnlinkAccountResult{}, err
	}
	res, err := e.core.UnlinkAccount(ctx, recipeUserID)
	if err != nil {
		return res, err
	}
	if res.WasRecipeUserDeleted && before != nil && before.ID == recipeUserID.String() {
		if err := e.rekeyPrimary(ctx, before, recipeUserID); err != nil {
			return res, err
		}
	}
	if res.WasLinked || res.WasRecipeUserDeleted {
		e.metricInc(MetricAccountUnlinked)
		e.emitAudit(ctx, AuditEventAccountUnlinked, true, "", "", "", nil, func() map[string]string {
			return map[string]string{
				"recipe_user_id": recipeUserID.String(),
				"deleted":        fmt.Sprint(res.WasRecipeUserDeleted),
			}
		})
	}
	return res, nil
}

// rekeyPrimary follows the core after it re-keyed a group whose primary
// login method was unlinked: user metadata (required secondary factors
// included) and the sessions of the remaining members move to the new
// primary user id.
func (e *Engine) rekeyPrimary(ctx context.Context, before *user.User, removed user.RecipeUserID) error {
	var survivor user.RecipeUserID
	for _, lm := range before.LoginMethods {
		if lm.RecipeUserID != removed {
			survivor = lm.RecipeUserID
			break
		}
	}
	if survivor == "" {
		return nil
	}
	after, err := e.core.GetUser(ctx, survivor.String())
	if err != nil {
		return err
	}
	if after == nil || after.ID == before.ID {
		return nil
	}

	md, err := e.metadata.Get(ctx, before.ID)
	if err != nil {
		return err
	}
	if len(md) > 0 {
		if _, err := e.metadata.Update(ctx, after.ID, md); err != nil {
			return err
		}
		if err := e.metadata.Clear(ctx, before.ID); err != nil {
			return err
		}
	}
	moved, err := e.sessions.ReassignUser(ctx, before.ID, after.ID)
	if err != nil {
		return err
	}
	logger.From(ctx, e.log).Info("primary user re-keyed",
		logger.PrimaryUserID(after.ID),
		zap.String("previous_primary_user_id", before.ID),
		zap.Int("sessions_moved", len(moved)))
	return nil
}

// DeleteUser deletes userID and, with removeAllLinkedAccounts, every login
// method linked to it. Sessions of the user are revoked. User metadata is
// cleared only once no login method remains under the user's id; a primary
// user that keeps linked members keeps its metadata.
func (e *Engine) DeleteUser(ctx context.Context, userID string, removeAllLinkedAccounts bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	before, err := e.core.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.core.DeleteUser(ctx, userID, removeAllLinkedAccounts); err != nil {
		return err
	}
	if before != nil && (removeAllLinkedAccounts || len(before.LoginMethods) == 1) {
		if err := e.metadata.Clear(ctx, before.ID); err != nil {
			return err
		}
	}
	if removeAllLinkedAccounts {
		if _, err := e.RevokeAllSessionsForUser(ctx, userID); err != nil {
			return err
		}
	} else if _, err := e.RevokeAllSessionsForRecipeUser(ctx, user.RecipeUserID(userID)); err != nil {
		return err
	}
	e.metricInc(MetricUserDeleted)
	e.emitAudit(ctx, AuditEventUserDeleted, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"remove_all_linked_accounts": fmt.Sprint(removeAllLinkedAccounts)}
	})
	return nil
}

// VerifyEmail marks email verified on recipeUserID and then applies
// automatic account linking, which may complete a link recorded earlier.
func (e *Engine) VerifyEmail(ctx context.Context, tenantID string, recipeUserID user.RecipeUserID, email string, s *Session) (*user.User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email = user.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", core.ErrInvalidInput)
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	if err := e.core.VerifyEmail(ctx, recipeUserID, email); err != nil {
		return nil, err
	}
	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, AuditEventEmailVerified, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{"recipe_user_id": recipeUserID.String()}
	})
	logger.From(ctx, e.log).Debug("email verified", logger.RecipeUserID(recipeUserID.String()), logger.TenantID(tenantID))
	return flows.CreatePrimaryUserIDOrLinkAccounts(ctx, tenantID, recipeUserID, asFlowSession(s), e.flows.Linking)
}

// IsEmailVerified reports whether email is verified on recipeUserID.
func (e *Engine) IsEmailVerified(ctx context.Context, recipeUserID user.RecipeUserID, email string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.core.IsEmailVerified(ctx, recipeUserID, user.NormalizeEmail(email))
}
