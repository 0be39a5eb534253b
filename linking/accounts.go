package linking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

func unknownUser(id string) error {
	return fmt.Errorf("%w: %s", core.ErrUnknownUser, id)
}

// conflictingPrimary looks for a primary user other than exclude that
// already claims one of lm's identity fields, on any tenant of lm. Fields are
// checked in email, phone, third-party order and the first hit wins.
func (e *Engine) conflictingPrimary(ctx context.Context, lm user.LoginMethod, exclude string) (string, string, error) {
	for _, field := range user.AccountInfoFromLoginMethod(lm).Fields() {
		for _, tenantID := range lm.TenantIDs {
			users, err := e.ListUsersByAccountInfo(ctx, tenantID, field, false)
			if err != nil {
				return "", "", err
			}
			for _, u := range users {
				if u.IsPrimaryUser && u.ID != exclude {
					return u.ID, field.FieldName(), nil
				}
			}
		}
	}
	return "", "", nil
}

func (e *Engine) CanCreatePrimaryUser(ctx context.Context, recipeUserID user.RecipeUserID) (core.CreatePrimaryUserResult, error) {
	return e.canCreatePrimaryUser(ctx, recipeUserID)
}

func (e *Engine) canCreatePrimaryUser(ctx context.Context, recipeUserID user.RecipeUserID) (core.CreatePrimaryUserResult, error) {
	u, err := e.loadUser(ctx, string(recipeUserID))
	if err != nil {
		return core.CreatePrimaryUserResult{}, err
	}
	if u == nil {
		return core.CreatePrimaryUserResult{}, unknownUser(string(recipeUserID))
	}

	if u.IsPrimaryUser {
		if u.ID == string(recipeUserID) {
			return core.CreatePrimaryUserResult{Status: core.StatusOK, User: u, WasAlreadyAPrimaryUser: true}, nil
		}
		return core.CreatePrimaryUserResult{
			Status:        core.StatusRecipeUserIDAlreadyLinkedWithPrimaryUserID,
			PrimaryUserID: u.ID,
			Description:   "Recipe user is already linked with another primary user id",
		}, nil
	}

	pid, field, err := e.conflictingPrimary(ctx, u.LoginMethods[0], "")
	if err != nil {
		return core.CreatePrimaryUserResult{}, err
	}
	if pid != "" {
		return core.CreatePrimaryUserResult{
			Status:           core.StatusAccountInfoAlreadyAssociatedWithAnotherPrimary,
			PrimaryUserID:    pid,
			ConflictingField: field,
			Description:      "This user's " + field + " is already associated with another primary user",
		}, nil
	}
	return core.CreatePrimaryUserResult{Status: core.StatusOK, User: u}, nil
}

func (e *Engine) CreatePrimaryUser(ctx context.Context, recipeUserID user.RecipeUserID) (core.CreatePrimaryUserResult, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return core.CreatePrimaryUserResult{}, err
	}
	defer unlock()

	res, err := e.canCreatePrimaryUser(ctx, recipeUserID)
	if err != nil || res.Status != core.StatusOK || res.WasAlreadyAPrimaryUser {
		return res, err
	}
	if err := e.store.AddMember(ctx, string(recipeUserID), recipeUserID); err != nil {
		return core.CreatePrimaryUserResult{}, err
	}
	u, err := e.loadUser(ctx, string(recipeUserID))
	if err != nil {
		return core.CreatePrimaryUserResult{}, err
	}
	res.User = u
	e.log.Debug("primary user created", logger.PrimaryUserID(string(recipeUserID)))
	return res, nil
}

func (e *Engine) CanLinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (core.LinkAccountsResult, error) {
	return e.canLinkAccounts(ctx, recipeUserID, primaryUserID)
}

func (e *Engine) canLinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (core.LinkAccountsResult, error) {
	recipeUser, err := e.loadUser(ctx, string(recipeUserID))
	if err != nil {
		return core.LinkAccountsResult{}, err
	}
	if recipeUser == nil {
		return core.LinkAccountsResult{}, unknownUser(string(recipeUserID))
	}
	primary, err := e.loadUser(ctx, primaryUserID)
	if err != nil {
		return core.LinkAccountsResult{}, err
	}
	if primary == nil {
		return core.LinkAccountsResult{}, unknownUser(primaryUserID)
	}

	if !primary.IsPrimaryUser {
		return core.LinkAccountsResult{
			Status:      core.StatusInputUserIsNotAPrimaryUser,
			Description: "The input primary user id is not a primary user",
		}, nil
	}

	if recipeUser.IsPrimaryUser {
		if recipeUser.ID == primary.ID {
			return core.LinkAccountsResult{Status: core.StatusOK, User: primary, AccountsAlreadyLinked: true}, nil
		}
		return core.LinkAccountsResult{
			Status:        core.StatusRecipeUserIDAlreadyLinkedWithAnotherPrimary,
			PrimaryUserID: recipeUser.ID,
			User:          recipeUser,
			Description:   "The input recipe user id is already linked to another primary user id",
		}, nil
	}

	pid, field, err := e.conflictingPrimary(ctx, recipeUser.LoginMethods[0], primary.ID)
	if err != nil {
		return core.LinkAccountsResult{}, err
	}
	if pid != "" {
		return core.LinkAccountsResult{
			Status:           core.StatusAccountInfoAlreadyAssociatedWithAnotherPrimary,
			PrimaryUserID:    pid,
			ConflictingField: field,
			Description:      "This user's " + field + " is already associated with another primary user",
		}, nil
	}
	return core.LinkAccountsResult{Status: core.StatusOK, User: primary}, nil
}

func (e *Engine) LinkAccounts(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) (core.LinkAccountsResult, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return core.LinkAccountsResult{}, err
	}
	defer unlock()

	// Callers may hand in a linked member instead of the primary id.
	target, err := e.loadUser(ctx, primaryUserID)
	if err != nil {
		return core.LinkAccountsResult{}, err
	}
	if target == nil {
		return core.LinkAccountsResult{}, unknownUser(primaryUserID)
	}

	res, err := e.canLinkAccounts(ctx, recipeUserID, target.ID)
	if err != nil || res.Status != core.StatusOK || res.AccountsAlreadyLinked {
		return res, err
	}

	if err := e.store.AddMember(ctx, target.ID, recipeUserID); err != nil {
		return core.LinkAccountsResult{}, err
	}
	if err := e.store.ClearAccountToLink(ctx, recipeUserID); err != nil {
		return core.LinkAccountsResult{}, err
	}
	if err := e.revokeSessions(ctx, recipeUserID); err != nil {
		return core.LinkAccountsResult{}, err
	}

	u, err := e.loadUser(ctx, target.ID)
	if err != nil {
		return core.LinkAccountsResult{}, err
	}
	res.User = u
	e.log.Debug("accounts linked",
		logger.RecipeUserID(string(recipeUserID)),
		logger.PrimaryUserID(target.ID),
	)
	return res, nil
}

func (e *Engine) UnlinkAccount(ctx context.Context, recipeUserID user.RecipeUserID) (core.UnlinkAccountResult, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return core.UnlinkAccountResult{}, err
	}
	defer unlock()

	u, err := e.loadUser(ctx, string(recipeUserID))
	if err != nil {
		return core.UnlinkAccountResult{}, err
	}
	if u == nil {
		return core.UnlinkAccountResult{}, unknownUser(string(recipeUserID))
	}
	if !u.IsPrimaryUser {
		return core.UnlinkAccountResult{}, fmt.Errorf("%w: %s", core.ErrInputUserNotLinked, recipeUserID)
	}

	remaining, err := e.store.RemoveMember(ctx, u.ID, recipeUserID)
	if err != nil {
		return core.UnlinkAccountResult{}, err
	}
	if err := e.revokeSessions(ctx, recipeUserID); err != nil {
		return core.UnlinkAccountResult{}, err
	}

	res := core.UnlinkAccountResult{Status: core.StatusOK, WasLinked: true}
	switch {
	case u.ID != string(recipeUserID):
	case remaining == 0:
		if err := e.store.ClearAccountToLinkTarget(ctx, u.ID); err != nil {
			return core.UnlinkAccountResult{}, err
		}
	default:
		// The primary id cannot leave a group that still has members, so the
		// recipe user is deleted and the group is re-keyed.
		if err := e.store.DeleteLoginMethod(ctx, recipeUserID); err != nil {
			return core.UnlinkAccountResult{}, err
		}
		rest, err := e.loadUser(ctx, u.ID)
		if err != nil {
			return core.UnlinkAccountResult{}, err
		}
		if rest != nil && len(rest.LoginMethods) > 0 {
			newID := string(rest.LoginMethods[0].RecipeUserID)
			if err := e.store.RenamePrimary(ctx, u.ID, newID); err != nil {
				return core.UnlinkAccountResult{}, err
			}
			e.log.Debug("primary user re-keyed", logger.PrimaryUserID(newID), zap.String("previous_primary_user_id", u.ID))
		}
		res.WasRecipeUserDeleted = true
	}
	return res, nil
}

func (e *Engine) DeleteUser(ctx context.Context, userID string, removeAllLinkedAccounts bool) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	u, err := e.loadUser(ctx, userID)
	if err != nil || u == nil {
		return err
	}

	ids := []user.RecipeUserID{user.RecipeUserID(userID)}
	if removeAllLinkedAccounts && u.IsPrimaryUser {
		ids = ids[:0]
		for _, lm := range u.LoginMethods {
			ids = append(ids, lm.RecipeUserID)
		}
	}

	for _, id := range ids {
		pid, err := e.store.PrimaryOf(ctx, id)
		if err != nil {
			return err
		}
		if err := e.store.DeleteLoginMethod(ctx, id); err != nil {
			return err
		}
		if err := e.revokeSessions(ctx, id); err != nil {
			return err
		}
		if pid == "" {
			if err := e.deleteDevices(ctx, string(id)); err != nil {
				return err
			}
			continue
		}
		remaining, err := e.store.RemoveMember(ctx, pid, id)
		if err != nil {
			return err
		}
		// A primary with remaining members keeps its group key and any
		// metadata stored under it.
		if remaining == 0 {
			if err := e.store.ClearAccountToLinkTarget(ctx, pid); err != nil {
				return err
			}
			if err := e.deleteDevices(ctx, pid); err != nil {
				return err
			}
		}
	}
	e.log.Debug("user deleted", logger.UserID(userID), zap.Int("recipe_users", len(ids)))
	return nil
}

func (e *Engine) RecordAccountToLink(ctx context.Context, recipeUserID user.RecipeUserID, primaryUserID string) error {
	return e.store.SetAccountToLink(ctx, recipeUserID, primaryUserID)
}

func (e *Engine) AccountToLink(ctx context.Context, recipeUserID user.RecipeUserID) (string, error) {
	return e.store.AccountToLink(ctx, recipeUserID)
}
