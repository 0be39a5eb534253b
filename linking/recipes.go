package linking

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/password"
	"github.com/MrEthical07/authsdk/user"
)

func (e *Engine) userResult(ctx context.Context, lm user.LoginMethod, created bool) (core.SignInUpResult, error) {
	u, err := e.loadUser(ctx, string(lm.RecipeUserID))
	if err != nil {
		return core.SignInUpResult{}, err
	}
	if u == nil {
		return core.SignInUpResult{}, unknownUser(string(lm.RecipeUserID))
	}
	return core.SignInUpResult{
		Status:               core.StatusOK,
		User:                 u,
		RecipeUserID:         lm.RecipeUserID,
		CreatedNewRecipeUser: created,
	}, nil
}

func firstOfRecipe(lms []user.LoginMethod, recipe user.RecipeID) (user.LoginMethod, bool) {
	for _, lm := range lms {
		if lm.RecipeID == recipe {
			return lm, true
		}
	}
	return user.LoginMethod{}, false
}

// ThirdPartySignInUp signs in the provider identity, creating its recipe
// user on first use. A changed provider email is stored unverified; it is
// refused when the user is primary and another primary user already owns the
// new email.
func (e *Engine) ThirdPartySignInUp(ctx context.Context, tenantID, thirdPartyID, thirdPartyUserID, email string, isVerified bool) (core.SignInUpResult, error) {
	tp := user.ThirdPartyInfo{ID: strings.TrimSpace(thirdPartyID), UserID: strings.TrimSpace(thirdPartyUserID)}
	email = strings.TrimSpace(email)
	if tenantID == "" || tp.ID == "" || tp.UserID == "" {
		return core.SignInUpResult{}, core.ErrInvalidInput
	}

	unlock, err := e.lock(ctx)
	if err != nil {
		return core.SignInUpResult{}, err
	}
	defer unlock()

	existing, err := e.findLoginMethods(ctx, tenantID, user.AccountInfo{ThirdParty: &tp})
	if err != nil {
		return core.SignInUpResult{}, err
	}
	if lm, ok := firstOfRecipe(existing, user.RecipeThirdParty); ok {
		if email != "" && !lm.HasSameEmailAs(email) {
			allowed, err := e.emailChangeAllowed(ctx, lm, email)
			if err != nil {
				return core.SignInUpResult{}, err
			}
			if !allowed {
				return core.SignInUpResult{
					Status:      core.StatusEmailChangeNotAllowed,
					Description: "Email already associated with another primary user",
				}, nil
			}
			lm.Email = email
			lm.Verified = false
		}
		if isVerified {
			lm.Verified = true
		}
		if err := e.store.PutLoginMethod(ctx, lm); err != nil {
			return core.SignInUpResult{}, err
		}
		return e.userResult(ctx, lm, false)
	}

	lm := user.LoginMethod{
		RecipeID:     user.RecipeThirdParty,
		RecipeUserID: user.RecipeUserID(e.newID()),
		TenantIDs:    []string{tenantID},
		Email:        email,
		ThirdParty:   &tp,
		Verified:     isVerified && email != "",
		TimeJoined:   e.nowMillis(),
	}
	if err := e.store.PutLoginMethod(ctx, lm); err != nil {
		return core.SignInUpResult{}, err
	}
	return e.userResult(ctx, lm, true)
}

func (e *Engine) emailChangeAllowed(ctx context.Context, lm user.LoginMethod, email string) (bool, error) {
	u, err := e.loadUser(ctx, string(lm.RecipeUserID))
	if err != nil || u == nil || !u.IsPrimaryUser {
		return err == nil, err
	}
	for _, tenantID := range lm.TenantIDs {
		users, err := e.ListUsersByAccountInfo(ctx, tenantID, user.AccountInfo{Email: email}, false)
		if err != nil {
			return false, err
		}
		for _, other := range users {
			if other.IsPrimaryUser && other.ID != u.ID {
				return false, nil
			}
		}
	}
	return true, nil
}

func (e *Engine) EmailPasswordSignUp(ctx context.Context, tenantID, email, plaintext string) (core.SignInUpResult, error) {
	email = strings.TrimSpace(email)
	if tenantID == "" || email == "" || plaintext == "" {
		return core.SignInUpResult{}, core.ErrInvalidInput
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return core.SignInUpResult{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}

	unlock, err := e.lock(ctx)
	if err != nil {
		return core.SignInUpResult{}, err
	}
	defer unlock()

	existing, err := e.findLoginMethods(ctx, tenantID, user.AccountInfo{Email: email})
	if err != nil {
		return core.SignInUpResult{}, err
	}
	if _, ok := firstOfRecipe(existing, user.RecipeEmailPassword); ok {
		return core.SignInUpResult{Status: core.StatusEmailAlreadyExists}, nil
	}

	lm := user.LoginMethod{
		RecipeID:     user.RecipeEmailPassword,
		RecipeUserID: user.RecipeUserID(e.newID()),
		TenantIDs:    []string{tenantID},
		Email:        email,
		TimeJoined:   e.nowMillis(),
	}
	if err := e.store.SetPasswordHash(ctx, lm.RecipeUserID, []byte(hash)); err != nil {
		return core.SignInUpResult{}, err
	}
	if err := e.store.PutLoginMethod(ctx, lm); err != nil {
		return core.SignInUpResult{}, err
	}
	return e.userResult(ctx, lm, true)
}

func (e *Engine) EmailPasswordSignIn(ctx context.Context, tenantID, email, plaintext string) (core.SignInUpResult, error) {
	wrong := core.SignInUpResult{Status: core.StatusWrongCredentials}
	if strings.TrimSpace(email) == "" {
		return wrong, nil
	}
	existing, err := e.findLoginMethods(ctx, tenantID, user.AccountInfo{Email: email})
	if err != nil {
		return core.SignInUpResult{}, err
	}
	lm, ok := firstOfRecipe(existing, user.RecipeEmailPassword)
	if !ok {
		return wrong, nil
	}
	hash, err := e.store.PasswordHash(ctx, lm.RecipeUserID)
	if err != nil {
		return core.SignInUpResult{}, err
	}
	if len(hash) == 0 {
		return wrong, nil
	}
	ok, err = password.Verify(plaintext, string(hash))
	if err != nil {
		e.log.Warn("stored password hash unusable", logger.RecipeUserID(string(lm.RecipeUserID)), zap.Error(err))
		return wrong, nil
	}
	if !ok {
		return wrong, nil
	}
	if e.hasher.NeedsRehash(string(hash)) {
		e.rehash(ctx, lm.RecipeUserID, plaintext)
	}
	return e.userResult(ctx, lm, false)
}

// rehash replaces a hash made with an outdated algorithm or parameters.
// Failures only cost the upgrade.
func (e *Engine) rehash(ctx context.Context, id user.RecipeUserID, plaintext string) {
	hash, err := e.hasher.Hash(plaintext)
	if err == nil {
		err = e.store.SetPasswordHash(ctx, id, []byte(hash))
	}
	if err != nil {
		e.log.Warn("password rehash failed", logger.RecipeUserID(string(id)), zap.Error(err))
	}
}

// VerifyEmail marks the login method's email as verified. The email must be
// the one currently on the login method.
func (e *Engine) VerifyEmail(ctx context.Context, recipeUserID user.RecipeUserID, email string) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	lm, err := e.store.LoginMethod(ctx, recipeUserID)
	if err != nil {
		return err
	}
	if lm == nil {
		return unknownUser(string(recipeUserID))
	}
	if !lm.HasSameEmailAs(email) {
		return fmt.Errorf("%w: email does not belong to %s", core.ErrInvalidInput, recipeUserID)
	}
	if lm.Verified {
		return nil
	}
	lm.Verified = true
	return e.store.PutLoginMethod(ctx, *lm)
}

func (e *Engine) IsEmailVerified(ctx context.Context, recipeUserID user.RecipeUserID, email string) (bool, error) {
	lm, err := e.store.LoginMethod(ctx, recipeUserID)
	if err != nil {
		return false, err
	}
	if lm == nil {
		return false, unknownUser(string(recipeUserID))
	}
	return lm.Verified && lm.HasSameEmailAs(email), nil
}
