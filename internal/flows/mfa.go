package flows

import (
	"context"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

// SignUpInfo describes the identity about to be created as a new factor.
type SignUpInfo struct {
	Email            string
	IsVerifiedFactor bool
}

// FactorCheckInput is the input of ValidateForMultifactorAuthBeforeFactorCompletion.
type FactorCheckInput struct {
	TenantID string
	FactorID string
	// Session is nil for a first factor.
	Session Session
	// UserLoggingIn is the user already holding the factor, if any.
	UserLoggingIn  *user.User
	IsAlreadySetup bool
	SignUpInfo     *SignUpInfo
}

// ValidateForMultifactorAuthBeforeFactorCompletion checks that completing
// FactorID is acceptable before any recipe state changes. It returns nil
// when the factor may proceed.
func ValidateForMultifactorAuthBeforeFactorCompletion(ctx context.Context, in FactorCheckInput, deps SignInUpDeps) (*Refusal, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	return validateBeforeFactorCompletion(ctx, &deps, in)
}

func validateBeforeFactorCompletion(ctx context.Context, d *SignInUpDeps, in FactorCheckInput) (*Refusal, error) {
	if !d.MFA.Enabled {
		return nil, nil
	}
	if in.Session == nil {
		ok, err := d.MFA.IsValidFirstFactor(ctx, in.TenantID, in.FactorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return refuse(StatusDisallowedFirstFactor, CodeInvalidFirstFactor), nil
		}
		return nil, nil
	}

	sessUser, err := sessionUser(ctx, &d.Linking, in.Session)
	if err != nil {
		return nil, err
	}
	if in.UserLoggingIn != nil && in.UserLoggingIn.ID != sessUser.ID {
		return refuse(StatusFactorSetupNotAllowed, CodeFactorUserMismatch), nil
	}
	if in.IsAlreadySetup {
		return nil, nil
	}

	if in.SignUpInfo != nil && in.SignUpInfo.Email != "" {
		email := in.SignUpInfo.Email
		if !in.SignUpInfo.IsVerifiedFactor && !hasVerifiedEmail(sessUser, email) {
			return refuse(StatusFactorSetupNotAllowed, CodeSessionUserEmailNotVerified), nil
		}
		owners, err := d.Linking.Core.ListUsersByAccountInfo(ctx, in.TenantID, user.AccountInfo{Email: email}, false)
		if err != nil {
			return nil, err
		}
		for _, o := range owners {
			if o.IsPrimaryUser && o.ID != sessUser.ID {
				return refuse(StatusFactorSetupNotAllowed, CodeLinkAccountInfoConflict), nil
			}
		}
	}

	ok, err := d.MFA.IsAllowedToSetupFactor(ctx, in.Session, in.FactorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return refuse(StatusFactorSetupNotAllowed, CodeFactorSetupNotAllowed), nil
	}
	return nil, nil
}

func hasVerifiedEmail(u *user.User, email string) bool {
	for _, lm := range u.LoginMethods {
		if lm.Verified && lm.HasSameEmailAs(email) {
			return true
		}
	}
	return false
}

func sessionUser(ctx context.Context, d *LinkingDeps, s Session) (*user.User, error) {
	u, err := d.Core.GetUser(ctx, s.UserID())
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, d.unauthorized()
	}
	return u, nil
}

// FactorCompletionInput is the input of
// CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion.
type FactorCompletionInput struct {
	TenantID string
	FactorID string
	// Session is nil for a first factor; a new session is created then.
	Session              Session
	User                 *user.User
	RecipeUserID         user.RecipeUserID
	CreatedNewRecipeUser bool
}

// FactorCompletionResult is the session and user after factor completion.
// Refusal is set when the new login method could not join the session user.
type FactorCompletionResult struct {
	Session Session
	User    *user.User
	Refusal *Refusal
}

// CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion finishes a
// factor: without a session it creates one for the user, with a session it
// links the login method to the session user when it is not part of it yet.
// The factor is then marked complete in the session.
func CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion(ctx context.Context, in FactorCompletionInput, deps SignInUpDeps) (FactorCompletionResult, error) {
	if err := deps.normalize(); err != nil {
		return FactorCompletionResult{}, err
	}
	ctx = core.WithCallCache(ctx)
	var st linkState
	return runWithRestarts(ctx, &deps.Linking, "factorCompletion", func(int) (FactorCompletionResult, *restart, error) {
		return afterFactorCompletion(ctx, &deps, in, &st)
	})
}

func afterFactorCompletion(ctx context.Context, d *SignInUpDeps, in FactorCompletionInput, st *linkState) (FactorCompletionResult, *restart, error) {
	if in.Session == nil {
		s, err := d.CreateNewSession(ctx, in.User, in.RecipeUserID, in.TenantID)
		if err != nil {
			return FactorCompletionResult{}, nil, err
		}
		d.Linking.MetricInc(d.Metrics.SessionCreated)
		if err := markFactorComplete(ctx, d, s, in.FactorID); err != nil {
			return FactorCompletionResult{}, nil, err
		}
		return FactorCompletionResult{Session: s, User: in.User}, nil, nil
	}

	u, refusal, again, err := linkToSessionUser(ctx, d, in.TenantID, in.RecipeUserID, in.Session, st)
	if err != nil || again != nil || refusal != nil {
		return FactorCompletionResult{Refusal: refusal}, again, err
	}
	if err := markFactorComplete(ctx, d, in.Session, in.FactorID); err != nil {
		return FactorCompletionResult{}, nil, err
	}
	return FactorCompletionResult{Session: in.Session, User: u}, nil, nil
}

func markFactorComplete(ctx context.Context, d *SignInUpDeps, s Session, factorID string) error {
	if !d.MFA.Enabled {
		return nil
	}
	if err := d.MFA.MarkFactorAsCompleteInSession(ctx, s, factorID); err != nil {
		return err
	}
	d.Linking.MetricInc(d.Metrics.FactorCompleted)
	d.Linking.EmitAudit(ctx, d.Events.FactorCompleted, true, s.UserID(), s.TenantID(), nil, func() map[string]string {
		return map[string]string{"factor_id": factorID}
	})
	return nil
}

// linkState survives restarts of one operation.
type linkState struct {
	// conflictingPrimary is the primary user that blocked making the
	// session user primary on the previous attempt.
	conflictingPrimary string
}

// linkToSessionUser links recipeUserID into the session's user, making the
// session user primary first when needed.
func linkToSessionUser(ctx context.Context, d *SignInUpDeps, tenantID string, recipeUserID user.RecipeUserID, s Session, st *linkState) (*user.User, *Refusal, *restart, error) {
	sessUser, err := sessionUser(ctx, &d.Linking, s)
	if err != nil {
		return nil, nil, nil, err
	}
	if sessUser.HasLoginMethod(recipeUserID) {
		return sessUser, nil, nil, nil
	}
	log := logger.From(ctx, d.Linking.Log)

	primaryID := sessUser.ID
	if !sessUser.IsPrimaryUser {
		res, err := d.Linking.Core.CreatePrimaryUser(ctx, sessUser.LoginMethods[0].RecipeUserID)
		if err != nil {
			return nil, nil, nil, err
		}
		switch res.Status {
		case core.StatusOK:
			primaryID = res.User.ID
			d.Linking.MetricInc(d.Linking.Metrics.PrimaryUserCreated)
			d.Linking.EmitAudit(ctx, d.Linking.Events.PrimaryUserCreated, true, primaryID, tenantID, nil, nil)
		case core.StatusAccountInfoAlreadyAssociatedWithAnotherPrimary:
			if res.PrimaryUserID == st.conflictingPrimary {
				log.Info("session user cannot become primary",
					logger.UserID(sessUser.ID),
					logger.PrimaryUserID(res.PrimaryUserID),
					logger.ErrorCode(CodeSessionUserAccountInfoTaken),
				)
				return nil, refuse(StatusSignInUpNotAllowed, CodeSessionUserAccountInfoTaken), nil, nil
			}
			st.conflictingPrimary = res.PrimaryUserID
			return nil, nil, &restart{step: "createPrimaryUser", status: res.Status}, nil
		default:
			return nil, nil, &restart{step: "createPrimaryUser", status: res.Status}, nil
		}
	}

	res, err := d.Linking.Core.LinkAccounts(ctx, recipeUserID, primaryID)
	if err != nil {
		return nil, nil, nil, err
	}
	switch res.Status {
	case core.StatusOK:
		d.Linking.MetricInc(d.Linking.Metrics.AccountsLinked)
		d.Linking.EmitAudit(ctx, d.Linking.Events.AccountsLinked, true, res.User.ID, tenantID, nil, func() map[string]string {
			return map[string]string{"recipe_user_id": recipeUserID.String()}
		})
		return res.User, nil, nil, nil
	case core.StatusInputUserIsNotAPrimaryUser:
		return nil, nil, &restart{step: "linkAccounts", status: res.Status}, nil
	case core.StatusRecipeUserIDAlreadyLinkedWithAnotherPrimary:
		log.Info("login method linked elsewhere", logger.RecipeUserID(recipeUserID.String()), logger.ErrorCode(CodeLinkAlreadyLinked))
		return nil, refuse(StatusSignInUpNotAllowed, CodeLinkAlreadyLinked), nil, nil
	default:
		log.Info("login method conflicts with another primary user", logger.RecipeUserID(recipeUserID.String()), logger.ErrorCode(CodeLinkAccountInfoConflict))
		return nil, refuse(StatusSignInUpNotAllowed, CodeLinkAccountInfoConflict), nil, nil
	}
}
