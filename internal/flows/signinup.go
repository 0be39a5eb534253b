package flows

import (
	"context"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

// Mode tells the state machine how the request treats an existing identity.
type Mode uint8

const (
	// ModeSignInUp signs in when the identity exists and signs up otherwise.
	ModeSignInUp Mode = iota
	// ModeSignUp refuses an identity that already exists.
	ModeSignUp
	// ModeSignIn refuses an identity that does not exist.
	ModeSignIn
)

// RecipeOps are the recipe primitives behind one sign-in/up request.
type RecipeOps struct {
	// Existing returns the user and login method already holding the
	// identity, or nils when there is none.
	Existing func(ctx context.Context) (*user.User, *user.LoginMethod, error)
	SignIn   func(ctx context.Context) (core.SignInUpResult, error)
	SignUp   func(ctx context.Context) (core.SignInUpResult, error)
}

// RefusalCodes are the recipe-specific support codes of a request.
type RefusalCodes struct {
	SignUp      string
	SignIn      string
	EmailChange string
}

// SignInUpInput describes one sign-in/up request.
type SignInUpInput struct {
	TenantID    string
	FactorID    string
	Mode        Mode
	AccountInfo user.AccountInfo
	// IsVerified is true when the request itself proves ownership of the
	// email, such as a provider-verified email.
	IsVerified bool
	Session    Session
	Codes      RefusalCodes
	Ops        RecipeOps
}

// SignInUpResult is the outcome of RunSignInUp.
type SignInUpResult struct {
	Status               Status
	User                 *user.User
	RecipeUserID         user.RecipeUserID
	CreatedNewRecipeUser bool
	Session              Session
	Reason               string
	ErrorCode            string
}

type signInUpState struct {
	created user.RecipeUserID
	link    linkState
}

// RunSignInUp executes the sign-in/up state machine. Without multi-factor
// auth, or without a session, the request is a first factor: it signs in or
// up, applies automatic account linking and creates a session. With a
// session it completes a secondary factor for the session's user, linking
// a new login method into that user.
func RunSignInUp(ctx context.Context, in SignInUpInput, deps SignInUpDeps) (SignInUpResult, error) {
	if err := deps.normalize(); err != nil {
		return SignInUpResult{}, err
	}
	if in.Ops.Existing == nil || in.Ops.SignIn == nil || in.Ops.SignUp == nil {
		return SignInUpResult{}, deps.Linking.notReady()
	}
	if in.AccountInfo.IsEmpty() {
		return SignInUpResult{}, core.ErrInvalidInput
	}
	ctx = core.WithCallCache(ctx)
	var st signInUpState
	return runWithRestarts(ctx, &deps.Linking, "signInUp", func(int) (SignInUpResult, *restart, error) {
		return signInUpOnce(ctx, &in, &deps, &st)
	})
}

func signInUpOnce(ctx context.Context, in *SignInUpInput, d *SignInUpDeps, st *signInUpState) (SignInUpResult, *restart, error) {
	existingUser, existingLM, err := in.Ops.Existing(ctx)
	if err != nil {
		return SignInUpResult{}, nil, err
	}
	ours := existingLM != nil && existingLM.RecipeUserID == st.created
	switch {
	case in.Mode == ModeSignUp && existingLM != nil && !ours:
		return SignInUpResult{Status: StatusEmailAlreadyExists}, nil, nil
	case in.Mode == ModeSignIn && existingLM == nil:
		return SignInUpResult{Status: StatusWrongCredentials}, nil, nil
	}

	if !d.MFA.Enabled || in.Session == nil {
		return firstFactor(ctx, in, d, st, existingUser, existingLM)
	}
	return secondFactor(ctx, in, d, st, existingUser, existingLM)
}

func firstFactor(ctx context.Context, in *SignInUpInput, d *SignInUpDeps, st *signInUpState, existingUser *user.User, existingLM *user.LoginMethod) (SignInUpResult, *restart, error) {
	if d.MFA.Enabled {
		refusal, err := validateBeforeFactorCompletion(ctx, d, FactorCheckInput{
			TenantID: in.TenantID,
			FactorID: in.FactorID,
		})
		if err != nil {
			return SignInUpResult{}, nil, err
		}
		if refusal != nil {
			return notAllowed(ctx, in, d, refusal.ErrorCode), nil, nil
		}
	}

	isSignUp := existingLM == nil
	var res core.SignInUpResult
	if isSignUp {
		ok, err := isSignInUpAllowed(ctx, &d.Linking, in.TenantID, in.AccountInfo, in.IsVerified, in.Session, nil)
		if err != nil {
			return SignInUpResult{}, nil, err
		}
		if !ok {
			return notAllowed(ctx, in, d, in.Codes.SignUp), nil, nil
		}
		if res, err = in.Ops.SignUp(ctx); err != nil {
			return SignInUpResult{}, nil, err
		}
	} else {
		ok, err := isSignInAllowed(ctx, &d.Linking, in.TenantID, existingUser, existingLM.RecipeUserID, in.IsVerified, in.Session)
		if err != nil {
			return SignInUpResult{}, nil, err
		}
		if !ok {
			return notAllowed(ctx, in, d, in.Codes.SignIn), nil, nil
		}
		if res, err = in.Ops.SignIn(ctx); err != nil {
			return SignInUpResult{}, nil, err
		}
	}
	if !res.Status.OK() {
		return recipeStatus(ctx, in, d, res), nil, nil
	}
	if res.CreatedNewRecipeUser {
		st.created = res.RecipeUserID
	}

	u, err := createPrimaryUserIDOrLinkAccounts(ctx, &d.Linking, in.TenantID, res.RecipeUserID, in.Session)
	if err != nil {
		return SignInUpResult{}, nil, err
	}

	s := in.Session
	if s == nil || d.OverwriteSessionDuringSignInUp {
		out, again, err := afterFactorCompletion(ctx, d, FactorCompletionInput{
			TenantID:     in.TenantID,
			FactorID:     in.FactorID,
			User:         u,
			RecipeUserID: res.RecipeUserID,
		}, &st.link)
		if err != nil || again != nil {
			return SignInUpResult{}, again, err
		}
		s = out.Session
	}
	return succeeded(ctx, in, d, st, u, res.RecipeUserID, s, isSignUp), nil, nil
}

func secondFactor(ctx context.Context, in *SignInUpInput, d *SignInUpDeps, st *signInUpState, existingUser *user.User, existingLM *user.LoginMethod) (SignInUpResult, *restart, error) {
	sessUser, err := sessionUser(ctx, &d.Linking, in.Session)
	if err != nil {
		return SignInUpResult{}, nil, err
	}

	if existingLM != nil && sessUser.HasLoginMethod(existingLM.RecipeUserID) {
		refusal, err := validateBeforeFactorCompletion(ctx, d, FactorCheckInput{
			TenantID:       in.TenantID,
			FactorID:       in.FactorID,
			Session:        in.Session,
			UserLoggingIn:  existingUser,
			IsAlreadySetup: true,
		})
		if err != nil {
			return SignInUpResult{}, nil, err
		}
		if refusal != nil {
			return notAllowed(ctx, in, d, refusal.ErrorCode), nil, nil
		}
		res, err := in.Ops.SignIn(ctx)
		if err != nil {
			return SignInUpResult{}, nil, err
		}
		if !res.Status.OK() {
			return recipeStatus(ctx, in, d, res), nil, nil
		}
		if res.User == nil || res.User.ID != sessUser.ID {
			return notAllowed(ctx, in, d, CodeFactorUserMismatch), nil, nil
		}
		if err := markFactorComplete(ctx, d, in.Session, in.FactorID); err != nil {
			return SignInUpResult{}, nil, err
		}
		return succeeded(ctx, in, d, st, res.User, res.RecipeUserID, in.Session, false), nil, nil
	}

	if existingUser != nil && existingUser.IsPrimaryUser {
		return notAllowed(ctx, in, d, CodeFactorUserMismatch), nil, nil
	}

	// The identity is new, or a standalone recipe user that joins the
	// session user as a new factor.
	verified := in.IsVerified || (existingLM != nil && existingLM.Verified)
	refusal, err := validateBeforeFactorCompletion(ctx, d, FactorCheckInput{
		TenantID:   in.TenantID,
		FactorID:   in.FactorID,
		Session:    in.Session,
		SignUpInfo: &SignUpInfo{Email: in.AccountInfo.Email, IsVerifiedFactor: verified},
	})
	if err != nil {
		return SignInUpResult{}, nil, err
	}
	if refusal != nil {
		return notAllowed(ctx, in, d, refusal.ErrorCode), nil, nil
	}
	if !sessUser.IsPrimaryUser {
		check, err := d.Linking.Core.CanCreatePrimaryUser(ctx, sessUser.LoginMethods[0].RecipeUserID)
		if err != nil {
			return SignInUpResult{}, nil, err
		}
		switch check.Status {
		case core.StatusOK:
		case core.StatusAccountInfoAlreadyAssociatedWithAnotherPrimary:
			return notAllowed(ctx, in, d, CodeSessionUserAccountInfoTaken), nil, nil
		default:
			return SignInUpResult{}, &restart{step: "canCreatePrimaryUser", status: check.Status}, nil
		}
	}

	var res core.SignInUpResult
	if existingLM == nil {
		res, err = in.Ops.SignUp(ctx)
	} else {
		res, err = in.Ops.SignIn(ctx)
	}
	if err != nil {
		return SignInUpResult{}, nil, err
	}
	if !res.Status.OK() {
		return recipeStatus(ctx, in, d, res), nil, nil
	}
	if res.CreatedNewRecipeUser {
		st.created = res.RecipeUserID
	}

	out, again, err := afterFactorCompletion(ctx, d, FactorCompletionInput{
		TenantID:             in.TenantID,
		FactorID:             in.FactorID,
		Session:              in.Session,
		User:                 res.User,
		RecipeUserID:         res.RecipeUserID,
		CreatedNewRecipeUser: res.CreatedNewRecipeUser,
	}, &st.link)
	if err != nil || again != nil {
		return SignInUpResult{}, again, err
	}
	if out.Refusal != nil {
		return notAllowed(ctx, in, d, out.Refusal.ErrorCode), nil, nil
	}
	return succeeded(ctx, in, d, st, out.User, res.RecipeUserID, in.Session, existingLM == nil || res.RecipeUserID == st.created), nil, nil
}

func recipeStatus(ctx context.Context, in *SignInUpInput, d *SignInUpDeps, res core.SignInUpResult) SignInUpResult {
	if res.Status == core.StatusEmailChangeNotAllowed {
		return notAllowed(ctx, in, d, in.Codes.EmailChange)
	}
	return SignInUpResult{Status: Status(res.Status)}
}

func notAllowed(ctx context.Context, in *SignInUpInput, d *SignInUpDeps, code string) SignInUpResult {
	logger.From(ctx, d.Linking.Log).Info("sign in/up not allowed",
		logger.TenantID(in.TenantID),
		logger.FactorID(in.FactorID),
		logger.ErrorCode(code),
	)
	d.Linking.MetricInc(d.Metrics.NotAllowed)
	d.Linking.EmitAudit(ctx, d.Events.NotAllowed, false, "", in.TenantID, nil, func() map[string]string {
		return map[string]string{"factor_id": in.FactorID, "error_code": code}
	})
	return SignInUpResult{Status: StatusSignInUpNotAllowed, Reason: Reason(code), ErrorCode: code}
}

func succeeded(ctx context.Context, in *SignInUpInput, d *SignInUpDeps, st *signInUpState, u *user.User, recipeUserID user.RecipeUserID, s Session, isSignUp bool) SignInUpResult {
	metric, event := d.Metrics.SignInSuccess, d.Events.SignIn
	if isSignUp {
		metric, event = d.Metrics.SignUpSuccess, d.Events.SignUp
	}
	d.Linking.MetricInc(metric)
	d.Linking.EmitAudit(ctx, event, true, u.ID, in.TenantID, nil, func() map[string]string {
		return map[string]string{"factor_id": in.FactorID, "recipe_user_id": recipeUserID.String()}
	})
	return SignInUpResult{
		Status:               StatusOK,
		User:                 u,
		RecipeUserID:         recipeUserID,
		CreatedNewRecipeUser: st.created != "" && st.created == recipeUserID,
		Session:              s,
	}
}

// FindLoginMethod returns the user and login method of recipeID that match
// every field of info in tenantID, or nils when there is none.
func FindLoginMethod(ctx context.Context, c core.Client, tenantID string, recipeID user.RecipeID, info user.AccountInfo) (*user.User, *user.LoginMethod, error) {
	users, err := c.ListUsersByAccountInfo(ctx, tenantID, info, false)
	if err != nil {
		return nil, nil, err
	}
	for i := range users {
		for j := range users[i].LoginMethods {
			lm := users[i].LoginMethods[j]
			if lm.RecipeID == recipeID && lm.InTenant(tenantID) && lm.MatchesAll(info) {
				return &users[i], &lm, nil
			}
		}
	}
	return nil, nil, nil
}
