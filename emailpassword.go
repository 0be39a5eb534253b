package authsdk

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

// EmailPasswordInput is one email/password sign-up or sign-in.
type EmailPasswordInput struct {
	TenantID string
	Email    string
	Password string
	Session  *Session
}

// EmailPasswordSignUpPOST signs up a new email/password user. An email that
// already has an email/password login method in the tenant yields
// EMAIL_ALREADY_EXISTS_ERROR.
func (e *Engine) EmailPasswordSignUpPOST(ctx context.Context, in EmailPasswordInput) (SignInUpResult, error) {
	if err := e.ready(); err != nil {
		return SignInUpResult{}, err
	}
	if err := validateEmailPassword(in); err != nil {
		return SignInUpResult{}, err
	}
	return e.emailPassword.SignUp(ctx, in)
}

// EmailPasswordSignInPOST signs in an email/password user. Unknown emails
// and wrong passwords both yield WRONG_CREDENTIALS_ERROR.
func (e *Engine) EmailPasswordSignInPOST(ctx context.Context, in EmailPasswordInput) (SignInUpResult, error) {
	if err := e.ready(); err != nil {
		return SignInUpResult{}, err
	}
	if err := validateEmailPassword(in); err != nil {
		return SignInUpResult{}, err
	}
	return e.emailPassword.SignIn(ctx, in)
}

func validateEmailPassword(in EmailPasswordInput) error {
	if user.NormalizeEmail(in.Email) == "" {
		return fmt.Errorf("%w: email is required", core.ErrInvalidInput)
	}
	if in.Password == "" {
		return fmt.Errorf("%w: password is required", core.ErrInvalidInput)
	}
	return nil
}

func (e *Engine) emailPasswordSignUp(ctx context.Context, in EmailPasswordInput) (SignInUpResult, error) {
	return e.runSignInUp(ctx, e.emailPasswordFlow(flows.ModeSignUp, in))
}

func (e *Engine) emailPasswordSignIn(ctx context.Context, in EmailPasswordInput) (SignInUpResult, error) {
	return e.runSignInUp(ctx, e.emailPasswordFlow(flows.ModeSignIn, in))
}

func (e *Engine) emailPasswordFlow(mode flows.Mode, in EmailPasswordInput) flows.SignInUpInput {
	email := user.NormalizeEmail(in.Email)
	info := user.AccountInfo{Email: email}
	return flows.SignInUpInput{
		TenantID:    in.TenantID,
		FactorID:    mfa.FactorEmailPassword,
		Mode:        mode,
		AccountInfo: info,
		Session:     asFlowSession(in.Session),
		Codes: flows.RefusalCodes{
			SignUp: flows.CodeEmailPasswordSignUpNotAllowed,
			SignIn: flows.CodeEmailPasswordSignInNotAllowed,
		},
		Ops: flows.RecipeOps{
			Existing: e.existing(in.TenantID, user.RecipeEmailPassword, info),
			SignIn: func(ctx context.Context) (core.SignInUpResult, error) {
				return e.core.EmailPasswordSignIn(ctx, in.TenantID, email, in.Password)
			},
			SignUp: func(ctx context.Context) (core.SignInUpResult, error) {
				return e.core.EmailPasswordSignUp(ctx, in.TenantID, email, in.Password)
			},
		},
	}
}
