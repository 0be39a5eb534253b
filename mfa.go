package authsdk

import (
	"context"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

type (
	// Refusal is a SIGN_IN_UP_NOT_ALLOWED style answer with its support code.
	Refusal = flows.Refusal
	// SignUpInfo describes the identity about to be created as a secondary
	// factor.
	SignUpInfo = flows.SignUpInfo
)

// FactorCheckInput is the input of ValidateForMultifactorAuthBeforeFactorCompletion.
type FactorCheckInput struct {
	TenantID       string
	FactorID       string
	Session        *Session
	UserLoggingIn  *user.User
	IsAlreadySetup bool
	SignUpInfo     *SignUpInfo
}

// FactorCompletionInput is the input of
// CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion.
type FactorCompletionInput struct {
	TenantID             string
	FactorID             string
	Session              *Session
	User                 *user.User
	RecipeUserID         user.RecipeUserID
	CreatedNewRecipeUser bool
}

// FactorCompletionResult carries the session the factor was recorded in,
// or a refusal when the new login method could not join the session user.
type FactorCompletionResult struct {
	Session *Session
	User    *user.User
	Refusal *Refusal
}

func (e *Engine) mfaReady() error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.mfa == nil {
		return ErrMFADisabled
	}
	return nil
}

// ValidateForMultifactorAuthBeforeFactorCompletion checks, before a recipe
// creates or signs in a login method, that completing FactorID is allowed.
// Without a session FactorID must be a valid first factor of the tenant;
// with one, the factor must belong to the session user or be allowed to be
// set up for it. It returns nil when the factor may proceed.
func (e *Engine) ValidateForMultifactorAuthBeforeFactorCompletion(ctx context.Context, in FactorCheckInput) (*Refusal, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	ctx = core.WithCallCache(e.withRequestLogger(ctx))
	return flows.ValidateForMultifactorAuthBeforeFactorCompletion(ctx, flows.FactorCheckInput{
		TenantID:       in.TenantID,
		FactorID:       in.FactorID,
		Session:        asFlowSession(in.Session),
		UserLoggingIn:  in.UserLoggingIn,
		IsAlreadySetup: in.IsAlreadySetup,
		SignUpInfo:     in.SignUpInfo,
	}, e.flows.SignInUp)
}

// CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion records a
// completed factor. Without a session it creates one for the user; with a
// session it links the factor's login method into the session user when
// needed and marks the factor complete in that session.
func (e *Engine) CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion(ctx context.Context, in FactorCompletionInput) (FactorCompletionResult, error) {
	if err := e.mfaReady(); err != nil {
		return FactorCompletionResult{}, err
	}
	ctx = e.withRequestLogger(ctx)
	out, err := flows.CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion(ctx, flows.FactorCompletionInput{
		TenantID:             in.TenantID,
		FactorID:             in.FactorID,
		Session:              asFlowSession(in.Session),
		User:                 in.User,
		RecipeUserID:         in.RecipeUserID,
		CreatedNewRecipeUser: in.CreatedNewRecipeUser,
	}, e.flows.SignInUp)
	if err != nil {
		return FactorCompletionResult{}, err
	}
	s, err := flowSession(out.Session)
	if err != nil {
		return FactorCompletionResult{}, err
	}
	return FactorCompletionResult{Session: s, User: out.User, Refusal: out.Refusal}, nil
}

// MFAInfo reports the factors set up, allowed to set up and next for the
// session's user, refreshing the session's MFA claim.
func (e *Engine) MFAInfo(ctx context.Context, s *Session) (mfa.Info, error) {
	if err := e.mfaReady(); err != nil {
		return mfa.Info{}, err
	}
	info, err := e.mfa.Info(core.WithCallCache(ctx), s)
	if err != nil {
		return mfa.Info{}, unauthorizedOr(err)
	}
	return info, nil
}

// MarkFactorAsCompleteInSession records factorID in the session's claim.
func (e *Engine) MarkFactorAsCompleteInSession(ctx context.Context, s *Session, factorID string) error {
	if err := e.mfaReady(); err != nil {
		return err
	}
	if err := e.mfa.MarkFactorAsCompleteInSession(core.WithCallCache(ctx), s, factorID); err != nil {
		return unauthorizedOr(err)
	}
	e.metricInc(MetricFactorCompleted)
	e.emitAudit(ctx, AuditEventFactorCompleted, true, s.UserID(), s.TenantID(), s.Handle(), nil, func() map[string]string {
		return map[string]string{"factor_id": factorID}
	})
	return nil
}

// RequiredSecondaryFactorsForUser returns the factors userID must always
// complete after the first factor.
func (e *Engine) RequiredSecondaryFactorsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := e.mfaReady(); err != nil {
		return nil, err
	}
	return e.mfa.Functions().GetRequiredSecondaryFactorsForUser(ctx, userID)
}

func (e *Engine) AddToRequiredSecondaryFactorsForUser(ctx context.Context, userID, factorID string) error {
	if err := e.mfaReady(); err != nil {
		return err
	}
	return e.mfa.Functions().AddToRequiredSecondaryFactorsForUser(ctx, userID, factorID)
}

func (e *Engine) RemoveFromRequiredSecondaryFactorsForUser(ctx context.Context, userID, factorID string) error {
	if err := e.mfaReady(); err != nil {
		return err
	}
	return e.mfa.Functions().RemoveFromRequiredSecondaryFactorsForUser(ctx, userID, factorID)
}

// HasCompletedMFARequirementsForAuth is the validator API handlers pass to
// Session.AssertClaims to require a satisfied MFA claim.
func (e *Engine) HasCompletedMFARequirementsForAuth() (mfa.Validator, error) {
	if err := e.mfaReady(); err != nil {
		return mfa.Validator{}, err
	}
	return e.mfa.Claim().HasCompletedDefaultFactors(""), nil
}
