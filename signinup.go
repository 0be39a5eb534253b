package authsdk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/user"
)

// Status is the outcome of a sign-in/up request. Non-OK statuses are
// answers, not errors.
type Status = flows.Status

const (
	StatusOK                    = flows.StatusOK
	StatusSignInUpNotAllowed    = flows.StatusSignInUpNotAllowed
	StatusDisallowedFirstFactor = flows.StatusDisallowedFirstFactor
	StatusFactorSetupNotAllowed = flows.StatusFactorSetupNotAllowed
	StatusEmailAlreadyExists    = flows.StatusEmailAlreadyExists
	StatusWrongCredentials      = flows.StatusWrongCredentials
)

// SignInUpResult is returned by every sign-in/up entry point. Reason and
// ErrorCode are set for SIGN_IN_UP_NOT_ALLOWED.
type SignInUpResult struct {
	Status               Status
	User                 *user.User
	RecipeUserID         user.RecipeUserID
	CreatedNewRecipeUser bool
	Session              *Session
	Reason               string
	ErrorCode            string
}

// runSignInUp runs the flows state machine and converts its result.
func (e *Engine) runSignInUp(ctx context.Context, in flows.SignInUpInput) (SignInUpResult, error) {
	if err := e.ready(); err != nil {
		return SignInUpResult{}, err
	}
	if err := e.checkTenant(ctx, in.TenantID); err != nil {
		return SignInUpResult{}, err
	}
	ctx = e.withRequestLogger(ctx)
	start := time.Now()
	defer func() { e.metrics.Observe(MetricSignInUpLatency, time.Since(start)) }()

	out, err := flows.RunSignInUp(ctx, in, e.flows.SignInUp)
	if err != nil {
		logger.From(ctx, e.log).Warn("sign in/up failed",
			logger.TenantID(in.TenantID),
			logger.FactorID(in.FactorID),
			zap.Error(err),
		)
		return SignInUpResult{}, err
	}
	s, err := flowSession(out.Session)
	if err != nil {
		return SignInUpResult{}, err
	}
	return SignInUpResult{
		Status:               out.Status,
		User:                 out.User,
		RecipeUserID:         out.RecipeUserID,
		CreatedNewRecipeUser: out.CreatedNewRecipeUser,
		Session:              s,
		Reason:               out.Reason,
		ErrorCode:            out.ErrorCode,
	}, nil
}

// existing returns the login method of recipeID already holding info.
func (e *Engine) existing(tenantID string, recipeID user.RecipeID, info user.AccountInfo) func(context.Context) (*user.User, *user.LoginMethod, error) {
	return func(ctx context.Context) (*user.User, *user.LoginMethod, error) {
		return flows.FindLoginMethod(ctx, e.core, tenantID, recipeID, info)
	}
}
