package authsdk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

// ProviderInput is what the frontend posts after an OAuth redirect. The
// resolver decides which fields it needs.
type ProviderInput struct {
	Code             string         `json:"code,omitempty"`
	RedirectURI      string         `json:"redirectURI,omitempty"`
	PKCECodeVerifier string         `json:"pkceCodeVerifier,omitempty"`
	OAuthTokens      map[string]any `json:"oAuthTokens,omitempty"`
}

// ProviderUser is the identity a provider vouches for.
type ProviderUser struct {
	ThirdPartyUserID string
	Email            string
	// EmailVerified is true when the provider asserts the user owns Email.
	EmailVerified bool
}

// ProviderResolver exchanges a ProviderInput for the provider's user.
// Token exchange and user-info calls are the resolver's business.
type ProviderResolver interface {
	ResolveUser(ctx context.Context, tenantID string, in ProviderInput) (ProviderUser, error)
}

// ProviderResolverFunc adapts a function to ProviderResolver.
type ProviderResolverFunc func(ctx context.Context, tenantID string, in ProviderInput) (ProviderUser, error)

func (f ProviderResolverFunc) ResolveUser(ctx context.Context, tenantID string, in ProviderInput) (ProviderUser, error) {
	return f(ctx, tenantID, in)
}

// ThirdPartySignInUpInput is one third-party sign-in/up after the provider
// resolved the user.
type ThirdPartySignInUpInput struct {
	TenantID         string
	ThirdPartyID     string
	ThirdPartyUserID string
	Email            string
	IsVerified       bool
	Session          *Session
}

// ThirdPartySignInUpPOST resolves the provider user behind in and signs it
// in or up. s is the caller's session, if any; with MFA enabled a session
// turns the request into a secondary factor for the session's user.
func (e *Engine) ThirdPartySignInUpPOST(ctx context.Context, tenantID, thirdPartyID string, in ProviderInput, s *Session) (SignInUpResult, error) {
	if err := e.ready(); err != nil {
		return SignInUpResult{}, err
	}
	resolver, ok := e.providers[thirdPartyID]
	if !ok {
		return SignInUpResult{}, fmt.Errorf("%w: %q", ErrUnknownProvider, thirdPartyID)
	}
	pu, err := resolver.ResolveUser(ctx, tenantID, in)
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			return SignInUpResult{}, err
		}
		return SignInUpResult{}, fmt.Errorf("%w: %w", ErrProviderRejected, err)
	}
	if strings.TrimSpace(pu.ThirdPartyUserID) == "" {
		return SignInUpResult{}, fmt.Errorf("%w: provider returned no user id", ErrProviderRejected)
	}
	return e.thirdParty.SignInUp(ctx, ThirdPartySignInUpInput{
		TenantID:         tenantID,
		ThirdPartyID:     thirdPartyID,
		ThirdPartyUserID: pu.ThirdPartyUserID,
		Email:            pu.Email,
		IsVerified:       pu.EmailVerified,
		Session:          s,
	})
}

// ThirdPartySignInUp runs the (possibly overridden) third-party recipe
// without a provider round trip.
func (e *Engine) ThirdPartySignInUp(ctx context.Context, in ThirdPartySignInUpInput) (SignInUpResult, error) {
	if err := e.ready(); err != nil {
		return SignInUpResult{}, err
	}
	return e.thirdParty.SignInUp(ctx, in)
}

func (e *Engine) thirdPartySignInUp(ctx context.Context, in ThirdPartySignInUpInput) (SignInUpResult, error) {
	tp := &user.ThirdPartyInfo{ID: in.ThirdPartyID, UserID: in.ThirdPartyUserID}
	email := user.NormalizeEmail(in.Email)
	signInUp := func(ctx context.Context) (core.SignInUpResult, error) {
		return e.core.ThirdPartySignInUp(ctx, in.TenantID, tp.ID, tp.UserID, email, in.IsVerified)
	}
	return e.runSignInUp(ctx, flows.SignInUpInput{
		TenantID:    in.TenantID,
		FactorID:    mfa.FactorThirdParty,
		Mode:        flows.ModeSignInUp,
		AccountInfo: user.AccountInfo{Email: email, ThirdParty: tp},
		IsVerified:  in.IsVerified,
		Session:     asFlowSession(in.Session),
		Codes: flows.RefusalCodes{
			SignUp:      flows.CodeThirdPartySignUpNotAllowed,
			SignIn:      flows.CodeThirdPartySignInNotAllowed,
			EmailChange: flows.CodeThirdPartyEmailChange,
		},
		Ops: flows.RecipeOps{
			Existing: e.existing(in.TenantID, user.RecipeThirdParty, user.AccountInfo{ThirdParty: tp}),
			SignIn:   signInUp,
			SignUp:   signInUp,
		},
	})
}
