package authsdk

import (
	"context"

	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

type (
	// AutoLinkDecision is the answer of the automatic account linking policy.
	AutoLinkDecision = flows.AutoLinkDecision
	// ShouldDoAutomaticAccountLinkingFunc decides whether newAccount may be
	// linked into candidate, the primary user it would join (nil when none
	// exists yet). s is the request's session and may be nil.
	ShouldDoAutomaticAccountLinkingFunc = flows.ShouldDoAutomaticAccountLinkingFunc
)

// ThirdPartyFunctions is the overridable third-party recipe.
type ThirdPartyFunctions struct {
	SignInUp func(ctx context.Context, in ThirdPartySignInUpInput) (SignInUpResult, error)
}

// EmailPasswordFunctions is the overridable email/password recipe.
type EmailPasswordFunctions struct {
	SignUp func(ctx context.Context, in EmailPasswordInput) (SignInUpResult, error)
	SignIn func(ctx context.Context, in EmailPasswordInput) (SignInUpResult, error)
}

// AccountLinkingFunctions is the overridable account linking policy.
type AccountLinkingFunctions struct {
	ShouldDoAutomaticAccountLinking ShouldDoAutomaticAccountLinkingFunc
}

// Overrides decorate recipe functions once, at Build. Each override gets
// the default implementation and returns the one to use; it may call the
// original.
type Overrides struct {
	ThirdParty     func(original ThirdPartyFunctions) ThirdPartyFunctions
	EmailPassword  func(original EmailPasswordFunctions) EmailPasswordFunctions
	AccountLinking func(original AccountLinkingFunctions) AccountLinkingFunctions
	MFA            mfa.Override
}

// defaultAccountLinking turns AccountLinkingConfig into a policy that gives
// every request the same answer.
func defaultAccountLinking(cfg AccountLinkingConfig) AccountLinkingFunctions {
	decision := AutoLinkDecision{
		ShouldAutomaticallyLink:   cfg.Enabled && cfg.ShouldAutomaticallyLink,
		ShouldRequireVerification: cfg.ShouldRequireVerification,
	}
	return AccountLinkingFunctions{
		ShouldDoAutomaticAccountLinking: func(context.Context, user.AccountInfo, *user.User, mfa.Session, string) (AutoLinkDecision, error) {
			return decision, nil
		},
	}
}

func (e *Engine) applyOverrides(o Overrides) {
	e.thirdParty = ThirdPartyFunctions{SignInUp: e.thirdPartySignInUp}
	e.emailPassword = EmailPasswordFunctions{SignUp: e.emailPasswordSignUp, SignIn: e.emailPasswordSignIn}
	e.accountLinking = defaultAccountLinking(e.config.AccountLinking)

	if o.ThirdParty != nil {
		e.thirdParty = o.ThirdParty(e.thirdParty)
	}
	if o.EmailPassword != nil {
		e.emailPassword = o.EmailPassword(e.emailPassword)
	}
	if o.AccountLinking != nil {
		e.accountLinking = o.AccountLinking(e.accountLinking)
	}
}
