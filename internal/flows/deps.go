package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/internal/logger"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

// Session is the authenticated session a flow may read and update.
type Session = mfa.Session

// AutoLinkDecision is the answer of the automatic account linking policy.
type AutoLinkDecision struct {
	ShouldAutomaticallyLink   bool
	ShouldRequireVerification bool
}

// ShouldDoAutomaticAccountLinkingFunc decides whether newAccount may be
// linked to candidate. candidate is nil when no primary user exists yet.
type ShouldDoAutomaticAccountLinkingFunc func(ctx context.Context, newAccount user.AccountInfo, candidate *user.User, s Session, tenantID string) (AutoLinkDecision, error)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow.
type Deps struct {
	Linking  LinkingDeps
	SignInUp SignInUpDeps
}

// LinkingMetrics carries metric IDs used by linking flows.
type LinkingMetrics struct {
	PrimaryUserCreated int
	AccountsLinked     int
	LinkDeferred       int
	RaceRestart        int
}

// LinkingEvents carries audit event names used by linking flows.
type LinkingEvents struct {
	PrimaryUserCreated string
	AccountsLinked     string
	LinkDeferred       string
	RaceRestart        string
}

// LinkingDeps captures automatic account linking dependencies.
type LinkingDeps struct {
	Core                            core.Client
	ShouldDoAutomaticAccountLinking ShouldDoAutomaticAccountLinkingFunc

	Log       *zap.Logger
	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID, tenantID string, err error, attrs func() map[string]string)

	Metrics LinkingMetrics
	Events  LinkingEvents
	Errors  CommonErrors
}

// CommonErrors carries host-level sentinel errors shared by every flow.
type CommonErrors struct {
	EngineNotReady error
	Unauthorized   error
}

// MFADeps are the multi-factor hooks used around factor completion.
// Enabled is false when the host did not configure multi-factor auth.
type MFADeps struct {
	Enabled                       bool
	IsValidFirstFactor            func(ctx context.Context, tenantID, factorID string) (bool, error)
	IsAllowedToSetupFactor        func(ctx context.Context, s Session, factorID string) (bool, error)
	MarkFactorAsCompleteInSession func(ctx context.Context, s Session, factorID string) error
}

// SignInUpMetrics carries metric IDs used by the sign-in/up flow.
type SignInUpMetrics struct {
	SignInSuccess   int
	SignUpSuccess   int
	NotAllowed      int
	SessionCreated  int
	FactorCompleted int
	RaceRestart     int
}

// SignInUpEvents carries audit event names used by the sign-in/up flow.
type SignInUpEvents struct {
	SignIn          string
	SignUp          string
	NotAllowed      string
	FactorCompleted string
	RaceRestart     string
}

// SignInUpDeps captures sign-in/up and factor completion dependencies.
type SignInUpDeps struct {
	OverwriteSessionDuringSignInUp bool

	Linking LinkingDeps
	MFA     MFADeps

	CreateNewSession func(ctx context.Context, u *user.User, recipeUserID user.RecipeUserID, tenantID string) (Session, error)

	Metrics SignInUpMetrics
	Events  SignInUpEvents
}

var errMissingDeps = errors.New("flows: dependencies not configured")

func (d *LinkingDeps) normalize() error {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if d.ShouldDoAutomaticAccountLinking == nil {
		d.ShouldDoAutomaticAccountLinking = func(context.Context, user.AccountInfo, *user.User, Session, string) (AutoLinkDecision, error) {
			return AutoLinkDecision{}, nil
		}
	}
	if d.Core == nil {
		return d.notReady()
	}
	return nil
}

func (d *LinkingDeps) notReady() error {
	if d.Errors.EngineNotReady != nil {
		return d.Errors.EngineNotReady
	}
	return errMissingDeps
}

func (d *LinkingDeps) unauthorized() error {
	if d.Errors.Unauthorized != nil {
		return d.Errors.Unauthorized
	}
	return mfa.ErrUserNotFound
}

func (d *SignInUpDeps) normalize() error {
	if err := d.Linking.normalize(); err != nil {
		return err
	}
	if d.MFA.Enabled && (d.MFA.IsValidFirstFactor == nil ||
		d.MFA.IsAllowedToSetupFactor == nil ||
		d.MFA.MarkFactorAsCompleteInSession == nil) {
		return d.Linking.notReady()
	}
	if d.CreateNewSession == nil {
		return d.Linking.notReady()
	}
	return nil
}

// restart is returned by a flow step when the core reported that the
// primary-user mapping changed under it.
type restart struct {
	step   string
	status core.Status
}

// runWithRestarts drives step until it stops asking for a restart. Each
// restart drops the memoized core reads of the operation carried by ctx.
func runWithRestarts[T any](ctx context.Context, d *LinkingDeps, name string, step func(attempt int) (T, *restart, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, again, err := step(attempt)
		if err != nil {
			return zero, err
		}
		if again == nil {
			return out, nil
		}
		logger.From(ctx, d.Log).Debug("core state changed, restarting",
			zap.String("flow", name),
			zap.String("step", again.step),
			logger.Status(again.status.String()),
			logger.Attempt(attempt),
		)
		d.MetricInc(d.Metrics.RaceRestart)
		d.EmitAudit(ctx, d.Events.RaceRestart, false, "", "", nil, func() map[string]string {
			return map[string]string{"flow": name, "step": again.step, "status": again.status.String()}
		})
		d.Core.InvalidateCoreCallCache(ctx)
	}
}
