package flows

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/linking"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/tenant"
	"github.com/MrEthical07/authsdk/user"
)

type testSession struct {
	mu      sync.Mutex
	userID  string
	rid     user.RecipeUserID
	tenant  string
	payload map[string]any
}

func (s *testSession) UserID() string                  { return s.userID }
func (s *testSession) RecipeUserID() user.RecipeUserID { return s.rid }
func (s *testSession) TenantID() string                { return s.tenant }

func (s *testSession) AccessTokenPayload() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload
}

func (s *testSession) MergeIntoAccessTokenPayload(_ context.Context, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]any, len(s.payload)+len(patch))
	for k, v := range s.payload {
		next[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	s.payload = next
	return nil
}

// racingCore injects the statuses a concurrent request would cause.
type racingCore struct {
	core.Core

	alreadyLinkedOnCreate atomic.Int32
	conflictOnCreate      string
	onCreate              func()

	createCalls   atomic.Int32
	invalidations atomic.Int32
}

func (c *racingCore) CreatePrimaryUser(ctx context.Context, id user.RecipeUserID) (core.CreatePrimaryUserResult, error) {
	c.createCalls.Add(1)
	if c.onCreate != nil {
		c.onCreate()
	}
	if c.alreadyLinkedOnCreate.Load() > 0 {
		c.alreadyLinkedOnCreate.Add(-1)
		return core.CreatePrimaryUserResult{Status: core.StatusRecipeUserIDAlreadyLinkedWithPrimaryUserID}, nil
	}
	if c.conflictOnCreate != "" {
		return core.CreatePrimaryUserResult{
			Status:        core.StatusAccountInfoAlreadyAssociatedWithAnotherPrimary,
			PrimaryUserID: c.conflictOnCreate,
		}, nil
	}
	return c.Core.CreatePrimaryUser(ctx, id)
}

func (c *racingCore) InvalidateCoreCallCache(ctx context.Context) {
	c.invalidations.Add(1)
	c.Core.InvalidateCoreCallCache(ctx)
}

type fixture struct {
	engine   *linking.Engine
	core     *racingCore
	recipe   *mfa.Recipe
	policy   AutoLinkDecision
	mfa      bool
	sessions []*testSession
}

func newFixture(t *testing.T, mfaEnabled bool) *fixture {
	t.Helper()
	engine := linking.NewEngine(linking.NewMemoryStore(), linking.WithBcryptCost(bcrypt.MinCost))
	c := &racingCore{Core: engine}

	tenants, err := tenant.NewStatic(
		tenant.Config{TenantID: "public"},
		tenant.Config{
			TenantID:                 "strict",
			FirstFactors:             []string{mfa.FactorEmailPassword},
			RequiredSecondaryFactors: []string{mfa.FactorTOTP},
		},
	)
	require.NoError(t, err)
	recipe := mfa.NewRecipe(c, mfa.WithTenants(tenants))
	recipe.RegisterFactorSource(mfa.FactorSource{
		FirstFactors: []string{mfa.FactorEmailPassword, mfa.FactorThirdParty},
		Factors:      []string{mfa.FactorEmailPassword, mfa.FactorThirdParty},
	})
	recipe.RegisterFactorSource(mfa.FactorSource{Factors: []string{mfa.FactorTOTP}})

	return &fixture{
		engine: engine,
		core:   c,
		recipe: recipe,
		policy: AutoLinkDecision{ShouldAutomaticallyLink: true, ShouldRequireVerification: true},
		mfa:    mfaEnabled,
	}
}

func (f *fixture) linkingDeps() LinkingDeps {
	return LinkingDeps{
		Core: f.core,
		ShouldDoAutomaticAccountLinking: func(context.Context, user.AccountInfo, *user.User, Session, string) (AutoLinkDecision, error) {
			return f.policy, nil
		},
	}
}

func (f *fixture) deps() SignInUpDeps {
	return SignInUpDeps{
		Linking: f.linkingDeps(),
		MFA: MFADeps{
			Enabled:                       f.mfa,
			IsValidFirstFactor:            f.recipe.IsValidFirstFactor,
			IsAllowedToSetupFactor:        f.recipe.IsAllowedToSetupFactor,
			MarkFactorAsCompleteInSession: f.recipe.MarkFactorAsCompleteInSession,
		},
		CreateNewSession: func(_ context.Context, u *user.User, rid user.RecipeUserID, tenantID string) (Session, error) {
			s := &testSession{userID: u.ID, rid: rid, tenant: tenantID, payload: map[string]any{}}
			f.sessions = append(f.sessions, s)
			return s, nil
		},
	}
}

func (f *fixture) thirdParty(tenantID, providerUserID, email string, verified bool, s Session) SignInUpInput {
	tp := &user.ThirdPartyInfo{ID: "google", UserID: providerUserID}
	signInUp := func(ctx context.Context) (core.SignInUpResult, error) {
		return f.core.ThirdPartySignInUp(ctx, tenantID, tp.ID, tp.UserID, email, verified)
	}
	return SignInUpInput{
		TenantID:    tenantID,
		FactorID:    mfa.FactorThirdParty,
		Mode:        ModeSignInUp,
		AccountInfo: user.AccountInfo{Email: email, ThirdParty: tp},
		IsVerified:  verified,
		Session:     s,
		Codes: RefusalCodes{
			SignUp:      CodeThirdPartySignUpNotAllowed,
			SignIn:      CodeThirdPartySignInNotAllowed,
			EmailChange: CodeThirdPartyEmailChange,
		},
		Ops: RecipeOps{
			Existing: func(ctx context.Context) (*user.User, *user.LoginMethod, error) {
				return FindLoginMethod(ctx, f.core, tenantID, user.RecipeThirdParty, user.AccountInfo{ThirdParty: tp})
			},
			SignIn: signInUp,
			SignUp: signInUp,
		},
	}
}

func (f *fixture) emailPassword(mode Mode, tenantID, email, password string, s Session) SignInUpInput {
	codes := RefusalCodes{SignUp: CodeEmailPasswordSignUpNotAllowed, SignIn: CodeEmailPasswordSignInNotAllowed}
	return SignInUpInput{
		TenantID:    tenantID,
		FactorID:    mfa.FactorEmailPassword,
		Mode:        mode,
		AccountInfo: user.AccountInfo{Email: email},
		Session:     s,
		Codes:       codes,
		Ops: RecipeOps{
			Existing: func(ctx context.Context) (*user.User, *user.LoginMethod, error) {
				return FindLoginMethod(ctx, f.core, tenantID, user.RecipeEmailPassword, user.AccountInfo{Email: email})
			},
			SignIn: func(ctx context.Context) (core.SignInUpResult, error) {
				return f.core.EmailPasswordSignIn(ctx, tenantID, email, password)
			},
			SignUp: func(ctx context.Context) (core.SignInUpResult, error) {
				return f.core.EmailPasswordSignUp(ctx, tenantID, email, password)
			},
		},
	}
}

func (f *fixture) run(t *testing.T, in SignInUpInput) SignInUpResult {
	t.Helper()
	res, err := RunSignInUp(context.Background(), in, f.deps())
	require.NoError(t, err)
	return res
}

func (f *fixture) sessionFor(u *user.User, tenantID string) *testSession {
	return &testSession{userID: u.ID, rid: u.LoginMethods[0].RecipeUserID, tenant: tenantID, payload: map[string]any{}}
}

func completedFactors(t *testing.T, f *fixture, s *testSession) map[string]int64 {
	t.Helper()
	v, ok := f.recipe.Claim().GetValueFromPayload(s.AccessTokenPayload())
	require.True(t, ok)
	return v.C
}
