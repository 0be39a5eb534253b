package authsdk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authsdk/internal/flows"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

func TestBuilderIsSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b := New().WithConfig(testConfig(t)).WithRedis(rdb)
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = b.Build()
	require.Error(t, err)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.PublicKey = nil
	_, err := New().WithConfig(cfg).Build()
	require.Error(t, err)
}

func TestThirdPartySignUpCreatesPrimaryUserAndSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.signInTP(t, "public", "g-1", "Alice@Example.com", true, nil)
	require.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.User)
	assert.True(t, res.User.IsPrimaryUser)
	assert.True(t, res.CreatedNewRecipeUser)
	require.NotNil(t, res.Session)

	s, err := env.engine.GetSession(ctx, res.Session.AccessToken())
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, s.UserID())
	assert.Equal(t, res.RecipeUserID, s.RecipeUserID())
	assert.Equal(t, "public", s.TenantID())

	again := env.signInTP(t, "public", "g-1", "alice@example.com", true, nil)
	require.Equal(t, StatusOK, again.Status)
	assert.False(t, again.CreatedNewRecipeUser)
	assert.Equal(t, res.User.ID, again.User.ID)
}

func TestUnverifiedLoginMethodLinksAfterEmailVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	ep := env.signUpEP(t, "public", "bob@example.com", nil)
	require.Equal(t, StatusOK, ep.Status)
	assert.False(t, ep.User.IsPrimaryUser)

	tp := env.signInTP(t, "public", "g-bob", "bob@example.com", true, nil)
	require.Equal(t, StatusOK, tp.Status)
	require.True(t, tp.User.IsPrimaryUser)

	signIn := env.signInEP(t, "public", "bob@example.com", "correct horse battery staple")
	require.Equal(t, StatusOK, signIn.Status)
	assert.False(t, signIn.User.IsPrimaryUser)

	u, err := env.engine.VerifyEmail(ctx, "public", ep.RecipeUserID, "bob@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, tp.User.ID, u.ID)
	assert.Len(t, u.LoginMethods, 2)

	verified, err := env.engine.IsEmailVerified(ctx, ep.RecipeUserID, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestThirdPartySignUpRefusedNextToUnverifiedAccount(t *testing.T) {
	env := newTestEnv(t, nil)

	env.signUpEP(t, "public", "carol@example.com", nil)
	res := env.signInTP(t, "public", "g-carol", "carol@example.com", false, nil)
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, flows.CodeThirdPartySignUpNotAllowed, res.ErrorCode)
	assert.NotEmpty(t, res.Reason)
	assert.Nil(t, res.Session)
}

func TestEmailPasswordStatuses(t *testing.T) {
	env := newTestEnv(t, nil)

	require.Equal(t, StatusOK, env.signUpEP(t, "public", "dan@example.com", nil).Status)
	assert.Equal(t, StatusEmailAlreadyExists, env.signUpEP(t, "public", "DAN@example.com", nil).Status)
	assert.Equal(t, StatusWrongCredentials, env.signInEP(t, "public", "dan@example.com", "nope").Status)
	assert.Equal(t, StatusWrongCredentials, env.signInEP(t, "public", "nobody@example.com", "nope").Status)

	_, err := env.engine.EmailPasswordSignUpPOST(context.Background(), EmailPasswordInput{TenantID: "public", Email: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUnknownTenantIsInvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.EmailPasswordSignUpPOST(context.Background(), EmailPasswordInput{
		TenantID: "nope",
		Email:    "a@example.com",
		Password: "pw",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProviderErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.ThirdPartySignInUpPOST(ctx, "public", "github", ProviderInput{Code: "x"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = env.engine.ThirdPartySignInUpPOST(ctx, "public", "google", ProviderInput{}, nil)
	assert.ErrorIs(t, err, ErrProviderRejected)
}

func TestRevokedSessionIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.signInTP(t, "public", "g-eve", "eve@example.com", true, nil)
	require.NotNil(t, res.Session)
	token := res.Session.AccessToken()

	require.NoError(t, res.Session.Revoke(ctx))
	require.NoError(t, res.Session.Revoke(ctx))

	_, err := env.engine.GetSession(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.engine.GetSession(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRevokeAllSessionsForUser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first := env.signInTP(t, "public", "g-fay", "fay@example.com", true, nil)
	second := env.signInTP(t, "public", "g-fay", "fay@example.com", true, nil)
	require.Equal(t, first.User.ID, second.User.ID)

	handles, err := env.engine.RevokeAllSessionsForUser(ctx, first.User.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.Session.Handle(), second.Session.Handle()}, handles)

	left, err := env.engine.SessionHandles(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestMergeIntoAccessTokenPayloadReissuesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.signInTP(t, "public", "g-gus", "gus@example.com", true, nil)
	s := res.Session
	before := s.AccessToken()

	require.NoError(t, s.MergeIntoAccessTokenPayload(ctx, map[string]any{"role": "admin"}))
	assert.NotEqual(t, before, s.AccessToken())
	assert.Equal(t, "admin", s.AccessTokenPayload()["role"])

	reloaded, err := env.engine.GetSession(ctx, s.AccessToken())
	require.NoError(t, err)
	assert.Equal(t, "admin", reloaded.AccessTokenPayload()["role"])

	require.NoError(t, s.MergeIntoAccessTokenPayload(ctx, map[string]any{"role": nil}))
	assert.NotContains(t, s.AccessTokenPayload(), "role")
}

func TestAccountLinkingOverrideIsApplied(t *testing.T) {
	calls := 0
	env := newTestEnv(t, nil, func(b *Builder) {
		b.WithOverrides(Overrides{
			AccountLinking: func(original AccountLinkingFunctions) AccountLinkingFunctions {
				return AccountLinkingFunctions{
					ShouldDoAutomaticAccountLinking: func(ctx context.Context, info user.AccountInfo, candidate *user.User, s mfa.Session, tenantID string) (AutoLinkDecision, error) {
						calls++
						if info.Email == "solo@example.com" {
							return AutoLinkDecision{}, nil
						}
						return original.ShouldDoAutomaticAccountLinking(ctx, info, candidate, s, tenantID)
					},
				}
			},
		})
	})

	res := env.signInTP(t, "public", "g-solo", "solo@example.com", true, nil)
	require.Equal(t, StatusOK, res.Status)
	assert.False(t, res.User.IsPrimaryUser)
	assert.Positive(t, calls)

	other := env.signInTP(t, "public", "g-team", "team@example.com", true, nil)
	assert.True(t, other.User.IsPrimaryUser)
}

func TestThirdPartyOverrideWrapsDefault(t *testing.T) {
	var seen []string
	env := newTestEnv(t, nil, func(b *Builder) {
		b.WithOverrides(Overrides{
			ThirdParty: func(original ThirdPartyFunctions) ThirdPartyFunctions {
				return ThirdPartyFunctions{
					SignInUp: func(ctx context.Context, in ThirdPartySignInUpInput) (SignInUpResult, error) {
						seen = append(seen, in.ThirdPartyUserID)
						return original.SignInUp(ctx, in)
					},
				}
			},
		})
	})

	res := env.signInTP(t, "public", "g-hal", "hal@example.com", true, nil)
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []string{"g-hal"}, seen)
}

func TestDeleteUserRevokesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.signInTP(t, "public", "g-ivy", "ivy@example.com", true, nil)
	_, err := env.engine.metadata.Update(ctx, res.User.ID, map[string]any{"plan": "pro"})
	require.NoError(t, err)
	require.NoError(t, env.engine.DeleteUser(ctx, res.User.ID, true))

	md, err := env.engine.metadata.Get(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Empty(t, md)

	u, err := env.engine.GetUser(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = env.engine.GetSession(ctx, res.Session.AccessToken())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestManualLinkAndUnlink(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.AccountLinking.ShouldAutomaticallyLink = false
	})
	ctx := context.Background()

	a := env.signInTP(t, "public", "g-jo", "jo@example.com", true, nil)
	b := env.signUpEP(t, "public", "jo.work@example.com", nil)
	require.False(t, a.User.IsPrimaryUser)

	primary, err := env.engine.Core().CreatePrimaryUser(ctx, a.RecipeUserID)
	require.NoError(t, err)
	require.True(t, primary.Status.OK())

	linked, err := env.engine.LinkAccounts(ctx, b.RecipeUserID, primary.User.ID)
	require.NoError(t, err)
	require.True(t, linked.Status.OK())
	assert.Len(t, linked.User.LoginMethods, 2)

	unlinked, err := env.engine.UnlinkAccount(ctx, b.RecipeUserID)
	require.NoError(t, err)
	assert.True(t, unlinked.WasLinked)

	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricAccountsLinked])
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricAccountUnlinked])
}

func TestUnlinkPrimaryMovesMetadataAndSessions(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		withMFA(cfg)
		cfg.AccountLinking.ShouldAutomaticallyLink = false
	})
	ctx := context.Background()

	a := env.signInTP(t, "public", "g-lee", "lee@example.com", true, nil)
	b := env.signUpEP(t, "public", "lee.work@example.com", nil)
	primary, err := env.engine.Core().CreatePrimaryUser(ctx, a.RecipeUserID)
	require.NoError(t, err)
	require.True(t, primary.Status.OK())
	linked, err := env.engine.LinkAccounts(ctx, b.RecipeUserID, primary.User.ID)
	require.NoError(t, err)
	require.True(t, linked.Status.OK())

	member := env.signInEP(t, "public", "lee.work@example.com", "correct horse battery staple")
	require.Equal(t, StatusOK, member.Status)
	require.Equal(t, primary.User.ID, member.Session.UserID())
	require.NoError(t, env.engine.AddToRequiredSecondaryFactorsForUser(ctx, primary.User.ID, mfa.FactorTOTP))

	res, err := env.engine.UnlinkAccount(ctx, a.RecipeUserID)
	require.NoError(t, err)
	require.True(t, res.WasRecipeUserDeleted)

	survivor, err := env.engine.GetUser(ctx, b.RecipeUserID.String())
	require.NoError(t, err)
	require.NotNil(t, survivor)
	assert.Equal(t, b.RecipeUserID.String(), survivor.ID)

	required, err := env.engine.RequiredSecondaryFactorsForUser(ctx, survivor.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{mfa.FactorTOTP}, required)
	orphan, err := env.engine.metadata.Get(ctx, primary.User.ID)
	require.NoError(t, err)
	assert.Empty(t, orphan)

	s, err := env.engine.GetSession(ctx, member.Session.AccessToken())
	require.NoError(t, err)
	assert.Equal(t, survivor.ID, s.UserID())
	_, err = env.engine.GetSession(ctx, a.Session.AccessToken())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMFAFirstFactorMustBeAllowedForTenant(t *testing.T) {
	env := newTestEnv(t, withMFA)

	res := env.signInTP(t, "strict", "g-kim", "kim@example.com", true, nil)
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, flows.CodeInvalidFirstFactor, res.ErrorCode)
}

func TestMFATOTPCompletesRequirements(t *testing.T) {
	env := newTestEnv(t, withMFA)
	ctx := context.Background()

	res := env.signUpEP(t, "strict", "lee@example.com", nil)
	require.Equal(t, StatusOK, res.Status)
	s := res.Session
	require.NotNil(t, s)

	validator, err := env.engine.HasCompletedMFARequirementsForAuth()
	require.NoError(t, err)
	err = s.AssertClaims(ctx, validator)
	var cve *ClaimValidationError
	require.ErrorAs(t, err, &cve)
	assert.ErrorIs(t, err, ErrClaimValidation)

	info, err := env.engine.MFAInfo(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{mfa.FactorTOTP}, info.Next)
	assert.Contains(t, info.AllowedToSetup, mfa.FactorTOTP)

	dev, err := env.engine.CreateTOTPDevice(ctx, s, "")
	require.NoError(t, err)
	require.Equal(t, StatusOK, dev.Status)
	assert.Equal(t, "TOTP Device 1", dev.DeviceName)

	bad, err := env.engine.VerifyTOTPDevice(ctx, s, dev.DeviceName, "000000")
	require.NoError(t, err)
	if bad.Status == StatusOK {
		t.Skip("random code matched the current step")
	}

	code, err := totp.GenerateCode(dev.Secret, time.Now())
	require.NoError(t, err)
	ok, err := env.engine.VerifyTOTPDevice(ctx, s, dev.DeviceName, code)
	require.NoError(t, err)
	require.Equal(t, StatusOK, ok.Status)

	require.NoError(t, s.AssertClaims(ctx, validator))

	reloaded, err := env.engine.GetSession(ctx, s.AccessToken())
	require.NoError(t, err)
	require.NoError(t, reloaded.AssertClaims(ctx, validator))
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricTOTPFailure])
}

func TestTOTPAttemptsAreLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		withMFA(cfg)
		cfg.MFA.TOTP.MaxAttempts = 2
		cfg.MFA.TOTP.Cooldown = time.Minute
	})
	ctx := context.Background()

	s := env.signUpEP(t, "strict", "max@example.com", nil).Session
	require.NotNil(t, s)
	dev, err := env.engine.CreateTOTPDevice(ctx, s, "phone")
	require.NoError(t, err)
	require.Equal(t, StatusOK, dev.Status)

	first, err := env.engine.VerifyTOTPDevice(ctx, s, "phone", "abcdef")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidTOTP, first.Status)
	assert.Equal(t, 1, first.FailedAttempts)
	assert.Equal(t, 2, first.MaxAttempts)

	second, err := env.engine.VerifyTOTPDevice(ctx, s, "phone", "abcdef")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidTOTP, second.Status)
	assert.Equal(t, 2, second.FailedAttempts)

	code, err := totp.GenerateCode(dev.Secret, time.Now())
	require.NoError(t, err)
	locked, err := env.engine.VerifyTOTPDevice(ctx, s, "phone", code)
	require.NoError(t, err)
	assert.Equal(t, StatusLimitReached, locked.Status)
	assert.Greater(t, locked.RetryAfter, time.Duration(0))

	env.mr.FastForward(time.Minute + time.Second)
	ok, err := env.engine.VerifyTOTPDevice(ctx, s, "phone", code)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, uint64(3), env.engine.MetricsSnapshot().Counters[MetricTOTPFailure])
}

func TestMFAEntryPointsRequireMFA(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.MFAInfo(ctx, nil)
	assert.ErrorIs(t, err, ErrMFADisabled)
	_, err = env.engine.ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{TenantID: "public"})
	assert.ErrorIs(t, err, ErrMFADisabled)
	_, err = env.engine.HasCompletedMFARequirementsForAuth()
	assert.ErrorIs(t, err, ErrMFADisabled)
}

func TestSecondFactorLinksIntoSessionUser(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		withMFA(cfg)
		cfg.AccountLinking.ShouldAutomaticallyLink = false
	})

	first := env.signInTP(t, "public", "g-max", "max@example.com", true, nil)
	require.Equal(t, StatusOK, first.Status)
	s := first.Session

	second := env.signUpEP(t, "public", "max@example.com", s)
	require.Equal(t, StatusOK, second.Status)
	assert.Same(t, s, second.Session)
	assert.Len(t, second.User.LoginMethods, 2)

	completed, ok := env.engine.MFA().Claim().GetValueFromPayload(s.AccessTokenPayload())
	require.True(t, ok)
	assert.Contains(t, completed.C, mfa.FactorEmailPassword)
	assert.Contains(t, completed.C, mfa.FactorThirdParty)
}

func TestValidateBeforeFactorCompletion(t *testing.T) {
	env := newTestEnv(t, withMFA)
	ctx := context.Background()

	refusal, err := env.engine.ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{
		TenantID: "strict",
		FactorID: mfa.FactorThirdParty,
	})
	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, flows.CodeInvalidFirstFactor, refusal.ErrorCode)

	refusal, err = env.engine.ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{
		TenantID: "strict",
		FactorID: mfa.FactorEmailPassword,
	})
	require.NoError(t, err)
	assert.Nil(t, refusal)
}

func TestAuditAndMetricsRecordSignUp(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.signInTP(t, "public", "g-ned", "ned@example.com", true, nil)
	require.Equal(t, StatusOK, res.Status)

	snap := env.engine.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[MetricSignUpSuccess])
	assert.Equal(t, uint64(1), snap.Counters[MetricPrimaryUserCreated])
	assert.Equal(t, uint64(1), snap.Counters[MetricSessionCreated])

	types := map[string]bool{}
	for _, ev := range env.drain(t) {
		types[ev.Type] = true
	}
	assert.True(t, types[AuditEventSignUp])
	assert.True(t, types[AuditEventPrimaryUserCreated])
	assert.True(t, types[AuditEventSessionCreated])
}

func TestClosedEngineIsNotReady(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.engine.Close())
	require.NoError(t, env.engine.Close())

	_, err := env.engine.GetUser(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrEngineNotReady))
}
