package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authsdk/core"
	"github.com/MrEthical07/authsdk/mfa"
	"github.com/MrEthical07/authsdk/user"
)

func TestSignUpCreatesPrimaryUserAndSession(t *testing.T) {
	f := newFixture(t, false)

	res := f.run(t, f.thirdParty("public", "g-1", "a@x.com", true, nil))
	require.Equal(t, StatusOK, res.Status)
	assert.True(t, res.CreatedNewRecipeUser)
	assert.True(t, res.User.IsPrimaryUser)
	require.Len(t, f.sessions, 1)
	assert.Same(t, f.sessions[0], res.Session)
	assert.Equal(t, res.User.ID, f.sessions[0].userID)

	again := f.run(t, f.thirdParty("public", "g-1", "a@x.com", true, nil))
	require.Equal(t, StatusOK, again.Status)
	assert.False(t, again.CreatedNewRecipeUser)
	assert.Equal(t, res.User.ID, again.User.ID)
}

func TestUnverifiedSignInRecordsLinkIntent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ep := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	require.Equal(t, StatusOK, ep.Status)
	assert.False(t, ep.User.IsPrimaryUser, "unverified login methods are not made primary")

	tp := f.run(t, f.thirdParty("public", "g-1", "a@x.com", true, nil))
	require.Equal(t, StatusOK, tp.Status)
	require.True(t, tp.User.IsPrimaryUser)

	in := f.run(t, f.emailPassword(ModeSignIn, "public", "a@x.com", "password-1", nil))
	require.Equal(t, StatusOK, in.Status)
	assert.False(t, in.User.IsPrimaryUser)

	target, err := f.engine.AccountToLink(ctx, ep.RecipeUserID)
	require.NoError(t, err)
	assert.Equal(t, tp.User.ID, target)

	require.NoError(t, f.engine.VerifyEmail(ctx, ep.RecipeUserID, "a@x.com"))
	linked, err := CreatePrimaryUserIDOrLinkAccounts(ctx, "public", ep.RecipeUserID, nil, f.linkingDeps())
	require.NoError(t, err)
	assert.Equal(t, tp.User.ID, linked.ID)
	assert.Len(t, linked.LoginMethods, 2)
}

func TestSignUpRefusedNextToUnverifiedLookalike(t *testing.T) {
	f := newFixture(t, false)

	require.Equal(t, StatusOK, f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil)).Status)

	res := f.run(t, f.thirdParty("public", "g-1", "a@x.com", false, nil))
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, CodeThirdPartySignUpNotAllowed, res.ErrorCode)
	assert.Equal(t, Reason(CodeThirdPartySignUpNotAllowed), res.Reason)
	assert.Empty(t, f.sessions[1:])

	f.policy.ShouldRequireVerification = false
	res = f.run(t, f.thirdParty("public", "g-1", "a@x.com", false, nil))
	assert.Equal(t, StatusOK, res.Status)
}

func TestEmailPasswordStatusesPassThrough(t *testing.T) {
	f := newFixture(t, false)

	require.Equal(t, StatusOK, f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil)).Status)
	assert.Equal(t, StatusEmailAlreadyExists, f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "other", nil)).Status)
	assert.Equal(t, StatusWrongCredentials, f.run(t, f.emailPassword(ModeSignIn, "public", "a@x.com", "wrong", nil)).Status)
	assert.Equal(t, StatusWrongCredentials, f.run(t, f.emailPassword(ModeSignIn, "public", "b@x.com", "password-1", nil)).Status)
	assert.Len(t, f.sessions, 1)
}

func TestSessionKeptUnlessOverwriteEnabled(t *testing.T) {
	f := newFixture(t, false)
	first := f.run(t, f.thirdParty("public", "g-1", "a@x.com", true, nil))
	require.Equal(t, StatusOK, first.Status)
	s := first.Session

	res := f.run(t, f.thirdParty("public", "g-2", "b@x.com", true, s))
	require.Equal(t, StatusOK, res.Status)
	assert.Same(t, s, res.Session)

	deps := f.deps()
	deps.OverwriteSessionDuringSignInUp = true
	res, err := RunSignInUp(context.Background(), f.thirdParty("public", "g-2", "b@x.com", true, s), deps)
	require.NoError(t, err)
	assert.NotSame(t, s, res.Session)
	assert.Equal(t, res.User.ID, res.Session.UserID())
}

func TestFirstFactorMustBeValidForTenant(t *testing.T) {
	f := newFixture(t, true)

	res := f.run(t, f.thirdParty("strict", "g-1", "a@x.com", true, nil))
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, CodeInvalidFirstFactor, res.ErrorCode)
	assert.Empty(t, f.sessions)

	ok := f.run(t, f.emailPassword(ModeSignUp, "strict", "a@x.com", "password-1", nil))
	require.Equal(t, StatusOK, ok.Status)
	s := ok.Session.(*testSession)
	assert.Contains(t, completedFactors(t, f, s), mfa.FactorEmailPassword)
	v, _ := f.recipe.Claim().GetValueFromPayload(s.AccessTokenPayload())
	assert.False(t, v.V, "strict tenant still requires totp")
}

func TestSecondFactorLinksNewIdentityAfterRace(t *testing.T) {
	f := newFixture(t, true)
	first := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	require.Equal(t, StatusOK, first.Status)
	s := first.Session.(*testSession)

	f.core.alreadyLinkedOnCreate.Store(1)
	f.core.createCalls.Store(0)
	res := f.run(t, f.thirdParty("public", "g-1", "b@x.com", true, s))

	require.Equal(t, StatusOK, res.Status)
	assert.EqualValues(t, 2, f.core.createCalls.Load())
	assert.EqualValues(t, 1, f.core.invalidations.Load())
	assert.True(t, res.CreatedNewRecipeUser)
	assert.Same(t, s, res.Session)
	require.True(t, res.User.IsPrimaryUser)
	assert.Equal(t, first.User.ID, res.User.ID)
	assert.Len(t, res.User.LoginMethods, 2)

	owner, err := f.engine.GetUser(context.Background(), res.RecipeUserID.String())
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, owner.ID)
	assert.Contains(t, completedFactors(t, f, s), mfa.FactorThirdParty)
}

func TestSecondFactorConflictIsTerminalWhenUnchanged(t *testing.T) {
	f := newFixture(t, true)
	first := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	s := first.Session.(*testSession)

	f.core.conflictOnCreate = "someone-else"
	f.core.createCalls.Store(0)
	res := f.run(t, f.thirdParty("public", "g-1", "b@x.com", true, s))

	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, CodeSessionUserAccountInfoTaken, res.ErrorCode)
	assert.EqualValues(t, 2, f.core.createCalls.Load())
}

func TestSecondFactorOfAnotherPrimaryIsRefused(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	other := f.run(t, f.thirdParty("public", "g-9", "c@x.com", true, nil))
	require.True(t, other.User.IsPrimaryUser)

	first := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	s := first.Session.(*testSession)

	res := f.run(t, f.thirdParty("public", "g-9", "c@x.com", true, s))
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, CodeFactorUserMismatch, res.ErrorCode)

	u, err := f.engine.GetUser(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Len(t, u.LoginMethods, 1)
}

func TestSecondFactorWithUnverifiedForeignEmailIsRefused(t *testing.T) {
	f := newFixture(t, true)
	first := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	s := first.Session.(*testSession)

	res := f.run(t, f.thirdParty("public", "g-1", "z@x.com", false, s))
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, CodeSessionUserEmailNotVerified, res.ErrorCode)
}

func TestSecondFactorSignInWithSetUpFactor(t *testing.T) {
	f := newFixture(t, true)
	first := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	s := first.Session.(*testSession)
	require.NoError(t, s.MergeIntoAccessTokenPayload(context.Background(), map[string]any{mfa.ClaimKey: nil}))

	res := f.run(t, f.emailPassword(ModeSignIn, "public", "a@x.com", "password-1", s))
	require.Equal(t, StatusOK, res.Status)
	assert.Same(t, s, res.Session)
	assert.False(t, res.CreatedNewRecipeUser)
	assert.Len(t, f.sessions, 1)
	assert.Contains(t, completedFactors(t, f, s), mfa.FactorEmailPassword)
}

func TestSecondFactorSetupBlockedByRequirements(t *testing.T) {
	f := newFixture(t, true)
	first := f.run(t, f.emailPassword(ModeSignUp, "strict", "a@x.com", "password-1", nil))
	s := first.Session.(*testSession)

	res := f.run(t, f.thirdParty("strict", "g-1", "a@x.com", true, s))
	assert.Equal(t, StatusSignInUpNotAllowed, res.Status)
	assert.Equal(t, CodeFactorSetupNotAllowed, res.ErrorCode)
}

func TestVanishedSessionUserIsUnauthorized(t *testing.T) {
	f := newFixture(t, true)
	errUnauthorized := errors.New("unauthorized")
	s := &testSession{userID: "gone", rid: "gone", tenant: "public", payload: map[string]any{}}

	deps := f.deps()
	deps.Linking.Errors.Unauthorized = errUnauthorized
	_, err := RunSignInUp(context.Background(), f.thirdParty("public", "g-1", "a@x.com", true, s), deps)
	assert.ErrorIs(t, err, errUnauthorized)
}

func TestRetryLoopStopsOnCancel(t *testing.T) {
	f := newFixture(t, true)
	first := f.run(t, f.emailPassword(ModeSignUp, "public", "a@x.com", "password-1", nil))
	s := first.Session.(*testSession)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.core.alreadyLinkedOnCreate.Store(1 << 20)
	f.core.onCreate = func() {
		if f.core.createCalls.Load() >= 3 {
			cancel()
		}
	}
	_, err := RunSignInUp(ctx, f.thirdParty("public", "g-1", "b@x.com", true, s), f.deps())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSignInUpRequiresDeps(t *testing.T) {
	errNotReady := errors.New("not ready")
	_, err := RunSignInUp(context.Background(), SignInUpInput{}, SignInUpDeps{
		Linking: LinkingDeps{Errors: CommonErrors{EngineNotReady: errNotReady}},
	})
	assert.ErrorIs(t, err, errNotReady)

	f := newFixture(t, false)
	in := f.thirdParty("public", "g-1", "a@x.com", true, nil)
	in.AccountInfo = user.AccountInfo{}
	_, err = RunSignInUp(context.Background(), in, f.deps())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
