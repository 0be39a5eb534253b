package flows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authsdk/mfa"
)

func TestValidateBeforeFactorCompletion(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	deps := f.deps()

	refusal, err := ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{TenantID: "strict", FactorID: mfa.FactorThirdParty}, deps)
	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, StatusDisallowedFirstFactor, refusal.Status)
	assert.Equal(t, CodeInvalidFirstFactor, refusal.ErrorCode)

	refusal, err = ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{TenantID: "strict", FactorID: mfa.FactorEmailPassword}, deps)
	require.NoError(t, err)
	assert.Nil(t, refusal)

	ep, err := f.engine.EmailPasswordSignUp(ctx, "strict", "a@x.com", "password-1")
	require.NoError(t, err)
	other, err := f.engine.EmailPasswordSignUp(ctx, "strict", "b@x.com", "password-1")
	require.NoError(t, err)
	s := f.sessionFor(ep.User, "strict")

	refusal, err = ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{
		TenantID:       "strict",
		FactorID:       mfa.FactorEmailPassword,
		Session:        s,
		UserLoggingIn:  other.User,
		IsAlreadySetup: true,
	}, deps)
	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, StatusFactorSetupNotAllowed, refusal.Status)
	assert.Equal(t, CodeFactorUserMismatch, refusal.ErrorCode)

	refusal, err = ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{
		TenantID: "strict",
		FactorID: mfa.FactorTOTP,
		Session:  s,
	}, deps)
	require.NoError(t, err)
	assert.Nil(t, refusal, "totp is the next required factor")

	refusal, err = ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{
		TenantID: "strict",
		FactorID: mfa.FactorOTPEmail,
		Session:  s,
	}, deps)
	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, CodeFactorSetupNotAllowed, refusal.ErrorCode)
}

func TestValidateRefusesEmailOwnedByAnotherPrimary(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	owner, err := f.engine.ThirdPartySignInUp(ctx, "public", "google", "g-1", "b@x.com", true)
	require.NoError(t, err)
	_, err = f.engine.CreatePrimaryUser(ctx, owner.RecipeUserID)
	require.NoError(t, err)
	ep, err := f.engine.EmailPasswordSignUp(ctx, "public", "a@x.com", "password-1")
	require.NoError(t, err)

	refusal, err := ValidateForMultifactorAuthBeforeFactorCompletion(ctx, FactorCheckInput{
		TenantID:   "public",
		FactorID:   mfa.FactorThirdParty,
		Session:    f.sessionFor(ep.User, "public"),
		SignUpInfo: &SignUpInfo{Email: "b@x.com", IsVerifiedFactor: true},
	}, f.deps())
	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, CodeLinkAccountInfoConflict, refusal.ErrorCode)
}

func TestValidateIsNoopWithoutMFA(t *testing.T) {
	f := newFixture(t, false)
	refusal, err := ValidateForMultifactorAuthBeforeFactorCompletion(context.Background(), FactorCheckInput{TenantID: "strict", FactorID: mfa.FactorThirdParty}, f.deps())
	require.NoError(t, err)
	assert.Nil(t, refusal)
}

func TestFactorCompletionCreatesOrUpdatesSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ep, err := f.engine.EmailPasswordSignUp(ctx, "public", "a@x.com", "password-1")
	require.NoError(t, err)
	out, err := CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion(ctx, FactorCompletionInput{
		TenantID:     "public",
		FactorID:     mfa.FactorEmailPassword,
		User:         ep.User,
		RecipeUserID: ep.RecipeUserID,
	}, f.deps())
	require.NoError(t, err)
	require.Nil(t, out.Refusal)
	require.Len(t, f.sessions, 1)
	s := f.sessions[0]
	assert.Same(t, s, out.Session)
	assert.Contains(t, completedFactors(t, f, s), mfa.FactorEmailPassword)

	tp, err := f.engine.ThirdPartySignInUp(ctx, "public", "google", "g-1", "b@x.com", true)
	require.NoError(t, err)
	out, err = CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion(ctx, FactorCompletionInput{
		TenantID:             "public",
		FactorID:             mfa.FactorThirdParty,
		Session:              s,
		User:                 tp.User,
		RecipeUserID:         tp.RecipeUserID,
		CreatedNewRecipeUser: true,
	}, f.deps())
	require.NoError(t, err)
	require.Nil(t, out.Refusal)
	assert.Same(t, s, out.Session)
	assert.Len(t, f.sessions, 1)
	assert.Equal(t, ep.User.ID, out.User.ID)
	assert.True(t, out.User.HasLoginMethod(tp.RecipeUserID))
	assert.Contains(t, completedFactors(t, f, s), mfa.FactorThirdParty)
}

func TestFactorCompletionReportsLinkConflict(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.engine.ThirdPartySignInUp(ctx, "public", "google", "g-1", "a@x.com", true)
	require.NoError(t, err)
	_, err = f.engine.CreatePrimaryUser(ctx, first.RecipeUserID)
	require.NoError(t, err)
	taken, err := f.engine.ThirdPartySignInUp(ctx, "public", "google", "g-2", "c@x.com", true)
	require.NoError(t, err)
	_, err = f.engine.CreatePrimaryUser(ctx, taken.RecipeUserID)
	require.NoError(t, err)
	dup, err := f.engine.ThirdPartySignInUp(ctx, "public", "github", "h-1", "c@x.com", true)
	require.NoError(t, err)

	s := f.sessionFor(first.User, "public")
	out, err := CreateOrUpdateSessionForMultifactorAuthAfterFactorCompletion(ctx, FactorCompletionInput{
		TenantID:     "public",
		FactorID:     mfa.FactorThirdParty,
		Session:      s,
		User:         dup.User,
		RecipeUserID: dup.RecipeUserID,
	}, f.deps())
	require.NoError(t, err)
	require.NotNil(t, out.Refusal)
	assert.Equal(t, StatusSignInUpNotAllowed, out.Refusal.Status)
	assert.Equal(t, CodeLinkAccountInfoConflict, out.Refusal.ErrorCode)

	u, err := f.engine.GetUser(ctx, dup.RecipeUserID.String())
	require.NoError(t, err)
	assert.Len(t, u.LoginMethods, 1)
	assert.False(t, u.IsPrimaryUser)
}
