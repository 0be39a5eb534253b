package mfa

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authsdk/user"
)

func staticClaim(v ClaimValue, opts ...ClaimOption) *Claim {
	return NewClaim(func(context.Context, string, user.RecipeUserID, string, map[string]any) (ClaimValue, error) {
		return v, nil
	}, opts...)
}

func TestAddToPayloadKeepsEarlierCompletions(t *testing.T) {
	c := staticClaim(ClaimValue{})
	payload := map[string]any{"custom": "x"}

	payload = c.AddToPayload(payload, ClaimValue{C: map[string]int64{"emailpassword": 10}, V: false})
	payload = c.AddToPayload(payload, ClaimValue{C: map[string]int64{"totp": 20}, V: true})

	v, ok := c.GetValueFromPayload(payload)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"emailpassword": 10, "totp": 20}, v.C)
	assert.True(t, v.V)
	assert.Equal(t, "x", payload["custom"])

	removed := c.RemoveFromPayload(payload)
	_, ok = c.GetValueFromPayload(removed)
	assert.False(t, ok)
	_, ok = c.GetValueFromPayload(payload)
	assert.True(t, ok, "input payload must not be mutated")
}

func TestGetValueFromPayloadAfterJSONRoundTrip(t *testing.T) {
	c := staticClaim(ClaimValue{})
	payload := c.AddToPayload(nil, ClaimValue{C: map[string]int64{"thirdparty": 1700000000}, V: true})

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))

	v, ok := c.GetValueFromPayload(decoded)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), v.C["thirdparty"])
	assert.True(t, v.V)

	_, ok = c.GetValueFromPayload(map[string]any{ClaimKey: "garbage"})
	assert.False(t, ok)
}

func TestBuildFetchesAndMerges(t *testing.T) {
	c := staticClaim(ClaimValue{C: map[string]int64{}, V: true})
	payload, err := c.Build(context.Background(), "u", "u", "public", map[string]any{})
	require.NoError(t, err)
	v, ok := c.GetValueFromPayload(payload)
	require.True(t, ok)
	assert.True(t, v.V)
	assert.Empty(t, v.C)
}

func TestHasCompletedFactorsIgnoresOrder(t *testing.T) {
	c := staticClaim(ClaimValue{})
	validator := c.HasCompletedFactors([]Requirement{AllOf("A", "B")}, "")
	assert.Equal(t, ClaimKey, validator.ID)

	for _, completed := range []map[string]int64{{"A": 1, "B": 2}, {"A": 2, "B": 1}} {
		payload := c.AddToPayload(nil, ClaimValue{C: completed})
		assert.True(t, validator.Validate(payload).IsValid)
	}
}

func TestHasCompletedFactorsFailureReasons(t *testing.T) {
	c := staticClaim(ClaimValue{})
	payload := c.AddToPayload(nil, ClaimValue{C: map[string]int64{"A": 1}})

	res := c.HasCompletedFactors([]Requirement{Factor("A"), Factor("B")}, "custom-id").Validate(payload)
	require.False(t, res.IsValid)
	assert.Equal(t, KindFactor, res.Reason.Kind)
	assert.Equal(t, "B", res.Reason.FactorID)

	res = c.HasCompletedFactors([]Requirement{OneOf("B", "C")}, "").Validate(payload)
	require.False(t, res.IsValid)
	assert.Equal(t, KindOneOf, res.Reason.Kind)
	assert.Equal(t, []string{"B", "C"}, res.Reason.OneOf)

	res = c.HasCompletedFactors([]Requirement{AllOf("A", "B", "C")}, "").Validate(payload)
	require.False(t, res.IsValid)
	assert.Equal(t, KindAllOf, res.Reason.Kind)
	assert.Equal(t, []string{"B", "C"}, res.Reason.AllOfInAnyOrder)

	assert.True(t, c.HasCompletedFactors(nil, "").Validate(payload).IsValid)
	assert.True(t, c.HasCompletedFactors([]Requirement{OneOf("B", "A")}, "").Validate(payload).IsValid)
}

func TestHasCompletedDefaultFactors(t *testing.T) {
	c := staticClaim(ClaimValue{})
	validator := c.HasCompletedDefaultFactors("")

	assert.True(t, validator.ShouldRefetch(map[string]any{}))
	assert.False(t, validator.Validate(map[string]any{}).IsValid)

	payload := c.AddToPayload(nil, ClaimValue{V: false})
	res := validator.Validate(payload)
	require.False(t, res.IsValid)
	assert.Equal(t, "MFA requirement for auth is not satisfied", res.Reason.Message)

	payload = c.AddToPayload(nil, ClaimValue{V: true})
	assert.False(t, validator.ShouldRefetch(payload))
	assert.True(t, validator.Validate(payload).IsValid)
}

func TestInjectedFactorChecker(t *testing.T) {
	recent := func(v ClaimValue, id string) bool { return v.C[id] >= 100 }
	c := staticClaim(ClaimValue{}, WithFactorChecker(recent))

	stale := c.AddToPayload(nil, ClaimValue{C: map[string]int64{"totp": 50}})
	fresh := c.AddToPayload(nil, ClaimValue{C: map[string]int64{"totp": 150}})

	validator := c.HasCompletedFactors([]Requirement{Factor("totp")}, "")
	assert.False(t, validator.Validate(stale).IsValid)
	assert.True(t, validator.Validate(fresh).IsValid)
}
