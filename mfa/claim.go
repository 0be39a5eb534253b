package mfa

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/MrEthical07/authsdk/user"
)

// ClaimKey is the access-token payload key of the MFA claim.
const ClaimKey = "st-mfa"

// ClaimValue is the MFA completion record of a session. C maps factor id to
// the unix time it was completed; V reports whether the requirement list was
// satisfied when the value was last computed. N holds the next factors as
// given by BuildNextArray; it is derived on fetch and never stored in the
// access-token payload.
type ClaimValue struct {
	C map[string]int64 `json:"c"`
	V bool             `json:"v"`
	N []string         `json:"-"`
}

func newClaimValue(completed map[string]int64, reqs []Requirement) ClaimValue {
	next := BuildNextArray(completed, reqs)
	return ClaimValue{C: completed, V: len(next) == 0, N: next}
}

// Completed reports whether factorID is recorded as completed.
func (v ClaimValue) Completed(factorID string) bool {
	_, ok := v.C[factorID]
	return ok
}

func (v ClaimValue) clone() ClaimValue {
	out := ClaimValue{C: make(map[string]int64, len(v.C)), V: v.V, N: slices.Clone(v.N)}
	maps.Copy(out.C, v.C)
	return out
}

// FetchFunc computes a fresh claim value for a session. currentPayload is
// the payload the session holds right now and may be empty.
type FetchFunc func(ctx context.Context, userID string, recipeUserID user.RecipeUserID, tenantID string, currentPayload map[string]any) (ClaimValue, error)

// FactorChecker decides whether a single factor counts as completed.
type FactorChecker func(value ClaimValue, factorID string) bool

// Claim reads and writes the MFA completion record in session payloads.
type Claim struct {
	key     string
	fetch   FetchFunc
	checker FactorChecker
}

// ClaimOption configures a Claim.
type ClaimOption func(*Claim)

// WithFactorChecker replaces the default per-factor check, which treats a
// factor as completed when it is present in C.
func WithFactorChecker(check FactorChecker) ClaimOption {
	return func(c *Claim) {
		if check != nil {
			c.checker = check
		}
	}
}

// NewClaim builds the MFA claim around fetch.
func NewClaim(fetch FetchFunc, opts ...ClaimOption) *Claim {
	c := &Claim{
		key:   ClaimKey,
		fetch: fetch,
		checker: func(v ClaimValue, id string) bool {
			return v.Completed(id)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Claim) Key() string { return c.key }

// FetchValue recomputes the claim for a session.
func (c *Claim) FetchValue(ctx context.Context, userID string, recipeUserID user.RecipeUserID, tenantID string, currentPayload map[string]any) (ClaimValue, error) {
	return c.fetch(ctx, userID, recipeUserID, tenantID, currentPayload)
}

// Build fetches the claim and returns payload with the value merged in.
func (c *Claim) Build(ctx context.Context, userID string, recipeUserID user.RecipeUserID, tenantID string, payload map[string]any) (map[string]any, error) {
	v, err := c.FetchValue(ctx, userID, recipeUserID, tenantID, payload)
	if err != nil {
		return nil, err
	}
	return c.AddToPayload(payload, v), nil
}

// GetValueFromPayload decodes the claim from an access-token payload. The
// second result is false when the payload has no usable value.
func (c *Claim) GetValueFromPayload(payload map[string]any) (ClaimValue, bool) {
	raw, ok := payload[c.key]
	if !ok || raw == nil {
		return ClaimValue{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ClaimValue{}, false
	}
	var v ClaimValue
	if err := json.Unmarshal(b, &v); err != nil {
		return ClaimValue{}, false
	}
	if v.C == nil {
		v.C = map[string]int64{}
	}
	return v, true
}

// AddToPayload returns a copy of payload holding value. Completions already
// in the payload are kept; V is taken from value.
func (c *Claim) AddToPayload(payload map[string]any, value ClaimValue) map[string]any {
	out := make(map[string]any, len(payload)+1)
	maps.Copy(out, payload)

	merged := value.clone()
	if existing, ok := c.GetValueFromPayload(payload); ok {
		for id, at := range existing.C {
			if _, set := merged.C[id]; !set {
				merged.C[id] = at
			}
		}
	}
	out[c.key] = toPayload(merged)
	return out
}

// RemoveFromPayload returns a copy of payload without the claim.
func (c *Claim) RemoveFromPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	maps.Copy(out, payload)
	delete(out, c.key)
	return out
}

func toPayload(v ClaimValue) map[string]any {
	completed := make(map[string]any, len(v.C))
	for id, at := range v.C {
		completed[id] = at
	}
	return map[string]any{"c": completed, "v": v.V}
}
