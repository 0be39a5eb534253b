// Package mfa tracks multi-factor completion for a session.
//
// A session carries a [ClaimValue] under the "st-mfa" access-token key: the
// factors completed so far and whether the user's requirement list is
// satisfied. Requirement lists are ordered for "what next" purposes
// ([BuildNextArray]) but are checked as a whole by validators
// ([Claim.HasCompletedFactors]).
//
// The [Recipe] binds the claim to a core client, tenant policy and user
// metadata, and exposes its policy as an overridable [Functions] struct.
package mfa
