// Package jwt issues and verifies session access tokens. A token carries the
// session's user id, recipe user id, tenant, session handle and the session's
// access-token payload, where claims such as the MFA claim live.
package jwt
