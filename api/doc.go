// Package api mounts the authsdk recipes on a chi router.
//
// Routes:
//
//	POST /{tenant}/signinup        third-party sign-in/up
//	POST /{tenant}/signup          email/password sign-up
//	POST /{tenant}/signin          email/password sign-in
//	POST /signout                  revoke the current session
//	GET  /mfa/info                 factors set up, allowed and next
//	POST /totp/device              create a TOTP device
//	POST /totp/device/verify       verify a new device
//	POST /totp/verify              verify a code from any device
//
// Sign-in/up routes accept an optional session, which makes the request a
// secondary factor when MFA is enabled. Outcomes such as
// SIGN_IN_UP_NOT_ALLOWED are answers, not failures: they are written with
// HTTP 200 and a status field. The access token of a created or updated
// session is returned in the st-access-token header.
//
// # What this package must NOT do
//
//   - Decide linking, sign-up or MFA policy.
//   - Talk to Redis or the core directly.
package api
