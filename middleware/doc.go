// Package middleware exposes net/http guards built on authsdk sessions.
//
// # Guards
//
//   - [RequireSession] rejects requests without a valid access token.
//   - [OptionalSession] attaches a session when one is presented.
//   - [RequireMFA] additionally asserts the MFA claim.
//   - [Guard] takes explicit [Options] for custom claim validators.
//
// Each guard reads the Authorization header, calls Engine.GetSession, and
// stores the session in the request context for [SessionFromContext].
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
//   - Decide anything beyond pass or reject from the engine's answers.
package middleware
