// Package authsdk is a backend SDK that puts account linking and multi-factor
// authentication on top of an authentication core service.
//
// The core service (any [core.Core], or the Redis-backed reference engine in
// package linking) owns users, login methods and the primary-user mapping.
// The SDK decides, per request, whether an identity may sign in or up,
// whether it should be linked into an existing primary user, and which MFA
// factors a session still needs. The core is always the source of truth: when
// it reports that the mapping changed under a request, the SDK drops its
// memoized reads and re-runs the decision.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authsdk is the public surface: [Engine], [Builder], [Config], the recipe
// entry points and their result types. Decision logic lives in
// internal/flows and never touches Redis or HTTP directly.
//
// # What this package must NOT do
//
//   - Treat a conflict status as an error. Refusals are returned values
//     carrying a reason and an ERR_CODE_0NN support code.
//   - Retry on its own. Only the flows retry loop turns race statuses into
//     restarts.
//   - Keep per-request state in package variables.
package authsdk
