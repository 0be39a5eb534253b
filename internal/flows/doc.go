// Package flows contains the orchestrators behind sign-in/up, automatic
// account linking and multi-factor completion.
//
// Each flow takes a typed dependency struct of function fields and returns
// results without side effects beyond those dependencies. The root package
// builds the dependency sets once and delegates to the matching flow.
//
// # Races with the core
//
// The core is the source of truth for the primary-user mapping. When a
// mutation reports that the mapping changed since it was read, a flow step
// returns a restart signal instead of an error. The driver invalidates the
// per-operation core call cache and runs the step again with fresh reads,
// until it completes or the context is done.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through the dependency structs.
package flows
