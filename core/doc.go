// Package core defines the contract between the SDK and the authentication
// core service, which is the source of truth for users, login methods and the
// primary-user mapping.
//
// Linking operations report expected outcomes through Status values on their
// results. A subset of those statuses are race signals: the core state moved
// underneath the caller and the decision must be re-derived from fresh reads.
// Errors are reserved for transport failures and programmer errors such as
// ErrUnknownUser.
//
// CachedClient memoizes reads for the lifetime of a single logical operation
// (a context created by WithCallCache) and drops the memo on every mutation.
package core
