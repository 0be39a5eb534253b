// Package linking is a reference implementation of the core service's user
// and account-linking state. It implements core.Core on top of a Store, so it
// can stand in for a remote core in tests, tools and single-deployment
// setups.
//
// Every mutating operation runs under Store.Lock and re-validates its
// decision against fresh reads before writing. Callers that race against
// each other observe the structured race statuses defined in package core.
package linking
