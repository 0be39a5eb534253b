// Package user holds the identity model shared by every recipe: recipe users,
// their login methods and the aggregated (possibly primary) user.
//
// # Identity equality
//
// The predicates on [LoginMethod] (HasSameEmailAs, HasSamePhoneNumberAs,
// HasSameThirdPartyInfoAs, HasSameWebauthnInfoAs) are the only identity
// comparison rules used by account linking. Uniqueness decisions depend on
// them, so callers must never compare raw strings.
//
// # What this package must NOT do
//
//   - Perform I/O or call the core.
//   - Import any other authsdk package.
package user
