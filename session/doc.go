// Package session provides Redis-backed session persistence and a compact
// binary session encoding.
//
// # Binary encoding
//
// Sessions are stored as a versioned binary blob. Version 1 blobs carry no
// recipe user id and are migrated to the current layout on read.
//
// # Indexes
//
// Every session handle is indexed under its primary user id and under the
// recipe user id that created it. Linking a login method to another primary
// user revokes through the recipe user index.
//
// This package does not issue or verify access tokens and makes no
// authorization decisions.
package session
