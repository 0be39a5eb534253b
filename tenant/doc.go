// Package tenant describes per-tenant authentication policy: which factors
// may start a session and which secondary factors every user of the tenant
// must complete.
package tenant
