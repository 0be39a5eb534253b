// Package audit relays account-linking and MFA audit events to sinks.
//
// # Components
//
//   - [Sink]: event consumers (channel, JSON lines, zap, fan-out, no-op).
//   - [Dispatcher]: buffered async relay that either drops or blocks when full.
//   - [Event]: one record with type, user, tenant, session and attributes.
//
// The package does not decide which events exist. The engine and the flows
// name them; this package only buffers and delivers.
package audit
