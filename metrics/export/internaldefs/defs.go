package internaldefs

import (
	"github.com/MrEthical07/authsdk"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authsdk.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authsdk.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authsdk.MetricSignInSuccess, Name: "authsdk_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: authsdk.MetricSignUpSuccess, Name: "authsdk_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: authsdk.MetricSignInUpNotAllowed, Name: "authsdk_sign_in_up_not_allowed_total", Help: "Sign-in/up requests refused with SIGN_IN_UP_NOT_ALLOWED."},
	{ID: authsdk.MetricSessionCreated, Name: "authsdk_session_created_total", Help: "Created sessions."},
	{ID: authsdk.MetricSessionRevoked, Name: "authsdk_session_revoked_total", Help: "Revoked sessions."},
	{ID: authsdk.MetricFactorCompleted, Name: "authsdk_factor_completed_total", Help: "Factors marked complete in a session."},
	{ID: authsdk.MetricPrimaryUserCreated, Name: "authsdk_primary_user_created_total", Help: "Recipe users promoted to primary users."},
	{ID: authsdk.MetricAccountsLinked, Name: "authsdk_accounts_linked_total", Help: "Recipe users linked to a primary user."},
	{ID: authsdk.MetricAccountUnlinked, Name: "authsdk_account_unlinked_total", Help: "Recipe users unlinked from their primary user."},
	{ID: authsdk.MetricLinkDeferred, Name: "authsdk_link_deferred_total", Help: "Links postponed until email verification."},
	{ID: authsdk.MetricUserDeleted, Name: "authsdk_user_deleted_total", Help: "Deleted users."},
	{ID: authsdk.MetricRaceRestart, Name: "authsdk_race_restart_total", Help: "Flow restarts after a concurrent primary-user change."},
	{ID: authsdk.MetricEmailVerified, Name: "authsdk_email_verified_total", Help: "Emails marked verified."},
	{ID: authsdk.MetricTOTPDeviceCreated, Name: "authsdk_totp_device_created_total", Help: "Created TOTP devices."},
	{ID: authsdk.MetricTOTPSuccess, Name: "authsdk_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: authsdk.MetricTOTPFailure, Name: "authsdk_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: authsdk.MetricClaimValidationFailure, Name: "authsdk_claim_validation_failure_total", Help: "Session claim assertions that failed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authsdk.MetricSignInUpLatency, Name: "authsdk_sign_in_up_latency_seconds", Help: "Sign-in/up latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "authsdk_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBounds are the finite upper bounds in seconds. The last engine
// bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels renders every bucket bound, +Inf included, the way
// Prometheus writes the le label.
var HistogramBoundLabels = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
