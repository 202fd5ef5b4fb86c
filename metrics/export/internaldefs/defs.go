package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef maps one engine counter to an exported series.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef maps one engine histogram to an exported series.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricSignUpSuccess, Name: "authcore_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: authcore.MetricSignUpFailure, Name: "authcore_sign_up_failure_total", Help: "Failed sign-ups."},
	{ID: authcore.MetricSignUpConflict, Name: "authcore_sign_up_conflict_total", Help: "Sign-ups rejected because the email or workspace was taken."},
	{ID: authcore.MetricSignInSuccess, Name: "authcore_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: authcore.MetricSignInFailure, Name: "authcore_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: authcore.MetricFederatedSignIn, Name: "authcore_federated_sign_in_total", Help: "Sign-ins with an external identity."},
	{ID: authcore.MetricRateLimited, Name: "authcore_rate_limited_total", Help: "Requests denied by a rate limit."},
	{ID: authcore.MetricRateLimitDegraded, Name: "authcore_rate_limit_degraded_total", Help: "Rate-limit checks allowed because Redis was unavailable."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authcore.MetricFingerprintMismatch, Name: "authcore_fingerprint_mismatch_total", Help: "Refreshes rejected for a client fingerprint mismatch."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created refresh sessions."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Revoked refresh sessions."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Failed password resets."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Failed password changes."},
	{ID: authcore.MetricValidateFailure, Name: "authcore_validate_failure_total", Help: "Rejected access tokens."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access-token validation latency."},
}

// AuditDroppedName is the series for audit events dropped under backpressure.
const (
	AuditDroppedName = "authcore_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one extra overflow bucket.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed array, zero filling.
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
