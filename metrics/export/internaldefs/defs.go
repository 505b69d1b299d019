package internaldefs

import (
	"strconv"

	farmauth "github.com/MrEthical07/farmauth"
)

// CounterDef binds a core counter to its exported name.
type CounterDef struct {
	ID   farmauth.MetricID
	Name string
	Help string
}

// HistogramDef binds a core histogram to its exported name.
type HistogramDef struct {
	ID   farmauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: farmauth.MetricSessionEstablished, Name: "farmauth_session_established_total", Help: "Sessions written to the token store."},
	{ID: farmauth.MetricSessionTerminated, Name: "farmauth_session_terminated_total", Help: "Sessions cleared from the token store."},
	{ID: farmauth.MetricSessionUnauthorized, Name: "farmauth_session_unauthorized_total", Help: "Sessions cleared after the backend answered 401."},
	{ID: farmauth.MetricStorageUnavailable, Name: "farmauth_storage_unavailable_total", Help: "Token store reads or writes that failed."},
	{ID: farmauth.MetricLoginSuccess, Name: "farmauth_login_success_total", Help: "Login flows that reached success."},
	{ID: farmauth.MetricLoginFailure, Name: "farmauth_login_failure_total", Help: "Login attempts that failed."},
	{ID: farmauth.MetricFederatedCancelled, Name: "farmauth_federated_cancelled_total", Help: "Provider popups closed by the user."},
	{ID: farmauth.MetricVerificationRequested, Name: "farmauth_verification_requested_total", Help: "Verification codes requested from the backend."},
	{ID: farmauth.MetricVerificationFailure, Name: "farmauth_verification_failure_total", Help: "Verification codes rejected by the backend."},
	{ID: farmauth.MetricValidationRejected, Name: "farmauth_validation_rejected_total", Help: "Submits stopped by local validation."},
	{ID: farmauth.MetricDuplicateSubmit, Name: "farmauth_duplicate_submit_total", Help: "Submits ignored while a step was pending."},
	{ID: farmauth.MetricStaleResultDropped, Name: "farmauth_stale_result_dropped_total", Help: "Network results discarded after the flow moved on."},
	{ID: farmauth.MetricGuardAllowed, Name: "farmauth_guard_allowed_total", Help: "Protected navigations admitted."},
	{ID: farmauth.MetricGuardDenied, Name: "farmauth_guard_denied_total", Help: "Protected navigations redirected to the entry page."},
	{ID: farmauth.MetricRequestAuthenticated, Name: "farmauth_request_authenticated_total", Help: "Backend requests sent with a bearer token."},
	{ID: farmauth.MetricRequestUnauthenticated, Name: "farmauth_request_unauthenticated_total", Help: "Backend requests sent without a token."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: farmauth.MetricBackendLatency, Name: "farmauth_backend_latency_seconds", Help: "Auth backend call latency."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// BucketLabels returns the "le" label of each bucket, +Inf last.
func BucketLabels() []string {
	out := make([]string, 0, len(HistogramUpperBounds)+1)
	for _, b := range HistogramUpperBounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// Member places one core counter inside a [Family]. An empty Value means the
// family has a single series without attributes.
type Member struct {
	ID    farmauth.MetricID
	Value string
}

// Family groups related counters under one dimensional instrument for
// exporters with attribute support.
type Family struct {
	Name    string
	Help    string
	Key     string
	Members []Member
}

// Families covers every entry of [CounterDefs] exactly once.
var Families = []Family{
	{
		Name: "farmauth.session.changes", Help: "Session store transitions.", Key: "change",
		Members: []Member{
			{ID: farmauth.MetricSessionEstablished, Value: "established"},
			{ID: farmauth.MetricSessionTerminated, Value: "terminated"},
		},
	},
	{
		Name: "farmauth.session.backend_rejections", Help: "Sessions cleared after the backend answered 401.",
		Members: []Member{{ID: farmauth.MetricSessionUnauthorized}},
	},
	{
		Name: "farmauth.store.failures", Help: "Token store reads or writes that failed.",
		Members: []Member{{ID: farmauth.MetricStorageUnavailable}},
	},
	{
		Name: "farmauth.login.outcomes", Help: "Finished login attempts.", Key: "outcome",
		Members: []Member{
			{ID: farmauth.MetricLoginSuccess, Value: "success"},
			{ID: farmauth.MetricLoginFailure, Value: "failure"},
			{ID: farmauth.MetricFederatedCancelled, Value: "cancelled"},
		},
	},
	{
		Name: "farmauth.login.submits_ignored", Help: "Submits that never reached the backend or whose result was discarded.", Key: "cause",
		Members: []Member{
			{ID: farmauth.MetricValidationRejected, Value: "validation"},
			{ID: farmauth.MetricDuplicateSubmit, Value: "duplicate"},
			{ID: farmauth.MetricStaleResultDropped, Value: "stale"},
		},
	},
	{
		Name: "farmauth.verification.codes", Help: "Verification codes by result.", Key: "result",
		Members: []Member{
			{ID: farmauth.MetricVerificationRequested, Value: "requested"},
			{ID: farmauth.MetricVerificationFailure, Value: "rejected"},
		},
	},
	{
		Name: "farmauth.guard.decisions", Help: "Protected navigations by decision.", Key: "decision",
		Members: []Member{
			{ID: farmauth.MetricGuardAllowed, Value: "allowed"},
			{ID: farmauth.MetricGuardDenied, Value: "denied"},
		},
	},
	{
		Name: "farmauth.backend.requests", Help: "Backend requests by attached credential.", Key: "credential",
		Members: []Member{
			{ID: farmauth.MetricRequestAuthenticated, Value: "bearer"},
			{ID: farmauth.MetricRequestUnauthenticated, Value: "none"},
		},
	},
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
