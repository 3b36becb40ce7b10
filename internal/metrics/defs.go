package metrics

// Def names an exported series.
type Def struct {
	ID   ID
	Name string
	Help string
}

// AuditDroppedName is the series reporting dispatcher backpressure drops.
const AuditDroppedName = "arkana_audit_dropped_total"

var CounterDefs = []Def{
	{ID: LoginSuccess, Name: "arkana_login_success_total", Help: "Successful logins."},
	{ID: LoginFailure, Name: "arkana_login_failure_total", Help: "Failed logins."},
	{ID: LoginRateLimited, Name: "arkana_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: RegisterSuccess, Name: "arkana_register_success_total", Help: "Successful registrations."},
	{ID: RegisterDuplicate, Name: "arkana_register_duplicate_total", Help: "Registrations rejected as duplicate email."},
	{ID: RegisterFailure, Name: "arkana_register_failure_total", Help: "Failed registrations."},
	{ID: RefreshSuccess, Name: "arkana_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: RefreshFailure, Name: "arkana_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: RefreshReuseDetected, Name: "arkana_refresh_reuse_detected_total", Help: "Refresh token reuse detections."},
	{ID: FamilyRevoked, Name: "arkana_family_revoked_total", Help: "Refresh families revoked."},
	{ID: RateLimitHit, Name: "arkana_rate_limit_hit_total", Help: "Requests denied by the rate limiter."},
	{ID: Logout, Name: "arkana_logout_total", Help: "Single-session logouts."},
	{ID: LogoutAll, Name: "arkana_logout_all_total", Help: "Logout-all operations."},
	{ID: PasswordResetRequest, Name: "arkana_password_reset_request_total", Help: "Password reset requests."},
	{ID: PasswordResetConfirmSuccess, Name: "arkana_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: PasswordResetConfirmFailure, Name: "arkana_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: EmailVerificationRequest, Name: "arkana_email_verification_request_total", Help: "Email verification link requests."},
	{ID: EmailVerificationSuccess, Name: "arkana_email_verification_success_total", Help: "Successful email verifications."},
	{ID: EmailVerificationFailure, Name: "arkana_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: ValidateSuccess, Name: "arkana_validate_success_total", Help: "Successful token validations."},
	{ID: ValidateFailure, Name: "arkana_validate_failure_total", Help: "Failed token validations."},
	{ID: StoreUnavailable, Name: "arkana_store_unavailable_total", Help: "Operations failed by an unavailable backing store."},
	{ID: DeliveryFailure, Name: "arkana_delivery_failure_total", Help: "Verification or reset links the delivery collaborator rejected."},
}

var HistogramDefs = []Def{
	{ID: ValidateLatency, Name: "arkana_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds in seconds of the first
// BucketCount-1 buckets; the last bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
