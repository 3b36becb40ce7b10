package arkana

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong secret and tokens that
	// do not belong to the caller. The two login cases are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive reports a disabled or deleted profile.
	ErrAccountInactive = errors.New("account inactive")
	// ErrEmailNotVerified reports a login refused because the address is unverified.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrMalformed reports a token that could not be parsed or carries bad claims.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid reports a bad signature or an untrusted key id.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenExpired reports a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked reports an access token revoked by logout.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenAlreadyUsed reports a second redemption of a single-use token.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrTokenReuseDetected reports a refresh token presented after it was
	// rotated. The whole family has been revoked by the time this is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrFamilyRevoked reports a refresh token whose family was revoked.
	ErrFamilyRevoked = errors.New("token family revoked")
	// ErrRateLimited reports an exhausted action budget. The concrete error is
	// a [*RateLimitedError] carrying the retry hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrDuplicateEmail reports registration of an address that already exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrWeakSecret reports a secret rejected by the password policy.
	ErrWeakSecret = errors.New("secret does not meet policy")
	// ErrStoreUnavailable reports that the ledger, limiter or profile store
	// could not be reached. Security-relevant operations fail closed on it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProfileNotFound must be returned by [ProfileStore] lookups that find nothing.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidRequest reports malformed input such as a bad email address.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned by a nil or partially built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInternal reports an unexpected local failure such as a hashing error.
	ErrInternal = errors.New("internal error")
)

// RateLimitedError is returned when an action budget is exhausted.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

// Is reports a match against [ErrRateLimited].
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the retry hint from a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether the same request may succeed later without
// any change by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrAccountInactive, "account_inactive"},
	{ErrEmailNotVerified, "email_not_verified"},
	{ErrMalformed, "malformed"},
	{ErrSignatureInvalid, "signature_invalid"},
	{ErrTokenExpired, "token_expired"},
	{ErrTokenRevoked, "token_revoked"},
	{ErrTokenAlreadyUsed, "token_already_used"},
	{ErrTokenReuseDetected, "token_reuse_detected"},
	{ErrFamilyRevoked, "family_revoked"},
	{ErrRateLimited, "rate_limited"},
	{ErrDuplicateEmail, "duplicate_email"},
	{ErrWeakSecret, "weak_secret"},
	{ErrStoreUnavailable, "store_unavailable"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrEngineNotReady, "not_ready"},
}

// ErrorCode returns a stable snake_case code for err, suitable for audit
// records and API bodies. Unknown errors map to "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}
