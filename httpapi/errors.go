package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/avilainc/arkana"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// tokenErrors are the failures of a presented token. Their status depends
// on the route: 401 for session tokens, 400 for single-use link tokens.
var tokenErrors = []error{
	arkana.ErrMalformed,
	arkana.ErrSignatureInvalid,
	arkana.ErrTokenExpired,
	arkana.ErrTokenRevoked,
	arkana.ErrTokenAlreadyUsed,
	arkana.ErrTokenReuseDetected,
	arkana.ErrFamilyRevoked,
}

func statusFor(err error, tokenStatus int) (int, string) {
	for _, te := range tokenErrors {
		if errors.Is(err, te) {
			return tokenStatus, "Invalid or expired token"
		}
	}
	switch {
	case errors.Is(err, arkana.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Incorrect email or password"
	case errors.Is(err, arkana.ErrAccountInactive):
		return http.StatusForbidden, "Account is disabled"
	case errors.Is(err, arkana.ErrEmailNotVerified):
		return http.StatusForbidden, "Email address is not verified"
	case errors.Is(err, arkana.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many attempts, try again later"
	case errors.Is(err, arkana.ErrDuplicateEmail):
		return http.StatusConflict, "Email already registered"
	case errors.Is(err, arkana.ErrWeakSecret):
		return http.StatusUnprocessableEntity, "Password does not meet requirements"
	case errors.Is(err, arkana.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, arkana.ErrStoreUnavailable), errors.Is(err, arkana.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error, tokenStatus int) {
	status, message := statusFor(err, tokenStatus)

	if d, ok := arkana.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
	} else if arkana.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="arkana"`)
	}
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, errorResponse{Error: arkana.ErrorCode(err), Message: message})
}
