package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/avilainc/arkana"
)

// AccessValidator is the slice of the engine a guard needs.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (arkana.AccessResult, error)
}

type accessResultContextKey struct{}

// AccessResultFromContext returns the result stored by [Guard].
func AccessResultFromContext(ctx context.Context) (arkana.AccessResult, bool) {
	res, ok := ctx.Value(accessResultContextKey{}).(arkana.AccessResult)
	return res, ok
}

// Guard rejects requests without a valid access token. A store outage in
// sync revocation mode yields 503 so clients retry instead of re-authenticating.
func Guard(engine AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				if errors.Is(err, arkana.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), accessResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientContext attaches the peer address and User-Agent to the request
// context. When trustForwarded is set, the first X-Forwarded-For hop wins;
// enable it only behind a proxy that overwrites the header.
func ClientContext(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := arkana.WithClientIP(r.Context(), ClientIP(r, trustForwarded))
			if ua := r.UserAgent(); ua != "" {
				ctx = arkana.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP resolves the caller address of r.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="arkana"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
