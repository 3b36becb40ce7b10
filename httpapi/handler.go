package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avilainc/arkana"
	"github.com/avilainc/arkana/middleware"
)

const maxBodyBytes = 16 << 10

// Engine is the set of operations the routes call.
type Engine interface {
	Register(ctx context.Context, req arkana.RegisterRequest) (arkana.Identity, error)
	Login(ctx context.Context, email, secret string) (arkana.TokenPair, error)
	VerifyEmail(ctx context.Context, token string) (arkana.Identity, error)
	RequestEmailVerification(ctx context.Context, email string) error
	Refresh(ctx context.Context, refreshToken string) (arkana.TokenPair, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newSecret string) error
	Logout(ctx context.Context, accessToken, refreshToken string) error
	GetCurrentIdentity(ctx context.Context, accessToken string) (arkana.Identity, error)
}

// RequestObserver records one finished request.
type RequestObserver interface {
	Observe(route string, code int, elapsed time.Duration)
}

// Options configures [New].
type Options struct {
	Logger *slog.Logger
	// Observer receives per-route status and latency. Optional.
	Observer RequestObserver
	// TrustForwarded takes the client address from X-Forwarded-For.
	TrustForwarded bool
}

type api struct {
	engine   Engine
	logger   *slog.Logger
	observer RequestObserver
}

// New returns the routed handler.
func New(engine Engine, opts Options) http.Handler {
	a := &api{engine: engine, logger: opts.Logger, observer: opts.Observer}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	a.route(mux, "POST /auth/register", a.register)
	a.route(mux, "POST /auth/login", a.login)
	a.route(mux, "POST /auth/verify-email", a.verifyEmail)
	a.route(mux, "POST /auth/verify-email/resend", a.resendVerification)
	a.route(mux, "POST /auth/refresh", a.refresh)
	a.route(mux, "POST /auth/password-reset", a.requestReset)
	a.route(mux, "POST /auth/password-reset/confirm", a.confirmReset)
	a.route(mux, "POST /auth/logout", a.logout)
	a.route(mux, "GET /users/me", a.me)

	return middleware.ClientContext(opts.TrustForwarded)(mux)
}

func (a *api) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	_, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		if a.observer != nil {
			a.observer.Observe(path, rec.status, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

/*
====================================
REQUEST / RESPONSE BODIES
====================================
*/

type registerBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenBody struct {
	Token string `json:"token"`
}

type emailBody struct {
	Email string `json:"email"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type confirmResetBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type identityResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	EmailVerified bool      `json:"email_verified"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toIdentityResponse(id arkana.Identity) identityResponse {
	return identityResponse{
		ID:            id.ID,
		Email:         id.Email,
		FullName:      id.FullName,
		EmailVerified: id.EmailVerified,
		Active:        id.Active,
		CreatedAt:     id.CreatedAt,
	}
}

func toTokenResponse(p arkana.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
	}
}

/*
====================================
HANDLERS
====================================
*/

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !a.decode(w, r, &body) {
		return
	}
	id, err := a.engine.Register(r.Context(), arkana.RegisterRequest{
		Email:    body.Email,
		Password: body.Password,
		FullName: body.FullName,
	})
	if err != nil {
		a.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, toIdentityResponse(id))
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !a.decode(w, r, &body) {
		return
	}
	pair, err := a.engine.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		a.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	writeTokens(w, pair)
}

func (a *api) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var body tokenBody
		if !a.decode(w, r, &body) {
			return
		}
		token = body.Token
	}
	id, err := a.engine.VerifyEmail(r.Context(), token)
	if err != nil {
		a.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(id))
}

func (a *api) resendVerification(w http.ResponseWriter, r *http.Request) {
	var body emailBody
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.engine.RequestEmailVerification(r.Context(), body.Email); err != nil {
		a.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If the email exists and is unverified, a verification link has been sent"})
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !a.decode(w, r, &body) {
		return
	}
	pair, err := a.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		a.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	writeTokens(w, pair)
}

func (a *api) requestReset(w http.ResponseWriter, r *http.Request) {
	var body emailBody
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		a.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "If the email exists, a reset link has been sent"})
}

func (a *api) confirmReset(w http.ResponseWriter, r *http.Request) {
	var body confirmResetBody
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.engine.ConfirmPasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		a.fail(w, r, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	access, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		a.fail(w, r, arkana.ErrInvalidCredentials, http.StatusUnauthorized)
		return
	}
	var body refreshBody
	if r.ContentLength != 0 && !a.decode(w, r, &body) {
		return
	}
	if err := a.engine.Logout(r.Context(), access, body.RefreshToken); err != nil {
		a.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	access, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		a.fail(w, r, arkana.ErrInvalidCredentials, http.StatusUnauthorized)
		return
	}
	id, err := a.engine.GetCurrentIdentity(r.Context(), access)
	if err != nil {
		a.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(id))
}

func writeTokens(w http.ResponseWriter, pair arkana.TokenPair) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "invalid_request", Message: "Request body too large"})
			return false
		}
		a.fail(w, r, arkana.ErrInvalidRequest, http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
