package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avilainc/arkana"
	"github.com/avilainc/arkana/httpapi"
	"github.com/avilainc/arkana/profilestore/memory"
)

type mailbox struct {
	mu     sync.Mutex
	verify map[string]string
	reset  map[string]string
}

func (m *mailbox) SendVerificationLink(_ context.Context, to arkana.Identity, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verify[to.Email] = token
	return nil
}

func (m *mailbox) SendResetLink(_ context.Context, to arkana.Identity, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[to.Email] = token
	return nil
}

type observed struct {
	mu    sync.Mutex
	codes map[string][]int
}

func (o *observed) Observe(route string, code int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[route] = append(o.codes[route], code)
}

type fixture struct {
	handler  http.Handler
	mail     *mailbox
	observer *observed
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T, mutate func(*arkana.Config)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := arkana.DefaultConfig()
	cfg.Tokens.AccessRevocation = arkana.AccessRevocationSync
	cfg.Tokens.SigningMethod = "hs256"
	cfg.Tokens.KeyID = "api"
	cfg.Tokens.PrivateKey = "0123456789abcdef0123456789abcdef"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	mail := &mailbox{verify: map[string]string{}, reset: map[string]string{}}
	engine, err := arkana.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProfileStore(memory.New()).
		WithDelivery(mail).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	obs := &observed{codes: map[string][]int{}}
	return &fixture{
		handler:  httpapi.New(engine, httpapi.Options{Observer: obs}),
		mail:     mail,
		observer: obs,
		mr:       mr,
	}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	EmailVerified bool   `json:"email_verified"`
}

func (f *fixture) registerAndLogin(t *testing.T, email, password string) tokens {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": password, "full_name": "Ana Ávila",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[tokens](t, rec)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	pair := f.registerAndLogin(t, "ana@example.com", "correct-horse")

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	rec := f.do(t, http.MethodGet, "/users/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[identity](t, rec)
	assert.Equal(t, "ana@example.com", me.Email)
	assert.False(t, me.EmailVerified)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	rotated := decodeBody[tokens](t, rec)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_reuse_detected", decodeBody[apiError](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", decodeBody[apiError](t, rec).Message)

	assert.Equal(t, []int{200, 401, 401}, f.observer.codes["/auth/refresh"])
}

func TestLogoutOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	pair := f.registerAndLogin(t, "ana@example.com", "correct-horse")

	rec := f.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = f.do(t, http.MethodPost, "/auth/logout", pair.AccessToken, map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/users/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_revoked", decodeBody[apiError](t, rec).Error)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	f := newFixture(t, nil)
	f.registerAndLogin(t, "ana@example.com", "correct-horse")

	wrong := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@example.com", "password": "wrong-horse"})
	unknown := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "bob@example.com", "password": "wrong-horse"})

	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestLoginRateLimitSetsRetryAfter(t *testing.T) {
	f := newFixture(t, func(c *arkana.Config) {
		c.RateLimit.Login = arkana.RatePolicy{Limit: 2, Window: time.Minute}
	})

	body := map[string]string{"email": "nobody@example.com", "password": "whatever-1"}
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/auth/login", "", body).Code)
	}

	rec := f.do(t, http.MethodPost, "/auth/login", "", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody[apiError](t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestEmailVerificationOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	f.registerAndLogin(t, "ana@example.com", "correct-horse")
	token := f.mail.verify["ana@example.com"]
	require.NotEmpty(t, token)

	rec := f.do(t, http.MethodPost, "/auth/verify-email?token="+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[identity](t, rec).EmailVerified)

	rec = f.do(t, http.MethodPost, "/auth/verify-email", "", map[string]string{"token": token})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "token_already_used", decodeBody[apiError](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/auth/verify-email/resend", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	pair := f.registerAndLogin(t, "ana@example.com", "correct-horse")

	rec := f.do(t, http.MethodPost, "/auth/password-reset", "", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	unknown := f.do(t, http.MethodPost, "/auth/password-reset", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, rec.Body.String(), unknown.Body.String())

	token := f.mail.reset["ana@example.com"]
	require.NotEmpty(t, token)

	rec = f.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]string{"token": token, "new_password": "short"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "weak_secret", decodeBody[apiError](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/auth/password-reset/confirm", "", map[string]string{"token": token, "new_password": "battery-staple"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@example.com", "password": "battery-staple"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.registerAndLogin(t, "ana@example.com", "correct-horse")

	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "ANA@example.com", "password": "correct-horse", "full_name": "Ana",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_email", decodeBody[apiError](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/auth/register", "", map[string]any{"email": "x@example.com", "unexpected": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody[apiError](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"`+strings.Repeat("a", 20<<10)+`"}`))
	big := httptest.NewRecorder()
	f.handler.ServeHTTP(big, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, big.Code)
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	pair := f.registerAndLogin(t, "ana@example.com", "correct-horse")

	f.mr.Close()

	rec := f.do(t, http.MethodGet, "/users/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", decodeBody[apiError](t, rec).Error)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/auth/nowhere", "", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/auth/login", "", nil).Code)
}
