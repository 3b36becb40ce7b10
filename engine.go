package arkana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	internalaudit "github.com/avilainc/arkana/internal/audit"
	"github.com/avilainc/arkana/internal/flows"
	internalmetrics "github.com/avilainc/arkana/internal/metrics"
	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
)

// Engine runs the credential lifecycle: registration, login, refresh
// rotation with reuse detection, validation, logout and password reset.
// It is safe for concurrent use; every piece of shared state lives in the
// ledger, the rate limiter store or the profile store.
type Engine struct {
	config   Config
	flow     flows.Service
	codec    *jwt.Codec
	keys     jwt.KeyProvider
	ledger   ledger.Ledger
	limiter  *rate.Limiter
	profiles ProfileStore
	audit    *internalaudit.Dispatcher
	metrics  *internalmetrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were lost.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Keys returns the key provider. When the engine built its own ring from
// configuration this is a *jwt.KeyRing and may be rotated.
func (e *Engine) Keys() jwt.KeyProvider {
	if e == nil {
		return nil
	}
	return e.keys
}

// Ping checks the shared store and, when it supports it, the profile store.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if p, ok := e.profiles.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// Register creates an active, unverified profile and sends a verification
// link. A delivery failure is logged and does not fail registration.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Register")
	defer span.End()

	res := e.flow.Register(ctx, flows.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	var meta map[string]string
	if res.OK() && res.DeliveryFailed {
		meta = map[string]string{"delivery": "failed"}
	}
	if err := e.finish(ctx, span, opRegister, res.Outcome, meta); err != nil {
		return Identity{}, err
	}
	return toIdentity(res.Profile), nil
}

// Login verifies email and secret and starts a new refresh family.
// Unknown email and wrong secret both return [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, email, secret string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Login")
	defer span.End()

	res := e.flow.Login(ctx, email, secret)
	if err := e.finish(ctx, span, opLogin, res.Outcome, nil); err != nil {
		return TokenPair{}, err
	}
	return e.tokenPair(res.Pair), nil
}

// VerifyEmail redeems a single-use verification token.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "VerifyEmail")
	defer span.End()

	res := e.flow.VerifyEmail(ctx, token)
	if err := e.finish(ctx, span, opVerifyEmail, res.Outcome, nil); err != nil {
		return Identity{}, err
	}
	return toIdentity(res.Profile), nil
}

// RequestEmailVerification re-sends a verification link. It succeeds for
// unknown and already verified addresses.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "RequestEmailVerification")
	defer span.End()

	return e.finish(ctx, span, opVerifyRequest, e.flow.RequestEmailVerification(ctx, email), nil)
}

// Refresh rotates refreshToken into a new pair of the same family.
//
// Exactly one of any number of concurrent calls with the same token
// succeeds. Presenting a token that was already rotated revokes the whole
// family and returns [ErrTokenReuseDetected].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Refresh")
	defer span.End()

	res := e.flow.Refresh(ctx, refreshToken)
	if res.Failure == flows.FailureReuseDetected {
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.Outcome, ErrTokenReuseDetected, nil)
	}
	if err := e.finish(ctx, span, opRefresh, res.Outcome, nil); err != nil {
		return TokenPair{}, err
	}
	return e.tokenPair(res.Pair), nil
}

// ValidateAccess verifies an access token. In sync revocation mode the
// ledger is consulted and a store outage fails closed with
// [ErrStoreUnavailable]; in eventual mode only signature and expiry count.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (AccessResult, error) {
	if !e.ready() {
		return AccessResult{}, ErrEngineNotReady
	}
	start := e.now()
	res := e.flow.ValidateAccess(ctx, token)
	e.metrics.Observe(internalmetrics.ValidateLatency, e.now().Sub(start))

	if err := e.finishQuiet(res.Outcome); err != nil {
		return AccessResult{}, err
	}
	return AccessResult{
		Subject:   res.Claims.Subject,
		TokenID:   res.Claims.ID,
		IssuedAt:  res.Claims.IssuedAt.Time,
		ExpiresAt: res.Claims.ExpiresAt.Time,
	}, nil
}

// ValidateRefresh verifies a refresh token without rotating it.
func (e *Engine) ValidateRefresh(ctx context.Context, token string) (RefreshResult, error) {
	if !e.ready() {
		return RefreshResult{}, ErrEngineNotReady
	}
	res := e.flow.ValidateRefresh(ctx, token)
	if err := e.finishQuiet(res.Outcome); err != nil {
		return RefreshResult{}, err
	}
	out := RefreshResult{
		Subject:   res.Claims.Subject,
		TokenID:   res.Claims.ID,
		FamilyID:  res.Claims.FamilyID,
		IssuedAt:  res.Claims.IssuedAt.Time,
		ExpiresAt: res.Claims.ExpiresAt.Time,
	}
	if res.Claims.AuthTime != nil {
		out.AuthTime = res.Claims.AuthTime.Time
	}
	return out, nil
}

// RequestPasswordReset sends a reset link when email belongs to an active
// profile. It returns nil for unknown addresses.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "RequestPasswordReset")
	defer span.End()

	return e.finish(ctx, span, opResetRequest, e.flow.RequestPasswordReset(ctx, email), nil)
}

// ConfirmPasswordReset redeems a reset token, replaces the secret and
// revokes every refresh family of the subject. A token rejected by the
// secret policy is not consumed.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newSecret string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "ConfirmPasswordReset")
	defer span.End()

	return e.finish(ctx, span, opResetConfirm, e.flow.ConfirmPasswordReset(ctx, token, newSecret), nil)
}

// Logout revokes the access token and, when given, the refresh family.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Logout")
	defer span.End()

	return e.finish(ctx, span, opLogout, e.flow.Logout(ctx, accessToken, refreshToken), nil)
}

// LogoutAll revokes every refresh family of subject.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "LogoutAll")
	defer span.End()

	res := e.flow.LogoutAll(ctx, subject)
	span.SetAttributes(attribute.Int("arkana.families_revoked", res.Revoked))
	return e.finish(ctx, span, opLogoutAll, res.Outcome, map[string]string{
		"families": fmt.Sprint(res.Revoked),
	})
}

// GetCurrentIdentity validates accessToken and returns its profile.
func (e *Engine) GetCurrentIdentity(ctx context.Context, accessToken string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	res := e.flow.CurrentIdentity(ctx, accessToken)
	if err := e.finishQuiet(res.Outcome); err != nil {
		return Identity{}, err
	}
	return toIdentity(res.Profile), nil
}

func (e *Engine) tokenPair(p flows.Pair) TokenPair {
	return TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(e.config.Tokens.AccessTTL / time.Second),
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "arkana."+name, trace.WithSpanKind(trace.SpanKindInternal))
}

// outcomeError maps a flow failure onto the public taxonomy. Detail from
// collaborators is kept only where it cannot reveal account existence.
func outcomeError(o flows.Outcome) error {
	switch o.Failure {
	case flows.FailureNone:
		return nil
	case flows.FailureInvalidRequest:
		if o.Err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, o.Err)
		}
		return ErrInvalidRequest
	case flows.FailureRateLimited:
		return &RateLimitedError{Action: string(o.Action), RetryAfter: o.RetryAfter}
	case flows.FailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.FailureAccountInactive:
		return ErrAccountInactive
	case flows.FailureEmailNotVerified:
		return ErrEmailNotVerified
	case flows.FailureMalformed:
		return ErrMalformed
	case flows.FailureSignatureInvalid:
		return ErrSignatureInvalid
	case flows.FailureExpired:
		return ErrTokenExpired
	case flows.FailureRevoked:
		return ErrTokenRevoked
	case flows.FailureAlreadyUsed:
		return ErrTokenAlreadyUsed
	case flows.FailureReuseDetected:
		return ErrTokenReuseDetected
	case flows.FailureFamilyRevoked:
		return ErrFamilyRevoked
	case flows.FailureDuplicateEmail:
		return ErrDuplicateEmail
	case flows.FailureWeakSecret:
		return ErrWeakSecret
	case flows.FailureStoreUnavailable:
		if o.Err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, o.Err)
		}
		return ErrStoreUnavailable
	default:
		if o.Err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, o.Err)
		}
		return ErrInternal
	}
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op operation, o flows.Outcome, meta map[string]string) error {
	err := outcomeError(o)
	e.record(op, o)

	if o.Subject != "" {
		span.SetAttributes(attribute.String("arkana.subject", o.Subject))
	}
	if err != nil {
		span.SetAttributes(attribute.String("arkana.error", ErrorCode(err)))
		span.SetStatus(codes.Error, ErrorCode(err))
	}
	if o.Failure == flows.FailureStoreUnavailable || o.Failure == flows.FailureInternal {
		e.logger.WarnContext(ctx, "arkana: operation failed", "op", op.name, "error", err)
	}

	e.emitAudit(ctx, op.event, err == nil, o, err, meta)
	return err
}

// finishQuiet is used on the validation hot path: metrics only.
func (e *Engine) finishQuiet(o flows.Outcome) error {
	err := outcomeError(o)
	if err == nil {
		e.metrics.Inc(internalmetrics.ValidateSuccess)
		return nil
	}
	e.metrics.Inc(internalmetrics.ValidateFailure)
	if o.Failure == flows.FailureStoreUnavailable {
		e.metrics.Inc(internalmetrics.StoreUnavailable)
	}
	return err
}
