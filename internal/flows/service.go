package flows

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewFamilyID == nil {
		deps.NewFamilyID = uuid.NewString
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.CheckSecretPolicy == nil {
		deps.CheckSecretPolicy = func(string) error { return nil }
	}
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Codec != nil &&
		s.deps.Ledger != nil &&
		s.deps.Limiter != nil &&
		s.deps.Profiles != nil &&
		s.deps.Secrets != nil
}

func (s Service) Register(ctx context.Context, in RegisterInput) RegisterResult {
	return RunRegister(ctx, in, s.deps)
}

func (s Service) Login(ctx context.Context, email, secret string) LoginResult {
	return RunLogin(ctx, email, secret, s.deps)
}

func (s Service) VerifyEmail(ctx context.Context, token string) VerifyEmailResult {
	return RunVerifyEmail(ctx, token, s.deps)
}

func (s Service) RequestEmailVerification(ctx context.Context, email string) Outcome {
	return RunRequestEmailVerification(ctx, email, s.deps)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps)
}

func (s Service) ValidateAccess(ctx context.Context, token string) ValidateResult {
	return RunValidateAccess(ctx, token, s.deps)
}

func (s Service) ValidateRefresh(ctx context.Context, token string) ValidateResult {
	return RunValidateRefresh(ctx, token, s.deps)
}

func (s Service) RequestPasswordReset(ctx context.Context, email string) Outcome {
	return RunRequestPasswordReset(ctx, email, s.deps)
}

func (s Service) ConfirmPasswordReset(ctx context.Context, token, newSecret string) Outcome {
	return RunConfirmPasswordReset(ctx, token, newSecret, s.deps)
}

func (s Service) Logout(ctx context.Context, accessToken, refreshToken string) Outcome {
	return RunLogout(ctx, accessToken, refreshToken, s.deps)
}

func (s Service) LogoutAll(ctx context.Context, subject string) LogoutAllResult {
	return RunLogoutAll(ctx, subject, s.deps)
}

func (s Service) CurrentIdentity(ctx context.Context, accessToken string) IdentityResult {
	return RunCurrentIdentity(ctx, accessToken, s.deps)
}
