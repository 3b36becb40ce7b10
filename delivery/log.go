package delivery

import (
	"context"
	"log/slog"

	"github.com/avilainc/arkana"
)

// LogSender writes links to a logger instead of mailing them. It exists
// for local development and demos; the link carries a live token.
type LogSender struct {
	logger    *slog.Logger
	verifyURL string
	resetURL  string
}

var _ arkana.Delivery = (*LogSender)(nil)

// NewLogSender returns a sender that logs links built from the given bases.
func NewLogSender(logger *slog.Logger, verifyURL, resetURL string) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger, verifyURL: verifyURL, resetURL: resetURL}
}

func (s *LogSender) SendVerificationLink(ctx context.Context, to arkana.Identity, token string) error {
	return s.log(ctx, "verification link", to, s.verifyURL, token)
}

func (s *LogSender) SendResetLink(ctx context.Context, to arkana.Identity, token string) error {
	return s.log(ctx, "password reset link", to, s.resetURL, token)
}

func (s *LogSender) log(ctx context.Context, kind string, to arkana.Identity, base, token string) error {
	link, err := withToken(base, token)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, kind, "user_id", to.ID, "email", to.Email, "link", link)
	return nil
}
