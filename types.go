package arkana

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/avilainc/arkana/internal/audit"
	internalmetrics "github.com/avilainc/arkana/internal/metrics"
)

// Identity is the public view of a profile. It never carries the secret hash.
type Identity struct {
	ID            string
	Email         string
	FullName      string
	EmailVerified bool
	Active        bool
	CreatedAt     time.Time
}

// ProfileRecord is what a [ProfileStore] persists.
type ProfileRecord struct {
	ID            string
	Email         string
	FullName      string
	PasswordHash  string
	EmailVerified bool
	Active        bool
	CreatedAt     time.Time
}

// Identity strips the secret hash.
func (p ProfileRecord) Identity() Identity {
	return Identity{
		ID:            p.ID,
		Email:         p.Email,
		FullName:      p.FullName,
		EmailVerified: p.EmailVerified,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
	}
}

// NewProfile is passed to [ProfileStore.Create]. Email is already
// normalized and PasswordHash already computed.
type NewProfile struct {
	Email        string
	FullName     string
	PasswordHash string
}

// ProfileStore is the identity store the engine reads and updates.
//
// Lookups that find nothing must return [ErrProfileNotFound]; Create must
// return [ErrDuplicateEmail] when the address is taken. Any other error is
// treated as the store being unavailable. New profiles are active and
// unverified.
type ProfileStore interface {
	FindByEmail(ctx context.Context, email string) (ProfileRecord, error)
	FindByID(ctx context.Context, id string) (ProfileRecord, error)
	Create(ctx context.Context, p NewProfile) (ProfileRecord, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetEmailVerified(ctx context.Context, id string) error
}

// Delivery hands single-use tokens to the user out of band. A delivery
// error is logged and never rolls back the operation that minted the token.
type Delivery interface {
	SendVerificationLink(ctx context.Context, to Identity, token string) error
	SendResetLink(ctx context.Context, to Identity, token string) error
}

// RegisterRequest is the input to [Engine.Register].
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
}

// TokenPair is returned by login and refresh. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AccessResult is returned by [Engine.ValidateAccess].
type AccessResult struct {
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshResult is returned by [Engine.ValidateRefresh].
type RefreshResult struct {
	Subject   string
	TokenID   string
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	AuthTime  time.Time
}

// AuditEvent is one structured security event.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON-encoded event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink]; a nil logger means slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// MetricID identifies one engine counter or histogram.
type MetricID = internalmetrics.ID

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricLoginSuccess                = internalmetrics.LoginSuccess
	MetricLoginFailure                = internalmetrics.LoginFailure
	MetricLoginRateLimited            = internalmetrics.LoginRateLimited
	MetricRegisterSuccess             = internalmetrics.RegisterSuccess
	MetricRegisterDuplicate           = internalmetrics.RegisterDuplicate
	MetricRegisterFailure             = internalmetrics.RegisterFailure
	MetricRefreshSuccess              = internalmetrics.RefreshSuccess
	MetricRefreshFailure              = internalmetrics.RefreshFailure
	MetricRefreshReuseDetected        = internalmetrics.RefreshReuseDetected
	MetricFamilyRevoked               = internalmetrics.FamilyRevoked
	MetricRateLimitHit                = internalmetrics.RateLimitHit
	MetricLogout                      = internalmetrics.Logout
	MetricLogoutAll                   = internalmetrics.LogoutAll
	MetricPasswordResetRequest        = internalmetrics.PasswordResetRequest
	MetricPasswordResetConfirmSuccess = internalmetrics.PasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure = internalmetrics.PasswordResetConfirmFailure
	MetricEmailVerificationRequest    = internalmetrics.EmailVerificationRequest
	MetricEmailVerificationSuccess    = internalmetrics.EmailVerificationSuccess
	MetricEmailVerificationFailure    = internalmetrics.EmailVerificationFailure
	MetricValidateSuccess             = internalmetrics.ValidateSuccess
	MetricValidateFailure             = internalmetrics.ValidateFailure
	MetricStoreUnavailable            = internalmetrics.StoreUnavailable
	MetricDeliveryFailure             = internalmetrics.DeliveryFailure
	MetricValidateLatency             = internalmetrics.ValidateLatency
)
