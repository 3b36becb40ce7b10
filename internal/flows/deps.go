package flows

import (
	"context"
	"time"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
)

// FailureKind classifies flow failures for root-level mapping.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureInvalidRequest
	FailureRateLimited
	FailureInvalidCredentials
	FailureAccountInactive
	FailureEmailNotVerified
	FailureMalformed
	FailureSignatureInvalid
	FailureExpired
	FailureRevoked
	FailureAlreadyUsed
	FailureReuseDetected
	FailureFamilyRevoked
	FailureDuplicateEmail
	FailureWeakSecret
	FailureStoreUnavailable
	FailureInternal
)

// Outcome is embedded in every flow result.
type Outcome struct {
	Failure    FailureKind
	Err        error
	Action     rate.Action
	RetryAfter time.Duration
	Subject    string
	FamilyID   string
	TokenID    string
}

// OK reports whether the flow succeeded.
func (o Outcome) OK() bool { return o.Failure == FailureNone }

func (o Outcome) fail(kind FailureKind, err error) Outcome {
	o.Failure = kind
	o.Err = err
	return o
}

// Profile is the flow-local view of a stored identity.
type Profile struct {
	ID           string
	Email        string
	FullName     string
	Verified     bool
	Active       bool
	CreatedAt    time.Time
	PasswordHash string
}

// NewProfile is the input to [ProfileStore.Create].
type NewProfile struct {
	Email        string
	FullName     string
	PasswordHash string
}

// ProfileStore is the external identity store.
type ProfileStore interface {
	FindByEmail(ctx context.Context, email string) (Profile, error)
	FindByID(ctx context.Context, id string) (Profile, error)
	Create(ctx context.Context, p NewProfile) (Profile, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetVerified(ctx context.Context, id string) error
}

// Delivery hands out-of-band tokens to the user. Failures never undo the
// operation that produced the token.
type Delivery interface {
	SendVerificationLink(ctx context.Context, p Profile, token string) error
	SendResetLink(ctx context.Context, p Profile, token string) error
}

// SecretHasher is the credential verifier.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// TokenCodec signs and verifies typed claims.
type TokenCodec interface {
	NewClaims(typ jwt.TokenType, subject string, ttl time.Duration) jwt.Claims
	Encode(claims jwt.Claims) (string, error)
	Decode(token string, want jwt.TokenType) (*jwt.Claims, error)
}

// RateLimiter gates an action for a key.
type RateLimiter interface {
	Check(ctx context.Context, action rate.Action, key string) (rate.Decision, error)
}

// Settings are the lifetimes and switches the flows read.
type Settings struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	AbsoluteLifetime     time.Duration
	ResetTTL             time.Duration
	VerifyTTL            time.Duration
	Leeway               time.Duration
	SyncAccessRevocation bool
	RequireVerifiedLogin bool
	UpgradeHashOnLogin   bool
	DummyHash            string
	FullNameMin          int
	FullNameMax          int
}

// Errors carries host-level sentinels returned by collaborators.
type Errors struct {
	ProfileNotFound error
	DuplicateEmail  error
}

// Deps groups flow dependencies. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Codec    TokenCodec
	Ledger   ledger.Ledger
	Limiter  RateLimiter
	Profiles ProfileStore
	Secrets  SecretHasher
	Delivery Delivery

	CheckSecretPolicy   func(string) error
	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time
	NewFamilyID         func() string
	Warn                func(string, ...any)

	Settings Settings
	Errors   Errors
}
