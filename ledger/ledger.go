package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every failure to reach the backing store, including
// per-operation timeouts. Callers treat it as transient.
var ErrUnavailable = errors.New("ledger unavailable")

// Reason records why an id or family was invalidated.
type Reason string

const (
	ReasonLogout        Reason = "logout"
	ReasonLogoutAll     Reason = "logout_all"
	ReasonReuse         Reason = "reuse_detected"
	ReasonPasswordReset Reason = "password_reset"
	ReasonAccount       Reason = "account_inactive"
)

// Ledger is the revocation store consulted by the token issuer and validator.
// All operations are atomic with respect to concurrent callers on any instance.
type Ledger interface {
	// MarkRevoked records id as revoked for ttl, overriding a spent marker.
	MarkRevoked(ctx context.Context, id string, reason Reason, ttl time.Duration) error
	// IsRevoked reports whether id was explicitly revoked.
	IsRevoked(ctx context.Context, id string) (bool, error)
	// MarkSpentIfUnspent atomically records id as spent and reports whether
	// this call was the first to do so. An id that is already spent or
	// revoked is never first use.
	MarkSpentIfUnspent(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// ReleaseSpent clears a spent marker so id can be redeemed again. It
	// reports false when id is not in the spent state; revocations are
	// never cleared.
	ReleaseSpent(ctx context.Context, id string) (bool, error)
	// RevokeFamily invalidates every refresh token of familyID for ttl.
	RevokeFamily(ctx context.Context, familyID string, reason Reason, ttl time.Duration) error
	// IsFamilyRevoked reports whether familyID was revoked.
	IsFamilyRevoked(ctx context.Context, familyID string) (bool, error)
	// TrackFamily indexes familyID under subject for at least ttl.
	TrackFamily(ctx context.Context, subject, familyID string, ttl time.Duration) error
	// RevokeSubjectFamilies revokes every tracked family of subject and
	// returns how many were revoked.
	RevokeSubjectFamilies(ctx context.Context, subject string, reason Reason, ttl time.Duration) (int, error)
	// Ping checks store reachability.
	Ping(ctx context.Context) error
}
