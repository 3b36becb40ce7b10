package flows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
)

// Pair is a freshly minted access/refresh pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessID         string
	RefreshID        string
	FamilyID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

var errFamilyLifetime = errors.New("refresh family reached its absolute lifetime")

// issuePair mints both tokens for subject within familyID. Nothing is
// written to the ledger here.
func issuePair(d Deps, subject, familyID string, authTime time.Time) (Pair, error) {
	now := d.Now()

	access := d.Codec.NewClaims(jwt.TypeAccess, subject, d.Settings.AccessTTL)

	refreshTTL := d.Settings.RefreshTTL
	if d.Settings.AbsoluteLifetime > 0 {
		limit := authTime.Add(d.Settings.AbsoluteLifetime).Sub(now)
		if limit <= 0 {
			return Pair{}, errFamilyLifetime
		}
		if limit < refreshTTL {
			refreshTTL = limit
		}
	}
	refresh := d.Codec.NewClaims(jwt.TypeRefresh, subject, refreshTTL)
	refresh.FamilyID = familyID
	refresh.AuthTime = gjwt.NewNumericDate(authTime)

	accessToken, err := d.Codec.Encode(access)
	if err != nil {
		return Pair{}, err
	}
	refreshToken, err := d.Codec.Encode(refresh)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessID:         access.ID,
		RefreshID:        refresh.ID,
		FamilyID:         familyID,
		AccessExpiresAt:  access.ExpiresAt.Time,
		RefreshExpiresAt: refresh.ExpiresAt.Time,
	}, nil
}

// gate consults the limiter. A store failure fails closed; a missing policy
// is a wiring error.
func gate(ctx context.Context, d Deps, action rate.Action, key string, out Outcome) (Outcome, bool) {
	out.Action = action
	if d.Limiter == nil {
		return out, true
	}
	decision, err := d.Limiter.Check(ctx, action, key)
	if err != nil {
		if errors.Is(err, rate.ErrUnknownAction) {
			return out.fail(FailureInternal, err), false
		}
		return out.fail(FailureStoreUnavailable, err), false
	}
	if !decision.Allowed {
		out.RetryAfter = decision.RetryAfter
		return out.fail(FailureRateLimited, nil), false
	}
	return out, true
}

// unspend clears the spent marker of id after a write that followed the
// spend failed, so the same token stays redeemable. If the marker cannot be
// cleared the failure is internal: a retry would only see AlreadyUsed.
func unspend(ctx context.Context, d Deps, out Outcome, id string, cause error) Outcome {
	if _, err := d.Ledger.ReleaseSpent(ctx, id); err != nil {
		return out.fail(FailureInternal, errors.Join(cause, err))
	}
	return out.fail(FailureStoreUnavailable, cause)
}

func decodeFailure(err error) FailureKind {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return FailureExpired
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return FailureSignatureInvalid
	default:
		return FailureMalformed
	}
}

// ledgerTTL keeps a ledger entry alive for as long as the validator could
// still accept the token.
func ledgerTTL(d Deps, c *jwt.Claims) time.Duration {
	return c.Remaining(d.Now()) + d.Settings.Leeway
}

// familyTTL covers every token a family can still produce.
func familyTTL(d Deps) time.Duration {
	return d.Settings.RefreshTTL + d.Settings.Leeway
}

func isNotFound(d Deps, err error) bool {
	return d.Errors.ProfileNotFound != nil && errors.Is(err, d.Errors.ProfileNotFound)
}

// tokenFingerprint keys anonymous callers by token digest, never the token.
func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:12])
}
