package flows

import (
	"context"
	"errors"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Outcome
	Pair Pair
}

// RunRefresh exchanges a refresh token for a new pair in the same family.
//
// Every check that can fail transiently runs before the presented token id
// is consumed with a single atomic MarkSpentIfUnspent, so a
// StoreUnavailable result leaves the token usable for a retry. Losing the
// spend race, or presenting an id that was already spent or revoked,
// revokes the whole family before the failure is reported.
func RunRefresh(ctx context.Context, refreshToken string, d Deps) RefreshResult {
	key := rate.ClientKey(d.ClientIPFromContext(ctx), tokenFingerprint(refreshToken))
	out, ok := gate(ctx, d, rate.ActionRefresh, key, Outcome{})
	if !ok {
		return RefreshResult{Outcome: out}
	}

	claims, err := d.Codec.Decode(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return RefreshResult{Outcome: out.fail(decodeFailure(err), err)}
	}
	out.Subject = claims.Subject
	out.FamilyID = claims.FamilyID
	out.TokenID = claims.ID

	revoked, err := d.Ledger.IsFamilyRevoked(ctx, claims.FamilyID)
	if err != nil {
		return RefreshResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	if revoked {
		return RefreshResult{Outcome: out.fail(FailureFamilyRevoked, nil)}
	}

	profile, err := d.Profiles.FindByID(ctx, claims.Subject)
	if err != nil && !isNotFound(d, err) {
		return RefreshResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	if err != nil || !profile.Active {
		if rerr := d.Ledger.RevokeFamily(ctx, claims.FamilyID, ledger.ReasonAccount, familyTTL(d)); rerr != nil {
			return RefreshResult{Outcome: out.fail(FailureStoreUnavailable, rerr)}
		}
		return RefreshResult{Outcome: out.fail(FailureAccountInactive, err)}
	}

	authTime := d.Now()
	if claims.AuthTime != nil {
		authTime = claims.AuthTime.Time
	} else if claims.IssuedAt != nil {
		authTime = claims.IssuedAt.Time
	}

	pair, err := issuePair(d, claims.Subject, claims.FamilyID, authTime)
	if err != nil {
		if errors.Is(err, errFamilyLifetime) {
			return RefreshResult{Outcome: out.fail(FailureExpired, err)}
		}
		return RefreshResult{Outcome: out.fail(FailureInternal, err)}
	}

	// Nothing after the spend may fail the rotation.
	first, err := d.Ledger.MarkSpentIfUnspent(ctx, claims.ID, ledgerTTL(d, claims))
	if err != nil {
		return RefreshResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	if !first {
		if err := d.Ledger.RevokeFamily(ctx, claims.FamilyID, ledger.ReasonReuse, familyTTL(d)); err != nil {
			// Reuse is only reported once the revocation is committed.
			return RefreshResult{Outcome: out.fail(FailureStoreUnavailable, err)}
		}
		return RefreshResult{Outcome: out.fail(FailureReuseDetected, nil)}
	}

	// Rotation keeps the subject index alive as long as the family. A miss
	// only weakens LogoutAll; the family stays revocable by id.
	if err := d.Ledger.TrackFamily(ctx, claims.Subject, claims.FamilyID, familyTTL(d)); err != nil {
		d.Warn("arkana: family index refresh failed", "subject", claims.Subject, "family", claims.FamilyID, "error", err)
	}
	out.TokenID = pair.RefreshID

	return RefreshResult{Outcome: out, Pair: pair}
}
