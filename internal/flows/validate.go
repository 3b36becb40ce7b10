package flows

import (
	"context"

	"github.com/avilainc/arkana/jwt"
)

// ValidateResult returns either the verified claims or a classified failure.
type ValidateResult struct {
	Outcome
	Claims *jwt.Claims
}

// RunValidateAccess verifies an access token. The ledger is consulted only
// when access revocation propagates synchronously; otherwise validity is
// signature and expiry alone.
func RunValidateAccess(ctx context.Context, token string, d Deps) ValidateResult {
	claims, err := d.Codec.Decode(token, jwt.TypeAccess)
	if err != nil {
		return ValidateResult{Outcome: Outcome{}.fail(decodeFailure(err), err)}
	}
	out := Outcome{Subject: claims.Subject, TokenID: claims.ID}

	if d.Settings.SyncAccessRevocation {
		revoked, err := d.Ledger.IsRevoked(ctx, claims.ID)
		if err != nil {
			return ValidateResult{Outcome: out.fail(FailureStoreUnavailable, err)}
		}
		if revoked {
			return ValidateResult{Outcome: out.fail(FailureRevoked, nil)}
		}
	}
	return ValidateResult{Outcome: out, Claims: claims}
}

// RunValidateRefresh verifies a refresh token and fails fast on a revoked
// family. It does not consume the token.
func RunValidateRefresh(ctx context.Context, token string, d Deps) ValidateResult {
	claims, err := d.Codec.Decode(token, jwt.TypeRefresh)
	if err != nil {
		return ValidateResult{Outcome: Outcome{}.fail(decodeFailure(err), err)}
	}
	out := Outcome{Subject: claims.Subject, FamilyID: claims.FamilyID, TokenID: claims.ID}

	revoked, err := d.Ledger.IsFamilyRevoked(ctx, claims.FamilyID)
	if err != nil {
		return ValidateResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	if revoked {
		return ValidateResult{Outcome: out.fail(FailureFamilyRevoked, nil)}
	}
	return ValidateResult{Outcome: out, Claims: claims}
}
