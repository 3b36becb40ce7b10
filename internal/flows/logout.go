package flows

import (
	"context"
	"errors"

	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
)

var errSubjectMismatch = errors.New("refresh token belongs to another subject")

// LogoutAllResult reports how many families were revoked.
type LogoutAllResult struct {
	Outcome
	Revoked int
}

// RunLogout revokes the presented access token id and, when a refresh token
// is supplied, its whole family. Already-expired tokens are accepted since
// logging out a stale session must still kill the family.
func RunLogout(ctx context.Context, accessToken, refreshToken string, d Deps) Outcome {
	access, err := d.Codec.Decode(accessToken, jwt.TypeAccess)
	if access == nil {
		return Outcome{}.fail(decodeFailure(err), err)
	}
	out := Outcome{Subject: access.Subject, TokenID: access.ID}

	if err == nil {
		if err := d.Ledger.MarkRevoked(ctx, access.ID, ledger.ReasonLogout, ledgerTTL(d, access)); err != nil {
			return out.fail(FailureStoreUnavailable, err)
		}
	}

	if refreshToken == "" {
		return out
	}

	refresh, err := d.Codec.Decode(refreshToken, jwt.TypeRefresh)
	if refresh == nil {
		return out.fail(decodeFailure(err), err)
	}
	if refresh.Subject != access.Subject {
		return out.fail(FailureInvalidCredentials, errSubjectMismatch)
	}
	out.FamilyID = refresh.FamilyID

	if err := d.Ledger.RevokeFamily(ctx, refresh.FamilyID, ledger.ReasonLogout, familyTTL(d)); err != nil {
		return out.fail(FailureStoreUnavailable, err)
	}
	if err := d.Ledger.MarkRevoked(ctx, refresh.ID, ledger.ReasonLogout, ledgerTTL(d, refresh)); err != nil {
		return out.fail(FailureStoreUnavailable, err)
	}
	return out
}

// RunLogoutAll revokes every tracked family of subject.
func RunLogoutAll(ctx context.Context, subject string, d Deps) LogoutAllResult {
	out := Outcome{Subject: subject}
	if subject == "" {
		return LogoutAllResult{Outcome: out.fail(FailureInvalidRequest, errors.New("empty subject"))}
	}
	n, err := d.Ledger.RevokeSubjectFamilies(ctx, subject, ledger.ReasonLogoutAll, familyTTL(d))
	if err != nil {
		return LogoutAllResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	return LogoutAllResult{Outcome: out, Revoked: n}
}
