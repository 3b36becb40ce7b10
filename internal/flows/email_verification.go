package flows

import (
	"context"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
)

// VerifyEmailResult carries the verified profile.
type VerifyEmailResult struct {
	Outcome
	Profile Profile
}

// RunVerifyEmail redeems a single-use verification token.
func RunVerifyEmail(ctx context.Context, token string, d Deps) VerifyEmailResult {
	key := rate.ClientKey(d.ClientIPFromContext(ctx), tokenFingerprint(token))
	out, ok := gate(ctx, d, rate.ActionVerifyConfirm, key, Outcome{})
	if !ok {
		return VerifyEmailResult{Outcome: out}
	}

	claims, err := d.Codec.Decode(token, jwt.TypeVerify)
	if err != nil {
		return VerifyEmailResult{Outcome: out.fail(decodeFailure(err), err)}
	}
	out.Subject = claims.Subject
	out.TokenID = claims.ID

	profile, err := d.Profiles.FindByID(ctx, claims.Subject)
	if err != nil {
		if isNotFound(d, err) {
			return VerifyEmailResult{Outcome: out.fail(FailureInvalidCredentials, err)}
		}
		return VerifyEmailResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}

	first, err := d.Ledger.MarkSpentIfUnspent(ctx, claims.ID, ledgerTTL(d, claims))
	if err != nil {
		return VerifyEmailResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	if !first {
		return VerifyEmailResult{Outcome: out.fail(FailureAlreadyUsed, nil)}
	}

	if !profile.Verified {
		if err := d.Profiles.SetVerified(ctx, profile.ID); err != nil {
			return VerifyEmailResult{Outcome: unspend(ctx, d, out, claims.ID, err)}
		}
		profile.Verified = true
	}
	return VerifyEmailResult{Outcome: out, Profile: profile}
}

// RunRequestEmailVerification re-issues a verification link. Unknown,
// inactive and already verified addresses succeed silently.
func RunRequestEmailVerification(ctx context.Context, email string, d Deps) Outcome {
	email = NormalizeEmail(email)
	out, ok := gate(ctx, d, rate.ActionVerifyRequest, email, Outcome{})
	if !ok {
		return out
	}

	profile, err := d.Profiles.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(d, err) {
			return out
		}
		return out.fail(FailureStoreUnavailable, err)
	}
	if !profile.Active || profile.Verified {
		return out
	}
	out.Subject = profile.ID
	sendVerification(ctx, d, profile)
	return out
}
