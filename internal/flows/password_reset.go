package flows

import (
	"context"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
)

// RunRequestPasswordReset issues a reset token for email and hands it to
// the delivery collaborator. The result is identical for unknown and
// inactive addresses so callers cannot probe for accounts.
func RunRequestPasswordReset(ctx context.Context, email string, d Deps) Outcome {
	email = NormalizeEmail(email)
	out, ok := gate(ctx, d, rate.ActionResetRequest, email, Outcome{})
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
	if !profile.Active {
		return out
	}
	out.Subject = profile.ID

	claims := d.Codec.NewClaims(jwt.TypeReset, profile.ID, d.Settings.ResetTTL)
	token, err := d.Codec.Encode(claims)
	if err != nil {
		return out.fail(FailureInternal, err)
	}
	out.TokenID = claims.ID

	if d.Delivery == nil {
		d.Warn("arkana: no delivery configured for reset link", "subject", profile.ID)
		return out
	}
	if err := d.Delivery.SendResetLink(ctx, profile, token); err != nil {
		d.Warn("arkana: reset delivery failed", "subject", profile.ID, "error", err)
	}
	return out
}

// RunConfirmPasswordReset redeems a reset token exactly once, stores the new
// secret and revokes every refresh family of the subject. Lookups run before
// the token is spent; a failed write afterwards releases it again.
func RunConfirmPasswordReset(ctx context.Context, token, newSecret string, d Deps) Outcome {
	key := rate.ClientKey(d.ClientIPFromContext(ctx), tokenFingerprint(token))
	out, ok := gate(ctx, d, rate.ActionResetConfirm, key, Outcome{})
	if !ok {
		return out
	}

	claims, err := d.Codec.Decode(token, jwt.TypeReset)
	if err != nil {
		return out.fail(decodeFailure(err), err)
	}
	out.Subject = claims.Subject
	out.TokenID = claims.ID

	// A weak secret must not burn the token.
	if err := d.CheckSecretPolicy(newSecret); err != nil {
		return out.fail(FailureWeakSecret, err)
	}

	profile, err := d.Profiles.FindByID(ctx, claims.Subject)
	if err != nil {
		if isNotFound(d, err) {
			return out.fail(FailureInvalidCredentials, err)
		}
		return out.fail(FailureStoreUnavailable, err)
	}
	if !profile.Active {
		return out.fail(FailureAccountInactive, nil)
	}

	hash, err := d.Secrets.Hash(newSecret)
	if err != nil {
		return out.fail(FailureInternal, err)
	}

	first, err := d.Ledger.MarkSpentIfUnspent(ctx, claims.ID, ledgerTTL(d, claims))
	if err != nil {
		return out.fail(FailureStoreUnavailable, err)
	}
	if !first {
		return out.fail(FailureAlreadyUsed, nil)
	}

	if err := d.Profiles.UpdatePasswordHash(ctx, profile.ID, hash); err != nil {
		return unspend(ctx, d, out, claims.ID, err)
	}
	// Redeeming again rewrites the same hash, so a failed revocation also
	// hands the token back.
	if _, err := d.Ledger.RevokeSubjectFamilies(ctx, profile.ID, ledger.ReasonPasswordReset, familyTTL(d)); err != nil {
		return unspend(ctx, d, out, claims.ID, err)
	}
	return out
}
