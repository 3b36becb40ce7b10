package flows

import (
	"context"
	"errors"

	"github.com/avilainc/arkana/internal/rate"
)

var (
	errCredentialMismatch = errors.New("credential mismatch")
	errUnknownIdentity    = errors.New("unknown identity")
)

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Outcome
	Pair    Pair
	Profile Profile
}

// RunLogin verifies the secret for email and mints a new token family.
// Attempts count against the login budget whether or not they succeed.
func RunLogin(ctx context.Context, email, secret string, d Deps) LoginResult {
	email = NormalizeEmail(email)
	out, ok := gate(ctx, d, rate.ActionLogin, rate.LoginKey(email, d.ClientIPFromContext(ctx)), Outcome{})
	if !ok {
		return LoginResult{Outcome: out}
	}

	profile, err := d.Profiles.FindByEmail(ctx, email)
	if err != nil {
		if !isNotFound(d, err) {
			return LoginResult{Outcome: out.fail(FailureStoreUnavailable, err)}
		}
		// Unknown emails still pay for one hash verification.
		if d.Settings.DummyHash != "" {
			_, _ = d.Secrets.Verify(secret, d.Settings.DummyHash)
		}
		return LoginResult{Outcome: out.fail(FailureInvalidCredentials, errUnknownIdentity)}
	}
	out.Subject = profile.ID

	match, err := d.Secrets.Verify(secret, profile.PasswordHash)
	if err != nil || !match {
		if err == nil {
			err = errCredentialMismatch
		}
		return LoginResult{Outcome: out.fail(FailureInvalidCredentials, err)}
	}
	if !profile.Active {
		return LoginResult{Outcome: out.fail(FailureAccountInactive, nil)}
	}
	if d.Settings.RequireVerifiedLogin && !profile.Verified {
		return LoginResult{Outcome: out.fail(FailureEmailNotVerified, nil)}
	}

	familyID := d.NewFamilyID()
	out.FamilyID = familyID
	pair, err := issuePair(d, profile.ID, familyID, d.Now())
	if err != nil {
		return LoginResult{Outcome: out.fail(FailureInternal, err)}
	}
	if err := d.Ledger.TrackFamily(ctx, profile.ID, familyID, familyTTL(d)); err != nil {
		return LoginResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	out.TokenID = pair.RefreshID

	if d.Settings.UpgradeHashOnLogin {
		upgradeHash(ctx, d, profile, secret)
	}

	return LoginResult{Outcome: out, Pair: pair, Profile: profile}
}

func upgradeHash(ctx context.Context, d Deps, p Profile, secret string) {
	needs, err := d.Secrets.NeedsUpgrade(p.PasswordHash)
	if err != nil || !needs {
		return
	}
	next, err := d.Secrets.Hash(secret)
	if err != nil {
		d.Warn("arkana: password rehash failed", "subject", p.ID, "error", err)
		return
	}
	if err := d.Profiles.UpdatePasswordHash(ctx, p.ID, next); err != nil {
		d.Warn("arkana: password hash upgrade failed", "subject", p.ID, "error", err)
	}
}
