package flows

import "context"

// IdentityResult carries the profile behind a valid access token.
type IdentityResult struct {
	Outcome
	Profile Profile
}

// RunCurrentIdentity validates accessToken and loads its subject.
func RunCurrentIdentity(ctx context.Context, accessToken string, d Deps) IdentityResult {
	v := RunValidateAccess(ctx, accessToken, d)
	if !v.OK() {
		return IdentityResult{Outcome: v.Outcome}
	}
	out := v.Outcome

	profile, err := d.Profiles.FindByID(ctx, v.Claims.Subject)
	if err != nil {
		if isNotFound(d, err) {
			return IdentityResult{Outcome: out.fail(FailureInvalidCredentials, err)}
		}
		return IdentityResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	if !profile.Active {
		return IdentityResult{Outcome: out.fail(FailureAccountInactive, nil)}
	}
	return IdentityResult{Outcome: out, Profile: profile}
}
