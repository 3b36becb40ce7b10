package flows

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
)

var (
	errInvalidEmail    = errors.New("invalid email address")
	errInvalidFullName = errors.New("full name length out of range")
)

// RegisterInput is the flow-local registration request.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// RegisterResult carries the created profile or failure metadata.
type RegisterResult struct {
	Outcome
	Profile        Profile
	DeliveryFailed bool
}

// NormalizeEmail lower-cases and trims an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// RunRegister creates an active, unverified profile and hands a single-use
// verification token to the delivery collaborator.
func RunRegister(ctx context.Context, in RegisterInput, d Deps) RegisterResult {
	email := NormalizeEmail(in.Email)
	out, ok := gate(ctx, d, rate.ActionRegister, rate.ClientKey(d.ClientIPFromContext(ctx), email), Outcome{})
	if !ok {
		return RegisterResult{Outcome: out}
	}

	if !validEmail(email) {
		return RegisterResult{Outcome: out.fail(FailureInvalidRequest, errInvalidEmail)}
	}
	fullName := strings.TrimSpace(in.FullName)
	if n := utf8.RuneCountInString(fullName); n < d.Settings.FullNameMin || n > d.Settings.FullNameMax {
		return RegisterResult{Outcome: out.fail(FailureInvalidRequest, errInvalidFullName)}
	}
	if err := d.CheckSecretPolicy(in.Password); err != nil {
		return RegisterResult{Outcome: out.fail(FailureWeakSecret, err)}
	}

	hash, err := d.Secrets.Hash(in.Password)
	if err != nil {
		return RegisterResult{Outcome: out.fail(FailureInternal, err)}
	}

	profile, err := d.Profiles.Create(ctx, NewProfile{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
	})
	if err != nil {
		if d.Errors.DuplicateEmail != nil && errors.Is(err, d.Errors.DuplicateEmail) {
			return RegisterResult{Outcome: out.fail(FailureDuplicateEmail, err)}
		}
		return RegisterResult{Outcome: out.fail(FailureStoreUnavailable, err)}
	}
	out.Subject = profile.ID

	res := RegisterResult{Outcome: out, Profile: profile}
	res.DeliveryFailed = !sendVerification(ctx, d, profile)
	return res
}

// sendVerification mints a verify token and hands it off. It reports
// whether the link reached the delivery collaborator.
func sendVerification(ctx context.Context, d Deps, p Profile) bool {
	if d.Delivery == nil {
		return false
	}
	token, err := d.Codec.Encode(d.Codec.NewClaims(jwt.TypeVerify, p.ID, d.Settings.VerifyTTL))
	if err != nil {
		d.Warn("arkana: verification token mint failed", "subject", p.ID, "error", err)
		return false
	}
	if err := d.Delivery.SendVerificationLink(ctx, p, token); err != nil {
		d.Warn("arkana: verification delivery failed", "subject", p.ID, "error", err)
		return false
	}
	return true
}
