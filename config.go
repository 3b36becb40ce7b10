package arkana

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
)

// Config is the complete engine configuration. Obtain a populated value from
// [DefaultConfig] or [LoadConfigFromEnv], adjust it, and pass it to
// [Builder.WithConfig].
type Config struct {
	Tokens            TokensConfig            `envPrefix:"TOKENS_"`
	Refresh           RefreshConfig           `envPrefix:"REFRESH_"`
	Password          PasswordConfig          `envPrefix:"PASSWORD_"`
	PasswordReset     PasswordResetConfig     `envPrefix:"PASSWORD_RESET_"`
	EmailVerification EmailVerificationConfig `envPrefix:"EMAIL_VERIFICATION_"`
	Registration      RegistrationConfig      `envPrefix:"REGISTRATION_"`
	RateLimit         RateLimitConfig         `envPrefix:"RATE_LIMIT_"`
	Ledger            LedgerConfig            `envPrefix:"LEDGER_"`
	Audit             AuditConfig             `envPrefix:"AUDIT_"`
	Metrics           MetricsConfig           `envPrefix:"METRICS_"`
}

/*
====================================
TOKENS CONFIG
====================================
*/

// AccessRevocationMode selects how logout propagates to access tokens.
type AccessRevocationMode string

const (
	// AccessRevocationSync consults the ledger on every access validation.
	AccessRevocationSync AccessRevocationMode = "sync"
	// AccessRevocationEventual validates access tokens by signature and
	// expiry only; logout takes effect when the token expires.
	AccessRevocationEventual AccessRevocationMode = "eventual"
)

// TokensConfig configures signing and access tokens.
//
// PrivateKey holds a PEM-encoded Ed25519 private key or, for hs256, the
// shared secret. PublicKey is optional for Ed25519 and ignored for hs256.
type TokensConfig struct {
	Issuer           string               `env:"ISSUER"`
	Audience         string               `env:"AUDIENCE"`
	AccessTTL        time.Duration        `env:"ACCESS_TTL"`
	Leeway           time.Duration        `env:"LEEWAY"`
	AccessRevocation AccessRevocationMode `env:"ACCESS_REVOCATION"`
	SigningMethod    string               `env:"SIGNING_METHOD"`
	KeyID            string               `env:"KEY_ID"`
	PrivateKey       string               `env:"PRIVATE_KEY"`
	PublicKey        string               `env:"PUBLIC_KEY"`
	RotationGrace    time.Duration        `env:"ROTATION_GRACE"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig bounds refresh token families. AbsoluteLifetime caps how
// long a family may keep rotating after login; zero disables the cap.
type RefreshConfig struct {
	TTL              time.Duration `env:"TTL"`
	AbsoluteLifetime time.Duration `env:"ABSOLUTE_LIFETIME"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters and the secret policy.
type PasswordConfig struct {
	Memory           uint32 `env:"MEMORY_KB"`
	Time             uint32 `env:"TIME"`
	Parallelism      uint8  `env:"PARALLELISM"`
	SaltLength       uint32 `env:"SALT_LENGTH"`
	KeyLength        uint32 `env:"KEY_LENGTH"`
	MaxPasswordBytes int    `env:"MAX_BYTES"`
	UpgradeOnLogin   bool   `env:"UPGRADE_ON_LOGIN"`
	MinLength        int    `env:"MIN_LENGTH"`
	MaxLength        int    `env:"MAX_LENGTH"`
}

// PasswordResetConfig sets the reset token lifetime.
type PasswordResetConfig struct {
	TTL time.Duration `env:"TTL"`
}

// EmailVerificationConfig sets the verification token lifetime and whether
// login requires a verified address.
type EmailVerificationConfig struct {
	TTL              time.Duration `env:"TTL"`
	RequiredForLogin bool          `env:"REQUIRED_FOR_LOGIN"`
}

// RegistrationConfig bounds profile fields accepted at registration.
type RegistrationConfig struct {
	FullNameMin int `env:"FULL_NAME_MIN"`
	FullNameMax int `env:"FULL_NAME_MAX"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy allows Limit attempts per rolling Window. Limit <= 0 disables it.
type RatePolicy struct {
	Limit  int           `env:"LIMIT"`
	Window time.Duration `env:"WINDOW"`
}

// RateLimitConfig holds one policy per action class.
type RateLimitConfig struct {
	Login         RatePolicy `envPrefix:"LOGIN_"`
	Refresh       RatePolicy `envPrefix:"REFRESH_"`
	Register      RatePolicy `envPrefix:"REGISTER_"`
	ResetRequest  RatePolicy `envPrefix:"RESET_REQUEST_"`
	ResetConfirm  RatePolicy `envPrefix:"RESET_CONFIRM_"`
	VerifyRequest RatePolicy `envPrefix:"VERIFY_REQUEST_"`
	VerifyConfirm RatePolicy `envPrefix:"VERIFY_CONFIRM_"`
}

func (c RateLimitConfig) policies() map[rate.Action]rate.Policy {
	conv := func(p RatePolicy) rate.Policy { return rate.Policy{Limit: p.Limit, Window: p.Window} }
	return map[rate.Action]rate.Policy{
		rate.ActionLogin:         conv(c.Login),
		rate.ActionRefresh:       conv(c.Refresh),
		rate.ActionRegister:      conv(c.Register),
		rate.ActionResetRequest:  conv(c.ResetRequest),
		rate.ActionResetConfirm:  conv(c.ResetConfirm),
		rate.ActionVerifyRequest: conv(c.VerifyRequest),
		rate.ActionVerifyConfirm: conv(c.VerifyConfirm),
	}
}

/*
====================================
STORE CONFIG
====================================
*/

// LedgerConfig configures the shared Redis keyspace used by the ledger and
// rate limiter. OpTimeout bounds every store round trip.
type LedgerConfig struct {
	Prefix    string        `env:"PREFIX"`
	OpTimeout time.Duration `env:"OP_TIMEOUT"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig toggles in-process metric collection.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. It deliberately leaves
// Tokens.AccessRevocation and key material unset; both must be chosen by
// the deployment.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Tokens: TokensConfig{
			Issuer:        "arkana",
			AccessTTL:     15 * time.Minute,
			Leeway:        jwt.DefaultLeeway,
			SigningMethod: string(jwt.MethodEd25519),
			KeyID:         "primary",
			RotationGrace: 7*24*time.Hour + jwt.DefaultLeeway,
		},
		Refresh: RefreshConfig{
			TTL:              7 * 24 * time.Hour,
			AbsoluteLifetime: 30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
			MinLength:        8,
			MaxLength:        100,
		},
		PasswordReset: PasswordResetConfig{
			TTL: time.Hour,
		},
		EmailVerification: EmailVerificationConfig{
			TTL:              24 * time.Hour,
			RequiredForLogin: false,
		},
		Registration: RegistrationConfig{
			FullNameMin: 2,
			FullNameMax: 100,
		},
		RateLimit: RateLimitConfig{
			Login:         RatePolicy{Limit: 10, Window: 5 * time.Minute},
			Refresh:       RatePolicy{Limit: 60, Window: time.Minute},
			Register:      RatePolicy{Limit: 5, Window: 15 * time.Minute},
			ResetRequest:  RatePolicy{Limit: 3, Window: time.Hour},
			ResetConfirm:  RatePolicy{Limit: 10, Window: 15 * time.Minute},
			VerifyRequest: RatePolicy{Limit: 3, Window: time.Hour},
			VerifyConfirm: RatePolicy{Limit: 10, Window: 15 * time.Minute},
		},
		Ledger: LedgerConfig{
			Prefix:    "ark",
			OpTimeout: 250 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Tokens
	switch c.Tokens.AccessRevocation {
	case AccessRevocationSync, AccessRevocationEventual:
	case "":
		return errors.New("Tokens AccessRevocation must be set to \"sync\" or \"eventual\"")
	default:
		return fmt.Errorf("Tokens AccessRevocation %q is invalid", c.Tokens.AccessRevocation)
	}
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		return errors.New("Tokens Leeway must be between 0 and 2m")
	}
	switch jwt.SigningMethod(strings.ToLower(c.Tokens.SigningMethod)) {
	case jwt.MethodEd25519, jwt.MethodHS256:
	default:
		return errors.New("unsupported Tokens SigningMethod")
	}
	if strings.TrimSpace(c.Tokens.KeyID) == "" {
		return errors.New("Tokens KeyID must be set")
	}
	if c.Tokens.RotationGrace < 0 {
		return errors.New("Tokens RotationGrace must be >= 0")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.Tokens.AccessTTL {
		return errors.New("Refresh TTL must exceed Tokens AccessTTL")
	}
	// Zero retires the previous key at once; any other grace must outlive
	// the refresh tokens it signed.
	if c.Tokens.RotationGrace > 0 && c.Tokens.RotationGrace < c.Refresh.TTL {
		return errors.New("Tokens RotationGrace must be 0 or >= Refresh TTL")
	}
	if c.Refresh.AbsoluteLifetime < 0 {
		return errors.New("Refresh AbsoluteLifetime must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.MaxPasswordBytes > 0 && c.Password.MaxLength*4 > c.Password.MaxPasswordBytes {
		return errors.New("Password MaxPasswordBytes must fit MaxLength characters")
	}

	// Single-use tokens
	if c.PasswordReset.TTL <= 0 || c.PasswordReset.TTL > 24*time.Hour {
		return errors.New("PasswordReset TTL must be in (0, 24h]")
	}
	if c.EmailVerification.TTL <= 0 {
		return errors.New("EmailVerification TTL must be > 0")
	}

	// Registration
	if c.Registration.FullNameMin < 1 || c.Registration.FullNameMax < c.Registration.FullNameMin {
		return errors.New("Registration full name bounds are invalid")
	}

	// Rate limits
	for action, p := range c.RateLimit.policies() {
		if p.Limit > 0 && p.Window <= 0 {
			return fmt.Errorf("RateLimit %s Window must be > 0 when Limit is set", action)
		}
	}

	// Ledger
	if c.Ledger.OpTimeout <= 0 {
		return errors.New("Ledger OpTimeout must be > 0")
	}
	if strings.ContainsAny(c.Ledger.Prefix, " :") {
		return errors.New("Ledger Prefix must not contain spaces or ':'")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
