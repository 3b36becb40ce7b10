package jwt

import (
	"errors"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLeeway is the clock-skew tolerance applied to exp, iat and nbf.
const DefaultLeeway = 30 * time.Second

var (
	// ErrMalformed reports a token that is not a well-formed three-segment JWS.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureInvalid reports a bad signature, a disallowed algorithm or an unknown key.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired reports a correctly signed token past its expiry (plus leeway).
	ErrExpired = errors.New("token expired")
	// ErrWrongType reports a correctly signed token presented for another purpose.
	ErrWrongType = errors.New("token type mismatch")
	// ErrInvalidClaims reports a correctly signed token with missing or inconsistent claims.
	ErrInvalidClaims = errors.New("token claims invalid")
)

// TokenType discriminates the fixed claim sets carried by the engine's tokens.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeReset   TokenType = "reset"
	TypeVerify  TokenType = "verify"
)

// Claims is the single typed claim structure for every token purpose.
// FamilyID and AuthTime are only populated on refresh tokens.
type Claims struct {
	Type     TokenType         `json:"type"`
	FamilyID string            `json:"fam,omitempty"`
	AuthTime *gjwt.NumericDate `json:"auth_time,omitempty"`
	gjwt.RegisteredClaims
}

// Remaining returns the lifetime left at now, never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c == nil || c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Config configures a [Codec].
type Config struct {
	Keys     KeyProvider
	Issuer   string
	Audience string
	Leeway   time.Duration
	Now      func() time.Time
}

// Codec signs and verifies typed claim sets. It holds no mutable state
// beyond what its [KeyProvider] owns.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Keys == nil {
		return nil, errors.New("key provider required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &Codec{config: cfg}, nil
}

// NewClaims stamps a fresh claim set for subject valid for ttl from now.
func (c *Codec) NewClaims(typ TokenType, subject string, ttl time.Duration) Claims {
	now := c.config.Now()
	return Claims{
		Type: typ,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// Encode signs claims with the provider's current key and stamps the
// configured issuer and audience.
func (c *Codec) Encode(claims Claims) (string, error) {
	if err := checkShape(&claims); err != nil {
		return "", err
	}
	if c.config.Issuer != "" {
		claims.Issuer = c.config.Issuer
	}
	if c.config.Audience != "" {
		claims.Audience = gjwt.ClaimStrings{c.config.Audience}
	}

	key, err := c.config.Keys.SigningKey()
	if err != nil {
		return "", err
	}

	token := gjwt.NewWithClaims(key.Method, claims)
	token.Header["kid"] = key.ID
	return token.SignedString(key.Key)
}

// Decode verifies token and returns its claims when it is a valid token of
// type want. When the only problem is expiry, Decode returns the verified
// claims together with [ErrExpired] so callers can still act on the ids.
func (c *Codec) Decode(token string, want TokenType) (*Claims, error) {
	options := []gjwt.ParserOption{
		gjwt.WithValidMethods([]string{
			gjwt.SigningMethodEdDSA.Alg(),
			gjwt.SigningMethodHS256.Alg(),
		}),
		gjwt.WithLeeway(c.config.Leeway),
		gjwt.WithExpirationRequired(),
		gjwt.WithIssuedAt(),
		gjwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Issuer != "" {
		options = append(options, gjwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, gjwt.WithAudience(c.config.Audience))
	}

	claims := &Claims{}
	parsed, err := gjwt.NewParser(options...).ParseWithClaims(token, claims, func(t *gjwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		vk, err := c.config.Keys.VerificationKey(kid)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != vk.Method.Alg() {
			return nil, errors.New("signing algorithm does not match key")
		}
		return vk.Key, nil
	})
	if err != nil {
		mapped := classify(err)
		if mapped == ErrExpired && checkShape(claims) == nil && claims.Type == want {
			return claims, ErrExpired
		}
		return nil, mapped
	}
	if !parsed.Valid {
		return nil, ErrSignatureInvalid
	}
	if err := checkShape(claims); err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, gjwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, gjwt.ErrTokenSignatureInvalid),
		errors.Is(err, gjwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, gjwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrInvalidClaims
	}
}

func checkShape(c *Claims) error {
	if c.ID == "" || c.Subject == "" || c.IssuedAt == nil || c.ExpiresAt == nil {
		return ErrInvalidClaims
	}
	switch c.Type {
	case TypeAccess, TypeReset, TypeVerify:
		if c.FamilyID != "" {
			return ErrInvalidClaims
		}
	case TypeRefresh:
		if c.FamilyID == "" {
			return ErrInvalidClaims
		}
	default:
		return ErrInvalidClaims
	}
	return nil
}
