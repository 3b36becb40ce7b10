package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// SigningMethod names a supported signature scheme.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const minHMACSecretBytes = 32

var (
	// ErrUnknownKey is returned when a token references a key id the provider does not trust.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrNoSigningKey is returned when the provider has no active signing key.
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Key is raw key material as loaded from configuration. For Ed25519,
// Private and Public accept raw key bytes or PEM. For HS256, Private is
// the shared secret and Public is ignored.
type Key struct {
	ID      string
	Method  SigningMethod
	Private []byte
	Public  []byte
}

// SigningKey is resolved material ready to sign a token.
type SigningKey struct {
	ID     string
	Method gjwt.SigningMethod
	Key    any
}

// VerificationKey is resolved material ready to verify a token signature.
type VerificationKey struct {
	Method gjwt.SigningMethod
	Key    any
}

// KeyProvider supplies the current signing key and resolves verification
// keys by key id. Implementations must be safe for concurrent use.
type KeyProvider interface {
	SigningKey() (SigningKey, error)
	VerificationKey(kid string) (VerificationKey, error)
}

type ringEntry struct {
	id       string
	method   gjwt.SigningMethod
	sign     any
	verify   any
	retireAt time.Time
}

// KeyRing is an in-memory [KeyProvider] supporting rotation with a grace
// overlap: after Rotate, tokens signed by the previous key keep verifying
// until the grace period elapses.
type KeyRing struct {
	mu      sync.RWMutex
	current ringEntry
	retired map[string]ringEntry
	grace   time.Duration
	now     func() time.Time
}

// NewKeyRing returns a ring whose active signing key is initial.
func NewKeyRing(initial Key, grace time.Duration) (*KeyRing, error) {
	if grace < 0 {
		return nil, errors.New("key rotation grace must be >= 0")
	}
	entry, err := resolveKey(initial, true)
	if err != nil {
		return nil, err
	}
	return &KeyRing{
		current: entry,
		retired: make(map[string]ringEntry),
		grace:   grace,
		now:     time.Now,
	}, nil
}

// Rotate makes next the signing key. The previous key stays valid for
// verification until the configured grace period has elapsed.
func (r *KeyRing) Rotate(next Key) error {
	entry, err := resolveKey(next, true)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.id == r.current.id {
		return fmt.Errorf("key id %q is already active", entry.id)
	}
	if _, ok := r.retired[entry.id]; ok {
		return fmt.Errorf("key id %q was retired and cannot be reused", entry.id)
	}

	now := r.now()
	r.pruneLocked(now)

	prev := r.current
	prev.sign = nil
	prev.retireAt = now.Add(r.grace)
	if r.grace > 0 {
		r.retired[prev.id] = prev
	}
	r.current = entry
	return nil
}

// Trust registers a verification-only key until the given instant. It lets
// validators accept tokens from a peer that rotated before this instance did.
func (r *KeyRing) Trust(k Key, until time.Time) error {
	entry, err := resolveKey(k, false)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.id == r.current.id {
		return fmt.Errorf("key id %q is already active", entry.id)
	}
	entry.sign = nil
	entry.retireAt = until
	r.retired[entry.id] = entry
	return nil
}

// CurrentKeyID returns the id stamped into newly signed tokens.
func (r *KeyRing) CurrentKeyID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.id
}

// SigningKey implements [KeyProvider].
func (r *KeyRing) SigningKey() (SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current.sign == nil {
		return SigningKey{}, ErrNoSigningKey
	}
	return SigningKey{
		ID:     r.current.id,
		Method: r.current.method,
		Key:    r.current.sign,
	}, nil
}

// VerificationKey implements [KeyProvider].
func (r *KeyRing) VerificationKey(kid string) (VerificationKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if kid == r.current.id {
		return VerificationKey{Method: r.current.method, Key: r.current.verify}, nil
	}
	entry, ok := r.retired[kid]
	if !ok || !r.now().Before(entry.retireAt) {
		return VerificationKey{}, ErrUnknownKey
	}
	return VerificationKey{Method: entry.method, Key: entry.verify}, nil
}

func (r *KeyRing) pruneLocked(now time.Time) {
	for id, entry := range r.retired {
		if !now.Before(entry.retireAt) {
			delete(r.retired, id)
		}
	}
}

func resolveKey(k Key, needSigning bool) (ringEntry, error) {
	id := strings.TrimSpace(k.ID)
	if id == "" {
		return ringEntry{}, errors.New("key id is required")
	}

	switch k.Method {
	case MethodHS256:
		if len(k.Private) < minHMACSecretBytes {
			return ringEntry{}, fmt.Errorf("hs256 secret for kid %q must be at least %d bytes", id, minHMACSecretBytes)
		}
		secret := append([]byte(nil), k.Private...)
		return ringEntry{
			id:     id,
			method: gjwt.SigningMethodHS256,
			sign:   secret,
			verify: secret,
		}, nil
	case MethodEd25519:
		entry := ringEntry{id: id, method: gjwt.SigningMethodEdDSA}
		if len(k.Private) > 0 {
			priv, err := parseEdPrivateKey(k.Private)
			if err != nil {
				return ringEntry{}, err
			}
			entry.sign = priv
			entry.verify = priv.Public().(ed25519.PublicKey)
		}
		if len(k.Public) > 0 {
			pub, err := parseEdPublicKey(k.Public)
			if err != nil {
				return ringEntry{}, err
			}
			if derived, ok := entry.verify.(ed25519.PublicKey); ok && !derived.Equal(pub) {
				return ringEntry{}, fmt.Errorf("ed25519 public key for kid %q does not match private key", id)
			}
			entry.verify = pub
		}
		if needSigning && entry.sign == nil {
			return ringEntry{}, fmt.Errorf("ed25519 signing key for kid %q requires a private key", id)
		}
		if entry.verify == nil {
			return ringEntry{}, fmt.Errorf("ed25519 key for kid %q requires a public or private key", id)
		}
		return entry, nil
	default:
		return ringEntry{}, fmt.Errorf("unsupported signing method %q", k.Method)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := gjwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := gjwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
