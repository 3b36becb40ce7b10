package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateSpent    = "s"
	revokedPrefix = "r:"
	minEntryTTL   = time.Second
)

const trackFamilyScript = `
redis.call("SADD", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
local current = redis.call("PTTL", KEYS[1])
if current < ttl then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

const releaseSpentScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const revokeSubjectFamiliesScript = `
local families = redis.call("SMEMBERS", KEYS[1])
for _, family in ipairs(families) do
  redis.call("SET", ARGV[1] .. family, ARGV[2], "PX", ARGV[3])
end
redis.call("DEL", KEYS[1])
return #families
`

var (
	trackFamilyLua           = redis.NewScript(trackFamilyScript)
	releaseSpentLua          = redis.NewScript(releaseSpentScript)
	revokeSubjectFamiliesLua = redis.NewScript(revokeSubjectFamiliesScript)
)

// RedisConfig configures a [Redis] ledger.
type RedisConfig struct {
	Prefix    string
	OpTimeout time.Duration
}

// Redis is a [Ledger] backed by Redis primitives. markSpentIfUnspent is a
// single SET NX, subject-wide revocation is a Lua script.
type Redis struct {
	redis     redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

var _ Ledger = (*Redis)(nil)

// NewRedis returns a ledger using client. An empty prefix defaults to "ark".
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "ark"
	}
	return &Redis{
		redis:     client,
		prefix:    prefix,
		opTimeout: cfg.OpTimeout,
	}
}

func (l *Redis) tokenKey(id string) string        { return l.prefix + ":t:" + id }
func (l *Redis) familyKeyPrefix() string          { return l.prefix + ":f:" }
func (l *Redis) familyKey(familyID string) string { return l.familyKeyPrefix() + familyID }
func (l *Redis) subjectKey(subject string) string { return l.prefix + ":sf:" + subject }

func (l *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.opTimeout)
}

// MarkRevoked implements [Ledger].
func (l *Redis) MarkRevoked(ctx context.Context, id string, reason Reason, ttl time.Duration) error {
	if id == "" {
		return errors.New("ledger: empty token id")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if err := l.redis.Set(ctx, l.tokenKey(id), revokedPrefix+string(reason), clampTTL(ttl)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// IsRevoked implements [Ledger].
func (l *Redis) IsRevoked(ctx context.Context, id string) (bool, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	state, err := l.redis.Get(ctx, l.tokenKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return strings.HasPrefix(state, revokedPrefix), nil
}

// MarkSpentIfUnspent implements [Ledger].
func (l *Redis) MarkSpentIfUnspent(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if id == "" {
		return false, errors.New("ledger: empty token id")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	first, err := l.redis.SetNX(ctx, l.tokenKey(id), stateSpent, clampTTL(ttl)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return first, nil
}

// ReleaseSpent implements [Ledger].
func (l *Redis) ReleaseSpent(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("ledger: empty token id")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	n, err := releaseSpentLua.Run(ctx, l.redis, []string{l.tokenKey(id)}, stateSpent).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// RevokeFamily implements [Ledger].
func (l *Redis) RevokeFamily(ctx context.Context, familyID string, reason Reason, ttl time.Duration) error {
	if familyID == "" {
		return errors.New("ledger: empty family id")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if err := l.redis.Set(ctx, l.familyKey(familyID), string(reason), clampTTL(ttl)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// IsFamilyRevoked implements [Ledger].
func (l *Redis) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	n, err := l.redis.Exists(ctx, l.familyKey(familyID)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// TrackFamily implements [Ledger].
func (l *Redis) TrackFamily(ctx context.Context, subject, familyID string, ttl time.Duration) error {
	if subject == "" || familyID == "" {
		return errors.New("ledger: empty subject or family id")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	err := trackFamilyLua.Run(ctx, l.redis,
		[]string{l.subjectKey(subject)},
		familyID,
		clampTTL(ttl).Milliseconds(),
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// RevokeSubjectFamilies implements [Ledger].
func (l *Redis) RevokeSubjectFamilies(ctx context.Context, subject string, reason Reason, ttl time.Duration) (int, error) {
	if subject == "" {
		return 0, errors.New("ledger: empty subject")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	n, err := revokeSubjectFamiliesLua.Run(ctx, l.redis,
		[]string{l.subjectKey(subject)},
		l.familyKeyPrefix(),
		string(reason),
		clampTTL(ttl).Milliseconds(),
	).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Ping implements [Ledger].
func (l *Redis) Ping(ctx context.Context) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if err := l.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minEntryTTL {
		return minEntryTTL
	}
	return ttl
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
