package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Action names a class of operation with its own budget.
type Action string

const (
	ActionLogin         Action = "login"
	ActionRefresh       Action = "refresh"
	ActionRegister      Action = "register"
	ActionResetRequest  Action = "reset_request"
	ActionResetConfirm  Action = "reset_confirm"
	ActionVerifyRequest Action = "verify_request"
	ActionVerifyConfirm Action = "verify_confirm"
)

// Policy bounds an action to Limit attempts per rolling Window.
// A Limit of zero or less disables limiting for the action.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether p limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Decision is the outcome of one [Limiter.Check].
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix    string
	OpTimeout time.Duration
	Policies  map[Action]Policy
	Now       func() time.Time
}

const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
  local retry = window
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  if retry < 1 then
    retry = 1
  end
  return {0, retry, 0}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, 0, limit - count - 1}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// Limiter enforces per-action sliding windows using a shared Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "ark"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	policies := make(map[Action]Policy, len(cfg.Policies))
	for action, p := range cfg.Policies {
		policies[action] = p
	}
	cfg.Policies = policies
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Policy returns the configured policy for action.
func (l *Limiter) Policy(action Action) (Policy, bool) {
	p, ok := l.config.Policies[action]
	return p, ok
}

// Check counts one attempt of action for key. Attempts are recorded only
// when allowed. A disabled policy always allows without touching Redis.
func (l *Limiter) Check(ctx context.Context, action Action, key string) (Decision, error) {
	policy, ok := l.config.Policies[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if !policy.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	if l.config.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.OpTimeout)
		defer cancel()
	}

	now := l.config.Now().UnixMilli()
	res, err := slidingWindowLua.Run(ctx, l.redis,
		[]string{l.bucketKey(action, key)},
		now,
		policy.Window.Milliseconds(),
		policy.Limit,
		fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  int(res[2]),
	}, nil
}

func (l *Limiter) bucketKey(action Action, key string) string {
	sum := sha256.Sum256([]byte(key))
	return l.config.Prefix + ":rl:" + string(action) + ":" + hex.EncodeToString(sum[:16])
}

// LoginKey combines the normalized identity with the client IP.
func LoginKey(email, ip string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + ip
}

// ClientKey limits on the client IP, falling back to fallback when the
// caller did not provide one.
func ClientKey(ip, fallback string) string {
	if ip != "" {
		return "ip:" + ip
	}
	return "anon:" + fallback
}
