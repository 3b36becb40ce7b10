package arkana

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	internalaudit "github.com/avilainc/arkana/internal/audit"
	"github.com/avilainc/arkana/internal/flows"
	internalmetrics "github.com/avilainc/arkana/internal/metrics"
	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
	"github.com/avilainc/arkana/password"
)

const tracerName = "github.com/avilainc/arkana"

// dummySecret is hashed once at build time so unknown-email logins pay the
// same verification cost as real ones.
const dummySecret = "arkana-timing-equalizer"

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	ledger   ledger.Ledger
	keys     jwt.KeyProvider
	profiles ProfileStore
	delivery Delivery

	logger         *slog.Logger
	auditSink      AuditSink
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store used by the rate limiter and, unless
// [Builder.WithLedger] overrides it, the revocation ledger.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLedger overrides the Redis ledger.
func (b *Builder) WithLedger(l ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithKeyProvider supplies signing keys directly instead of building a
// [jwt.KeyRing] from Tokens.PrivateKey. Pass a *jwt.KeyRing to keep the
// ability to rotate keys at runtime.
func (b *Builder) WithKeyProvider(keys jwt.KeyProvider) *Builder {
	b.keys = keys
	return b
}

// WithProfileStore sets the identity store. Required.
func (b *Builder) WithProfileStore(store ProfileStore) *Builder {
	b.profiles = store
	return b
}

// WithDelivery sets the out-of-band token sender. Without one, verification
// and reset tokens are minted but never sent.
func (b *Builder) WithDelivery(d Delivery) *Builder {
	b.delivery = d
	return b
}

// WithLogger sets the logger for best-effort failures.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink behind the async audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTracerProvider sets the provider for engine spans. Defaults to the
// global provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock overrides the wall clock used for token stamps, ledger TTLs and
// rate windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A builder can
// only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.profiles == nil {
		return nil, errors.New("profile store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- KEYS + CODEC --------
	keys := b.keys
	if keys == nil {
		ring, err := keyRingFromConfig(cfg.Tokens)
		if err != nil {
			return nil, err
		}
		keys = ring
	}
	codec, err := jwt.NewCodec(jwt.Config{
		Keys:     keys,
		Issuer:   cfg.Tokens.Issuer,
		Audience: cfg.Tokens.Audience,
		Leeway:   cfg.Tokens.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	// -------- CREDENTIAL VERIFIER --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, err
	}
	policy := password.Policy{MinLength: cfg.Password.MinLength, MaxLength: cfg.Password.MaxLength}

	// -------- SHARED STORE --------
	led := b.ledger
	if led == nil {
		led = ledger.NewRedis(b.redis, ledger.RedisConfig{
			Prefix:    cfg.Ledger.Prefix,
			OpTimeout: cfg.Ledger.OpTimeout,
		})
	}
	limiter := rate.New(b.redis, rate.Config{
		Prefix:    cfg.Ledger.Prefix,
		OpTimeout: cfg.Ledger.OpTimeout,
		Policies:  cfg.RateLimit.policies(),
		Now:       now,
	})

	engine := &Engine{
		config:   cfg,
		codec:    codec,
		keys:     keys,
		ledger:   led,
		limiter:  limiter,
		profiles: b.profiles,
		logger:   logger,
		tracer:   tp.Tracer(tracerName),
		metrics:  internalmetrics.New(internalmetrics.Config{Enabled: cfg.Metrics.Enabled, EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms}),
		now:      now,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: time.Second,
	}, b.auditSink)

	var delivery flows.Delivery
	if b.delivery != nil {
		delivery = deliveryAdapter{next: b.delivery, metrics: engine.metrics}
	}

	engine.flow = flows.New(flows.Deps{
		Codec:               codec,
		Ledger:              led,
		Limiter:             limiter,
		Profiles:            profileAdapter{store: b.profiles},
		Secrets:             hasher,
		Delivery:            delivery,
		CheckSecretPolicy:   policy.Check,
		ClientIPFromContext: clientIPFromContext,
		Now:                 now,
		Warn: func(msg string, args ...any) {
			logger.Warn(msg, args...)
		},
		Settings: flows.Settings{
			AccessTTL:            cfg.Tokens.AccessTTL,
			RefreshTTL:           cfg.Refresh.TTL,
			AbsoluteLifetime:     cfg.Refresh.AbsoluteLifetime,
			ResetTTL:             cfg.PasswordReset.TTL,
			VerifyTTL:            cfg.EmailVerification.TTL,
			Leeway:               cfg.Tokens.Leeway,
			SyncAccessRevocation: cfg.Tokens.AccessRevocation == AccessRevocationSync,
			RequireVerifiedLogin: cfg.EmailVerification.RequiredForLogin,
			UpgradeHashOnLogin:   cfg.Password.UpgradeOnLogin,
			DummyHash:            dummyHash,
			FullNameMin:          cfg.Registration.FullNameMin,
			FullNameMax:          cfg.Registration.FullNameMax,
		},
		Errors: flows.Errors{
			ProfileNotFound: ErrProfileNotFound,
			DuplicateEmail:  ErrDuplicateEmail,
		},
	})

	b.built = true

	return engine, nil
}

func keyRingFromConfig(tc TokensConfig) (*jwt.KeyRing, error) {
	if strings.TrimSpace(tc.PrivateKey) == "" {
		return nil, errors.New("Tokens PrivateKey required when no key provider is supplied")
	}
	key := jwt.Key{
		ID:      tc.KeyID,
		Method:  jwt.SigningMethod(strings.ToLower(tc.SigningMethod)),
		Private: []byte(tc.PrivateKey),
	}
	if tc.PublicKey != "" {
		key.Public = []byte(tc.PublicKey)
	}
	return jwt.NewKeyRing(key, tc.RotationGrace)
}
