package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/avilainc/arkana/internal/rate"
	"github.com/avilainc/arkana/jwt"
	"github.com/avilainc/arkana/ledger"
	"github.com/avilainc/arkana/password"
)

var (
	errTestNotFound  = errors.New("profile not found")
	errTestDuplicate = errors.New("duplicate email")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memProfiles struct {
	mu         sync.Mutex
	byID       map[string]Profile
	seq        int
	failAll    error
	failWrites error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{byID: make(map[string]Profile)}
}

func (m *memProfiles) FindByEmail(_ context.Context, email string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return Profile{}, m.failAll
	}
	for _, p := range m.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return Profile{}, errTestNotFound
}

func (m *memProfiles) FindByID(_ context.Context, id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return Profile{}, m.failAll
	}
	p, ok := m.byID[id]
	if !ok {
		return Profile{}, errTestNotFound
	}
	return p, nil
}

func (m *memProfiles) Create(_ context.Context, np NewProfile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Email == np.Email {
			return Profile{}, errTestDuplicate
		}
	}
	m.seq++
	p := Profile{
		ID:           fmt.Sprintf("user-%d", m.seq),
		Email:        np.Email,
		FullName:     np.FullName,
		PasswordHash: np.PasswordHash,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	m.byID[p.ID] = p
	return p, nil
}

func (m *memProfiles) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	p, ok := m.byID[id]
	if !ok {
		return errTestNotFound
	}
	p.PasswordHash = hash
	m.byID[id] = p
	return nil
}

func (m *memProfiles) SetVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	p, ok := m.byID[id]
	if !ok {
		return errTestNotFound
	}
	p.Verified = true
	m.byID[id] = p
	return nil
}

func (m *memProfiles) setFailures(all, writes error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = all
	m.failWrites = writes
}

func (m *memProfiles) setActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byID[id]
	p.Active = active
	m.byID[id] = p
}

// flakyLedger fails selected operations of an otherwise working ledger.
type flakyLedger struct {
	ledger.Ledger
	mu           sync.Mutex
	trackErr     error
	revokeAllErr error
	releaseErr   error
}

func (f *flakyLedger) set(fn func(*flakyLedger)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyLedger) TrackFamily(ctx context.Context, subject, familyID string, ttl time.Duration) error {
	f.mu.Lock()
	err := f.trackErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Ledger.TrackFamily(ctx, subject, familyID, ttl)
}

func (f *flakyLedger) RevokeSubjectFamilies(ctx context.Context, subject string, reason ledger.Reason, ttl time.Duration) (int, error) {
	f.mu.Lock()
	err := f.revokeAllErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Ledger.RevokeSubjectFamilies(ctx, subject, reason, ttl)
}

func (f *flakyLedger) ReleaseSpent(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	err := f.releaseErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Ledger.ReleaseSpent(ctx, id)
}

// keyLimiter records the keys it is asked about and answers with err.
type keyLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *keyLimiter) Check(_ context.Context, action rate.Action, key string) (rate.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, string(action)+"|"+key)
	if l.err != nil {
		return rate.Decision{}, l.err
	}
	return rate.Decision{Allowed: true}, nil
}

type captureDelivery struct {
	mu     sync.Mutex
	verify map[string]string
	reset  map[string]string
	fail   error
}

func newCaptureDelivery() *captureDelivery {
	return &captureDelivery{verify: make(map[string]string), reset: make(map[string]string)}
}

func (c *captureDelivery) SendVerificationLink(_ context.Context, p Profile, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.verify[p.Email] = token
	return nil
}

func (c *captureDelivery) SendResetLink(_ context.Context, p Profile, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.reset[p.Email] = token
	return nil
}

func (c *captureDelivery) resetToken(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset[email]
}

func (c *captureDelivery) verifyToken(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verify[email]
}

type harness struct {
	svc      Service
	deps     Deps
	profiles *memProfiles
	mail     *captureDelivery
	clock    *fakeClock
	mr       *miniredis.Miniredis
	hasher   *password.Argon2
}

func testPolicies() map[rate.Action]rate.Policy {
	return map[rate.Action]rate.Policy{
		rate.ActionLogin:         {Limit: 10, Window: 5 * time.Minute},
		rate.ActionRefresh:       {Limit: 1000, Window: time.Minute},
		rate.ActionRegister:      {Limit: 1000, Window: time.Minute},
		rate.ActionResetRequest:  {Limit: 3, Window: time.Hour},
		rate.ActionResetConfirm:  {Limit: 1000, Window: time.Minute},
		rate.ActionVerifyRequest: {Limit: 3, Window: time.Hour},
		rate.ActionVerifyConfirm: {Limit: 1000, Window: time.Minute},
	}
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	ring, err := jwt.NewKeyRing(jwt.Key{ID: "k1", Method: jwt.MethodHS256, Private: []byte("0123456789abcdef0123456789abcdef")}, 0)
	if err != nil {
		t.Fatalf("NewKeyRing: %v", err)
	}
	codec, err := jwt.NewCodec(jwt.Config{Keys: ring, Issuer: "arkana", Audience: "test", Leeway: jwt.DefaultLeeway, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	hasher, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	dummy, err := hasher.Hash("dummy-secret-value")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	profiles := newMemProfiles()
	mail := newCaptureDelivery()
	deps := Deps{
		Codec:             codec,
		Ledger:            ledger.NewRedis(rdb, ledger.RedisConfig{Prefix: "ft", OpTimeout: time.Second}),
		Limiter:           rate.New(rdb, rate.Config{Prefix: "ft", OpTimeout: time.Second, Policies: testPolicies(), Now: clock.Now}),
		Profiles:          profiles,
		Secrets:           hasher,
		Delivery:          mail,
		CheckSecretPolicy: password.DefaultPolicy().Check,
		Now:               clock.Now,
		Settings: Settings{
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           7 * 24 * time.Hour,
			ResetTTL:             time.Hour,
			VerifyTTL:            24 * time.Hour,
			Leeway:               jwt.DefaultLeeway,
			SyncAccessRevocation: true,
			DummyHash:            dummy,
			FullNameMin:          2,
			FullNameMax:          100,
		},
		Errors: Errors{ProfileNotFound: errTestNotFound, DuplicateEmail: errTestDuplicate},
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &harness{
		svc:      New(deps),
		deps:     deps,
		profiles: profiles,
		mail:     mail,
		clock:    clock,
		mr:       mr,
		hasher:   hasher,
	}
}

func (h *harness) register(t *testing.T, email, secret string) Profile {
	t.Helper()
	res := h.svc.Register(context.Background(), RegisterInput{Email: email, Password: secret, FullName: "Test User"})
	if !res.OK() {
		t.Fatalf("Register(%s): failure=%d err=%v", email, res.Failure, res.Err)
	}
	return res.Profile
}

func (h *harness) login(t *testing.T, email, secret string) Pair {
	t.Helper()
	res := h.svc.Login(context.Background(), email, secret)
	if !res.OK() {
		t.Fatalf("Login(%s): failure=%d err=%v", email, res.Failure, res.Err)
	}
	return res.Pair
}

func expectFailure(t *testing.T, what string, got Outcome, want FailureKind) {
	t.Helper()
	if got.Failure != want {
		t.Fatalf("%s: expected failure %d, got %d (err=%v)", what, want, got.Failure, got.Err)
	}
}
