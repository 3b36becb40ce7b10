package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) (*Redis, *miniredis.Miniredis) {
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
	return NewRedis(rdb, RedisConfig{Prefix: "lt", OpTimeout: time.Second}), mr
}

func TestMarkSpentIfUnspentFirstUseOnly(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.MarkSpentIfUnspent(ctx, "jti-1", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first use, got first=%v err=%v", first, err)
	}
	again, err := l.MarkSpentIfUnspent(ctx, "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("MarkSpentIfUnspent: %v", err)
	}
	if again {
		t.Fatal("expected second mark to report already spent")
	}
}

func TestMarkSpentIfUnspentConcurrentSingleWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.MarkSpentIfUnspent(ctx, "race", time.Minute)
			if err != nil {
				t.Errorf("MarkSpentIfUnspent: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestRevokedIDIsNeverFirstUse(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.MarkRevoked(ctx, "jti-r", ReasonLogout, time.Minute); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	first, err := l.MarkSpentIfUnspent(ctx, "jti-r", time.Minute)
	if err != nil {
		t.Fatalf("MarkSpentIfUnspent: %v", err)
	}
	if first {
		t.Fatal("revoked id must not be reported as first use")
	}
}

func TestReleaseSpentAllowsRedeemAgain(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.MarkSpentIfUnspent(ctx, "jti-x", time.Minute); err != nil {
		t.Fatalf("MarkSpentIfUnspent: %v", err)
	}
	released, err := l.ReleaseSpent(ctx, "jti-x")
	if err != nil || !released {
		t.Fatalf("expected release, got released=%v err=%v", released, err)
	}
	first, err := l.MarkSpentIfUnspent(ctx, "jti-x", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first use after release, got first=%v err=%v", first, err)
	}

	if released, _ := l.ReleaseSpent(ctx, "unknown"); released {
		t.Fatal("release of an unknown id must report false")
	}
}

func TestReleaseSpentKeepsRevocation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.MarkRevoked(ctx, "jti-r", ReasonLogout, time.Minute); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	released, err := l.ReleaseSpent(ctx, "jti-r")
	if err != nil {
		t.Fatalf("ReleaseSpent: %v", err)
	}
	if released {
		t.Fatal("revoked id must not be released")
	}
	if revoked, _ := l.IsRevoked(ctx, "jti-r"); !revoked {
		t.Fatal("expected revocation to survive release")
	}
}

func TestIsRevokedDistinguishesSpent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	revoked, err := l.IsRevoked(ctx, "missing")
	if err != nil || revoked {
		t.Fatalf("expected unknown id not revoked, got %v %v", revoked, err)
	}

	if _, err := l.MarkSpentIfUnspent(ctx, "spent", time.Minute); err != nil {
		t.Fatalf("MarkSpentIfUnspent: %v", err)
	}
	if revoked, _ := l.IsRevoked(ctx, "spent"); revoked {
		t.Fatal("spent id must not report as revoked")
	}

	if err := l.MarkRevoked(ctx, "spent", ReasonLogout, time.Minute); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if revoked, _ := l.IsRevoked(ctx, "spent"); !revoked {
		t.Fatal("expected revocation to override spent marker")
	}
}

func TestEntriesExpireWithTTL(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	if err := l.MarkRevoked(ctx, "short", ReasonLogout, 2*time.Second); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}
	if err := l.RevokeFamily(ctx, "fam-short", ReasonReuse, 2*time.Second); err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}

	mr.FastForward(3 * time.Second)

	if revoked, _ := l.IsRevoked(ctx, "short"); revoked {
		t.Fatal("expected token entry to expire")
	}
	if revoked, _ := l.IsFamilyRevoked(ctx, "fam-short"); revoked {
		t.Fatal("expected family entry to expire")
	}
}

func TestNonPositiveTTLIsClamped(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.MarkSpentIfUnspent(ctx, "edge", 0); err != nil {
		t.Fatalf("MarkSpentIfUnspent: %v", err)
	}
	if ttl := mr.TTL("lt:t:edge"); ttl != minEntryTTL {
		t.Fatalf("expected ttl clamped to %v, got %v", minEntryTTL, ttl)
	}
}

func TestRevokeSubjectFamilies(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.TrackFamily(ctx, "user-1", fmt.Sprintf("fam-%d", i), time.Hour); err != nil {
			t.Fatalf("TrackFamily: %v", err)
		}
	}
	if err := l.TrackFamily(ctx, "user-2", "fam-other", time.Hour); err != nil {
		t.Fatalf("TrackFamily: %v", err)
	}

	n, err := l.RevokeSubjectFamilies(ctx, "user-1", ReasonPasswordReset, time.Hour)
	if err != nil {
		t.Fatalf("RevokeSubjectFamilies: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 families revoked, got %d", n)
	}
	for i := 0; i < 3; i++ {
		revoked, err := l.IsFamilyRevoked(ctx, fmt.Sprintf("fam-%d", i))
		if err != nil || !revoked {
			t.Fatalf("expected fam-%d revoked, got %v %v", i, revoked, err)
		}
	}
	if revoked, _ := l.IsFamilyRevoked(ctx, "fam-other"); revoked {
		t.Fatal("other subject's family must be untouched")
	}

	n, err = l.RevokeSubjectFamilies(ctx, "user-1", ReasonPasswordReset, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("expected idempotent second revoke to report 0, got %d %v", n, err)
	}
}

func TestTrackFamilyOnlyExtendsIndexTTL(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	if err := l.TrackFamily(ctx, "user-1", "fam-long", time.Hour); err != nil {
		t.Fatalf("TrackFamily: %v", err)
	}
	if err := l.TrackFamily(ctx, "user-1", "fam-short", time.Minute); err != nil {
		t.Fatalf("TrackFamily: %v", err)
	}
	if ttl := mr.TTL("lt:sf:user-1"); ttl < 59*time.Minute {
		t.Fatalf("expected index ttl to stay near one hour, got %v", ttl)
	}
}

func TestUnavailableStoreWrapsSentinel(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()
	mr.Close()

	if _, err := l.MarkSpentIfUnspent(ctx, "x", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := l.IsFamilyRevoked(ctx, "f"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := l.RevokeSubjectFamilies(ctx, "s", ReasonLogoutAll, time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := l.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEmptyIdentifiersRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.MarkSpentIfUnspent(ctx, "", time.Minute); err == nil {
		t.Fatal("expected empty id to be rejected")
	}
	if _, err := l.ReleaseSpent(ctx, ""); err == nil {
		t.Fatal("expected empty id to be rejected on release")
	}
	if err := l.TrackFamily(ctx, "", "fam", time.Minute); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}
