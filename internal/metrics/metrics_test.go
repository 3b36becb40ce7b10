package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestIncAndSnapshot(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(LoginSuccess)
		}()
	}
	wg.Wait()

	m.Observe(ValidateLatency, 3*time.Millisecond)
	m.Observe(ValidateLatency, 70*time.Millisecond)
	m.Observe(ValidateLatency, 2*time.Second)

	s := m.Snapshot()
	if s.Counters[LoginSuccess] != 50 {
		t.Fatalf("expected 50, got %d", s.Counters[LoginSuccess])
	}
	if _, ok := s.Counters[ValidateLatency]; ok {
		t.Fatal("histogram id must not appear as a counter")
	}
	got := s.Histograms[ValidateLatency]
	if got[0] != 1 || got[4] != 1 || got[7] != 1 {
		t.Fatalf("unexpected buckets %v", got)
	}
}

func TestDisabledMetricsRecordNothing(t *testing.T) {
	m := New(Config{})
	m.Inc(LoginFailure)
	if m.Value(LoginFailure) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled snapshot must be empty")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(LoginFailure)
	nilMetrics.Observe(ValidateLatency, time.Millisecond)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics must report disabled")
	}
}

func TestEveryCounterHasADef(t *testing.T) {
	seen := make(map[ID]bool)
	for _, d := range CounterDefs {
		if seen[d.ID] {
			t.Fatalf("duplicate def for %d", d.ID)
		}
		seen[d.ID] = true
	}
	for id := ID(0); id < idCount; id++ {
		if id == ValidateLatency {
			continue
		}
		if !seen[id] {
			t.Fatalf("counter %d has no exported def", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 0, 3}))
	want := [BucketCount]uint64{1, 3, 3, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
