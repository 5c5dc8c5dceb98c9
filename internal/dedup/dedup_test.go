package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"buildwatch/internal/domain"
)

func key(job string, n int64) domain.DedupKey {
	return domain.DedupKey{Job: job, Number: n}
}

func TestAdmitFirstWinsWithinWindow(t *testing.T) {
	s := New(10 * time.Minute)

	if !s.Admit(key("build-A", 42)) {
		t.Fatal("first admit should return true")
	}
	if s.Admit(key("build-A", 42)) {
		t.Fatal("second admit inside the window should return false")
	}
	if !s.Admit(key("build-A", 43)) {
		t.Fatal("different build number is a different key")
	}
	if !s.Admit(key("build-B", 42)) {
		t.Fatal("different job is a different key")
	}
}

func TestAdmitConcurrentExactlyOneWinner(t *testing.T) {
	s := New(10 * time.Minute)
	k := key("build-A", 42)

	const n = 64
	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.Admit(k) {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Fatalf("expected exactly one admit to win, got %d", got)
	}
}

func TestAdmitAgainAfterWindowExpires(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	if !s.Admit(key("build-A", 42)) {
		t.Fatal("first admit should return true")
	}

	now = now.Add(59 * time.Second)
	if s.Admit(key("build-A", 42)) {
		t.Fatal("admit just inside the window should return false")
	}

	now = now.Add(2 * time.Second)
	if !s.Admit(key("build-A", 42)) {
		t.Fatal("admit after the window should return true again")
	}
}

func TestSweepEvictsOnlyExpiredEntries(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.Admit(key("build-A", 1))
	now = now.Add(30 * time.Second)
	s.Admit(key("build-A", 2))
	now = now.Add(40 * time.Second)

	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("expected 1 evicted entry, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 tracked key after sweep, got %d", s.Len())
	}

	// The evicted key may be admitted again.
	if !s.Admit(key("build-A", 1)) {
		t.Fatal("evicted key should be admissible")
	}
}

func TestSweepBoundsMemory(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	for i := int64(0); i < 1000; i++ {
		s.Admit(key("build-A", i))
	}
	now = now.Add(2 * time.Minute)
	s.Sweep()

	if s.Len() != 0 {
		t.Fatalf("expected all entries evicted, got %d", s.Len())
	}
}
