package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGet_CreatesOnMiss(t *testing.T) {
	s := New(2, 3, time.Hour)

	st, created := s.Get(1, 100)
	if !created {
		t.Fatal("first reference must create the state")
	}
	if st == nil {
		t.Fatal("state must not be nil")
	}

	again, created := s.Get(1, 100)
	if created {
		t.Fatal("second reference must reuse")
	}
	if again != st {
		t.Fatal("same conversation must map to the same state")
	}
}

func TestGet_EvictsLeastRecentConversation(t *testing.T) {
	s := New(2, 2, time.Hour)

	first, _ := s.Get(1, 100)
	first.AppendIncome(decimal.NewFromInt(500), nil, nil, "a", time.Now())
	s.Get(1, 200)

	// touching 100 makes 200 the eviction candidate
	s.Get(1, 100)
	s.Get(1, 300)

	if _, ok := s.Peek(1, 200); ok {
		t.Fatal("conversation 200 should have been evicted")
	}

	// the survivor kept its ledger
	kept, created := s.Get(1, 100)
	if created {
		t.Fatal("conversation 100 must have survived")
	}
	if !kept.Summarize().TotalIncome.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("conversation 100 lost its entries: %s", kept.Summarize().TotalIncome)
	}

	// the evicted conversation comes back fresh and empty, never an error
	revived, created := s.Get(1, 200)
	if !created {
		t.Fatal("re-get after eviction must create")
	}
	if !revived.Summarize().TotalIncome.IsZero() {
		t.Fatal("revived state must be empty")
	}
}

func TestGet_BotsAreBounded(t *testing.T) {
	s := New(2, 10, time.Hour)
	s.Get(1, 100)
	s.Get(2, 100)
	s.Get(3, 100)

	bots, _ := s.Len()
	if bots != 2 {
		t.Fatalf("bots = %d, want 2", bots)
	}
	if _, ok := s.Peek(1, 100); ok {
		t.Fatal("oldest bot should have been evicted")
	}
}

func TestSweepInactive(t *testing.T) {
	s := New(2, 10, 50*time.Millisecond)

	stale, _ := s.Get(1, 100)
	stale.Touch(time.Now().Add(-time.Minute))

	fresh, _ := s.Get(1, 200)
	fresh.RememberUser("alice", 7)

	evicted := s.SweepInactive()
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if _, ok := s.Peek(1, 100); ok {
		t.Fatal("stale conversation must be swept")
	}

	// the live conversation survives but loses its transient lookup cache
	survivor, ok := s.Peek(1, 200)
	if !ok {
		t.Fatal("fresh conversation must survive the sweep")
	}
	if _, ok := survivor.LookupUser("alice"); ok {
		t.Fatal("sweep must clear the username cache of live conversations")
	}
}

func TestSweepInactive_NothingStale(t *testing.T) {
	s := New(2, 10, time.Hour)
	s.Get(1, 100)
	if evicted := s.SweepInactive(); evicted != 0 {
		t.Fatalf("evicted = %d, want 0", evicted)
	}
}

func TestGet_ConcurrentAccess(t *testing.T) {
	s := New(4, 100, time.Hour)
	done := make(chan struct{})

	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				st, _ := s.Get(int64(g%2), int64(i%20))
				st.AppendIncome(decimal.NewFromInt(1), nil, nil, "a", time.Now())
				if i%10 == 0 {
					s.SweepInactive()
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
