package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/okorolenko/substack-digest-bot/types"
)

type memRateStore struct {
	windows map[string][]int64
	updates int
}

func newMemRateStore() *memRateStore {
	return &memRateStore{windows: make(map[string][]int64)}
}

func (s *memRateStore) Update(ctx context.Context, userID int64, class types.ActionClass, ttl time.Duration, fn func([]int64) []int64) error {
	s.updates++
	key := string(class) + ":" + strconv.FormatInt(userID, 10)
	s.windows[key] = fn(s.windows[key])
	return nil
}

type staticPriv struct{ privileged bool }

func (p staticPriv) IsPrivileged(ctx context.Context, userID int64) (bool, error) {
	return p.privileged, nil
}

func newTestLimiter(store *memRateStore, privileged bool, now time.Time) *Limiter {
	l := NewLimiter(store, staticPriv{privileged: privileged}, nil)
	l.now = func() time.Time { return now }
	return l
}

func TestAdmitUnderLimit(t *testing.T) {
	store := newMemRateStore()
	l := newTestLimiter(store, false, time.Unix(1000, 0))

	for i := 0; i < 10; i++ {
		if err := l.Admit(context.Background(), 1, types.ActionGeneral); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}
}

func TestAdmitDeniesAtCeiling(t *testing.T) {
	store := newMemRateStore()
	now := time.Unix(1000, 0)
	l := newTestLimiter(store, false, now)

	for i := 0; i < 5; i++ {
		if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}

	err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	// All five admissions happened at the same instant, so the oldest leaves
	// the window a full hour later.
	if denied.RetryAfter != time.Hour {
		t.Fatalf("expected retry after 1h, got %v", denied.RetryAfter)
	}
}

func TestAdmitRetryAfterTracksOldest(t *testing.T) {
	store := newMemRateStore()
	base := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		l := newTestLimiter(store, false, base.Add(time.Duration(i)*time.Minute))
		if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}

	l := newTestLimiter(store, false, base.Add(10*time.Minute))
	err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.RetryAfter != 50*time.Minute {
		t.Fatalf("expected retry after 50m, got %v", denied.RetryAfter)
	}
}

func TestAdmitPruningFreesBudget(t *testing.T) {
	store := newMemRateStore()
	base := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		l := newTestLimiter(store, false, base)
		if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}

	l := newTestLimiter(store, false, base.Add(61*time.Minute))
	if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err != nil {
		t.Fatalf("expected admission after window passed, got %v", err)
	}
}

func TestAdmitPrivilegedBypassesStore(t *testing.T) {
	store := newMemRateStore()
	l := newTestLimiter(store, true, time.Unix(1000, 0))

	for i := 0; i < 100; i++ {
		if err := l.Admit(context.Background(), 1, types.ActionGeneral); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}
	if store.updates != 0 {
		t.Fatalf("privileged admissions must not touch stored state, saw %d updates", store.updates)
	}
}

func TestAdmitDeniedDoesNotConsume(t *testing.T) {
	store := newMemRateStore()
	now := time.Unix(1000, 0)
	l := newTestLimiter(store, false, now)

	for i := 0; i < 5; i++ {
		if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}
	if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err == nil {
		t.Fatal("expected denial")
	}

	for _, window := range store.windows {
		if len(window) != 5 {
			t.Fatalf("denied check must not append a timestamp, window has %d", len(window))
		}
	}
}

func TestAdmitUnknownClassAllowed(t *testing.T) {
	store := newMemRateStore()
	l := newTestLimiter(store, false, time.Unix(1000, 0))

	if err := l.Admit(context.Background(), 1, types.ActionClass("mystery")); err != nil {
		t.Fatalf("unknown class should be admitted, got %v", err)
	}
	if store.updates != 0 {
		t.Fatalf("unknown class must not touch stored state")
	}
}

func TestAdmitSeparateIdentities(t *testing.T) {
	store := newMemRateStore()
	now := time.Unix(1000, 0)
	l := newTestLimiter(store, false, now)

	for i := 0; i < 5; i++ {
		if err := l.Admit(context.Background(), 1, types.ActionExpensiveGeneration); err != nil {
			t.Fatalf("admission %d: unexpected error: %v", i, err)
		}
	}
	if err := l.Admit(context.Background(), 2, types.ActionExpensiveGeneration); err != nil {
		t.Fatalf("another identity should have its own budget, got %v", err)
	}
}
