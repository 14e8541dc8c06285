package middleware

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/okorolenko/substack-digest-bot/internal/auth"
	"github.com/okorolenko/substack-digest-bot/internal/ratelimit"
	"github.com/okorolenko/substack-digest-bot/types"
)

type memAccounts struct {
	m map[int64]*types.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{m: make(map[int64]*types.Account)}
}

func (s *memAccounts) EnsureAccount(ctx context.Context, userID, chatID int64) (*types.Account, error) {
	if a, ok := s.m[userID]; ok {
		return a, nil
	}
	a := &types.Account{UserID: userID, ChatID: chatID}
	s.m[userID] = a
	return a, nil
}

func (s *memAccounts) GetAccount(ctx context.Context, userID int64) (*types.Account, error) {
	a, ok := s.m[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return a, nil
}

func (s *memAccounts) UpdateAccount(ctx context.Context, userID int64, fn func(*types.Account) error) (*types.Account, error) {
	a, ok := s.m[userID]
	if !ok {
		a = &types.Account{UserID: userID}
		s.m[userID] = a
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *memAccounts) ListAccounts(ctx context.Context) ([]*types.Account, error) {
	return nil, nil
}

func (s *memAccounts) FindByCustomerRef(ctx context.Context, customerRef string) (*types.Account, error) {
	return nil, types.ErrNotFound
}

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

func newTestMiddlewares(accounts *memAccounts, rates *memRateStore) *Middlewares {
	guard := auth.NewGuard(accounts)
	limiter := ratelimit.NewLimiter(rates, staticPriv{}, nil)
	return NewMiddlewares(accounts, nil, nil, guard, limiter)
}

func TestCheckAccessAllows(t *testing.T) {
	m := newTestMiddlewares(newMemAccounts(), newMemRateStore())

	denial, err := m.CheckAccess(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial != "" {
		t.Fatalf("expected access, got denial %q", denial)
	}
}

func TestCheckAccessBlockedNamesReason(t *testing.T) {
	accounts := newMemAccounts()
	rates := newMemRateStore()
	m := newTestMiddlewares(accounts, rates)

	if err := auth.NewGuard(accounts).Block(context.Background(), 42, "abuse reports"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	denial, err := m.CheckAccess(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial == "" || !strings.Contains(denial, "abuse reports") {
		t.Fatalf("blocked denial must carry the stored reason, got %q", denial)
	}
	if rates.updates != 0 {
		t.Fatalf("blocked user must not consume rate-limit budget, saw %d updates", rates.updates)
	}
}

func TestCheckAccessRateLimitDenial(t *testing.T) {
	m := newTestMiddlewares(newMemAccounts(), newMemRateStore())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		denial, err := m.CheckAccess(ctx, 42)
		if err != nil || denial != "" {
			t.Fatalf("check %d: expected access, denial=%q err=%v", i, denial, err)
		}
	}

	denial, err := m.CheckAccess(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denial == "" || !strings.Contains(denial, "seconds") {
		t.Fatalf("rate-limit denial must name the wait, got %q", denial)
	}
}
