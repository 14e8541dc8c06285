package auth

import (
	"context"
	"testing"

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
	out := make([]*types.Account, 0, len(s.m))
	for _, a := range s.m {
		out = append(out, a)
	}
	return out, nil
}

func (s *memAccounts) FindByCustomerRef(ctx context.Context, customerRef string) (*types.Account, error) {
	return nil, types.ErrNotFound
}

func TestIsBlockedUnknownUser(t *testing.T) {
	g := NewGuard(newMemAccounts())

	blocked, _, err := g.IsBlocked(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocked {
		t.Fatal("unknown user must not be blocked")
	}
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	accounts := newMemAccounts()
	g := NewGuard(accounts)

	if err := g.Block(context.Background(), 42, "spamming invites"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocked, reason, err := g.IsBlocked(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blocked || reason != "spamming invites" {
		t.Fatalf("expected block with stored reason, got blocked=%v reason=%q", blocked, reason)
	}

	if err := g.Unblock(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocked, _, _ = g.IsBlocked(context.Background(), 42)
	if blocked {
		t.Fatal("unblock must clear the flag")
	}
	if accounts.m[42].Security.FailedAttempts != 0 || accounts.m[42].Security.BlockReason != "" {
		t.Fatalf("unblock must reset security state: %+v", accounts.m[42].Security)
	}
}

func TestBlockWithoutReasonGetsDefault(t *testing.T) {
	g := NewGuard(newMemAccounts())

	if err := g.Block(context.Background(), 42, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocked, reason, err := g.IsBlocked(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blocked || reason == "" {
		t.Fatalf("blocked user without stored reason still gets one, got %q", reason)
	}
}
