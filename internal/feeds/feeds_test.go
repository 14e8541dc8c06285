package feeds

import (
	"context"
	"errors"
	"testing"

	"github.com/okorolenko/substack-digest-bot/internal/tiers"
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

type staticResolver struct{ def tiers.Definition }

func (r staticResolver) TierLimits(ctx context.Context, userID int64) (tiers.Definition, error) {
	return r.def, nil
}

func freeResolver() staticResolver {
	return staticResolver{def: tiers.Default().Free()}
}

func TestAddUpToQuotaThenDenied(t *testing.T) {
	svc := NewService(newMemAccounts(), freeResolver())
	ctx := context.Background()

	urls := []string{
		"https://one.substack.com",
		"https://two.substack.com",
		"https://three.substack.com",
	}
	for _, u := range urls {
		if _, err := svc.Add(ctx, 42, u); err != nil {
			t.Fatalf("add %s: unexpected error: %v", u, err)
		}
	}

	_, err := svc.Add(ctx, 42, "https://four.substack.com")
	var qErr *QuotaError
	if !errors.As(err, &qErr) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if qErr.Limit != 3 || qErr.Tier != types.TierFree {
		t.Fatalf("quota error should name the limit and tier: %+v", qErr)
	}

	list, err := svc.List(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("denied add must not change the list, got %d feeds", len(list))
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	svc := NewService(newMemAccounts(), freeResolver())
	ctx := context.Background()

	if _, err := svc.Add(ctx, 42, "https://one.substack.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Add(ctx, 42, "https://one.substack.com")
	if !errors.Is(err, ErrAlreadyAdded) {
		t.Fatalf("expected ErrAlreadyAdded, got %v", err)
	}
}

func TestRemoveThenReAdd(t *testing.T) {
	svc := NewService(newMemAccounts(), freeResolver())
	ctx := context.Background()

	added, err := svc.Add(ctx, 42, "https://one.substack.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Remove(ctx, 42, added); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Add(ctx, 42, "https://one.substack.com"); err != nil {
		t.Fatalf("re-add after remove should succeed, got %v", err)
	}
}

func TestRemoveByIndex(t *testing.T) {
	svc := NewService(newMemAccounts(), freeResolver())
	ctx := context.Background()

	first, _ := svc.Add(ctx, 42, "https://one.substack.com")
	second, _ := svc.Add(ctx, 42, "https://two.substack.com")

	removed, err := svc.Remove(ctx, 42, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != first {
		t.Fatalf("index 1 should remove the first feed, removed %q", removed)
	}

	list, _ := svc.List(ctx, 42)
	if len(list) != 1 || list[0] != second {
		t.Fatalf("unexpected list after removal: %v", list)
	}
}

func TestRemoveBadIndex(t *testing.T) {
	svc := NewService(newMemAccounts(), freeResolver())
	ctx := context.Background()
	svc.Add(ctx, 42, "https://one.substack.com")

	if _, err := svc.Remove(ctx, 42, "5"); !errors.Is(err, ErrBadIndex) {
		t.Fatalf("expected ErrBadIndex, got %v", err)
	}
	if _, err := svc.Remove(ctx, 42, "https://missing.substack.com/feed"); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("expected ErrFeedNotFound, got %v", err)
	}
}

func TestListUnknownUserEmpty(t *testing.T) {
	svc := NewService(newMemAccounts(), freeResolver())

	list, err := svc.List(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("unknown user should have an empty list, got %v", list)
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"substack gets feed suffix", "https://writer.substack.com", "https://writer.substack.com/feed", false},
		{"substack feed kept", "https://writer.substack.com/feed", "https://writer.substack.com/feed", false},
		{"substack http forced https", "http://writer.substack.com", "https://writer.substack.com/feed", false},
		{"plain rss passes through", "https://example.com/rss.xml", "https://example.com/rss.xml", false},
		{"medium forced https", "http://medium.com/feed/some-pub", "https://medium.com/feed/some-pub", false},
		{"ftp rejected", "ftp://example.com/feed", "", true},
		{"no host rejected", "https://", "", true},
		{"localhost rejected", "http://localhost:8080/feed", "", true},
		{"loopback ip rejected", "http://127.0.0.1/feed", "", true},
		{"private ip rejected", "http://192.168.1.10/feed", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateURL(tc.in)
			if tc.wantErr {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
