package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/types"
)

var ErrUnknownTier = errors.New("entitlement: unknown tier")

// Privileged reports whether an identity is owner or admin. Privileged
// identities resolve to the paid tier structurally; nothing about them is
// ever stored in SubscriptionState.
type Privileged interface {
	IsPrivileged(ctx context.Context, userID int64) (bool, error)
}

// Recorder receives lifecycle events for reporting. Implementations must not
// fail the calling transition.
type Recorder interface {
	Record(ctx context.Context, userID int64, kind, detail string)
}

// Service is both the entitlement resolver (TierLimits, IsEntitled, with
// lazy expiry) and the subscription ledger (Upgrade, DowngradeToFree, Grant).
type Service struct {
	accounts types.AccountStore
	priv     Privileged
	tiers    tiers.Table
	rec      Recorder
	now      func() time.Time
}

func NewService(accounts types.AccountStore, priv Privileged, table tiers.Table, rec Recorder) *Service {
	return &Service{
		accounts: accounts,
		priv:     priv,
		tiers:    table,
		rec:      rec,
		now:      time.Now,
	}
}

// TierLimits resolves the effective tier definition for an identity. A paid
// subscription whose expiry has passed is downgraded on the spot, so the
// stored state is corrected rather than merely reported around.
func (s *Service) TierLimits(ctx context.Context, userID int64) (tiers.Definition, error) {
	privileged, err := s.priv.IsPrivileged(ctx, userID)
	if err != nil {
		return s.tiers.Free(), err
	}
	if privileged {
		return s.tiers.Paid(), nil
	}

	acct, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return s.tiers.Free(), nil
		}
		return s.tiers.Free(), err
	}

	sub := acct.Subscription
	if sub.Tier != types.TierFree && s.expired(sub) {
		if err := s.DowngradeToFree(ctx, userID); err != nil {
			return s.tiers.Free(), err
		}
		return s.tiers.Free(), nil
	}

	def, ok := s.tiers.Get(sub.Tier)
	if !ok {
		return s.tiers.Free(), nil
	}
	return def, nil
}

// IsEntitled reports whether the identity's subscription is active. Free is
// always active; an expired paid subscription is downgraded first and then
// answered as free.
func (s *Service) IsEntitled(ctx context.Context, userID int64) (bool, error) {
	privileged, err := s.priv.IsPrivileged(ctx, userID)
	if err != nil {
		return false, err
	}
	if privileged {
		return true, nil
	}

	acct, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	sub := acct.Subscription
	if sub.Tier == types.TierFree {
		return true, nil
	}
	if sub.ExpiresAt == nil {
		return false, nil
	}
	if s.expired(sub) {
		if err := s.DowngradeToFree(ctx, userID); err != nil {
			return false, err
		}
		return true, nil
	}
	return true, nil
}

func (s *Service) expired(sub types.Subscription) bool {
	return sub.ExpiresAt != nil && s.now().After(*sub.ExpiresAt)
}

// Upgrade applies a tier transition. Idempotent: the identical transition
// leaves the same terminal state, and for an unchanged tier a later expiry
// extends while an earlier one never shortens the entitlement window.
func (s *Service) Upgrade(ctx context.Context, userID int64, tier, customerRef, subscriptionRef string, expiresAt *time.Time) error {
	def, ok := s.tiers.Get(tier)
	if !ok {
		return ErrUnknownTier
	}

	_, err := s.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		if a.Subscription.Tier == tier && a.Subscription.ExpiresAt != nil && expiresAt != nil &&
			expiresAt.Before(*a.Subscription.ExpiresAt) {
			expiresAt = a.Subscription.ExpiresAt
		}

		created := a.Subscription.CreatedAt
		if created.IsZero() {
			created = s.now().UTC()
		}
		a.Subscription = types.Subscription{
			Tier:            tier,
			CustomerRef:     customerRef,
			SubscriptionRef: subscriptionRef,
			ExpiresAt:       expiresAt,
			CreatedAt:       created,
		}

		// Source-count invariant holds at write time for every transition.
		if len(a.Feeds) > def.MaxFeeds {
			a.Feeds = a.Feeds[:def.MaxFeeds]
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.rec != nil {
		s.rec.Record(ctx, userID, "upgrade", tier)
	}
	return nil
}

// DowngradeToFree moves the identity to the free tier and truncates its
// source list to the free quota, keeping the earliest-added sources. It is a
// no-op for owner and admin identities, whose entitlement is structural.
func (s *Service) DowngradeToFree(ctx context.Context, userID int64) error {
	privileged, err := s.priv.IsPrivileged(ctx, userID)
	if err != nil {
		return err
	}
	if privileged {
		return nil
	}

	free := s.tiers.Free()
	changed := false
	_, err = s.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		changed = a.Subscription.Tier != types.TierFree
		a.Subscription.Tier = types.TierFree
		a.Subscription.ExpiresAt = nil
		a.Subscription.SubscriptionRef = ""
		if len(a.Feeds) > free.MaxFeeds {
			a.Feeds = a.Feeds[:free.MaxFeeds]
		}
		return nil
	})
	if err != nil {
		return err
	}

	if changed && s.rec != nil {
		s.rec.Record(ctx, userID, "downgrade", types.TierFree)
	}
	return nil
}

// Grant is an owner/admin-initiated goodwill extension: an upgrade to the
// paid tier under a synthetic subscription reference, extending from the
// current expiry when one is still running.
func (s *Service) Grant(ctx context.Context, userID int64, d time.Duration) (time.Time, error) {
	paid := s.tiers.Paid()
	now := s.now().UTC()

	var until time.Time
	_, err := s.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		base := now
		if a.Subscription.Tier != types.TierFree && a.Subscription.ExpiresAt != nil && a.Subscription.ExpiresAt.After(base) {
			base = *a.Subscription.ExpiresAt
		}
		until = base.Add(d)

		created := a.Subscription.CreatedAt
		if created.IsZero() {
			created = now
		}
		a.Subscription = types.Subscription{
			Tier:            paid.Name,
			CustomerRef:     a.Subscription.CustomerRef,
			SubscriptionRef: "grant_" + uuid.NewString(),
			ExpiresAt:       &until,
			CreatedAt:       created,
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	if s.rec != nil {
		s.rec.Record(ctx, userID, "grant", paid.Name)
	}
	return until, nil
}
