package auth

import (
	"context"
	"errors"

	"github.com/okorolenko/substack-digest-bot/types"
)

// Guard answers the blocked check that runs before anything else in the
// command pipeline. A blocked identity never consumes rate-limit budget and
// never reaches a handler.
type Guard struct {
	accounts types.AccountStore
}

func NewGuard(accounts types.AccountStore) *Guard {
	return &Guard{accounts: accounts}
}

const defaultBlockReason = "Account suspended."

func (g *Guard) IsBlocked(ctx context.Context, userID int64) (bool, string, error) {
	acct, err := g.accounts.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if !acct.Security.Blocked {
		return false, "", nil
	}
	reason := acct.Security.BlockReason
	if reason == "" {
		reason = defaultBlockReason
	}
	return true, reason, nil
}

func (g *Guard) Block(ctx context.Context, userID int64, reason string) error {
	_, err := g.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		a.Security.Blocked = true
		a.Security.BlockReason = reason
		return nil
	})
	return err
}

// Unblock clears the flag, the reason and the failed-attempt counter.
func (g *Guard) Unblock(ctx context.Context, userID int64) error {
	_, err := g.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		a.Security.Blocked = false
		a.Security.BlockReason = ""
		a.Security.FailedAttempts = 0
		return nil
	})
	return err
}
