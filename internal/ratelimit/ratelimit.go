package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/okorolenko/substack-digest-bot/types"
)

// Limit is the (window, ceiling) pair for one action class.
type Limit struct {
	Window time.Duration
	Max    int
}

// DefaultLimits: general commands get the smallest window and largest
// ceiling; expensive generation requests the opposite.
func DefaultLimits() map[types.ActionClass]Limit {
	return map[types.ActionClass]Limit{
		types.ActionGeneral:             {Window: time.Minute, Max: 10},
		types.ActionQuotaMutation:       {Window: time.Hour, Max: 20},
		types.ActionExpensiveGeneration: {Window: time.Hour, Max: 5},
	}
}

// DeniedError reports how long the caller must wait before the oldest
// admission leaves the window.
type DeniedError struct {
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %d seconds", int(e.RetryAfter.Seconds()))
}

// Privileged reports whether an identity bypasses rate limiting entirely.
type Privileged interface {
	IsPrivileged(ctx context.Context, userID int64) (bool, error)
}

type Limiter struct {
	store  types.RateStore
	limits map[types.ActionClass]Limit
	priv   Privileged
	now    func() time.Time
}

func NewLimiter(store types.RateStore, priv Privileged, limits map[types.ActionClass]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		store:  store,
		limits: limits,
		priv:   priv,
		now:    time.Now,
	}
}

// Admit checks and consumes one admission for (userID, class). Owner and
// admin identities are always admitted without touching stored state. Every
// check prunes expired timestamps; an allowed check additionally appends the
// current time and persists it.
func (l *Limiter) Admit(ctx context.Context, userID int64, class types.ActionClass) error {
	privileged, err := l.priv.IsPrivileged(ctx, userID)
	if err != nil {
		return err
	}
	if privileged {
		return nil
	}

	limit, ok := l.limits[class]
	if !ok {
		return nil
	}

	now := l.now().Unix()
	windowSec := int64(limit.Window.Seconds())

	var denied *DeniedError
	err = l.store.Update(ctx, userID, class, limit.Window, func(timestamps []int64) []int64 {
		kept := timestamps[:0]
		for _, ts := range timestamps {
			if now-ts < windowSec {
				kept = append(kept, ts)
			}
		}

		if len(kept) >= limit.Max {
			oldest := kept[0]
			for _, ts := range kept[1:] {
				if ts < oldest {
					oldest = ts
				}
			}
			wait := windowSec - (now - oldest)
			if wait < 1 {
				wait = 1
			}
			denied = &DeniedError{RetryAfter: time.Duration(wait) * time.Second}
			return kept
		}

		return append(kept, now)
	})
	if err != nil {
		return err
	}
	if denied != nil {
		return denied
	}
	return nil
}
