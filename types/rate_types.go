package types

import (
	"context"
	"time"
)

type RateStore interface {
	// Update atomically rewrites the stored timestamp list for
	// (userID, class): fn receives the current window and returns the list to
	// persist. The entry expires after ttl so idle users leave no state behind.
	Update(ctx context.Context, userID int64, class ActionClass, ttl time.Duration, fn func(timestamps []int64) []int64) error
}
