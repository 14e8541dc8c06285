package types

import "context"

// Stats is the owner-facing aggregate view. A store read failure is reported
// as an error, never as a zero Stats.
type Stats struct {
	TotalUsers   int
	TotalFeeds   int
	ProUsers     int
	FreeUsers    int
	BlockedUsers int
	AdminCount   int
	PaymentCount int
}

type EventStore interface {
	// AppendEvent logs a lifecycle or payment event for reporting.
	AppendEvent(ctx context.Context, userID int64, kind, detail string) error
	Stats(ctx context.Context) (*Stats, error)
}
