package types

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

type Account struct {
	UserID          int64
	ChatID          int64
	Feeds           []string
	DigestTime      string // "HH:MM", UTC
	LastSentDate    string // "2006-01-02", empty if never sent
	SummaryFormat   string
	SummaryTemplate string
	Subscription    Subscription
	Security        SecurityState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Subscription struct {
	Tier            string
	CustomerRef     string
	SubscriptionRef string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

type SecurityState struct {
	Blocked        bool
	BlockReason    string
	FailedAttempts int
}

type Payment struct {
	UserID     int64
	Amount     int64 // minor currency units
	Currency   string
	PaymentRef string
	CreatedAt  time.Time
}

type AccountStore interface {
	// EnsureAccount creates the account with defaults on first interaction.
	EnsureAccount(ctx context.Context, userID, chatID int64) (*Account, error)
	GetAccount(ctx context.Context, userID int64) (*Account, error)

	// UpdateAccount runs fn on the current record while holding the account's
	// row lock, so concurrent read-modify-write cycles for the same identity
	// never interleave. The mutated record is persisted when fn returns nil.
	UpdateAccount(ctx context.Context, userID int64, fn func(*Account) error) (*Account, error)

	ListAccounts(ctx context.Context) ([]*Account, error)
	FindByCustomerRef(ctx context.Context, customerRef string) (*Account, error)
}

type PaymentStore interface {
	// RecordPayment appends a payment, returning inserted=false when the
	// payment reference was seen before.
	RecordPayment(ctx context.Context, p Payment) (inserted bool, err error)

	// MarkEventSeen records a webhook event reference, returning first=false
	// on redelivery.
	MarkEventSeen(ctx context.Context, eventRef, eventType string) (first bool, err error)
}
