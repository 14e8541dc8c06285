package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/okorolenko/substack-digest-bot/types"
)

// PostgresStore is the durable state store: accounts, subscriptions, feeds,
// the privilege record, the identity directory, payments and the event log.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "digest_bot"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "digest_bot"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// -----------------------------
// AccountStore
// -----------------------------

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID, chatID int64) (*types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
INSERT INTO accounts (user_id, chat_id)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET
  chat_id = EXCLUDED.chat_id,
  updated_at = NOW()
WHERE EXCLUDED.chat_id <> 0
`, userID, chatID)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO subscriptions (user_id) VALUES ($1)
ON CONFLICT (user_id) DO NOTHING
`, userID)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID int64) (*types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	acct, err := s.loadAccount(ctx, s.pool, userID, false)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) loadAccount(ctx context.Context, q queryer, userID int64, forUpdate bool) (*types.Account, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE"
	}

	var a types.Account
	err := q.QueryRow(ctx, `
SELECT user_id, chat_id, digest_time, last_sent_date, summary_format, summary_template,
       blocked, block_reason, failed_attempts, created_at, updated_at
FROM accounts
WHERE user_id = $1`+lock, userID).Scan(
		&a.UserID, &a.ChatID, &a.DigestTime, &a.LastSentDate, &a.SummaryFormat, &a.SummaryTemplate,
		&a.Security.Blocked, &a.Security.BlockReason, &a.Security.FailedAttempts, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	err = q.QueryRow(ctx, `
SELECT tier, customer_ref, subscription_ref, expires_at, created_at
FROM subscriptions
WHERE user_id = $1
`, userID).Scan(&a.Subscription.Tier, &a.Subscription.CustomerRef, &a.Subscription.SubscriptionRef,
		&a.Subscription.ExpiresAt, &a.Subscription.CreatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		a.Subscription = types.Subscription{Tier: types.TierFree, CreatedAt: a.CreatedAt}
	}

	rows, err := q.Query(ctx, `
SELECT url FROM feeds WHERE user_id = $1 ORDER BY position
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		a.Feeds = append(a.Feeds, url)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, userID int64, fn func(*types.Account) error) (*types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
`, userID)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO subscriptions (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
`, userID)
	if err != nil {
		return nil, err
	}

	acct, err := s.loadAccount(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}

	feedsBefore := append([]string(nil), acct.Feeds...)

	if err := fn(acct); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
UPDATE accounts SET
  chat_id = $2,
  digest_time = $3,
  last_sent_date = $4,
  summary_format = $5,
  summary_template = $6,
  blocked = $7,
  block_reason = $8,
  failed_attempts = $9,
  updated_at = NOW()
WHERE user_id = $1
`, userID, acct.ChatID, acct.DigestTime, acct.LastSentDate, acct.SummaryFormat, acct.SummaryTemplate,
		acct.Security.Blocked, acct.Security.BlockReason, acct.Security.FailedAttempts)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
UPDATE subscriptions SET
  tier = $2,
  customer_ref = $3,
  subscription_ref = $4,
  expires_at = $5,
  updated_at = NOW()
WHERE user_id = $1
`, userID, acct.Subscription.Tier, acct.Subscription.CustomerRef, acct.Subscription.SubscriptionRef, acct.Subscription.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if !equalStrings(feedsBefore, acct.Feeds) {
		if _, err := tx.Exec(ctx, `DELETE FROM feeds WHERE user_id = $1`, userID); err != nil {
			return nil, err
		}
		for i, url := range acct.Feeds {
			if _, err := tx.Exec(ctx, `
INSERT INTO feeds (user_id, position, url) VALUES ($1, $2, $3)
`, userID, i, url); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acct, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*types.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := s.loadAccount(ctx, s.pool, id, false)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *PostgresStore) FindByCustomerRef(ctx context.Context, customerRef string) (*types.Account, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, types.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var userID int64
	err := s.pool.QueryRow(ctx, `
SELECT user_id FROM subscriptions WHERE customer_ref = $1
`, customerRef).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return s.loadAccount(ctx, s.pool, userID, false)
}

// -----------------------------
// ConfigStore
// -----------------------------

func (s *PostgresStore) GetPrivileges(ctx context.Context) (*types.PrivilegeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec types.PrivilegeRecord
	err := s.pool.QueryRow(ctx, `
SELECT owner_id, admins FROM bot_config WHERE id = 1
`).Scan(&rec.OwnerID, &rec.Admins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &types.PrivilegeRecord{}, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ClaimOwner(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
UPDATE bot_config SET owner_id = $1, updated_at = NOW()
WHERE id = 1 AND owner_id IS NULL
`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AddAdmin(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
UPDATE bot_config SET admins = array_append(admins, $1), updated_at = NOW()
WHERE id = 1 AND NOT ($1 = ANY(admins))
`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RemoveAdmin(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
UPDATE bot_config SET admins = array_remove(admins, $1), updated_at = NOW()
WHERE id = 1 AND $1 = ANY(admins)
`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// -----------------------------
// DirectoryStore
// -----------------------------

func (s *PostgresStore) RegisterUser(ctx context.Context, entry types.DirectoryEntry) error {
	handle := strings.TrimPrefix(strings.TrimSpace(entry.Handle), "@")
	if handle == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
INSERT INTO directory (handle_lower, user_id, handle, first_name, last_seen)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (handle_lower) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  handle = EXCLUDED.handle,
  first_name = EXCLUDED.first_name,
  last_seen = NOW()
`, strings.ToLower(handle), entry.UserID, handle, strings.TrimSpace(entry.FirstName))
	return err
}

func (s *PostgresStore) LookupByHandle(ctx context.Context, handle string) (*types.DirectoryEntry, error) {
	handle = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var e types.DirectoryEntry
	err := s.pool.QueryRow(ctx, `
SELECT user_id, handle, first_name, last_seen FROM directory WHERE handle_lower = $1
`, handle).Scan(&e.UserID, &e.Handle, &e.FirstName, &e.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) LookupByUserID(ctx context.Context, userID int64) (*types.DirectoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var e types.DirectoryEntry
	err := s.pool.QueryRow(ctx, `
SELECT user_id, handle, first_name, last_seen FROM directory
WHERE user_id = $1
ORDER BY last_seen DESC
LIMIT 1
`, userID).Scan(&e.UserID, &e.Handle, &e.FirstName, &e.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListKnownUsers(ctx context.Context) ([]*types.DirectoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT user_id, handle, first_name, last_seen FROM directory ORDER BY last_seen DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*types.DirectoryEntry{}
	for rows.Next() {
		var e types.DirectoryEntry
		if err := rows.Scan(&e.UserID, &e.Handle, &e.FirstName, &e.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// -----------------------------
// PaymentStore
// -----------------------------

func (s *PostgresStore) RecordPayment(ctx context.Context, p types.Payment) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
INSERT INTO payments (user_id, amount, currency, payment_ref)
VALUES ($1, $2, $3, $4)
ON CONFLICT (payment_ref) DO NOTHING
`, p.UserID, p.Amount, strings.TrimSpace(p.Currency), strings.TrimSpace(p.PaymentRef))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkEventSeen(ctx context.Context, eventRef, eventType string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
INSERT INTO webhook_events (event_ref, event_type)
VALUES ($1, $2)
ON CONFLICT (event_ref) DO NOTHING
`, strings.TrimSpace(eventRef), strings.TrimSpace(eventType))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// -----------------------------
// EventStore
// -----------------------------

func (s *PostgresStore) AppendEvent(ctx context.Context, userID int64, kind, detail string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
INSERT INTO events (user_id, kind, detail) VALUES ($1, $2, $3)
`, userID, strings.TrimSpace(kind), strings.TrimSpace(detail))
	return err
}

func (s *PostgresStore) Stats(ctx context.Context) (*types.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var st types.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM accounts),
  (SELECT COUNT(*) FROM feeds),
  (SELECT COUNT(*) FROM subscriptions WHERE tier <> 'free'),
  (SELECT COUNT(*) FROM accounts WHERE blocked),
  (SELECT COALESCE(cardinality(admins), 0) FROM bot_config WHERE id = 1),
  (SELECT COUNT(*) FROM payments)
`).Scan(&st.TotalUsers, &st.TotalFeeds, &st.ProUsers, &st.BlockedUsers, &st.AdminCount, &st.PaymentCount)
	if err != nil {
		return nil, err
	}
	st.FreeUsers = st.TotalUsers - st.ProUsers
	return &st, nil
}
