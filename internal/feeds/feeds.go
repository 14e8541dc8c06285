package feeds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/types"
)

var (
	ErrAlreadyAdded = errors.New("feeds: feed already added")
	ErrFeedNotFound = errors.New("feeds: feed not found")
	ErrBadIndex     = errors.New("feeds: invalid index")
)

// ValidationError rejects a malformed or disallowed feed URL.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "feeds: " + e.Reason }

// QuotaError rejects an add that would exceed the effective tier's quota.
type QuotaError struct {
	Limit int
	Tier  string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("feeds: limit reached (%d for %s tier)", e.Limit, e.Tier)
}

// TierResolver yields the effective tier definition, applying lazy expiry.
type TierResolver interface {
	TierLimits(ctx context.Context, userID int64) (tiers.Definition, error)
}

type Service struct {
	accounts types.AccountStore
	resolver TierResolver
}

func NewService(accounts types.AccountStore, resolver TierResolver) *Service {
	return &Service{accounts: accounts, resolver: resolver}
}

func (s *Service) List(ctx context.Context, userID int64) ([]string, error) {
	acct, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	return acct.Feeds, nil
}

// Add validates and normalizes the URL, then appends it under the account
// row lock so the quota invariant holds at write time. Returns the
// normalized URL on success.
func (s *Service) Add(ctx context.Context, userID int64, rawURL string) (string, error) {
	normalized, err := ValidateURL(rawURL)
	if err != nil {
		return "", err
	}

	limits, err := s.resolver.TierLimits(ctx, userID)
	if err != nil {
		return "", err
	}

	_, err = s.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		for _, f := range a.Feeds {
			if f == normalized {
				return ErrAlreadyAdded
			}
		}
		if len(a.Feeds) >= limits.MaxFeeds {
			return &QuotaError{Limit: limits.MaxFeeds, Tier: limits.Name}
		}
		a.Feeds = append(a.Feeds, normalized)
		return nil
	})
	if err != nil {
		return "", err
	}
	return normalized, nil
}

// Remove accepts either a feed URL or a 1-based index from the list view.
func (s *Service) Remove(ctx context.Context, userID int64, urlOrIndex string) (string, error) {
	urlOrIndex = strings.TrimSpace(urlOrIndex)

	var removed string
	_, err := s.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		if idx, err := strconv.Atoi(urlOrIndex); err == nil {
			if idx < 1 || idx > len(a.Feeds) {
				return ErrBadIndex
			}
			removed = a.Feeds[idx-1]
			a.Feeds = append(a.Feeds[:idx-1], a.Feeds[idx:]...)
			return nil
		}
		for i, f := range a.Feeds {
			if f == urlOrIndex {
				removed = f
				a.Feeds = append(a.Feeds[:i], a.Feeds[i+1:]...)
				return nil
			}
		}
		return ErrFeedNotFound
	})
	if err != nil {
		return "", err
	}
	return removed, nil
}

// Hosts that get https forced on them; plain-http newsletter links are a
// copy-paste artifact, not a real preference.
var httpsOnlyHosts = []string{"substack.com", "medium.com", "ghost.io"}

// ValidateURL checks that the URL is a plausible public feed address and
// normalizes it: substack hosts get the /feed suffix, known newsletter hosts
// are forced to https.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Reason: "invalid URL format"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Reason: "invalid URL format"}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &ValidationError{Reason: "invalid URL format"}
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "", &ValidationError{Reason: "URL not allowed for security reasons"}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			return "", &ValidationError{Reason: "URL not allowed for security reasons"}
		}
	}

	for _, suffix := range httpsOnlyHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			u.Scheme = "https"
			break
		}
	}

	if host == "substack.com" || strings.HasSuffix(host, ".substack.com") {
		if !strings.HasSuffix(u.Path, "/feed") {
			u.Path = strings.TrimRight(u.Path, "/") + "/feed"
		}
	}

	return u.String(), nil
}
