package digest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/okorolenko/substack-digest-bot/internal/messages"
	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/pkg/openai"
	"github.com/okorolenko/substack-digest-bot/pkg/rss"
	"github.com/okorolenko/substack-digest-bot/types"
)

var (
	ErrNoFeeds   = errors.New("digest: account tracks no feeds")
	ErrNoEntries = errors.New("digest: no new entries")
)

// Telegram caps messages at 4096 characters; leave headroom for the closing
// tag of a truncated entry.
const maxMessageRunes = 4000

const maxEntries = 15

// Fetcher downloads and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]rss.Item, error)
}

// TierResolver yields the effective tier, deciding whether AI summaries run.
type TierResolver interface {
	TierLimits(ctx context.Context, userID int64) (tiers.Definition, error)
}

// Summarizer produces a structured summary for one article.
type Summarizer interface {
	SCQRSummary(ctx context.Context, title, text string) (*openai.SCQR, error)
}

type Builder struct {
	fetcher      Fetcher
	resolver     TierResolver
	summarizer   Summarizer
	lookback     time.Duration
	maxSummaries int
	now          func() time.Time
}

func NewBuilder(fetcher Fetcher, resolver TierResolver, summarizer Summarizer, lookback time.Duration) *Builder {
	return &Builder{
		fetcher:      fetcher,
		resolver:     resolver,
		summarizer:   summarizer,
		lookback:     lookback,
		maxSummaries: 10,
		now:          time.Now,
	}
}

// Build assembles one HTML digest for the account: everything published in
// its feeds within the lookback window, newest first. A feed that fails to
// fetch is skipped, not fatal. AI summaries run only when the effective tier
// enables them, capped at the first maxSummaries entries.
func (b *Builder) Build(ctx context.Context, acct *types.Account) (string, error) {
	if len(acct.Feeds) == 0 {
		return "", ErrNoFeeds
	}

	cutoff := b.now().UTC().Add(-b.lookback)
	var entries []rss.Item
	for _, feed := range acct.Feeds {
		items, err := b.fetcher.Fetch(ctx, feed)
		if err != nil {
			log.Printf("digest: skipping feed %s for user %d: %v", feed, acct.UserID, err)
			continue
		}
		for _, it := range items {
			if it.Published.IsZero() || it.Published.Before(cutoff) {
				continue
			}
			entries = append(entries, it)
		}
	}
	if len(entries) == 0 {
		return "", ErrNoEntries
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Published.After(entries[j].Published)
	})
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}

	def, err := b.resolver.TierLimits(ctx, acct.UserID)
	if err != nil {
		return "", err
	}

	var summaries map[int]*openai.SCQR
	if b.summarizer != nil && def.AISummaries && acct.SummaryFormat != types.SummaryFormatCompact {
		summaries = b.summarize(ctx, entries)
	}

	return b.render(acct, entries, summaries), nil
}

func (b *Builder) summarize(ctx context.Context, entries []rss.Item) map[int]*openai.SCQR {
	out := make(map[int]*openai.SCQR)
	for i, e := range entries {
		if i >= b.maxSummaries {
			break
		}
		text := truncate(stripTags(e.Summary), 2000)
		if text == "" {
			continue
		}
		s, err := b.summarizer.SCQRSummary(ctx, e.Title, text)
		if err != nil {
			log.Printf("digest: summary failed for %q: %v", e.Title, err)
			continue
		}
		out[i] = s
	}
	return out
}

func (b *Builder) render(acct *types.Account, entries []rss.Item, summaries map[int]*openai.SCQR) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📰 <b>Your digest — %s</b>\n", b.now().UTC().Format("2 Jan 2006"))

	for i, e := range entries {
		block := b.renderEntry(acct, e, summaries[i])
		if sb.Len()+len(block) > maxMessageRunes {
			break
		}
		sb.WriteString("\n")
		sb.WriteString(block)
	}
	return sb.String()
}

func (b *Builder) renderEntry(acct *types.Account, e rss.Item, s *openai.SCQR) string {
	if acct.SummaryTemplate != "" {
		return renderTemplate(acct.SummaryTemplate, e)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n", messages.Escape(e.Title))
	if e.FeedTitle != "" {
		fmt.Fprintf(&sb, "<i>%s</i>\n", messages.Escape(e.FeedTitle))
	}

	switch {
	case s != nil && acct.SummaryFormat != types.SummaryFormatCompact:
		fmt.Fprintf(&sb, "• <b>Situation:</b> %s\n", messages.Escape(s.Situation))
		fmt.Fprintf(&sb, "• <b>Complication:</b> %s\n", messages.Escape(s.Complication))
		fmt.Fprintf(&sb, "• <b>Question:</b> %s\n", messages.Escape(s.Question))
		fmt.Fprintf(&sb, "• <b>Resolution:</b> %s\n", messages.Escape(s.Resolution))
	case acct.SummaryFormat != types.SummaryFormatCompact:
		if snippet := truncate(stripTags(e.Summary), 280); snippet != "" {
			sb.WriteString(messages.Escape(snippet) + "\n")
		}
	}

	if e.Link != "" {
		fmt.Fprintf(&sb, "🔗 %s\n", messages.Escape(e.Link))
	}
	return sb.String()
}

// renderTemplate substitutes {title}, {link}, {feed} and {summary}
// placeholders in a user-supplied per-entry template.
func renderTemplate(tpl string, e rss.Item) string {
	replacer := strings.NewReplacer(
		"{title}", messages.Escape(e.Title),
		"{link}", messages.Escape(e.Link),
		"{feed}", messages.Escape(e.FeedTitle),
		"{summary}", messages.Escape(truncate(stripTags(e.Summary), 280)),
	)
	return replacer.Replace(tpl) + "\n"
}

// stripTags drops HTML markup from feed descriptions, which regularly arrive
// as full HTML fragments.
func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
