package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/go-telegram/bot"

	"github.com/okorolenko/substack-digest-bot/internal/auth"
	"github.com/okorolenko/substack-digest-bot/internal/digest"
	"github.com/okorolenko/substack-digest-bot/internal/feeds"
	"github.com/okorolenko/substack-digest-bot/internal/messages"
	"github.com/okorolenko/substack-digest-bot/internal/ratelimit"
	"github.com/okorolenko/substack-digest-bot/types"
)

func (h *Handlers) handleStart(ctx context.Context, b *bot.Bot, chatID int64) {
	h.reply(ctx, b, chatID, messages.StartWelcome(h.tiers.Free()))
}

func (h *Handlers) handleHelp(ctx context.Context, b *bot.Bot, chatID int64) {
	h.reply(ctx, b, chatID, messages.Help())
}

func (h *Handlers) handleFeedList(ctx context.Context, b *bot.Bot, chatID, userID int64) {
	list, err := h.feeds.List(ctx, userID)
	if err != nil {
		log.Printf("handlers: feed list for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.FeedList(list))
}

func (h *Handlers) handleAddFeed(ctx context.Context, b *bot.Bot, chatID, userID int64, level auth.Level, args []string) {
	if len(args) != 1 {
		h.reply(ctx, b, chatID, messages.AddFeedUsage())
		return
	}
	if !h.admit(ctx, b, chatID, userID, types.ActionQuotaMutation) {
		return
	}

	added, err := h.feeds.Add(ctx, userID, args[0])
	if err != nil {
		h.reply(ctx, b, chatID, addFeedErrorText(err, level))
		return
	}

	limits, err := h.entitlements.TierLimits(ctx, userID)
	if err != nil {
		log.Printf("handlers: tier limits for user %d: %v", userID, err)
	}
	list, _ := h.feeds.List(ctx, userID)
	h.reply(ctx, b, chatID, messages.FeedAdded(added, len(list), limits.MaxFeeds))
}

func addFeedErrorText(err error, level auth.Level) string {
	var vErr *feeds.ValidationError
	var qErr *feeds.QuotaError
	switch {
	case errors.Is(err, feeds.ErrAlreadyAdded):
		return messages.FeedAlreadyAdded()
	case errors.As(err, &vErr):
		return messages.FeedInvalid(vErr.Reason)
	case errors.As(err, &qErr):
		upsell := qErr.Tier == types.TierFree && !level.Privileged()
		return messages.FeedQuotaReached(qErr.Limit, qErr.Tier, upsell)
	default:
		log.Printf("handlers: add feed: %v", err)
		return messages.ErrorDefault()
	}
}

func (h *Handlers) handleRemoveFeed(ctx context.Context, b *bot.Bot, chatID, userID int64, args []string) {
	if len(args) != 1 {
		h.reply(ctx, b, chatID, messages.RemoveFeedUsage())
		return
	}
	if !h.admit(ctx, b, chatID, userID, types.ActionQuotaMutation) {
		return
	}

	removed, err := h.feeds.Remove(ctx, userID, args[0])
	switch {
	case err == nil:
		h.reply(ctx, b, chatID, messages.FeedRemoved(removed))
	case errors.Is(err, feeds.ErrFeedNotFound), errors.Is(err, feeds.ErrBadIndex):
		h.reply(ctx, b, chatID, messages.FeedNotFound())
	default:
		log.Printf("handlers: remove feed for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
	}
}

func (h *Handlers) handleDigest(ctx context.Context, b *bot.Bot, chatID, userID int64) {
	if !h.admit(ctx, b, chatID, userID, types.ActionExpensiveGeneration) {
		return
	}

	acct, err := h.accounts.GetAccount(ctx, userID)
	if err != nil {
		log.Printf("handlers: account for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}

	text, err := h.builder.Build(ctx, acct)
	switch {
	case errors.Is(err, digest.ErrNoFeeds):
		h.reply(ctx, b, chatID, messages.DigestNoFeeds())
	case errors.Is(err, digest.ErrNoEntries):
		h.reply(ctx, b, chatID, messages.DigestEmpty())
	case err != nil:
		log.Printf("handlers: digest for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
	default:
		h.reply(ctx, b, chatID, text)
	}
}

func (h *Handlers) handleStatus(ctx context.Context, b *bot.Bot, chatID, userID int64, level auth.Level) {
	acct, err := h.accounts.GetAccount(ctx, userID)
	if err != nil {
		log.Printf("handlers: account for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	def, err := h.entitlements.TierLimits(ctx, userID)
	if err != nil {
		log.Printf("handlers: tier limits for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.Status(acct, def, level.Privileged()))
}

func (h *Handlers) handleUpgrade(ctx context.Context, b *bot.Bot, chatID, userID int64, level auth.Level) {
	if level.Privileged() {
		h.reply(ctx, b, chatID, messages.AlreadyPro())
		return
	}
	def, err := h.entitlements.TierLimits(ctx, userID)
	if err != nil {
		log.Printf("handlers: tier limits for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	if def.PriceMonthly > 0 {
		h.reply(ctx, b, chatID, messages.AlreadyPro())
		return
	}

	checkout := fmt.Sprintf("%s?client_reference_id=%d&tier=%s",
		h.checkoutBaseURL, userID, url.QueryEscape(h.tiers.Paid().Name))
	h.reply(ctx, b, chatID, messages.UpgradeOffer(h.tiers.Paids(), checkout))
}

func (h *Handlers) handleSetTime(ctx context.Context, b *bot.Bot, chatID, userID int64, args []string) {
	if len(args) != 1 {
		h.reply(ctx, b, chatID, messages.TimeSetUsage())
		return
	}
	hhmm, ok := parseHHMM(args[0])
	if !ok {
		h.reply(ctx, b, chatID, messages.TimeSetUsage())
		return
	}

	_, err := h.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		a.DigestTime = hhmm
		return nil
	})
	if err != nil {
		log.Printf("handlers: set time for user %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.TimeSet(hhmm))
}

// admit runs one class-specific rate-limit check, replying with the denial
// when the budget is exhausted. The general-traffic check already ran in the
// gate middleware.
func (h *Handlers) admit(ctx context.Context, b *bot.Bot, chatID, userID int64, class types.ActionClass) bool {
	err := h.limiter.Admit(ctx, userID, class)
	if err == nil {
		return true
	}
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		h.reply(ctx, b, chatID, messages.RateLimited(denied.RetryAfter))
		return false
	}
	log.Printf("handlers: rate limit check for user %d: %v", userID, err)
	h.reply(ctx, b, chatID, messages.ErrorDefault())
	return false
}
