package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/okorolenko/substack-digest-bot/internal/analytics"
	"github.com/okorolenko/substack-digest-bot/internal/auth"
	"github.com/okorolenko/substack-digest-bot/internal/contextkeys"
	"github.com/okorolenko/substack-digest-bot/internal/digest"
	"github.com/okorolenko/substack-digest-bot/internal/entitlement"
	"github.com/okorolenko/substack-digest-bot/internal/feeds"
	"github.com/okorolenko/substack-digest-bot/internal/messages"
	"github.com/okorolenko/substack-digest-bot/internal/ratelimit"
	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/types"
)

type Handlers struct {
	accounts     types.AccountStore
	feeds        *feeds.Service
	entitlements *entitlement.Service
	hierarchy    *auth.Hierarchy
	guard        *auth.Guard
	limiter      *ratelimit.Limiter
	builder      *digest.Builder
	analytics    *analytics.Recorder
	tiers        tiers.Table

	checkoutBaseURL string
}

func NewHandlers(
	accounts types.AccountStore,
	feedSvc *feeds.Service,
	entitlements *entitlement.Service,
	hierarchy *auth.Hierarchy,
	guard *auth.Guard,
	limiter *ratelimit.Limiter,
	builder *digest.Builder,
	rec *analytics.Recorder,
	table tiers.Table,
	checkoutBaseURL string,
) *Handlers {
	return &Handlers{
		accounts:        accounts,
		feeds:           feedSvc,
		entitlements:    entitlements,
		hierarchy:       hierarchy,
		guard:           guard,
		limiter:         limiter,
		builder:         builder,
		analytics:       rec,
		tiers:           table,
		checkoutBaseURL: checkoutBaseURL,
	}
}

func (h *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID, ok := contextkeys.GetUserID(ctx)
	if !ok {
		return
	}
	chatID, _ := contextkeys.GetChatID(ctx)
	level, _ := contextkeys.GetLevel(ctx)

	fields := strings.Fields(strings.TrimSpace(update.Message.Text))
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		h.handleStart(ctx, b, chatID)
	case "/help":
		h.handleHelp(ctx, b, chatID)
	case "/feedlist":
		h.handleFeedList(ctx, b, chatID, userID)
	case "/addfeed":
		h.handleAddFeed(ctx, b, chatID, userID, level, args)
	case "/removefeed":
		h.handleRemoveFeed(ctx, b, chatID, userID, args)
	case "/digest":
		h.handleDigest(ctx, b, chatID, userID)
	case "/status":
		h.handleStatus(ctx, b, chatID, userID, level)
	case "/upgrade":
		h.handleUpgrade(ctx, b, chatID, userID, level)
	case "/settime":
		h.handleSetTime(ctx, b, chatID, userID, args)
	case "/addadmin":
		h.handleAddAdmin(ctx, b, chatID, level, args)
	case "/removeadmin":
		h.handleRemoveAdmin(ctx, b, chatID, level, args)
	case "/admins":
		h.handleListAdmins(ctx, b, chatID, level)
	case "/block":
		h.handleBlock(ctx, b, chatID, level, args)
	case "/unblock":
		h.handleUnblock(ctx, b, chatID, level, args)
	case "/grant":
		h.handleGrant(ctx, b, chatID, level, args)
	case "/stats":
		h.handleStats(ctx, b, chatID, level)
	default:
		h.reply(ctx, b, chatID, messages.ErrorUnknownCommand())
	}
}

func (h *Handlers) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		log.Printf("handlers: send to chat %d: %v", chatID, err)
	}
}

// Notify implements the lifecycle notification sink used by the payment
// webhook and the grant command.
type BotNotifier struct {
	b        *bot.Bot
	accounts types.AccountStore
}

func NewBotNotifier(b *bot.Bot, accounts types.AccountStore) *BotNotifier {
	return &BotNotifier{b: b, accounts: accounts}
}

func (n *BotNotifier) Notify(ctx context.Context, userID int64, text string) {
	acct, err := n.accounts.GetAccount(ctx, userID)
	if err != nil {
		log.Printf("notify: no account for user %d: %v", userID, err)
		return
	}
	_, err = n.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    acct.ChatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		log.Printf("notify: send to user %d: %v", userID, err)
	}
}

// parseHHMM validates a 24-hour "HH:MM" digest time.
func parseHHMM(s string) (string, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format("15:04"), true
}
