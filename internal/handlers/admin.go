package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"

	"github.com/okorolenko/substack-digest-bot/internal/auth"
	"github.com/okorolenko/substack-digest-bot/internal/messages"
)

func (h *Handlers) handleAddAdmin(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level, args []string) {
	if level != auth.LevelOwner {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}
	if len(args) != 1 {
		h.reply(ctx, b, chatID, messages.AdminUsage("/addadmin"))
		return
	}

	display, err := h.hierarchy.AddAdmin(ctx, args[0])
	switch {
	case err == nil:
		h.reply(ctx, b, chatID, messages.AdminAdded(display))
	case errors.Is(err, auth.ErrAlreadyAdmin):
		h.reply(ctx, b, chatID, display+" is already an admin.")
	case errors.Is(err, auth.ErrOwnerAsAdmin):
		h.reply(ctx, b, chatID, "The owner does not need admin status.")
	default:
		h.reply(ctx, b, chatID, identifierErrorText(err))
	}
}

func (h *Handlers) handleRemoveAdmin(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level, args []string) {
	if level != auth.LevelOwner {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}
	if len(args) != 1 {
		h.reply(ctx, b, chatID, messages.AdminUsage("/removeadmin"))
		return
	}

	display, err := h.hierarchy.RemoveAdmin(ctx, args[0])
	switch {
	case err == nil:
		h.reply(ctx, b, chatID, messages.AdminRemoved(display))
	case errors.Is(err, auth.ErrNotAdmin):
		h.reply(ctx, b, chatID, display+" is not an admin.")
	default:
		h.reply(ctx, b, chatID, identifierErrorText(err))
	}
}

func (h *Handlers) handleListAdmins(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level) {
	if level != auth.LevelOwner {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}
	entries, err := h.hierarchy.ListAdmins(ctx)
	if err != nil {
		log.Printf("handlers: list admins: %v", err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.AdminList(entries))
}

func (h *Handlers) handleBlock(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level, args []string) {
	if !level.Privileged() {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}
	if len(args) < 1 {
		h.reply(ctx, b, chatID, messages.AdminUsage("/block"))
		return
	}

	userID, display, err := h.hierarchy.ResolveIdentifier(ctx, args[0])
	if err != nil {
		h.reply(ctx, b, chatID, identifierErrorText(err))
		return
	}

	// A block must never silence the owner or an admin.
	targetLevel, err := h.hierarchy.LevelOf(ctx, userID)
	if err != nil {
		log.Printf("handlers: level of %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	if targetLevel.Privileged() {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}

	reason := strings.TrimSpace(strings.Join(args[1:], " "))
	if err := h.guard.Block(ctx, userID, reason); err != nil {
		log.Printf("handlers: block %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.UserBlocked(display))
}

func (h *Handlers) handleUnblock(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level, args []string) {
	if !level.Privileged() {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}
	if len(args) != 1 {
		h.reply(ctx, b, chatID, messages.AdminUsage("/unblock"))
		return
	}

	userID, display, err := h.hierarchy.ResolveIdentifier(ctx, args[0])
	if err != nil {
		h.reply(ctx, b, chatID, identifierErrorText(err))
		return
	}
	if err := h.guard.Unblock(ctx, userID); err != nil {
		log.Printf("handlers: unblock %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.UserUnblocked(display))
}

func (h *Handlers) handleGrant(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level, args []string) {
	if !level.Privileged() {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}
	if len(args) != 2 {
		h.reply(ctx, b, chatID, messages.GrantUsage())
		return
	}

	userID, display, err := h.hierarchy.ResolveIdentifier(ctx, args[0])
	if err != nil {
		h.reply(ctx, b, chatID, identifierErrorText(err))
		return
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 || days > 3650 {
		h.reply(ctx, b, chatID, messages.GrantUsage())
		return
	}

	until, err := h.entitlements.Grant(ctx, userID, time.Duration(days)*24*time.Hour)
	if err != nil {
		log.Printf("handlers: grant to %d: %v", userID, err)
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.reply(ctx, b, chatID, messages.Granted(display, until))

	if acct, err := h.accounts.GetAccount(ctx, userID); err == nil && acct.ChatID != 0 {
		h.reply(ctx, b, acct.ChatID, messages.GrantReceived(until))
	}
}

func (h *Handlers) handleStats(ctx context.Context, b *bot.Bot, chatID int64, level auth.Level) {
	if level != auth.LevelOwner {
		h.reply(ctx, b, chatID, messages.Unauthorized())
		return
	}

	stats, err := h.analytics.Stats(ctx)
	if err != nil {
		// Reporting an error beats reporting zero users.
		log.Printf("handlers: stats: %v", err)
		h.reply(ctx, b, chatID, messages.StatsUnavailable())
		return
	}
	h.reply(ctx, b, chatID, messages.Stats(stats))
}

func identifierErrorText(err error) string {
	switch {
	case errors.Is(err, auth.ErrHandleNotFound):
		return "I haven't seen that handle yet. The user must talk to me at least once."
	case errors.Is(err, auth.ErrBadIdentifier):
		return "Give me a @handle or a numeric user id."
	default:
		log.Printf("handlers: resolve identifier: %v", err)
		return messages.ErrorDefault()
	}
}
