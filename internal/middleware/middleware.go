package middleware

import (
	"context"
	"errors"
	"log"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/okorolenko/substack-digest-bot/internal/auth"
	"github.com/okorolenko/substack-digest-bot/internal/contextkeys"
	"github.com/okorolenko/substack-digest-bot/internal/messages"
	"github.com/okorolenko/substack-digest-bot/internal/ratelimit"
	"github.com/okorolenko/substack-digest-bot/types"
)

type Middlewares struct {
	accounts  types.AccountStore
	directory types.DirectoryStore
	hierarchy *auth.Hierarchy
	guard     *auth.Guard
	limiter   *ratelimit.Limiter
}

func NewMiddlewares(accounts types.AccountStore, directory types.DirectoryStore, hierarchy *auth.Hierarchy, guard *auth.Guard, limiter *ratelimit.Limiter) *Middlewares {
	return &Middlewares{
		accounts:  accounts,
		directory: directory,
		hierarchy: hierarchy,
		guard:     guard,
		limiter:   limiter,
	}
}

// IdentifyMiddleware resolves who is talking: ensures the account row exists,
// refreshes the handle directory, claims ownership on the very first
// interaction if nobody owns the bot yet, and puts identity plus privilege
// level into the context for everything downstream.
func (m *Middlewares) IdentifyMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		var from *models.User
		var chatID int64

		switch {
		case update.Message != nil && update.Message.From != nil:
			from = update.Message.From
			chatID = update.Message.Chat.ID
		case update.CallbackQuery != nil:
			from = &update.CallbackQuery.From
			chatID = getChatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
		default:
			return
		}
		if from == nil || from.ID == 0 || chatID == 0 {
			return
		}

		if _, err := m.accounts.EnsureAccount(ctx, from.ID, chatID); err != nil {
			log.Printf("middleware: ensure account for user %d: %v", from.ID, err)
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    chatID,
				Text:      messages.ErrorDefault(),
				ParseMode: messages.ParseModeHTML,
			})
			return
		}

		if from.Username != "" {
			if err := m.directory.RegisterUser(ctx, types.DirectoryEntry{
				UserID:    from.ID,
				Handle:    from.Username,
				FirstName: from.FirstName,
			}); err != nil {
				log.Printf("middleware: directory update for user %d: %v", from.ID, err)
			}
		}

		m.maybeClaimOwner(ctx, from.ID)

		level, err := m.hierarchy.LevelOf(ctx, from.ID)
		if err != nil {
			log.Printf("middleware: level lookup for user %d: %v", from.ID, err)
			level = auth.LevelUser
		}

		ctx = contextkeys.WithUserID(ctx, from.ID)
		ctx = contextkeys.WithChatID(ctx, chatID)
		ctx = contextkeys.WithHandle(ctx, from.Username)
		ctx = contextkeys.WithLevel(ctx, level)
		next(ctx, b, update)
	}
}

// maybeClaimOwner makes the first person to ever talk to the bot its owner.
// The store's conditional write decides races; losing the race is not an
// error.
func (m *Middlewares) maybeClaimOwner(ctx context.Context, userID int64) {
	rec, err := m.hierarchy.Privileges(ctx)
	if err != nil {
		log.Printf("middleware: privilege lookup: %v", err)
		return
	}
	if rec.OwnerID != nil {
		return
	}
	claimed, err := m.hierarchy.ClaimOwner(ctx, userID)
	if err != nil {
		log.Printf("middleware: owner claim by user %d: %v", userID, err)
		return
	}
	if claimed {
		log.Printf("middleware: user %d claimed ownership", userID)
	}
}

// GateMiddleware enforces the access checks every interaction passes through:
// the block check first, then the general-traffic rate limit. A blocked user
// gets the stored reason and never consumes rate-limit budget.
func (m *Middlewares) GateMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		userID, ok := contextkeys.GetUserID(ctx)
		if !ok {
			return
		}
		chatID, _ := contextkeys.GetChatID(ctx)

		denial, err := m.CheckAccess(ctx, userID)
		if err != nil {
			log.Printf("middleware: access check for user %d: %v", userID, err)
			denial = messages.ErrorDefault()
		}
		if denial != "" {
			b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    chatID,
				Text:      denial,
				ParseMode: messages.ParseModeHTML,
			})
			return
		}
		next(ctx, b, update)
	}
}

// CheckAccess returns a non-empty denial message when the user may not
// proceed. Order matters: blocked beats rate-limited.
func (m *Middlewares) CheckAccess(ctx context.Context, userID int64) (string, error) {
	blocked, reason, err := m.guard.IsBlocked(ctx, userID)
	if err != nil {
		return "", err
	}
	if blocked {
		return messages.Blocked(reason), nil
	}

	err = m.limiter.Admit(ctx, userID, types.ActionGeneral)
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		return messages.RateLimited(denied.RetryAfter), nil
	}
	if err != nil {
		return "", err
	}
	return "", nil
}

func getChatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}
