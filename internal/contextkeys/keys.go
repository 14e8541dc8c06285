package contextkeys

import (
	"context"

	"github.com/okorolenko/substack-digest-bot/internal/auth"
)

type userIDKey struct{}
type chatIDKey struct{}
type handleKey struct{}
type levelKey struct{}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func GetUserID(ctx context.Context) (int64, bool) {
	v := ctx.Value(userIDKey{})
	if v == nil {
		return 0, false
	}
	return v.(int64), true
}

func WithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

func GetChatID(ctx context.Context) (int64, bool) {
	v := ctx.Value(chatIDKey{})
	if v == nil {
		return 0, false
	}
	return v.(int64), true
}

func WithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleKey{}, handle)
}

func GetHandle(ctx context.Context) (string, bool) {
	v := ctx.Value(handleKey{})
	if v == nil {
		return "", false
	}
	return v.(string), true
}

func WithLevel(ctx context.Context, level auth.Level) context.Context {
	return context.WithValue(ctx, levelKey{}, level)
}

func GetLevel(ctx context.Context) (auth.Level, bool) {
	v := ctx.Value(levelKey{})
	if v == nil {
		return auth.LevelUser, false
	}
	return v.(auth.Level), true
}
