package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings is the full startup configuration. Components receive what they
// need through constructors; nothing reads the environment after Load.
type Settings struct {
	BotToken string

	WebhookSecret string
	WebhookAddr   string

	CheckoutBaseURL string
	OpenAIToken     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PostgresDSN string

	LookbackHours     int
	BillingPeriodDays int
	DigestWorkers     int
}

var ErrMissingBotToken = errors.New("config: BOT_TOKEN is required")

func Load(envFile string) (*Settings, error) {
	if envFile != "" {
		// Missing env file is fine; real deployments use the environment.
		_ = godotenv.Load(envFile)
	}

	s := &Settings{
		BotToken:          strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		WebhookSecret:     strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		WebhookAddr:       getEnv("WEBHOOK_ADDR", ":8080"),
		CheckoutBaseURL:   strings.TrimSpace(os.Getenv("CHECKOUT_BASE_URL")),
		OpenAIToken:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisPrefix:       getEnv("REDIS_PREFIX", "digest_bot"),
		PostgresDSN:       strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		LookbackHours:     getEnvInt("LOOKBACK_HOURS", 24),
		BillingPeriodDays: getEnvInt("BILLING_PERIOD_DAYS", 30),
		DigestWorkers:     getEnvInt("DIGEST_WORKERS", 3),
	}

	if s.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	return s, nil
}

func getEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
