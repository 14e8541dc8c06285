package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/okorolenko/substack-digest-bot/internal/analytics"
	"github.com/okorolenko/substack-digest-bot/internal/auth"
	"github.com/okorolenko/substack-digest-bot/internal/config"
	"github.com/okorolenko/substack-digest-bot/internal/digest"
	"github.com/okorolenko/substack-digest-bot/internal/entitlement"
	"github.com/okorolenko/substack-digest-bot/internal/feeds"
	"github.com/okorolenko/substack-digest-bot/internal/handlers"
	"github.com/okorolenko/substack-digest-bot/internal/middleware"
	"github.com/okorolenko/substack-digest-bot/internal/ratelimit"
	"github.com/okorolenko/substack-digest-bot/internal/scheduler"
	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/internal/webhook"
	"github.com/okorolenko/substack-digest-bot/pkg/openai"
	"github.com/okorolenko/substack-digest-bot/pkg/rss"
	"github.com/okorolenko/substack-digest-bot/store"
)

func main() {
	settings, err := config.Load("config.env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tierTable := tiers.Default()
	if err := tierTable.Validate(); err != nil {
		log.Fatalf("Invalid tier table: %v", err)
	}

	rdb, err := store.NewRedisClient(settings.RedisAddr, settings.RedisPassword, settings.RedisDB, settings.RedisPrefix)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	pgStore, err := store.NewPostgresStore(ctx, settings.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()

	rateStore := store.NewRedisRateStore(rdb)

	hierarchy := auth.NewHierarchy(pgStore, pgStore)
	guard := auth.NewGuard(pgStore)
	limiter := ratelimit.NewLimiter(rateStore, hierarchy, ratelimit.DefaultLimits())
	recorder := analytics.NewRecorder(pgStore)
	entitlements := entitlement.NewService(pgStore, hierarchy, tierTable, recorder)
	feedSvc := feeds.NewService(pgStore, entitlements)

	var summarizer digest.Summarizer
	if settings.OpenAIToken != "" {
		summarizer = openai.NewClient(settings.OpenAIToken)
	} else {
		log.Println("Warning: OPENAI_API_KEY not set, AI summaries disabled")
	}

	builder := digest.NewBuilder(
		rss.NewClient(30*time.Second),
		entitlements,
		summarizer,
		time.Duration(settings.LookbackHours)*time.Hour,
	)

	httpClient := &http.Client{Timeout: 10 * time.Minute}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		settings.BotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	h := handlers.NewHandlers(
		pgStore, feedSvc, entitlements, hierarchy, guard, limiter, builder,
		recorder, tierTable, settings.CheckoutBaseURL,
	)

	middlewares := middleware.NewMiddlewares(pgStore, pgStore, hierarchy, guard, limiter)
	handlerChain := middlewares.IdentifyMiddleware(
		middlewares.GateMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	digestScheduler := scheduler.NewScheduler(pgStore, builder, b, scheduler.Config{
		Workers: settings.DigestWorkers,
	})
	digestScheduler.Start()
	defer digestScheduler.Stop()

	processor := webhook.NewProcessor(
		settings.WebhookSecret,
		entitlements,
		pgStore,
		pgStore,
		handlers.NewBotNotifier(b, pgStore),
		tierTable,
		time.Duration(settings.BillingPeriodDays)*24*time.Hour,
	)
	webhookServer := &http.Server{
		Addr:    settings.WebhookAddr,
		Handler: webhook.NewRouter(processor),
	}
	go func() {
		log.Printf("Webhook server listening on %s", settings.WebhookAddr)
		if err := webhookServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Webhook server stopped: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = webhookServer.Shutdown(shutdownCtx)
	}()

	log.Println("Bot started. Press Ctrl+C to stop.")
	b.Start(ctx)
}
