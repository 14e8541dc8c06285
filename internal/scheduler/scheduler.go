package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-telegram/bot"

	"github.com/okorolenko/substack-digest-bot/internal/digest"
	"github.com/okorolenko/substack-digest-bot/internal/messages"
	"github.com/okorolenko/substack-digest-bot/types"
)

// Scheduler delivers each account's daily digest at its configured time. A
// minute tick scans for due accounts and a small worker pool builds and sends
// the digests.
type Scheduler struct {
	accounts  types.AccountStore
	builder   *digest.Builder
	botClient *bot.Bot
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	queue     chan *types.Account
	now       func() time.Time
}

type Config struct {
	Workers int
}

func NewScheduler(accounts types.AccountStore, builder *digest.Builder, botClient *bot.Bot, config Config) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	queueSize := config.Workers * 2
	if queueSize < 10 {
		queueSize = 10
	}

	return &Scheduler{
		accounts:  accounts,
		builder:   builder,
		botClient: botClient,
		workers:   config.Workers,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan *types.Account, queueSize),
		now:       time.Now,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("Scheduler started with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.tickLoop()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Println("Stopping scheduler...")
	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

func (s *Scheduler) scan() {
	accounts, err := s.accounts.ListAccounts(s.ctx)
	if err != nil {
		log.Printf("Scheduler scan: list accounts: %v", err)
		return
	}

	now := s.now().UTC()
	for _, acct := range accounts {
		if !due(acct, now) {
			continue
		}
		select {
		case s.queue <- acct:
		case <-s.ctx.Done():
			return
		default:
			// Queue full; the account stays due and the next tick retries.
			log.Printf("Scheduler scan: queue full, deferring user %d", acct.UserID)
			return
		}
	}
}

// due: configured time reached, not yet sent today, has feeds, not blocked.
func due(acct *types.Account, now time.Time) bool {
	if len(acct.Feeds) == 0 || acct.Security.Blocked {
		return false
	}
	if acct.DigestTime == "" {
		return false
	}
	today := now.Format("2006-01-02")
	if acct.LastSentDate == today {
		return false
	}
	return now.Format("15:04") >= acct.DigestTime
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case acct := <-s.queue:
			s.deliver(acct)
		}
	}
}

func (s *Scheduler) deliver(acct *types.Account) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	text, err := s.builder.Build(ctx, acct)
	switch {
	case errors.Is(err, digest.ErrNoFeeds):
		return
	case errors.Is(err, digest.ErrNoEntries):
		// Nothing new today still counts as delivered, otherwise every
		// following tick re-fetches the same quiet feeds.
		s.markSent(ctx, acct.UserID)
		return
	case err != nil:
		log.Printf("Scheduler: build digest for user %d: %v", acct.UserID, err)
		return
	}

	_, err = s.botClient.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    acct.ChatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		log.Printf("Scheduler: send digest to user %d: %v", acct.UserID, err)
		return
	}

	s.markSent(ctx, acct.UserID)
}

func (s *Scheduler) markSent(ctx context.Context, userID int64) {
	today := s.now().UTC().Format("2006-01-02")
	_, err := s.accounts.UpdateAccount(ctx, userID, func(a *types.Account) error {
		a.LastSentDate = today
		return nil
	})
	if err != nil {
		log.Printf("Scheduler: mark sent for user %d: %v", userID, err)
	}
}
