package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/okorolenko/substack-digest-bot/internal/entitlement"
	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/types"
)

// ErrBadPayload covers bodies that are not a valid event envelope.
var ErrBadPayload = errors.New("webhook: malformed payload")

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventPaymentFailed       = "invoice.payment_failed"
)

// Envelope is the provider's outer event shape.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

type subscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type invoice struct {
	Customer string `json:"customer"`
}

// Ledger is the subscription side of the entitlement service.
type Ledger interface {
	Upgrade(ctx context.Context, userID int64, tier, customerRef, subscriptionRef string, expiresAt *time.Time) error
	DowngradeToFree(ctx context.Context, userID int64) error
}

// Notifier pushes a chat message to the user after a lifecycle transition.
// Delivery failures must not fail processing.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

type Processor struct {
	secret        string
	ledger        Ledger
	accounts      types.AccountStore
	payments      types.PaymentStore
	notifier      Notifier
	tiers         tiers.Table
	billingPeriod time.Duration
	now           func() time.Time
}

func NewProcessor(secret string, ledger Ledger, accounts types.AccountStore, payments types.PaymentStore, notifier Notifier, table tiers.Table, billingPeriod time.Duration) *Processor {
	return &Processor{
		secret:        secret,
		ledger:        ledger,
		accounts:      accounts,
		payments:      payments,
		notifier:      notifier,
		tiers:         table,
		billingPeriod: billingPeriod,
		now:           time.Now,
	}
}

// Process verifies, deduplicates and applies one raw event. A nil return maps
// to 200; ErrBadPayload and the signature errors map to 400. Events that are
// authentic but reference data we cannot act on (missing metadata, unknown
// tier, unknown customer) are logged and swallowed so the sender stops
// retrying them.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	if err := VerifySignature(p.secret, sigHeader, payload, p.now()); err != nil {
		return err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return ErrBadPayload
	}

	switch env.Type {
	case eventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, env)
	case eventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, env)
	case eventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, env)
	case eventPaymentFailed:
		return p.handlePaymentFailed(ctx, env)
	default:
		log.Printf("webhook: ignoring event type %s", env.Type)
		return nil
	}
}

// seenBefore runs the dedup check before any mutation. The envelope ID is the
// natural reference; when the sender omits one, a reference is synthesized
// from the event's own identifiers so redeliveries still collapse.
func (p *Processor) seenBefore(ctx context.Context, env Envelope, fallbackRef string) (bool, error) {
	ref := env.ID
	if ref == "" {
		ref = fallbackRef
	}
	if ref == "" {
		return false, nil
	}
	first, err := p.payments.MarkEventSeen(ctx, ref, env.Type)
	if err != nil {
		return false, err
	}
	if !first {
		log.Printf("webhook: duplicate event %s (%s), skipping", ref, env.Type)
	}
	return !first, nil
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, env Envelope) error {
	var sess checkoutSession
	if err := json.Unmarshal(env.Data.Object, &sess); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	userID := metadataUserID(sess.Metadata)
	tier := sess.Metadata["tier"]
	if userID == 0 || tier == "" {
		log.Printf("webhook: checkout session without usable metadata, dropping (event %s)", env.ID)
		return nil
	}
	if _, ok := p.tiers.Get(tier); !ok {
		log.Printf("webhook: checkout session names unknown tier %q, dropping (event %s)", tier, env.ID)
		return nil
	}

	seen, err := p.seenBefore(ctx, env, "checkout:"+sess.Subscription)
	if err != nil || seen {
		return err
	}

	expires := p.now().UTC().Add(p.billingPeriod)
	if err := p.ledger.Upgrade(ctx, userID, tier, sess.Customer, sess.Subscription, &expires); err != nil {
		return err
	}

	paymentRef := sess.PaymentIntent
	if paymentRef == "" {
		paymentRef = sess.Subscription
	}
	if paymentRef != "" {
		if _, err := p.payments.RecordPayment(ctx, types.Payment{
			UserID:     userID,
			Amount:     sess.AmountTotal,
			Currency:   sess.Currency,
			PaymentRef: paymentRef,
		}); err != nil {
			log.Printf("webhook: failed to record payment %s: %v", paymentRef, err)
		}
	}

	if p.notifier != nil {
		if def, ok := p.tiers.Get(tier); ok {
			p.notifier.Notify(ctx, userID, subscriptionActivatedText(def, expires))
		}
	}
	return nil
}

func (p *Processor) handleSubscriptionUpdated(ctx context.Context, env Envelope) error {
	var sub subscription
	if err := json.Unmarshal(env.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if sub.Status != "active" {
		return nil
	}

	userID := metadataUserID(sub.Metadata)
	if userID == 0 {
		log.Printf("webhook: subscription update without user metadata, dropping (event %s)", env.ID)
		return nil
	}

	tier := sub.Metadata["tier"]
	if tier == "" {
		tier = p.tiers.Paid().Name
	}
	if _, ok := p.tiers.Get(tier); !ok {
		log.Printf("webhook: subscription update names unknown tier %q, dropping (event %s)", tier, env.ID)
		return nil
	}

	fallback := fmt.Sprintf("subupd:%s:%d", sub.ID, sub.CurrentPeriodEnd)
	seen, err := p.seenBefore(ctx, env, fallback)
	if err != nil || seen {
		return err
	}

	var expires time.Time
	if sub.CurrentPeriodEnd > 0 {
		expires = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	} else {
		expires = p.now().UTC().Add(p.billingPeriod)
	}
	err = p.ledger.Upgrade(ctx, userID, tier, sub.Customer, sub.ID, &expires)
	if errors.Is(err, entitlement.ErrUnknownTier) {
		log.Printf("webhook: subscription update rejected, unknown tier %q", tier)
		return nil
	}
	return err
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, env Envelope) error {
	var sub subscription
	if err := json.Unmarshal(env.Data.Object, &sub); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	userID := metadataUserID(sub.Metadata)
	if userID == 0 {
		// Deletions sometimes arrive without metadata; fall back to the
		// stored customer reference.
		acct, err := p.accounts.FindByCustomerRef(ctx, sub.Customer)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				log.Printf("webhook: subscription deleted for unknown customer %s, dropping", sub.Customer)
				return nil
			}
			return err
		}
		userID = acct.UserID
	}

	seen, err := p.seenBefore(ctx, env, "subdel:"+sub.ID)
	if err != nil || seen {
		return err
	}

	if err := p.ledger.DowngradeToFree(ctx, userID); err != nil {
		return err
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, userID, subscriptionEndedText(p.tiers.Free()))
	}
	return nil
}

// handlePaymentFailed never mutates subscription state; renewal failures are
// resolved by the expiry lapsing on its own.
func (p *Processor) handlePaymentFailed(ctx context.Context, env Envelope) error {
	var inv invoice
	if err := json.Unmarshal(env.Data.Object, &inv); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if inv.Customer == "" {
		return nil
	}

	acct, err := p.accounts.FindByCustomerRef(ctx, inv.Customer)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			log.Printf("webhook: payment failure for unknown customer %s, dropping", inv.Customer)
			return nil
		}
		return err
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, acct.UserID, paymentFailedText())
	}
	return nil
}

func metadataUserID(metadata map[string]string) int64 {
	raw, ok := metadata["telegram_user_id"]
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
