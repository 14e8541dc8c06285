package webhook

import (
	"fmt"
	"time"

	"github.com/okorolenko/substack-digest-bot/internal/tiers"
)

func subscriptionActivatedText(def tiers.Definition, until time.Time) string {
	return fmt.Sprintf(
		"✅ <b>Subscription activated!</b>\n\nYou are on the <b>%s</b> plan until %s.\nYou can now track up to %d feeds and digests include AI summaries.",
		def.Name, until.Format("2 Jan 2006"), def.MaxFeeds,
	)
}

func subscriptionEndedText(free tiers.Definition) string {
	return fmt.Sprintf(
		"Your subscription has ended. You are back on the <b>%s</b> plan: up to %d feeds, no AI summaries.\nUse /upgrade any time to come back.",
		free.Name, free.MaxFeeds,
	)
}

func paymentFailedText() string {
	return "⚠️ We could not charge your card for the subscription renewal. Please update your payment method, otherwise the subscription will lapse at the end of the period."
}
