package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/okorolenko/substack-digest-bot/internal/tiers"
	"github.com/okorolenko/substack-digest-bot/types"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func StartWelcome(free tiers.Definition) string {
	return "👋 <b>Hi! I deliver newsletter digests.</b>\n\n" +
		"📎 Add Substack or RSS feeds with /addfeed &lt;url&gt;.\n" +
		"🕐 Every day at your /settime I send one digest with everything new.\n\n" +
		fmt.Sprintf("The free plan tracks up to %d feeds. /upgrade unlocks more plus AI summaries.\n\n", free.MaxFeeds) +
		"Type /help for the full command list."
}

func Help() string {
	return "ℹ️ <b>Commands</b>\n\n" +
		"/addfeed &lt;url&gt; — track a newsletter feed\n" +
		"/removefeed &lt;url or number&gt; — stop tracking\n" +
		"/feedlist — show tracked feeds\n" +
		"/digest — build today's digest right now\n" +
		"/settime HH:MM — daily delivery time (UTC)\n" +
		"/status — plan and usage\n" +
		"/upgrade — go pro\n" +
		"/help — this message"
}

func ErrorDefault() string {
	return "🚫 <b>Something went wrong</b>\nPlease try again."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>\nType /help for the command list."
}

func Blocked(reason string) string {
	return "⛔ <b>Access denied</b>\n" + Escape(reason)
}

func RateLimited(retryAfter time.Duration) string {
	return fmt.Sprintf("⏳ <b>Too many requests</b>\nTry again in %d seconds.", int(retryAfter.Seconds()))
}

func Unauthorized() string {
	return "🔒 This command is not available to you."
}

func FeedAdded(url string, count, limit int) string {
	return fmt.Sprintf("✅ <b>Feed added</b>\n%s\n\nTracking %d of %d feeds.", Escape(url), count, limit)
}

func FeedRemoved(url string) string {
	return "🗑 <b>Feed removed</b>\n" + Escape(url)
}

func FeedAlreadyAdded() string {
	return "⚠️ You already track this feed."
}

func FeedNotFound() string {
	return "❓ That feed is not in your list. Check /feedlist."
}

func FeedInvalid(reason string) string {
	return "🚫 <b>Can't add that feed</b>\n" + Escape(reason)
}

func FeedQuotaReached(limit int, tier string, upsell bool) string {
	text := fmt.Sprintf("📦 <b>Feed limit reached</b>\nThe %s plan tracks up to %d feeds.", Escape(tier), limit)
	if upsell {
		text += "\n\n/upgrade to track more."
	}
	return text
}

func FeedList(feeds []string) string {
	if len(feeds) == 0 {
		return "📭 You don't track any feeds yet.\nAdd one with /addfeed &lt;url&gt;."
	}
	var b strings.Builder
	b.WriteString("📋 <b>Your feeds</b>\n\n")
	for i, f := range feeds {
		fmt.Fprintf(&b, "%d. %s\n", i+1, Escape(f))
	}
	b.WriteString("\nRemove one with /removefeed &lt;number&gt;.")
	return b.String()
}

func AddFeedUsage() string {
	return "Usage: /addfeed https://example.substack.com"
}

func RemoveFeedUsage() string {
	return "Usage: /removefeed &lt;url or number from /feedlist&gt;"
}

func Status(acct *types.Account, def tiers.Definition, privileged bool) string {
	var b strings.Builder
	b.WriteString("📊 <b>Your status</b>\n\n")
	fmt.Fprintf(&b, "Plan: <b>%s</b>", Escape(def.Name))
	if privileged {
		b.WriteString(" (staff)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Feeds: %d of %d\n", len(acct.Feeds), def.MaxFeeds)
	if def.AISummaries {
		b.WriteString("AI summaries: on\n")
	} else {
		b.WriteString("AI summaries: off\n")
	}
	fmt.Fprintf(&b, "Daily digest at %s UTC\n", Escape(acct.DigestTime))
	if !privileged && acct.Subscription.Tier != types.TierFree && acct.Subscription.ExpiresAt != nil {
		fmt.Fprintf(&b, "Renews/expires: %s\n", acct.Subscription.ExpiresAt.Format("2 Jan 2006"))
	}
	return b.String()
}

func UpgradeOffer(paids []tiers.Definition, checkoutURL string) string {
	var b strings.Builder
	b.WriteString("⭐ <b>Go pro</b>\n\n")
	for _, d := range paids {
		fmt.Fprintf(&b, "<b>%s</b> — $%d/month: up to %d feeds, AI summaries.\n", Escape(d.Name), d.PriceMonthly, d.MaxFeeds)
	}
	b.WriteString("\n👉 " + Escape(checkoutURL))
	return b.String()
}

func AlreadyPro() string {
	return "⭐ You are already on the pro plan."
}

func TimeSet(hhmm string) string {
	return fmt.Sprintf("🕐 Daily digest time set to <b>%s UTC</b>.", Escape(hhmm))
}

func TimeSetUsage() string {
	return "Usage: /settime HH:MM (24-hour, UTC). Example: /settime 08:30"
}

func DigestEmpty() string {
	return "📭 Nothing new in your feeds for the last day."
}

func DigestNoFeeds() string {
	return "📭 You don't track any feeds yet.\nAdd one with /addfeed &lt;url&gt;, then /digest."
}

func AdminAdded(display string) string {
	return fmt.Sprintf("✅ %s is now an admin.", Escape(display))
}

func AdminRemoved(display string) string {
	return fmt.Sprintf("✅ %s is no longer an admin.", Escape(display))
}

func AdminList(entries []string) string {
	if len(entries) == 0 {
		return "No admins configured."
	}
	var b strings.Builder
	b.WriteString("👥 <b>Admins</b>\n\n")
	for _, e := range entries {
		b.WriteString("• " + Escape(e) + "\n")
	}
	return b.String()
}

func AdminUsage(command string) string {
	return fmt.Sprintf("Usage: %s @handle or %s &lt;user id&gt;", command, command)
}

func UserBlocked(display string) string {
	return fmt.Sprintf("⛔ %s has been blocked.", Escape(display))
}

func UserUnblocked(display string) string {
	return fmt.Sprintf("✅ %s has been unblocked.", Escape(display))
}

func Granted(display string, until time.Time) string {
	return fmt.Sprintf("🎁 %s now has pro access until %s.", Escape(display), until.Format("2 Jan 2006"))
}

func GrantReceived(until time.Time) string {
	return fmt.Sprintf("🎁 <b>You've been given pro access</b> until %s. Enjoy!", until.Format("2 Jan 2006"))
}

func GrantUsage() string {
	return "Usage: /grant @handle &lt;days&gt;"
}

func Stats(s *types.Stats) string {
	var b strings.Builder
	b.WriteString("📈 <b>Stats</b>\n\n")
	fmt.Fprintf(&b, "Users: %d\n", s.TotalUsers)
	fmt.Fprintf(&b, "Pro: %d, free: %d\n", s.ProUsers, s.FreeUsers)
	fmt.Fprintf(&b, "Feeds tracked: %d\n", s.TotalFeeds)
	fmt.Fprintf(&b, "Blocked: %d\n", s.BlockedUsers)
	fmt.Fprintf(&b, "Admins: %d\n", s.AdminCount)
	fmt.Fprintf(&b, "Payments: %d\n", s.PaymentCount)
	return b.String()
}

func StatsUnavailable() string {
	return "🚫 Stats are temporarily unavailable, try again later."
}
