package monitor

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// TimeLayout is used for every timestamp rendered into a notification.
const TimeLayout = "2006-01-02 15:04:05"

// Templates maps a tier to a text/template body. Missing tiers use DefaultTemplates.
type Templates map[AlertTier]string

// DefaultTemplates are the built-in per-tier bodies.
var DefaultTemplates = Templates{
	TierBuy:           "📉 {{.Symbol}} buy opportunity\n💰 Price: ${{.Price}}\n📊 24h: {{.Change}}%\n🛒 Suggestion: consider averaging in",
	TierMajorBuy:      "🚨 {{.Symbol}} deep dip!\n💰 Price: ${{.Price}}\n📉 Drop: {{.Change}}%\n🛒 Strong suggestion: add to position",
	TierSell:          "📈 {{.Symbol}} sell opportunity\n💰 Price: ${{.Price}}\n📊 24h: {{.Change}}%\n💸 Suggestion: consider taking partial profit",
	TierMajorSell:     "🚀 {{.Symbol}} strong rally!\n💰 Price: ${{.Price}}\n📈 Rise: {{.Change}}%\n💸 Strong suggestion: take profit",
	TierEmergencyStop: "🆘 {{.Symbol}} emergency stop-loss!\n💰 Price: ${{.Price}}\n📉 Crash: {{.Change}}%\n⚠️ Suggestion: cut losses now",
}

// Validate parses every template.
func (t Templates) Validate() error {
	for tier, body := range t {
		if _, err := ParseTier(string(tier)); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		if _, err := template.New(string(tier)).Parse(body); err != nil {
			return fmt.Errorf("%w: template %s: %v", ErrConfigInvalid, tier, err)
		}
	}
	return nil
}

type messageData struct {
	Symbol    string
	Tier      AlertTier
	Price     string
	Change    string
	Volume    string
	MarketCap string
	Time      string
}

// Render produces the notification text for an observation at the given tier.
func (t Templates) Render(tier AlertTier, obs PriceObservation) string {
	body, ok := t[tier]
	if !ok {
		body = DefaultTemplates[tier]
	}

	data := messageData{
		Symbol:    obs.Symbol,
		Tier:      tier,
		Price:     obs.Price.StringFixed(4),
		Change:    obs.Change24h.StringFixed(2),
		Volume:    formatUSD(obs.Volume24h),
		MarketCap: formatUSD(obs.MarketCap),
		Time:      obs.ObservedAt.Local().Format(TimeLayout),
	}

	var buf bytes.Buffer
	tmpl, err := template.New(string(tier)).Parse(body)
	if err == nil {
		err = tmpl.Execute(&buf, data)
	}
	if err != nil || body == "" {
		buf.Reset()
		fmt.Fprintf(&buf, "%s price alert: $%s (24h %s%%)", data.Symbol, data.Price, data.Change)
	}

	buf.WriteString("\n⏰ ")
	buf.WriteString(data.Time)
	return buf.String()
}

func formatUSD(v *decimal.Decimal) string {
	if v == nil {
		return "n/a"
	}
	return "$" + humanize.CommafWithDigits(v.InexactFloat64(), 0)
}

// StartupMessage announces the monitor and its active thresholds.
func StartupMessage(s *Snapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString("🤖 Price monitor started\n")
	fmt.Fprintf(&b, "📊 Watching: %s\n", joinOrDash(s.Watchlist.Symbols()))
	fmt.Fprintf(&b, "📉 Buy thresholds: %s%% / %s%%\n", s.Thresholds.Buy.Abs().String(), s.Thresholds.MajorBuy.Abs().String())
	fmt.Fprintf(&b, "📈 Sell thresholds: %s%% / %s%%\n", s.Thresholds.Sell.String(), s.Thresholds.MajorSell.String())
	fmt.Fprintf(&b, "🆘 Emergency stop: %s%%\n", s.Thresholds.EmergencyStop.String())
	fmt.Fprintf(&b, "🔔 Daily notification cap: %d\n", s.DailyCap)
	fmt.Fprintf(&b, "⏰ Started: %s", now.Local().Format(TimeLayout))
	return b.String()
}

// WatchlistChangeMessage summarises a watchlist reload.
func WatchlistChangeMessage(diff WatchlistDiff, current Watchlist) string {
	var b strings.Builder
	b.WriteString("📝 Watchlist updated\n")
	if len(diff.Added) > 0 {
		fmt.Fprintf(&b, "➕ Added: %s\n", strings.Join(diff.Added, ", "))
	}
	if len(diff.Removed) > 0 {
		fmt.Fprintf(&b, "➖ Removed: %s\n", strings.Join(diff.Removed, ", "))
	}
	fmt.Fprintf(&b, "📊 Now watching: %s", joinOrDash(current.Symbols()))
	return b.String()
}
