package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"binance-futures-bot-go/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// runKeepAlive periodically pings the configured URL so that the hosting
// platform does not idle the process out. Failures are logged and ignored.
func (e *Engine) runKeepAlive(ctx context.Context) {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.Reporting.KeepAliveInterval) * time.Second
	client := resty.New().SetTimeout(30 * time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Keep-alive pinger started",
		zap.String("url", e.cfg.Reporting.KeepAliveURL),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := client.R().Get(e.cfg.Reporting.KeepAliveURL)
			if err != nil {
				e.logger.Warn("Keep-alive ping failed", zap.Error(err))
				continue
			}
			e.logger.Debug("Keep-alive ping", zap.Int("status", resp.StatusCode()))
		}
	}
}

// runDailySummary posts a trading recap once per day at the configured UTC
// hour, then evicts the closed trades it reported from the registry.
func (e *Engine) runDailySummary(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(untilNextSummary(time.Now().UTC(), e.cfg.Reporting.SummaryHourUTC)):
		}

		closed := e.registry.EvictClosed()
		open := make([]Trade, 0)
		for _, t := range e.registry.Snapshot() {
			if t.IsLive() {
				open = append(open, t)
			}
		}
		e.notifier.Notify(buildSummary(closed, open))
		e.logger.Info("Daily summary sent",
			zap.Int("closed", len(closed)), zap.Int("open", len(open)))
	}
}

// untilNextSummary returns the wait until the next occurrence of hour:00 UTC,
// strictly in the future so a restart at the boundary does not double-post.
func untilNextSummary(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func buildSummary(closed, open []Trade) string {
	var b strings.Builder
	b.WriteString("📊 <b>DAILY SUMMARY</b>\n")

	if len(closed) == 0 {
		b.WriteString("┇No trades closed in the period\n")
	} else {
		var wins, losses int
		var netPnL, netPct float64
		for _, t := range closed {
			if t.PnL > 0 {
				wins++
			} else if t.PnL < 0 {
				losses++
			}
			netPnL += t.PnL
			netPct += t.PnLPercent
		}
		fmt.Fprintf(&b, "┇Closed: %d | Wins: %d | Losses: %d\n", len(closed), wins, losses)
		fmt.Fprintf(&b, "┇Net PnL: <b>%.2f$</b> (%.2f%%)\n", netPnL, netPct)
		for _, t := range closed {
			fmt.Fprintf(&b, "┇  #%s %s %.2f%%\n", t.Symbol, t.Side, t.PnLPercent)
		}
	}

	if len(open) == 0 {
		b.WriteString("┇Open: none")
	} else {
		fmt.Fprintf(&b, "┇Open: %d\n", len(open))
		for _, t := range open {
			fmt.Fprintf(&b, "┇  #%s %s @ %g\n", t.Symbol, t.Side, t.EntryPrice)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// toTradeRecord maps a closed in-memory trade onto its history row.
func toTradeRecord(t Trade, reason CloseReason, leverage int) *models.TradeRecord {
	return &models.TradeRecord{
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		Leverage:   leverage,
		PnL:        t.PnL,
		PnLPercent: t.PnLPercent,
		Reason:     string(reason),
		EntryTime:  t.EntryTime.Unix(),
		ExitTime:   time.Now().Unix(),
	}
}
