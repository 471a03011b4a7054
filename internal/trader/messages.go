package trader

import (
	"fmt"
)

// Notification texts, HTML-formatted for the Telegram channel. One message
// per lifecycle event, each carrying the symbol, side, prices and reason tag.

var reasonText = map[CloseReason]string{
	ReasonStopLoss:   "🚨 Stoploss Triggered",
	ReasonForceClose: "⚠️ Loss-Bar Forced Exit",
	ReasonTrailClose: "🎯 Trailing Stop Hit",
	ReasonMarket:     "✅ Market Close",
	ReasonReentry:    "🔁 Same-Direction Re-entry Close",
	ReasonReversal:   "🔄 Reversal Close",
	ReasonNormal:     "✅ Normal Close",
}

func msgEntry(t Trade, leverage int, notional float64) string {
	arrow := "🟩⬆️"
	if t.Side == SideShort {
		arrow = "🟥⬇️"
	}
	return fmt.Sprintf(
		"%s <b>%s ENTRY</b>\n┇#%s\n┇Entry: %g\n┇Leverage: %dx | Amount: $%g\n┇<i>Trailing &amp; Risk Monitor Initiated</i>",
		arrow, t.Side, t.Symbol, t.EntryPrice, leverage, notional)
}

func msgEntryFailed(symbol string, side Side, status string) string {
	return fmt.Sprintf("⚠️ <b>#%s</b> %s entry order ended %s, trade discarded", symbol, side, status)
}

func msgExit(t Trade, reason CloseReason) string {
	emoji := "⚪️"
	if t.PnLPercent > 0 {
		emoji = "💰✅"
	} else if t.PnLPercent < 0 {
		emoji = "💔⛔️"
	}

	title, ok := reasonText[reason]
	if !ok {
		title = string(reason)
	}

	msg := fmt.Sprintf(
		"%s <b>%s</b>\n┇#%s\n┇%s | Entry: %g → Exit: %g\n┇PnL: <b>%g$</b> | %g%%\n┇Reason: <i>%s</i>",
		emoji, title, t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPercent, reason)

	if reason == ReasonStopLoss || reason == ReasonForceClose {
		msg += fmt.Sprintf("\n┇<b>Force PnL</b>: %g%% (%g$)", t.PnLPercent, t.PnL)
	}
	return msg
}

func msgTrailingStarted(symbol string, side Side, price float64) string {
	return fmt.Sprintf("🕐 <b>#%s</b>: %s Trailing Activated @ %g", symbol, side, price)
}

func msgStopLoss(symbol string, pnlPct, stopLossPct float64, leverage int) string {
	return fmt.Sprintf("🚨 <b>%s</b> PnL %.2f%% ≤ −%g×%d → Immediate Exit",
		symbol, pnlPct, stopLossPct, leverage)
}

func msgForceClose(symbol string, lossBars int) string {
	return fmt.Sprintf("⚠️ <b>%s</b> remained negative for %d bars → Forced Exit", symbol, lossBars)
}

func msgRecovered(symbol string, pnlPct float64) string {
	return fmt.Sprintf("💪 <b>%s</b> recovered (%.2f%%), Trailing Resumed", symbol, pnlPct)
}

func msgNoPosition(symbol string) string {
	return fmt.Sprintf("⚠️ <b>#%s</b> close requested but no active position found", symbol)
}

func msgMaxTrades(symbol string, active, max int) string {
	return fmt.Sprintf("🚫 <b>#%s</b> entry rejected: max active trades reached (%d/%d)", symbol, active, max)
}

func msgGatewayError(symbol, op string, err error) string {
	return fmt.Sprintf("❌ <b>#%s</b> %s failed: %v", symbol, op, err)
}
