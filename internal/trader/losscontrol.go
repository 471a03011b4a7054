package trader

import (
	"time"

	"binance-futures-bot-go/internal/config"
)

// LossAction is what the loss monitor decided on a tick.
type LossAction int

const (
	LossActionNone LossAction = iota
	// LossActionStopLoss means PnL breached the leverage-scaled hard stop.
	LossActionStopLoss
	// LossActionForceClose means PnL stayed negative for the configured
	// number of consecutive bars.
	LossActionForceClose
)

// LossOutcome describes one loss-control evaluation.
type LossOutcome struct {
	Action LossAction
	// Recovered is true when a non-negative bar reset a non-zero loss streak.
	Recovered bool
	// PnLPercent is the leveraged PnL used for the decision.
	PnLPercent float64
	// LossBars is the streak after this evaluation.
	LossBars int
}

// LossMonitor applies the hard stop-loss and consecutive-loss-bar policies.
// Like the trailing engine it is a pure evaluator over a locked Trade.
type LossMonitor struct {
	cfg      config.Risk
	leverage int
}

// NewLossMonitor creates a loss monitor.
func NewLossMonitor(cfg config.Risk, leverage int) *LossMonitor {
	return &LossMonitor{cfg: cfg, leverage: leverage}
}

// StopLossThreshold is the leveraged PnL% at or below which a position is
// force-closed immediately. StopLossPct is raw percent; PnL% is leveraged,
// so the threshold scales by leverage.
func (m *LossMonitor) StopLossThreshold() float64 {
	return -m.cfg.StopLossPct * float64(m.leverage)
}

// Evaluate runs one loss-control tick. pnlPct is the live leveraged PnL%.
// The bar counter only advances once per elapsed bar interval, so it counts
// true bars, not raw ticks. ForcedExit is idempotent: once any forced-exit
// policy fires, later evaluations are inert.
func (m *LossMonitor) Evaluate(t *Trade, pnlPct float64, now time.Time) LossOutcome {
	out := LossOutcome{PnLPercent: pnlPct, LossBars: t.LossBars}

	if t.ForcedExit {
		return out
	}

	// Immediate stop-loss, checked every tick.
	if pnlPct <= m.StopLossThreshold() {
		t.ForcedExit = true
		out.Action = LossActionStopLoss
		return out
	}

	// Non-negative PnL resets the streak on any tick and restarts the bar
	// clock, with a one-off recovery notice if a streak was in progress.
	if pnlPct >= 0 {
		if t.LossBars > 0 {
			out.Recovered = true
		}
		t.LossBars = 0
		out.LossBars = 0
		t.LastBarCheck = now
		return out
	}

	// Negative PnL advances the counter at most once per bar interval, so
	// it counts true elapsed bars rather than raw ticks.
	if t.LastBarCheck.IsZero() {
		t.LastBarCheck = now
		return out
	}
	if now.Sub(t.LastBarCheck) < t.BarDuration() {
		return out
	}
	t.LastBarCheck = now

	t.LossBars++
	out.LossBars = t.LossBars
	if t.LossBars >= m.cfg.LossBarsLimit {
		t.ForcedExit = true
		out.Action = LossActionForceClose
	}
	return out
}
