package trader

import (
	"strconv"
	"time"

	"go.uber.org/zap"
)

// runMonitor is the per-symbol evaluation cycle: one long-running goroutine
// per open, trailing-enabled trade. Each tick it fetches the price, runs the
// loss-control policies, then the trailing engine, and triggers a close when
// either fires. Policy evaluation happens under the registry lock; all
// network I/O happens outside it.
func (e *Engine) runMonitor(symbol string) {
	defer e.wg.Done()
	l := e.logger.With(zap.String("symbol", symbol))

	start, ok := e.registry.Get(symbol)
	if !ok {
		return
	}
	ownerOrderID := start.OrderID

	// Clear the running flag on exit, but only if the registry entry still
	// belongs to this trade; a reentry may have installed a successor with
	// its own monitor.
	defer e.registry.Update(symbol, func(t *Trade) {
		if t.OrderID == ownerOrderID {
			t.MonitorRunning = false
		}
	})

	interval := time.Duration(e.cfg.Monitor.TickInterval) * time.Second
	deadline := time.Now().Add(time.Duration(e.cfg.Monitor.MaxLifetime) * time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.Info("Monitoring loop started",
		zap.Duration("tick", interval),
		zap.Time("deadline", deadline))

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
		}

		trade, ok := e.registry.Get(symbol)
		if !ok || !trade.IsLive() || trade.OrderID != ownerOrderID {
			l.Info("Trade closed or replaced, stopping monitor")
			return
		}

		if time.Now().After(deadline) {
			// Policy choice, not an error: bound resource usage for a trade
			// that has run too long. The position is left UNMONITORED.
			l.Error("Monitor max lifetime exceeded, abandoning monitoring loop; position is no longer protected",
				zap.Duration("max_lifetime", time.Duration(e.cfg.Monitor.MaxLifetime)*time.Minute))
			return
		}

		if trade.State != StateOpen {
			// An exit is already in flight; nothing to evaluate.
			continue
		}

		price, err := e.client.GetPrice(symbol)
		if err != nil || price <= 0 {
			l.Debug("Price unavailable, skipping tick", zap.Error(err))
			continue
		}
		filters, err := e.filters.Get(symbol)
		if err != nil {
			l.Debug("Filters unavailable, skipping tick", zap.Error(err))
			continue
		}
		pnlPct := e.livePnLPercent(symbol, &trade, price)

		var lossOut LossOutcome
		var trailOut TrailOutcome
		now := time.Now()
		e.registry.Update(symbol, func(t *Trade) {
			if !t.IsLive() || t.State != StateOpen {
				return
			}
			lossOut = e.loss.Evaluate(t, pnlPct, now)
			if lossOut.Action == LossActionNone {
				trailOut = e.trailing.Evaluate(t, price, filters.TickSize)
			}
		})

		if lossOut.Recovered {
			l.Info("PnL recovered, loss-bar counter reset", zap.Float64("pnl_percent", pnlPct))
			e.notifier.Notify(msgRecovered(symbol, pnlPct))
		}

		switch lossOut.Action {
		case LossActionStopLoss:
			l.Warn("Hard stop-loss breached, closing position",
				zap.Float64("pnl_percent", pnlPct),
				zap.Float64("threshold", e.loss.StopLossThreshold()))
			e.notifier.Notify(msgStopLoss(symbol, pnlPct, e.cfg.Risk.StopLossPct, e.cfg.Trading.Leverage))
			e.triggerClose(symbol, trade.Side, ReasonStopLoss)
			return
		case LossActionForceClose:
			l.Warn("Consecutive loss bars exhausted, closing position",
				zap.Int("loss_bars", lossOut.LossBars),
				zap.Float64("pnl_percent", pnlPct))
			e.notifier.Notify(msgForceClose(symbol, lossOut.LossBars))
			e.triggerClose(symbol, trade.Side, ReasonForceClose)
			return
		}

		if trailOut.Activated {
			l.Info("Trailing stop activated",
				zap.Float64("price", price),
				zap.Float64("stop", trailOut.StopPrice))
			e.notifier.Notify(msgTrailingStarted(symbol, trade.Side, price))
		}
		if trailOut.StopMoved {
			l.Debug("Trailing stop tightened", zap.Float64("stop", trailOut.StopPrice))
		}
		if trailOut.StopHit {
			l.Info("Trailing stop hit, closing position",
				zap.Float64("price", price),
				zap.Float64("stop", trailOut.StopPrice))
			e.triggerClose(symbol, trade.Side, ReasonTrailClose)
			return
		}
	}
}

// triggerClose runs the close path in its own worker so the monitor can
// retire immediately.
func (e *Engine) triggerClose(symbol string, side Side, reason CloseReason) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.ClosePosition(symbol, side, reason); err != nil {
			e.logger.Error("Triggered close failed",
				zap.String("symbol", symbol),
				zap.String("reason", string(reason)),
				zap.Error(err))
		}
	}()
}

// livePnLPercent returns the leveraged PnL% from the exchange's position
// data, falling back to a price-derived figure when the lookup fails.
func (e *Engine) livePnLPercent(symbol string, trade *Trade, price float64) float64 {
	leverage := e.cfg.Trading.Leverage

	pos, err := e.client.GetPositionRisk(symbol)
	if err != nil || pos == nil {
		return trade.LeveragedPnLPercent(price, leverage)
	}

	entry, err1 := strconv.ParseFloat(pos.EntryPrice, 64)
	mark, err2 := strconv.ParseFloat(pos.MarkPrice, 64)
	if err1 != nil || err2 != nil || entry <= 0 || mark <= 0 || pos.Amount() == 0 {
		return trade.LeveragedPnLPercent(price, leverage)
	}

	if pos.Amount() > 0 {
		return (mark - entry) / entry * 100 * float64(leverage)
	}
	return (entry - mark) / entry * 100 * float64(leverage)
}
