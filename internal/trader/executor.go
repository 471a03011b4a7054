package trader

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"binance-futures-bot-go/internal/binance"
	"go.uber.org/zap"
)

// residualEpsilon is the position remainder below which cleanup does not
// bother flattening.
const residualEpsilon = 1e-5

// OpenPosition runs the entry half of the execution pipeline: gate on the
// active-trade ceiling, configure leverage and margin, size and submit a GTC
// limit order, then hand off to the entry fill-poller.
func (e *Engine) OpenPosition(sig *Signal) error {
	symbol, side := sig.Symbol, sig.Side()
	l := e.logger.With(zap.String("symbol", symbol), zap.String("side", string(side)))

	positions, err := e.client.GetPositions()
	if err != nil {
		l.Error("Failed to count active positions", zap.Error(err))
		e.notifier.Notify(msgGatewayError(symbol, "open", err))
		return fmt.Errorf("could not count active positions: %w", err)
	}
	active := 0
	for _, p := range positions {
		if math.Abs(p.Amount()) > 0 {
			active++
		}
	}
	if active >= e.cfg.Trading.MaxActiveTrades {
		l.Warn("Max active trades reached, rejecting entry",
			zap.Int("active", active), zap.Int("max", e.cfg.Trading.MaxActiveTrades))
		e.notifier.Notify(msgMaxTrades(symbol, active, e.cfg.Trading.MaxActiveTrades))
		return ErrMaxActiveTrades
	}

	// Leverage/margin setup failures are logged and tolerated; the exchange
	// rejects marginType changes that are already in effect.
	if err := e.client.SetLeverage(symbol, e.cfg.Trading.Leverage); err != nil {
		l.Warn("Failed to set leverage", zap.Error(err))
	}
	if err := e.client.SetMarginType(symbol, e.cfg.Trading.MarginType); err != nil {
		l.Debug("Failed to set margin type", zap.Error(err))
	}

	qty, err := e.filters.QuantizeQuantity(symbol, e.cfg.Trading.Notional*float64(e.cfg.Trading.Leverage)/sig.Price)
	if err != nil {
		l.Error("Failed to size position", zap.Error(err))
		e.notifier.Notify(msgGatewayError(symbol, "open", err))
		return err
	}

	provisional := &Trade{
		Symbol:     symbol,
		Side:       side,
		State:      StatePendingEntry,
		EntryPrice: sig.Price,
		Quantity:   qty,
		OrderID:    pendingOrderID,
		EntryTime:  time.Now(),
		Interval:   sig.Interval,
	}
	if !e.registry.Claim(provisional) {
		l.Warn("Symbol already claimed by a live trade, dropping signal")
		return ErrDuplicateSignal
	}

	order, err := e.client.PlaceLimitOrder(symbol, side.EntryOrderSide(), qty, sig.Price)
	if err != nil {
		e.registry.Remove(symbol)
		l.Error("Failed to submit entry order", zap.Error(err))
		e.notifier.Notify(msgGatewayError(symbol, "open", err))
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}

	orderID := order.OrderID
	e.registry.Update(symbol, func(t *Trade) {
		t.OrderID = strconv.FormatInt(orderID, 10)
	})
	l.Info("Entry order submitted",
		zap.Int64("order_id", orderID),
		zap.Float64("quantity", qty),
		zap.Float64("limit_price", sig.Price))

	e.wg.Add(1)
	go e.pollEntryFill(symbol, side, orderID)
	return nil
}

// pollEntryFill queries order status once a second until a terminal status.
// On the first observed fill it promotes the trade to OPEN, seeds the
// peak/trough and starts the monitoring loop exactly once. A rejected or
// cancelled entry discards the provisional trade. Every registry access is
// keyed on this poller's own order ID; a reentry may have replaced the
// symbol's entry with a successor trade this poller must not touch.
func (e *Engine) pollEntryFill(symbol string, side Side, orderID int64) {
	defer e.wg.Done()
	ownerOrderID := strconv.FormatInt(orderID, 10)
	l := e.logger.With(zap.String("symbol", symbol), zap.Int64("order_id", orderID))

	ticker := time.NewTicker(time.Duration(e.cfg.Trading.FillPollInterval) * time.Second)
	defer ticker.Stop()

	filled := false
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
		}

		// A forced close or a successor trade also retires this poller.
		if t, ok := e.registry.Get(symbol); !ok || !t.IsLive() || t.OrderID != ownerOrderID {
			l.Info("Trade gone or replaced, stopping entry poll")
			return
		}

		order, err := e.client.GetOrderStatus(symbol, orderID)
		if err != nil {
			// Transient lookup failures must not abandon a live order.
			l.Warn("Entry status poll failed, retrying", zap.Error(err))
			continue
		}

		if !filled && order.FilledQuantity() > 0 &&
			(order.Status == binance.OrderStatusPartiallyFilled || order.Status == binance.OrderStatusFilled) {
			filled = true
			avgPrice := order.FillPrice()
			now := time.Now()

			owned := false
			var opened Trade
			e.registry.Update(symbol, func(t *Trade) {
				if t.OrderID != ownerOrderID {
					return
				}
				owned = true
				t.State = StateOpen
				t.EntryPrice = avgPrice
				t.Peak = avgPrice
				t.Trough = avgPrice
				t.LastBarCheck = now
				opened = *t
			})
			if !owned {
				l.Info("Trade replaced before fill, stopping entry poll")
				return
			}
			l.Info("Entry filled", zap.Float64("avg_price", avgPrice))

			if e.registry.TryStartMonitor(symbol) {
				e.wg.Add(1)
				go e.runMonitor(symbol)
			}
			if e.markEntryNotified(ownerOrderID) {
				e.notifier.Notify(msgEntry(opened, e.cfg.Trading.Leverage, e.cfg.Trading.Notional))
			}
		}

		if binance.IsTerminalStatus(order.Status) {
			if !filled && e.registry.RemoveMatching(symbol, ownerOrderID) {
				// Rejected, cancelled or expired without a fill.
				l.Warn("Entry order ended without fill", zap.String("status", order.Status))
				e.notifier.Notify(msgEntryFailed(symbol, side, order.Status))
			}
			return
		}
	}
}

// ClosePosition runs the exit half of the pipeline: query the live position,
// apply the pre-close delay, submit a market order for the opposite side and
// hand off to the exit fill-poller. A symbol with no exchange position gets
// its registry entry retired and ErrNoPosition back.
func (e *Engine) ClosePosition(symbol string, side Side, reason CloseReason) error {
	l := e.logger.With(
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("reason", string(reason)))

	// Claim the exit under the lock; a second trigger for the same symbol
	// becomes a no-op instead of a second market order.
	alreadyClosing := false
	entryUnfilled := false
	e.registry.Update(symbol, func(t *Trade) {
		if t.State == StatePendingExit || !t.IsLive() {
			alreadyClosing = true
			return
		}
		entryUnfilled = t.State == StatePendingEntry
		t.State = StatePendingExit
	})
	if alreadyClosing {
		l.Info("Close already in flight, ignoring trigger")
		return nil
	}

	pos, err := e.client.GetPositionRisk(symbol)
	if err != nil {
		e.releaseExitClaim(symbol)
		l.Error("Failed to query position", zap.Error(err))
		e.notifier.Notify(msgGatewayError(symbol, "close", err))
		return fmt.Errorf("could not query position: %w", err)
	}

	amt := 0.0
	if pos != nil {
		amt = math.Abs(pos.Amount())
	}
	if amt == 0 {
		l.Warn("No active position to close")
		if entryUnfilled {
			// The GTC entry order is still resting on the book and must not
			// outlive the trade, or a late fill opens an untracked position.
			if err := e.client.CancelAllOpenOrders(symbol); err != nil {
				l.Warn("Failed to cancel unfilled entry order", zap.Error(err))
			}
		}
		e.notifier.Notify(msgNoPosition(symbol))
		// Retire any stale registry entry so its monitor stops.
		e.registry.Update(symbol, func(t *Trade) {
			t.Closed = true
			t.State = StateClosed
			t.MonitorRunning = false
		})
		return ErrNoPosition
	}

	qty, err := e.filters.QuantizeQuantity(symbol, amt)
	if err != nil {
		e.releaseExitClaim(symbol)
		l.Error("Failed to quantize close quantity", zap.Error(err))
		e.notifier.Notify(msgGatewayError(symbol, "close", err))
		return err
	}

	// Deliberate exit latency.
	if delay := e.cfg.Trading.PreCloseDelay; delay > 0 {
		select {
		case <-time.After(time.Duration(delay) * time.Second):
		case <-e.runCtx.Done():
			e.releaseExitClaim(symbol)
			return e.runCtx.Err()
		}
	}

	order, err := e.client.PlaceMarketOrder(symbol, side.ExitOrderSide(), qty)
	if err != nil {
		e.releaseExitClaim(symbol)
		l.Error("Failed to submit close order", zap.Error(err))
		e.notifier.Notify(msgGatewayError(symbol, "close", err))
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	l.Info("Close order submitted", zap.Int64("order_id", order.OrderID), zap.Float64("quantity", qty))

	e.wg.Add(1)
	go e.pollExitFill(symbol, order.OrderID, reason)
	return nil
}

// releaseExitClaim rolls a failed close attempt back to OPEN so the monitor
// resumes protecting the position and a retry can claim it again.
func (e *Engine) releaseExitClaim(symbol string) {
	e.registry.Update(symbol, func(t *Trade) {
		if t.State == StatePendingExit {
			t.State = StateOpen
		}
	})
}

// pollExitFill waits for the close order to fill, then finalizes the trade:
// PnL bookkeeping, notification, history record and residual cleanup.
func (e *Engine) pollExitFill(symbol string, orderID int64, reason CloseReason) {
	defer e.wg.Done()
	l := e.logger.With(zap.String("symbol", symbol), zap.Int64("order_id", orderID))

	ticker := time.NewTicker(time.Duration(e.cfg.Trading.FillPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
		}

		order, err := e.client.GetOrderStatus(symbol, orderID)
		if err != nil {
			l.Warn("Exit status poll failed, retrying", zap.Error(err))
			continue
		}

		if order.Status != binance.OrderStatusFilled {
			if binance.IsTerminalStatus(order.Status) {
				l.Error("Close order ended without fill", zap.String("status", order.Status))
				e.releaseExitClaim(symbol)
				return
			}
			continue
		}

		exitPrice := order.FillPrice()
		leverage := e.cfg.Trading.Leverage
		notional := e.cfg.Trading.Notional

		var closed Trade
		known := e.registry.Update(symbol, func(t *Trade) {
			t.Closed = true
			t.State = StateClosed
			t.ExitPrice = exitPrice
			t.PnLPercent = round2(t.LeveragedPnLPercent(exitPrice, leverage))
			t.PnL = round2(t.PnLPercent / 100 * notional)
			t.MonitorRunning = false
			closed = *t
		})
		l.Info("Close filled",
			zap.Float64("exit_price", exitPrice),
			zap.Float64("pnl_percent", closed.PnLPercent))

		if known {
			e.notifier.Notify(msgExit(closed, reason))
			e.recordTrade(closed, reason)
		}
		e.cleanResiduals(symbol)
		return
	}
}

// cleanResiduals cancels any open orders left on the symbol and flattens a
// non-trivial position remainder. Guards against partial-fill races on the
// exchange side; every failure here is log-only.
func (e *Engine) cleanResiduals(symbol string) {
	l := e.logger.With(zap.String("symbol", symbol))

	if err := e.client.CancelAllOpenOrders(symbol); err != nil {
		l.Warn("Residual cleanup: cancel open orders failed", zap.Error(err))
	}

	pos, err := e.client.GetPositionRisk(symbol)
	if err != nil {
		l.Warn("Residual cleanup: position re-query failed", zap.Error(err))
		return
	}
	if pos == nil {
		return
	}

	amt := pos.Amount()
	if math.Abs(amt) <= residualEpsilon {
		return
	}

	closeSide := binance.OrderSideSell
	if amt < 0 {
		closeSide = binance.OrderSideBuy
	}
	qty, err := e.filters.QuantizeQuantity(symbol, math.Abs(amt))
	if err != nil {
		l.Warn("Residual cleanup: quantize failed", zap.Error(err))
		return
	}
	if _, err := e.client.PlaceMarketOrder(symbol, closeSide, qty); err != nil {
		l.Warn("Residual cleanup: flatten order failed", zap.Error(err))
		return
	}
	l.Info("Residual position cleaned", zap.Float64("quantity", qty))
}

// round2 rounds to two decimal places for reporting.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
