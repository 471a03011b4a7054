package trader

import (
	"context"
	"errors"
	"sync"
	"time"

	"binance-futures-bot-go/internal/binance"
	"binance-futures-bot-go/internal/config"
	"binance-futures-bot-go/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Standard engine-level errors. Nothing in this package terminates the
// process; callers decide whether a failure is worth more than a log line.
var (
	// ErrMaxActiveTrades is returned when the exchange already reports the
	// configured ceiling of open positions.
	ErrMaxActiveTrades = errors.New("maximum number of active trades reached")
	// ErrNoPosition is returned when a close was requested but the exchange
	// reports no position for the symbol.
	ErrNoPosition = errors.New("no open position for symbol")
	// ErrOrderRejected is returned when the exchange refused an order.
	ErrOrderRejected = errors.New("order rejected by exchange")
	// ErrDuplicateSignal is returned when a signal arrives for a symbol that
	// already has a live trade claiming it.
	ErrDuplicateSignal = errors.New("duplicate signal for symbol")
)

// Engine is the core trade lifecycle coordinator. It owns the registry and
// dispatches signals into the order execution pipeline, one goroutine per
// in-flight asynchronous operation.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	client   binance.FuturesClientInterface
	registry *Registry
	filters  *FilterCache
	trailing *TrailingEngine
	loss     *LossMonitor
	notifier notify.Notifier
	db       *gorm.DB

	StartTime time.Time

	// notifiedOrders suppresses duplicate entry notifications when the same
	// fill is observed twice (delivery upstream is at-least-once).
	notifiedMu     sync.Mutex
	notifiedOrders map[string]struct{}

	runCtx context.Context
	wg     sync.WaitGroup
}

// NewEngine creates a new trading engine. db may be nil, in which case no
// trade history is recorded.
func NewEngine(logger *zap.Logger, cfg *config.Config, client binance.FuturesClientInterface, notifier notify.Notifier, db *gorm.DB) *Engine {
	return &Engine{
		logger:         logger,
		cfg:            cfg,
		client:         client,
		registry:       NewRegistry(),
		filters:        NewFilterCache(client, logger),
		trailing:       NewTrailingEngine(cfg.Trailing),
		loss:           NewLossMonitor(cfg.Risk, cfg.Trading.Leverage),
		notifier:       notifier,
		db:             db,
		StartTime:      time.Now(),
		notifiedOrders: make(map[string]struct{}),
		runCtx:         context.Background(),
	}
}

// Registry exposes the trade registry for read-only status reporting.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Start binds the run context and launches the background reporting tasks.
// It must run before the engine is handed to the webhook server, so that
// workers spawned by an early signal observe the same shutdown.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx
	e.logger.Info("Trading engine started",
		zap.Float64("notional", e.cfg.Trading.Notional),
		zap.Int("leverage", e.cfg.Trading.Leverage),
		zap.Float64("trailing_activation_pct", e.cfg.Trailing.ActivationPct),
		zap.Float64("stop_loss_threshold_pct", e.loss.StopLossThreshold()),
	)

	if e.cfg.Reporting.KeepAliveURL != "" {
		e.wg.Add(1)
		go e.runKeepAlive(ctx)
	}
	e.wg.Add(1)
	go e.runDailySummary(ctx)
}

// Wait blocks until every in-flight worker has observed cancellation of the
// run context and retired.
func (e *Engine) Wait() {
	e.logger.Info("Stopping trading engine...")
	e.wg.Wait()
}

// HandleSignal routes one parsed signal into the execution pipeline.
// One call is one intended state transition; replays of the same intent are
// absorbed by the registry's claim semantics.
func (e *Engine) HandleSignal(sig *Signal) error {
	l := e.logger.With(
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("price", sig.Price),
	)
	l.Info("Signal received")

	switch sig.Action {
	case ActionOpenLong, ActionOpenShort:
		existing, ok := e.registry.Get(sig.Symbol)
		if ok && existing.IsLive() {
			// Only one live trade per symbol: the existing position is
			// closed first, then the replacement opened after the delay.
			reason := ReasonReversal
			if existing.Side == sig.Side() {
				reason = ReasonReentry
			}
			l.Info("Live trade exists, scheduling close-and-reopen",
				zap.String("existing_side", string(existing.Side)),
				zap.String("close_reason", string(reason)))
			e.scheduleReentry(sig, existing.Side, reason)
			return nil
		}
		return e.OpenPosition(sig)

	case ActionCloseLong, ActionCloseShort:
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.ClosePosition(sig.Symbol, sig.Side(), ReasonMarket); err != nil {
				l.Warn("Close signal did not close a position", zap.Error(err))
			}
		}()
		return nil

	case ActionReverseToLong, ActionReverseToShort:
		e.scheduleReentry(sig, sig.Side().Opposite(), ReasonReversal)
		return nil
	}

	return errors.New("unhandled signal action " + string(sig.Action))
}

// scheduleReentry closes the existing position, waits the configured settle
// delay and opens the replacement. The close's own fill is not waited on
// synchronously; its poller keeps running concurrently.
func (e *Engine) scheduleReentry(sig *Signal, closeSide Side, reason CloseReason) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if err := e.ClosePosition(sig.Symbol, closeSide, reason); err != nil {
			// A missing position is tolerable here; the reversal signal may
			// race another exit. Either way the reentry still proceeds.
			e.logger.Warn("Close before reentry failed",
				zap.String("symbol", sig.Symbol), zap.Error(err))
		}

		select {
		case <-time.After(time.Duration(e.cfg.Trading.ReentryDelay) * time.Second):
		case <-e.runCtx.Done():
			return
		}

		if err := e.OpenPosition(sig); err != nil {
			e.logger.Error("Reentry open failed",
				zap.String("symbol", sig.Symbol), zap.Error(err))
		}
	}()
}

// recordTrade appends a closed trade to the history database.
func (e *Engine) recordTrade(t Trade, reason CloseReason) {
	if e.db == nil {
		return
	}

	record := toTradeRecord(t, reason, e.cfg.Trading.Leverage)
	if err := e.db.Create(record).Error; err != nil {
		e.logger.Error("Failed to save trade record", zap.Error(err))
		return
	}
	e.logger.Info("Saved trade record",
		zap.String("symbol", t.Symbol),
		zap.Float64("pnl", t.PnL),
		zap.String("reason", string(reason)))
}

// markEntryNotified returns true for the first caller per order ID.
func (e *Engine) markEntryNotified(orderID string) bool {
	e.notifiedMu.Lock()
	defer e.notifiedMu.Unlock()

	if _, seen := e.notifiedOrders[orderID]; seen {
		return false
	}
	e.notifiedOrders[orderID] = struct{}{}
	return true
}
