package trader

import (
	"context"
	"testing"
	"time"

	"binance-futures-bot-go/internal/binance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// setupLiveEngine wires an engine whose run context stays open, so pollers
// actually poll. Tests using it must drive every mock call the poller makes.
func setupLiveEngine(t *testing.T) (*Engine, *MockFuturesClient, *recordingNotifier, context.CancelFunc) {
	engine, mockClient, notifier := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	engine.runCtx = ctx
	return engine, mockClient, notifier, cancel
}

func TestPollEntryFill_PromotesTradeToOpen(t *testing.T) {
	// Arrange: a pending entry whose order fills on the first poll.
	// MonitorRunning is pre-set so the fill does not spawn a real monitor.
	engine, mockClient, notifier, cancel := setupLiveEngine(t)
	defer cancel()

	engine.registry.Claim(&Trade{
		Symbol: "BTCUSDT", Side: SideLong, State: StatePendingEntry,
		OrderID: "42", EntryPrice: 50000, Quantity: 0.02,
		Interval: "15", MonitorRunning: true,
	})
	mockClient.On("GetOrderStatus", "BTCUSDT", int64(42)).
		Return(&binance.OrderResponse{
			OrderID:          42,
			Status:           binance.OrderStatusFilled,
			ExecutedQuantity: "0.02",
			AvgPrice:         "50010.0",
		}, nil)

	// Act
	engine.wg.Add(1)
	engine.pollEntryFill("BTCUSDT", SideLong, 42)

	// Assert: trade promoted at the average fill price, peak/trough seeded.
	trade, ok := engine.registry.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, StateOpen, trade.State)
	assert.Equal(t, 50010.0, trade.EntryPrice)
	assert.Equal(t, 50010.0, trade.Peak)
	assert.Equal(t, 50010.0, trade.Trough)
	assert.False(t, trade.LastBarCheck.IsZero())
	assert.Equal(t, 1, notifier.count())
}

func TestPollEntryFill_TerminalWithoutFillDiscardsTrade(t *testing.T) {
	// Arrange: the entry order expires untouched.
	engine, mockClient, notifier, cancel := setupLiveEngine(t)
	defer cancel()

	engine.registry.Claim(&Trade{
		Symbol: "BTCUSDT", Side: SideLong, State: StatePendingEntry,
		OrderID: "42", MonitorRunning: true,
	})
	mockClient.On("GetOrderStatus", "BTCUSDT", int64(42)).
		Return(&binance.OrderResponse{
			OrderID:          42,
			Status:           binance.OrderStatusExpired,
			ExecutedQuantity: "0",
		}, nil)

	// Act
	engine.wg.Add(1)
	engine.pollEntryFill("BTCUSDT", SideLong, 42)

	// Assert: the provisional trade is gone and a failure notice was sent.
	_, ok := engine.registry.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 1, notifier.count())
}

func TestPollEntryFill_StalePollerLeavesSuccessorAlone(t *testing.T) {
	// Arrange: the symbol's registry entry now belongs to a successor trade
	// from a reentry, while an old poller still tracks the replaced order.
	engine, mockClient, notifier, cancel := setupLiveEngine(t)
	defer cancel()

	engine.registry.Claim(&Trade{
		Symbol: "BTCUSDT", Side: SideShort, State: StateOpen,
		OrderID: "222", EntryPrice: 50000, Quantity: 0.02,
		MonitorRunning: true,
	})

	// Act: poll for the replaced order 111.
	engine.wg.Add(1)
	engine.pollEntryFill("BTCUSDT", SideLong, 111)

	// Assert: the poller retired without touching the successor.
	trade, ok := engine.registry.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "222", trade.OrderID)
	assert.Equal(t, StateOpen, trade.State)
	assert.Equal(t, SideShort, trade.Side)
	assert.Equal(t, 0, notifier.count())
	mockClient.AssertNotCalled(t, "GetOrderStatus", mock.Anything, mock.Anything)
}

func TestPollExitFill_FinalizesTradeWithPnL(t *testing.T) {
	// Arrange: a long entered at 50000, closed at 50500. With 20x leverage
	// that is +1% * 20 = +20%, i.e. +10 on a 50 notional.
	engine, mockClient, notifier, cancel := setupLiveEngine(t)
	defer cancel()

	engine.registry.Claim(&Trade{
		Symbol: "BTCUSDT", Side: SideLong, State: StatePendingExit,
		OrderID: "42", EntryPrice: 50000, Quantity: 0.02,
		EntryTime: time.Now(), MonitorRunning: true,
	})
	mockClient.On("GetOrderStatus", "BTCUSDT", int64(99)).
		Return(&binance.OrderResponse{
			OrderID:          99,
			Status:           binance.OrderStatusFilled,
			ExecutedQuantity: "0.02",
			AvgPrice:         "50500.0",
		}, nil)
	// Residual cleanup finds nothing to do.
	mockClient.On("CancelAllOpenOrders", "BTCUSDT").Return(nil)
	mockClient.On("GetPositionRisk", "BTCUSDT").
		Return(&binance.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0"}, nil)

	// Act
	engine.wg.Add(1)
	engine.pollExitFill("BTCUSDT", 99, ReasonTrailClose)

	// Assert
	trade, ok := engine.registry.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, StateClosed, trade.State)
	assert.True(t, trade.Closed)
	assert.Equal(t, 50500.0, trade.ExitPrice)
	assert.InDelta(t, 20.0, trade.PnLPercent, 1e-9)
	assert.InDelta(t, 10.0, trade.PnL, 1e-9)
	assert.Equal(t, 1, notifier.count())
	mockClient.AssertExpectations(t)
}

func TestPollExitFill_FlattensResidualPosition(t *testing.T) {
	// Arrange: after the close fills, the exchange still reports a remainder.
	engine, mockClient, _, cancel := setupLiveEngine(t)
	defer cancel()

	engine.registry.Claim(&Trade{
		Symbol: "BTCUSDT", Side: SideLong, State: StatePendingExit,
		OrderID: "42", EntryPrice: 50000, Quantity: 0.02,
		EntryTime: time.Now(), MonitorRunning: true,
	})
	mockClient.On("GetOrderStatus", "BTCUSDT", int64(99)).
		Return(&binance.OrderResponse{
			OrderID:          99,
			Status:           binance.OrderStatusFilled,
			ExecutedQuantity: "0.018",
			AvgPrice:         "50500.0",
		}, nil)
	mockClient.On("CancelAllOpenOrders", "BTCUSDT").Return(nil)
	mockClient.On("GetPositionRisk", "BTCUSDT").
		Return(&binance.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0.002"}, nil)
	mockClient.On("GetSymbolFilters", "BTCUSDT").Return(testFilters, nil)
	mockClient.On("PlaceMarketOrder", "BTCUSDT", "SELL", 0.002).
		Return(&binance.OrderResponse{OrderID: 100, Status: binance.OrderStatusFilled}, nil)

	// Act
	engine.wg.Add(1)
	engine.pollExitFill("BTCUSDT", 99, ReasonMarket)

	// Assert: the remainder was sold off.
	mockClient.AssertExpectations(t)
}

func TestHandleSignal_ReversalClosesThenReopens(t *testing.T) {
	// Arrange: a live short; an opposing open-long signal must close it
	// before claiming the replacement entry. The call order is recorded
	// through the mocks; both run on the single reentry worker.
	engine, mockClient, notifier, cancel := setupLiveEngine(t)

	engine.registry.Claim(&Trade{
		Symbol: "BTCUSDT", Side: SideShort, State: StateOpen,
		OrderID: "1", EntryPrice: 50000, Quantity: 0.02,
	})

	var calls []string
	mockClient.On("GetPositionRisk", "BTCUSDT").
		Return(&binance.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0"}, nil).
		Run(func(mock.Arguments) { calls = append(calls, "close") })
	mockClient.On("GetPositions").Return([]binance.PositionRisk{}, nil)
	mockClient.On("SetLeverage", "BTCUSDT", 20).Return(nil)
	mockClient.On("SetMarginType", "BTCUSDT", "ISOLATED").Return(nil)
	mockClient.On("GetSymbolFilters", "BTCUSDT").Return(testFilters, nil)
	mockClient.On("PlaceLimitOrder", "BTCUSDT", "BUY", 0.02, 50000.0).
		Return(&binance.OrderResponse{OrderID: 7, Status: binance.OrderStatusNew}, nil).
		Run(func(mock.Arguments) {
			calls = append(calls, "open")
			cancel()
		})

	sig := &Signal{Symbol: "BTCUSDT", Action: ActionOpenLong, Price: 50000, Interval: "15"}

	// Act
	err := engine.HandleSignal(sig)
	engine.wg.Wait()

	// Assert: close first, open second, replacement pending on the book.
	assert.NoError(t, err)
	assert.Equal(t, []string{"close", "open"}, calls)
	trade, ok := engine.registry.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, SideLong, trade.Side)
	assert.Equal(t, StatePendingEntry, trade.State)
	assert.Equal(t, "7", trade.OrderID)
	assert.Equal(t, 1, notifier.count()) // the no-position notice from the close
}

func TestStart_BindsRunContextForSpawnedWorkers(t *testing.T) {
	// Arrange
	engine, _, _ := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	// Act: Start must bind the run context before any webhook can land.
	engine.Start(ctx)

	// Assert
	assert.Equal(t, ctx, engine.runCtx)
	cancel()
	engine.Wait()
}

func TestHandleSignal_CloseRoutesToClosePosition(t *testing.T) {
	// Arrange: a close signal for a symbol the exchange reports flat.
	engine, mockClient, notifier := setupEngine(t)
	engine.registry.Claim(&Trade{Symbol: "BTCUSDT", Side: SideLong, State: StateOpen, OrderID: "1"})
	mockClient.On("GetPositionRisk", "BTCUSDT").
		Return(&binance.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0"}, nil)

	sig := &Signal{Symbol: "BTCUSDT", Action: ActionCloseLong, Price: 50000, Interval: "15"}

	// Act
	err := engine.HandleSignal(sig)
	engine.wg.Wait()

	// Assert: the handler itself never fails on a missing position; the
	// close worker reported it through the notifier instead.
	assert.NoError(t, err)
	assert.Equal(t, 1, notifier.count())
	trade, _ := engine.registry.Get("BTCUSDT")
	assert.False(t, trade.IsLive())
}
