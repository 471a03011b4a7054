package trader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"binance-futures-bot-go/internal/binance"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// EntryOrderSide returns the order side that opens a position in this direction.
func (s Side) EntryOrderSide() string {
	if s == SideLong {
		return binance.OrderSideBuy
	}
	return binance.OrderSideSell
}

// ExitOrderSide returns the order side that closes a position in this direction.
func (s Side) ExitOrderSide() string {
	if s == SideLong {
		return binance.OrderSideSell
	}
	return binance.OrderSideBuy
}

// State is the lifecycle stage of a trade.
type State string

const (
	StatePendingEntry State = "PENDING_ENTRY"
	StateOpen         State = "OPEN"
	StatePendingExit  State = "PENDING_EXIT"
	StateClosed       State = "CLOSED"
)

// CloseReason tags why a position was closed.
type CloseReason string

const (
	ReasonTrailClose CloseReason = "TRAIL_CLOSE"
	ReasonStopLoss   CloseReason = "STOP_LOSS"
	ReasonForceClose CloseReason = "FORCE_CLOSE"
	ReasonMarket     CloseReason = "MARKET_CLOSE"
	ReasonReentry    CloseReason = "SAME_DIRECTION_REENTRY"
	ReasonReversal   CloseReason = "REVERSAL"
	ReasonNormal     CloseReason = "NORMAL"
)

// pendingOrderID marks a trade whose entry order has not been accepted yet.
const pendingOrderID = "PENDING"

// Trade is the in-memory aggregate for one symbol's open position.
// All fields are guarded by the owning Registry's lock; callers outside the
// registry only ever see copies.
type Trade struct {
	Symbol     string
	Side       Side
	State      State
	EntryPrice float64
	Quantity   float64
	OrderID    string

	// Peak is the highest price seen since entry for a long, Trough the
	// lowest for a short. Each moves only in the favorable direction.
	Peak   float64
	Trough float64

	// StopPrice is the current trailing stop; valid only when HasStop is set.
	// Once set it only tightens.
	StopPrice     float64
	HasStop       bool
	TrailActive   bool
	TrailNotified bool

	// LossBars counts consecutive bars with negative PnL. LastBarCheck marks
	// the start of the bar currently being accumulated.
	LossBars     int
	LastBarCheck time.Time
	ForcedExit   bool

	Closed     bool
	ExitPrice  float64
	PnL        float64
	PnLPercent float64

	EntryTime time.Time
	Interval  string

	// MonitorRunning guards the one-time start of the monitoring loop.
	MonitorRunning bool
}

// IsLive reports whether the trade still represents a position that is open
// or in flight.
func (t *Trade) IsLive() bool {
	return !t.Closed && t.State != StateClosed
}

// ProfitPercent returns the unleveraged profit percentage at the given price,
// signed by favorable direction.
func (t *Trade) ProfitPercent(price float64) float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	if t.Side == SideLong {
		return (price - t.EntryPrice) / t.EntryPrice * 100
	}
	return (t.EntryPrice - price) / t.EntryPrice * 100
}

// LeveragedPnLPercent returns the profit percentage scaled by leverage, the
// convention used by the loss-control policies.
func (t *Trade) LeveragedPnLPercent(price float64, leverage int) float64 {
	return t.ProfitPercent(price) * float64(leverage)
}

// BarDuration converts the trade's signal interval into wall-clock time,
// so loss bars represent true elapsed bars rather than raw ticks.
func (t *Trade) BarDuration() time.Duration {
	d, err := ParseInterval(t.Interval)
	if err != nil {
		return time.Minute
	}
	return d
}

// ParseInterval converts a bar interval string into a duration. It accepts
// the chart notation ("15m", "1h", "4h", "1d") as well as a bare number of
// minutes ("15"), which is how TradingView delivers the interval field.
func ParseInterval(interval string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(interval))
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}

	unit := time.Minute
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
		s = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		s = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		s = s[:len(s)-1]
	case 'd':
		unit = 24 * time.Hour
		s = s[:len(s)-1]
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}
