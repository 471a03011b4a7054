package trader

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntilNextSummary(t *testing.T) {
	// Arrange
	now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	// Act / Assert: later today.
	assert.Equal(t, 90*time.Minute, untilNextSummary(now, 12))

	// Already passed today, so tomorrow.
	assert.Equal(t, 21*time.Hour+30*time.Minute, untilNextSummary(now, 8))

	// Exactly at the boundary waits a full day.
	atBoundary := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 24*time.Hour, untilNextSummary(atBoundary, 8))
}

func TestBuildSummary(t *testing.T) {
	// Arrange
	closed := []Trade{
		{Symbol: "BTCUSDT", Side: SideLong, PnL: 12.5, PnLPercent: 25.0},
		{Symbol: "ETHUSDT", Side: SideShort, PnL: -4.0, PnLPercent: -8.0},
	}
	open := []Trade{
		{Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 150.5},
	}

	// Act
	summary := buildSummary(closed, open)

	// Assert
	assert.Contains(t, summary, "Closed: 2 | Wins: 1 | Losses: 1")
	assert.Contains(t, summary, "8.50$")
	assert.Contains(t, summary, "#BTCUSDT")
	assert.Contains(t, summary, "#SOLUSDT LONG @ 150.5")
}

func TestBuildSummary_Empty(t *testing.T) {
	summary := buildSummary(nil, nil)
	assert.Contains(t, summary, "No trades closed")
	assert.Contains(t, summary, "Open: none")
}

func TestToTradeRecord(t *testing.T) {
	// Arrange
	entry := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	trade := Trade{
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 50000,
		ExitPrice:  50500,
		Quantity:   0.02,
		PnL:        10,
		PnLPercent: 20,
		EntryTime:  entry,
	}

	// Act
	record := toTradeRecord(trade, ReasonTrailClose, 20)

	// Assert
	assert.Equal(t, "BTCUSDT", record.Symbol)
	assert.Equal(t, "LONG", record.Side)
	assert.Equal(t, 20, record.Leverage)
	assert.Equal(t, "TRAIL_CLOSE", record.Reason)
	assert.Equal(t, entry.Unix(), record.EntryTime)
	assert.NotZero(t, record.ExitTime)
}

func TestExitMessageCarriesReason(t *testing.T) {
	// Arrange
	trade := Trade{
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 50000,
		ExitPrice:  49000,
		PnL:        -20,
		PnLPercent: -40,
	}

	// Act
	msg := msgExit(trade, ReasonStopLoss)

	// Assert
	assert.True(t, strings.Contains(msg, "STOP_LOSS"))
	assert.True(t, strings.Contains(msg, "#BTCUSDT"))
	assert.True(t, strings.Contains(msg, "Force PnL"))
}
