package models

import "gorm.io/gorm"

// TradeRecord represents a closed trade in the history database.
// Live trades are held in memory only; a row is appended when a position
// is fully closed and reported.
type TradeRecord struct {
	gorm.Model
	Symbol     string  `json:"symbol" gorm:"index"`
	Side       string  `json:"side"` // "LONG" or "SHORT"
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnl_percent"`
	Reason     string  `json:"reason"` // close reason tag, e.g. TRAIL_CLOSE
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
}
