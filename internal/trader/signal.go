package trader

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is the intended state transition carried by a signal.
type Action string

const (
	ActionOpenLong       Action = "OPEN_LONG"
	ActionOpenShort      Action = "OPEN_SHORT"
	ActionCloseLong      Action = "CLOSE_LONG"
	ActionCloseShort     Action = "CLOSE_SHORT"
	ActionReverseToLong  Action = "REVERSE_TO_LONG"
	ActionReverseToShort Action = "REVERSE_TO_SHORT"
)

// Signal is one parsed alert from the upstream charting platform.
type Signal struct {
	Symbol   string
	Action   Action
	Price    float64
	Interval string
}

// Side returns the direction the signal wants to end up in.
func (s *Signal) Side() Side {
	switch s.Action {
	case ActionOpenLong, ActionCloseLong, ActionReverseToLong:
		return SideLong
	default:
		return SideShort
	}
}

// commentActions maps the alert comment vocabulary to actions. The upstream
// alerts use entry/exit comments; CROSS_ variants signal a reversal crossover.
var commentActions = map[string]Action{
	"BUY_ENTRY":        ActionOpenLong,
	"SELL_ENTRY":       ActionOpenShort,
	"EXIT_LONG":        ActionCloseLong,
	"EXIT_SHORT":       ActionCloseShort,
	"CROSS_EXIT_LONG":  ActionReverseToShort,
	"CROSS_EXIT_SHORT": ActionReverseToLong,
}

// ParseSignal parses a pipe-delimited webhook payload:
//
//	ticker|comment|close|high|low|interval
//
// A short form with only ticker, comment, close and interval is tolerated.
// The bar high/low fields are accepted but unused.
func ParseSignal(payload string) (*Signal, error) {
	parts := strings.Split(payload, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) < 4 {
		return nil, fmt.Errorf("malformed signal: expected at least 4 fields, got %d", len(parts))
	}

	ticker := parts[0]
	comment := strings.ToUpper(parts[1])
	closeStr := parts[2]
	interval := parts[len(parts)-1]

	action, ok := commentActions[comment]
	if !ok {
		return nil, fmt.Errorf("unknown signal comment %q", comment)
	}

	price, err := strconv.ParseFloat(closeStr, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("invalid signal price %q", closeStr)
	}

	if _, err := ParseInterval(interval); err != nil {
		return nil, fmt.Errorf("invalid signal interval %q", interval)
	}

	return &Signal{
		Symbol:   NormalizeSymbol(ticker),
		Action:   action,
		Price:    price,
		Interval: interval,
	}, nil
}

// NormalizeSymbol maps a chart ticker onto the USDT-margined futures symbol,
// e.g. "btcusdt", "BTC" and "BTCUSDT.P" all become "BTCUSDT".
func NormalizeSymbol(ticker string) string {
	s := strings.ToUpper(strings.TrimSpace(ticker))
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "USDT")
	return s + "USDT"
}
