package trader

import (
	"math"

	"binance-futures-bot-go/internal/config"
)

// trailProfitCeiling is the profit percentage at which the interpolated
// offset reaches its high bound.
const trailProfitCeiling = 10.0

// TrailingEngine computes the adaptive trailing stop for an open trade.
// It is a pure evaluator: Evaluate mutates only the given Trade and performs
// no I/O, so it is safe to run while holding the registry lock.
type TrailingEngine struct {
	cfg config.Trailing
}

// NewTrailingEngine creates a trailing-stop engine with the given parameters.
func NewTrailingEngine(cfg config.Trailing) *TrailingEngine {
	return &TrailingEngine{cfg: cfg}
}

// TrailOutcome describes what one evaluation tick did.
type TrailOutcome struct {
	// Activated is true exactly once per trade, on the tick where profit
	// first crosses the activation threshold.
	Activated bool
	// StopMoved is true when the stored stop was tightened this tick.
	StopMoved bool
	// StopPrice is the current stop after evaluation, 0 if none is set.
	StopPrice float64
	// StopHit is true when the current price has crossed the stop and the
	// position must be closed.
	StopHit bool
}

// Evaluate runs one trailing tick for the trade at the given price.
// tick is the symbol's minimum price increment.
func (e *TrailingEngine) Evaluate(t *Trade, price, tick float64) TrailOutcome {
	var out TrailOutcome

	profit := t.ProfitPercent(price)

	if !t.TrailActive {
		if profit < e.cfg.ActivationPct {
			return out
		}
		t.TrailActive = true
		if !t.TrailNotified {
			t.TrailNotified = true
			out.Activated = true
		}
	}

	// Track the best price seen since entry, favorable direction only.
	if t.Side == SideLong {
		if price > t.Peak {
			t.Peak = price
		}
	} else {
		if price < t.Trough {
			t.Trough = price
		}
	}

	offset := e.dynamicOffset(profit)

	var candidate float64
	if t.Side == SideLong {
		candidate = t.Peak * (1 - offset/100)
	} else {
		candidate = t.Trough * (1 + offset/100)
	}
	candidate = roundToTick(candidate, tick)

	if e.acceptCandidate(t, candidate, tick) {
		t.StopPrice = candidate
		t.HasStop = true
		out.StopMoved = true
	}

	if t.HasStop {
		out.StopPrice = t.StopPrice
		if t.Side == SideLong && price <= t.StopPrice {
			out.StopHit = true
		}
		if t.Side == SideShort && price >= t.StopPrice {
			out.StopHit = true
		}
	}

	return out
}

// acceptCandidate applies hysteresis and monotonic tightening to a rounded
// stop candidate.
func (e *TrailingEngine) acceptCandidate(t *Trade, candidate, tick float64) bool {
	if !t.HasStop {
		return true
	}

	// Hysteresis: ignore sub-threshold churn around the existing stop.
	minMove := math.Max(tick*e.cfg.HysteresisMult, tick)
	if math.Abs(candidate-t.StopPrice) < minMove {
		return false
	}

	// A stop only ever tightens.
	if t.Side == SideLong {
		return candidate > t.StopPrice
	}
	return candidate < t.StopPrice
}

// dynamicOffset interpolates the stop offset linearly between the low and
// high bounds over the profit domain [activation, trailProfitCeiling],
// clamped at both ends.
func (e *TrailingEngine) dynamicOffset(profit float64) float64 {
	low := e.cfg.LowOffsetPct
	high := e.cfg.HighOffsetPct
	span := trailProfitCeiling - e.cfg.ActivationPct
	if span <= 0 {
		return high
	}

	frac := (profit - e.cfg.ActivationPct) / span
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return low + (high-low)*frac
}
