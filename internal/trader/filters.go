package trader

import (
	"fmt"
	"math"
	"sync"

	"binance-futures-bot-go/internal/binance"
	"go.uber.org/zap"
)

// FilterCache memoizes per-symbol trading rules (tick size, lot step, minimum
// quantity) so repeated quantizations don't hit the exchangeInfo endpoint.
// Entries are append-only; the cache has its own lock, separate from the
// trade registry, because filter lookups happen on hot monitoring paths.
type FilterCache struct {
	mu      sync.RWMutex
	client  binance.FuturesClientInterface
	logger  *zap.Logger
	filters map[string]binance.SymbolFilters
}

// NewFilterCache creates an empty filter cache backed by the given client.
func NewFilterCache(client binance.FuturesClientInterface, logger *zap.Logger) *FilterCache {
	return &FilterCache{
		client:  client,
		logger:  logger,
		filters: make(map[string]binance.SymbolFilters),
	}
}

// Get returns the trading rules for the symbol, fetching them on first use.
func (c *FilterCache) Get(symbol string) (binance.SymbolFilters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	fetched, err := c.client.GetSymbolFilters(symbol)
	if err != nil {
		return binance.SymbolFilters{}, fmt.Errorf("could not get filters for %s: %w", symbol, err)
	}

	c.mu.Lock()
	// Another goroutine may have raced us here; last write wins, the values
	// are identical either way.
	c.filters[symbol] = *fetched
	c.mu.Unlock()

	c.logger.Info("Cached symbol filters",
		zap.String("symbol", symbol),
		zap.Float64("tick_size", fetched.TickSize),
		zap.Float64("step_size", fetched.StepSize),
		zap.Float64("min_qty", fetched.MinQty),
	)
	return *fetched, nil
}

// QuantizeQuantity floors the quantity to the symbol's lot step and raises it
// to the minimum order size if needed.
func (c *FilterCache) QuantizeQuantity(symbol string, qty float64) (float64, error) {
	f, err := c.Get(symbol)
	if err != nil {
		return 0, err
	}
	return quantizeToStep(qty, f.StepSize, f.MinQty), nil
}

// RoundToTick rounds the price to the symbol's nearest tick.
func (c *FilterCache) RoundToTick(symbol string, price float64) (float64, error) {
	f, err := c.Get(symbol)
	if err != nil {
		return 0, err
	}
	return roundToTick(price, f.TickSize), nil
}

// quantizeToStep floors qty to a multiple of step, never below minQty.
func quantizeToStep(qty, step, minQty float64) float64 {
	if step > 0 {
		// The nudge keeps an exact multiple of step from flooring one step
		// short on binary representation drift.
		qty = math.Floor(qty/step+1e-9) * step
	}
	if qty < minQty {
		qty = minQty
	}
	// Guard against float drift like 0.016999999999 after the division.
	return math.Round(qty*1e8) / 1e8
}

// roundToTick rounds price to the nearest multiple of tick.
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	rounded := math.Round(price/tick) * tick
	return math.Round(rounded*1e8) / 1e8
}
