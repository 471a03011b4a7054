package trader

import (
	"sort"
	"sync"
)

// Registry is the single source of truth for live trades, one entry per
// symbol. The map is owned by the registry and never escapes: callers read
// copies and mutate through Update, so every decide-then-write sequence
// happens under one lock acquisition.
type Registry struct {
	mu     sync.Mutex
	trades map[string]*Trade
}

// NewRegistry creates an empty trade registry.
func NewRegistry() *Registry {
	return &Registry{trades: make(map[string]*Trade)}
}

// Get returns a copy of the trade for the symbol.
func (r *Registry) Get(symbol string) (Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trades[symbol]
	if !ok {
		return Trade{}, false
	}
	return *t, true
}

// Claim installs the provisional trade unless a live trade already exists for
// the symbol. The existence check and the write share one lock acquisition,
// which is what serializes two near-simultaneous signals for the same symbol.
func (r *Registry) Claim(t *Trade) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.trades[t.Symbol]; ok && existing.IsLive() {
		return false
	}
	copied := *t
	r.trades[t.Symbol] = &copied
	return true
}

// Update runs fn on the live trade under the registry lock. fn must not
// block or perform I/O. Returns false if no trade exists for the symbol.
func (r *Registry) Update(symbol string, fn func(*Trade)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trades[symbol]
	if !ok {
		return false
	}
	fn(t)
	return true
}

// Remove deletes the trade for the symbol, returning a copy of what was removed.
func (r *Registry) Remove(symbol string) (Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trades[symbol]
	if !ok {
		return Trade{}, false
	}
	delete(r.trades, symbol)
	return *t, true
}

// RemoveMatching deletes the trade only while it still carries the given
// order ID. A worker that keyed itself to an order it submitted earlier must
// use this instead of Remove, or it could evict a successor trade that has
// since claimed the symbol.
func (r *Registry) RemoveMatching(symbol, orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trades[symbol]
	if !ok || t.OrderID != orderID {
		return false
	}
	delete(r.trades, symbol)
	return true
}

// TryStartMonitor flips the monitor-running flag for the symbol. It returns
// true only for the caller that wins, making monitor startup idempotent.
func (r *Registry) TryStartMonitor(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trades[symbol]
	if !ok || t.MonitorRunning || !t.IsLive() {
		return false
	}
	t.MonitorRunning = true
	return true
}

// Snapshot returns copies of all trades.
func (r *Registry) Snapshot() []Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Trade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, *t)
	}
	return out
}

// LiveCount returns the number of trades that are not closed.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.trades {
		if t.IsLive() {
			n++
		}
	}
	return n
}

// EvictClosed removes all closed trades and returns copies of them,
// most recently entered last. Used by the daily summary after reporting.
func (r *Registry) EvictClosed() []Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Trade
	for symbol, t := range r.trades {
		if !t.IsLive() {
			evicted = append(evicted, *t)
			delete(r.trades, symbol)
		}
	}
	sort.Slice(evicted, func(i, j int) bool {
		return evicted[i].EntryTime.Before(evicted[j].EntryTime)
	})
	return evicted
}
