// Package cache memoizes simulation results in process
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/deltran/corridorsim/internal/validation"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// DefaultTTL is used when the configured TTL is zero
const DefaultTTL = 10 * time.Minute

// Stats counts lookups since the cache was created
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Items  int    `json:"items"`
}

// ResultCache caches simulations keyed by corridor, method, charge bearer and
// amount. Cached results are shared; callers must not modify them.
type ResultCache struct {
	items    *cache.Cache
	simulate func(*types.Corridor, types.SettlementMethod, decimal.Decimal, types.ChargeBearer) (*simulation.Result, error)
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewResultCache creates a cache whose entries expire after ttl
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{
		items:    cache.New(ttl, 2*ttl),
		simulate: simulation.SimulateCorridor,
	}
}

// Key builds the cache key. Amounts are normalized so that 100 and 100.00
// share an entry.
func Key(corridorID string, method types.SettlementMethod, bearer types.ChargeBearer, amount decimal.Decimal) string {
	return fmt.Sprintf("sim:%s:%s:%s:%s", corridorID, method, bearer, amount.String())
}

// Simulate returns the cached result or runs the simulation. Failed
// simulations are not cached. It has the shape of session.SimulateFunc.
func (c *ResultCache) Simulate(corridor *types.Corridor, method types.SettlementMethod, amount decimal.Decimal, bearer types.ChargeBearer) (*simulation.Result, error) {
	// Checked before the amount becomes part of a key
	if err := validation.ValidateAmount(amount, corridor.SourceCurrency); err != nil {
		return nil, err
	}

	key := Key(corridor.ID, method, bearer, amount)
	if cached, found := c.items.Get(key); found {
		c.hits.Add(1)
		return cached.(*simulation.Result), nil
	}
	c.misses.Add(1)

	result, err := c.simulate(corridor, method, amount, bearer)
	if err != nil {
		return nil, err
	}
	c.items.Set(key, result, cache.DefaultExpiration)
	return result, nil
}

// Stats returns the lookup counters and the current item count
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Items:  c.items.ItemCount(),
	}
}

// Flush drops every cached result
func (c *ResultCache) Flush() {
	c.items.Flush()
}
