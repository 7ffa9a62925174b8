package pricing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// RefPriceCache keeps the last-known reference price per instrument for
// mark-to-market valuation. With no market data feed attached, the position
// ledger feeds it last trade rates; that is an approximation and callers that
// need exact marks should supply their own reference prices instead.
type RefPriceCache struct {
	mu      sync.Mutex
	quotes  map[string]quote
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRefPriceCache builds a cache whose quotes go stale after ttl. A zero ttl
// keeps quotes forever.
func NewRefPriceCache(ttl time.Duration) *RefPriceCache {
	return &RefPriceCache{
		quotes:  make(map[string]quote),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Set records the latest reference price for an instrument.
func (c *RefPriceCache) Set(instrumentID string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[instrumentID] = quote{price: price, at: c.nowFunc()}
}

// Get returns the cached price, reporting false when absent or stale.
func (c *RefPriceCache) Get(instrumentID string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[instrumentID]
	if !ok {
		return decimal.Zero, false
	}
	if c.ttl > 0 && c.nowFunc().Sub(q.at) >= c.ttl {
		return decimal.Zero, false
	}
	return q.price, true
}
