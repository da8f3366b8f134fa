package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
)

// DefaultPriceCacheTime is the default freshness window for a cached quote.
const DefaultPriceCacheTime = 60 * time.Second

type priceCacheEntry struct {
	price     float64
	fetchedAt time.Time
}

type priceCacheKey struct {
	accountID int64
	symbol    string
	priceType domain.PriceType
}

// PriceCache is the process-wide quote cache. A single instance, created at
// startup, is shared by every Account.
type PriceCache struct {
	ttl time.Duration

	mu      sync.RWMutex // guards entries (the outer map)
	entries map[priceCacheKey]priceCacheEntry

	keyLocksMu sync.Mutex // guards keyLocks (O(1) insert/lookup only)
	keyLocks   map[priceCacheKey]*sync.Mutex
}

// NewPriceCache builds an empty cache with the given freshness window.
func NewPriceCache(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceCacheTime
	}
	return &PriceCache{
		ttl:      ttl,
		entries:  make(map[priceCacheKey]priceCacheEntry),
		keyLocks: make(map[priceCacheKey]*sync.Mutex),
	}
}

func (c *PriceCache) lockFor(key priceCacheKey) *sync.Mutex {
	c.keyLocksMu.Lock()
	defer c.keyLocksMu.Unlock()
	l, ok := c.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.keyLocks[key] = l
	}
	return l
}

func (c *PriceCache) get(key priceCacheKey) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetchedAt) >= c.ttl {
		return 0, false
	}
	return e.price, true
}

func (c *PriceCache) set(key priceCacheKey, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = priceCacheEntry{price: price, fetchedAt: time.Now()}
}

// fetchFn calls out to a provider for a batch of symbols of one price type.
type fetchFn func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error)

// Get returns a single symbol's price, serving a fresh cache hit without
// calling fetch, and serialising concurrent misses for the same
// (accountID, symbol, priceType) behind a per-key lock so only one provider
// call happens even when N callers race.
func (c *PriceCache) Get(ctx context.Context, accountID int64, symbol string, priceType domain.PriceType, fetch fetchFn) (float64, error) {
	prices, err := c.GetBulk(ctx, accountID, []string{symbol}, priceType, fetch)
	if err != nil {
		return 0, err
	}
	return prices[symbol], nil
}

// GetBulk partitions symbols into cache hits and misses, issues exactly one
// provider call for the misses, then merges the results back in.
func (c *PriceCache) GetBulk(ctx context.Context, accountID int64, symbols []string, priceType domain.PriceType, fetch fetchFn) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var misses []string

	for _, sym := range symbols {
		key := priceCacheKey{accountID: accountID, symbol: sym, priceType: priceType}
		if price, ok := c.get(key); ok {
			out[sym] = price
		} else {
			misses = append(misses, sym)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	// Serialise misses per-key: lock every missed key (in a stable order to
	// avoid deadlock), double-check under the lock, and only call the
	// provider for keys that are still missing once locked.
	sortedMisses := append([]string(nil), misses...)
	sort.Strings(sortedMisses)

	locks := make([]*sync.Mutex, 0, len(sortedMisses))
	for _, sym := range sortedMisses {
		l := c.lockFor(priceCacheKey{accountID: accountID, symbol: sym, priceType: priceType})
		l.Lock()
		locks = append(locks, l)
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	var stillMissing []string
	for _, sym := range sortedMisses {
		key := priceCacheKey{accountID: accountID, symbol: sym, priceType: priceType}
		if price, ok := c.get(key); ok {
			out[sym] = price
		} else {
			stillMissing = append(stillMissing, sym)
		}
	}

	if len(stillMissing) > 0 {
		fetched, err := fetch(ctx, stillMissing, priceType)
		if err != nil {
			return nil, err
		}
		for sym, price := range fetched {
			key := priceCacheKey{accountID: accountID, symbol: sym, priceType: priceType}
			c.set(key, price)
			out[sym] = price
		}
	}
	return out, nil
}
