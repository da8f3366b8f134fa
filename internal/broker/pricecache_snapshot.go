package broker

import (
	"context"
	"strings"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshotRow is the msgpack-encoded payload stored per (account, symbol,
// price_type) cache key, used only to warm-start the cache after a restart;
// never a correctness dependency, since a miss always falls through to the
// provider.
type snapshotRow struct {
	Price     float64   `msgpack:"price"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// snapshotStore is the minimal persistence hook pricecache_snapshot needs;
// satisfied by *store.Store without importing it directly, keeping
// internal/broker's dependency on internal/store limited to what this file uses.
type snapshotStore interface {
	SavePriceCacheSnapshot(ctx context.Context, accountID int64, cacheKey string, payload []byte) error
	ListPriceCacheSnapshot(ctx context.Context, accountID int64) (map[string][]byte, error)
}

// SaveSnapshot msgpack-encodes every non-expired entry for accountID and
// persists it via store, so a warm restart does not start with a cold cache.
func (c *PriceCache) SaveSnapshot(ctx context.Context, store snapshotStore, accountID int64) error {
	c.mu.RLock()
	type kv struct {
		key   priceCacheKey
		entry priceCacheEntry
	}
	var rows []kv
	for k, e := range c.entries {
		if k.accountID == accountID {
			rows = append(rows, kv{k, e})
		}
	}
	c.mu.RUnlock()

	for _, r := range rows {
		payload, err := msgpack.Marshal(snapshotRow{Price: r.entry.price, FetchedAt: r.entry.fetchedAt})
		if err != nil {
			return err
		}
		cacheKey := string(r.key.priceType) + ":" + r.key.symbol
		if err := store.SavePriceCacheSnapshot(ctx, accountID, cacheKey, payload); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot restores entries for accountID from store. Stale entries
// (older than the cache's ttl) are skipped rather than loaded, since they
// would be treated as misses on first read anyway.
func (c *PriceCache) LoadSnapshot(ctx context.Context, store snapshotStore, accountID int64) error {
	rows, err := store.ListPriceCacheSnapshot(ctx, accountID)
	if err != nil {
		return err
	}
	for cacheKey, payload := range rows {
		priceType, symbol, ok := splitCacheKey(cacheKey)
		if !ok {
			continue
		}
		var row snapshotRow
		if err := msgpack.Unmarshal(payload, &row); err != nil {
			continue
		}
		if time.Since(row.FetchedAt) >= c.ttl {
			continue
		}
		key := priceCacheKey{accountID: accountID, symbol: symbol, priceType: domain.PriceType(priceType)}
		c.mu.Lock()
		c.entries[key] = priceCacheEntry{price: row.Price, fetchedAt: row.FetchedAt}
		c.mu.Unlock()
	}
	return nil
}

func splitCacheKey(cacheKey string) (priceType, symbol string, ok bool) {
	return strings.Cut(cacheKey, ":")
}
