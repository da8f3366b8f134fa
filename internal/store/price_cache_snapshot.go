package store

import "context"

// SavePriceCacheSnapshot upserts one msgpack-encoded price cache entry
// (internal/broker/pricecache_snapshot.go's warm-restart aid).
func (s *Store) SavePriceCacheSnapshot(ctx context.Context, accountID int64, cacheKey string, payload []byte) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO price_cache_snapshot (account_id, cache_key, payload, saved_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(account_id, cache_key) DO UPDATE SET payload=excluded.payload, saved_at=excluded.saved_at`,
		accountID, cacheKey, payload)
	return err
}

// ListPriceCacheSnapshot returns every cache_key -> payload pair saved for accountID.
func (s *Store) ListPriceCacheSnapshot(ctx context.Context, accountID int64) (map[string][]byte, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT cache_key, payload FROM price_cache_snapshot WHERE account_id=?`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		out[key] = payload
	}
	return out, rows.Err()
}
