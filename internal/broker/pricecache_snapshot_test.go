package broker

import (
	"context"
	"testing"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSnapshotStore struct {
	rows map[string][]byte
}

func newMemSnapshotStore() *memSnapshotStore { return &memSnapshotStore{rows: map[string][]byte{}} }

func (m *memSnapshotStore) SavePriceCacheSnapshot(ctx context.Context, accountID int64, cacheKey string, payload []byte) error {
	m.rows[cacheKey] = payload
	return nil
}
func (m *memSnapshotStore) ListPriceCacheSnapshot(ctx context.Context, accountID int64) (map[string][]byte, error) {
	return m.rows, nil
}

func TestPriceCache_SaveAndLoadSnapshotRoundTrips(t *testing.T) {
	c := NewPriceCache(time.Minute)
	_, err := c.Get(context.Background(), 1, "AAPL", domain.PriceMid, func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
		return map[string]float64{"AAPL": 150}, nil
	})
	require.NoError(t, err)

	mem := newMemSnapshotStore()
	require.NoError(t, c.SaveSnapshot(context.Background(), mem, 1))
	assert.NotEmpty(t, mem.rows)

	restored := NewPriceCache(time.Minute)
	require.NoError(t, restored.LoadSnapshot(context.Background(), mem, 1))

	price, err := restored.Get(context.Background(), 1, "AAPL", domain.PriceMid, func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
		t.Fatal("fetch should not be called: snapshot restore should have warmed the cache")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 150.0, price)
}

func TestSplitCacheKey_ParsesPriceTypeAndSymbol(t *testing.T) {
	priceType, symbol, ok := splitCacheKey("mid:AAPL")
	require.True(t, ok)
	assert.Equal(t, "mid", priceType)
	assert.Equal(t, "AAPL", symbol)
}

func TestSplitCacheKey_MissingColonIsNotOK(t *testing.T) {
	_, _, ok := splitCacheKey("nocolonhere")
	assert.False(t, ok)
}
