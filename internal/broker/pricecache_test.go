package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCache_GetServesFreshHitWithoutCallingFetch(t *testing.T) {
	c := NewPriceCache(time.Minute)
	var calls int32
	fetch := func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]float64{"AAPL": 150}, nil
	}

	price, err := c.Get(context.Background(), 1, "AAPL", domain.PriceMid, fetch)
	require.NoError(t, err)
	assert.Equal(t, 150.0, price)

	price, err = c.Get(context.Background(), 1, "AAPL", domain.PriceMid, fetch)
	require.NoError(t, err)
	assert.Equal(t, 150.0, price)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPriceCache_ExpiredEntryTriggersRefetch(t *testing.T) {
	c := NewPriceCache(time.Millisecond)
	var calls int32
	fetch := func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]float64{"AAPL": 150}, nil
	}

	_, err := c.Get(context.Background(), 1, "AAPL", domain.PriceMid, fetch)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.Get(context.Background(), 1, "AAPL", domain.PriceMid, fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPriceCache_ConcurrentMissesOnSameKeyCallFetchOnce(t *testing.T) {
	c := NewPriceCache(time.Minute)
	var calls int32
	fetch := func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return map[string]float64{"AAPL": 150}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), 1, "AAPL", domain.PriceMid, fetch)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPriceCache_GetBulkPartitionsHitsAndMisses(t *testing.T) {
	c := NewPriceCache(time.Minute)
	_, err := c.Get(context.Background(), 1, "AAPL", domain.PriceMid, func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
		return map[string]float64{"AAPL": 150}, nil
	})
	require.NoError(t, err)

	var fetched []string
	prices, err := c.GetBulk(context.Background(), 1, []string{"AAPL", "MSFT"}, domain.PriceMid,
		func(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
			fetched = append(fetched, symbols...)
			return map[string]float64{"MSFT": 300}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 150.0, prices["AAPL"])
	assert.Equal(t, 300.0, prices["MSFT"])
	assert.Equal(t, []string{"MSFT"}, fetched)
}
