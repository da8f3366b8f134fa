// Package broker implements the Broker Account abstraction:
// a uniform interface over heterogeneous brokers, a process-wide price
// cache, order submission with validation and TP/SL lifecycle management,
// and refresh/reconciliation against broker reality.
package broker

import (
	"context"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
)

// Account is the base implementation every concrete broker adapter composes
// with, supplying only the small hooks of domain.BrokerProvider; the bulk of
// the logic lives here.
type Account struct {
	Definition domain.AccountDefinition
	Provider   domain.BrokerProvider

	store *store.Store
	cache *PriceCache
	log   zerolog.Logger
}

// New builds an Account bound to definition, backed by provider for broker
// I/O, st for persistence, and the shared process-wide price cache.
func New(definition domain.AccountDefinition, provider domain.BrokerProvider, st *store.Store, cache *PriceCache, log zerolog.Logger) *Account {
	return &Account{
		Definition: definition,
		Provider:   provider,
		store:      st,
		cache:      cache,
		log:        log.With().Str("component", "broker").Int64("account_id", definition.ID).Logger(),
	}
}

// GetBalance returns the account's cash balance.
func (a *Account) GetBalance(ctx context.Context) (float64, error) {
	return a.Provider.GetBalance(ctx)
}

// GetAccountInfo returns the equity/cash/buying-power snapshot.
func (a *Account) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	return a.Provider.GetAccountInfo(ctx)
}

// GetPositions returns every open position at the broker.
func (a *Account) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	return a.Provider.GetPositions(ctx)
}

// GetOrders returns order snapshots, optionally filtered by status.
func (a *Account) GetOrders(ctx context.Context, status *domain.OrderStatus) ([]domain.BrokerOrderSnapshot, error) {
	return a.Provider.GetOrders(ctx, status)
}

// GetOrder returns one order snapshot by broker-assigned ID.
func (a *Account) GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrderSnapshot, error) {
	return a.Provider.GetOrder(ctx, brokerOrderID)
}

// SymbolsExist reports, per symbol, whether the broker can trade it.
func (a *Account) SymbolsExist(ctx context.Context, symbols []string) (map[string]bool, error) {
	return a.Provider.SymbolsExist(ctx, symbols)
}

// FilterSupportedSymbols returns the subset of symbols the broker supports.
func (a *Account) FilterSupportedSymbols(ctx context.Context, symbols []string) ([]string, error) {
	exist, err := a.SymbolsExist(ctx, symbols)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if exist[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetInstrumentCurrentPrice is the public, cached accessor over the price
// cache; see GetInstrumentCurrentPrices for the bulk form.
func (a *Account) GetInstrumentCurrentPrice(ctx context.Context, symbol string, priceType domain.PriceType) (float64, error) {
	return a.cache.Get(ctx, a.Definition.ID, symbol, priceType, a.fetchPrices)
}

// GetInstrumentCurrentPrices is the bulk cached accessor.
func (a *Account) GetInstrumentCurrentPrices(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
	return a.cache.GetBulk(ctx, a.Definition.ID, symbols, priceType, a.fetchPrices)
}

func (a *Account) fetchPrices(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
	return a.Provider.GetInstrumentCurrentPriceImpl(ctx, symbols, priceType)
}

// RefreshPositions is a thin passthrough used by the account-refresh job to
// reconcile broker-reported positions alongside RefreshOrders/RefreshTransactions.
func (a *Account) RefreshPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	positions, err := a.Provider.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh positions for account %d: %w", a.Definition.ID, err)
	}
	return positions, nil
}

func (a *Account) logActivity(ctx context.Context, severity domain.ActivitySeverity, typeTag, description string, expertID int64, data map[string]interface{}) {
	if _, err := a.store.LogActivity(ctx, domain.ActivityLog{
		Severity:    severity,
		Type:        typeTag,
		Description: description,
		Data:        data,
		AccountID:   a.Definition.ID,
		ExpertID:    expertID,
	}); err != nil {
		a.log.Error().Err(err).Str("type", typeTag).Msg("failed to write activity log entry")
	}
}
