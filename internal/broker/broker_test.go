package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a hand-stubbed domain.BrokerProvider double: it echoes
// whatever SubmitOrderImpl is given, marking it SUBMITTED, and reports every
// symbol as tradeable. Tests override individual fields to exercise specific
// branches (e.g. a TP/SL modify-in-place hook, or a submit failure).
type fakeProvider struct {
	submitErr       error
	updateTPOK      bool
	updateSLOK      bool
	cancelErr       error
	accountInfo     domain.AccountInfo
	submittedOrders []domain.TradingOrder
}

func (f *fakeProvider) SubmitOrderImpl(ctx context.Context, order domain.TradingOrder) (domain.TradingOrder, error) {
	if f.submitErr != nil {
		return domain.TradingOrder{}, f.submitErr
	}
	order.BrokerOrderID = "bro-1"
	order.Status = domain.OrderSubmitted
	f.submittedOrders = append(f.submittedOrders, order)
	return order, nil
}
func (f *fakeProvider) SetOrderTPImpl(ctx context.Context, order domain.TradingOrder, price float64) error {
	return nil
}
func (f *fakeProvider) SetOrderSLImpl(ctx context.Context, order domain.TradingOrder, price float64) error {
	return nil
}
func (f *fakeProvider) SetOrderTPSLImpl(ctx context.Context, order domain.TradingOrder, tp, sl float64) (bool, error) {
	return false, nil
}
func (f *fakeProvider) UpdateBrokerTPOrder(ctx context.Context, order domain.TradingOrder, newPrice float64) (bool, error) {
	return f.updateTPOK, nil
}
func (f *fakeProvider) UpdateBrokerSLOrder(ctx context.Context, order domain.TradingOrder, newPrice float64) (bool, error) {
	return f.updateSLOK, nil
}
func (f *fakeProvider) ReplaceOrderWithStopLimit(ctx context.Context, existing domain.TradingOrder, tp, sl float64) (domain.TradingOrder, bool, error) {
	return domain.TradingOrder{}, false, nil
}
func (f *fakeProvider) GetInstrumentCurrentPriceImpl(ctx context.Context, symbols []string, priceType domain.PriceType) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = 100
	}
	return out, nil
}
func (f *fakeProvider) SymbolsExist(ctx context.Context, symbols []string) (map[string]bool, error) {
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[s] = true
	}
	return out, nil
}
func (f *fakeProvider) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return f.cancelErr
}
func (f *fakeProvider) ModifyOrder(ctx context.Context, brokerOrderID string, limitPrice, stopPrice *float64) error {
	return nil
}
func (f *fakeProvider) GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrderSnapshot, error) {
	return domain.BrokerOrderSnapshot{}, nil
}
func (f *fakeProvider) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	return nil, nil
}
func (f *fakeProvider) GetOrders(ctx context.Context, status *domain.OrderStatus) ([]domain.BrokerOrderSnapshot, error) {
	return nil, nil
}
func (f *fakeProvider) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	if f.accountInfo.Equity == 0 {
		return domain.AccountInfo{Equity: 100000, Cash: 100000, BuyingPower: 100000}, nil
	}
	return f.accountInfo, nil
}
func (f *fakeProvider) GetBalance(ctx context.Context) (float64, error) { return 100000, nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), Profile: store.ProfileStandard, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return store.New(db)
}

func newTestAccount(t *testing.T, provider domain.BrokerProvider) (*Account, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	cache := NewPriceCache(time.Minute)
	acc := New(domain.AccountDefinition{ID: 1, Provider: "fake", Name: "test"}, provider, st, cache, zerolog.Nop())
	return acc, st
}

func TestSubmitOrder_MarketOrderOpensNewTransaction(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	order, err := acc.SubmitOrder(ctx, SubmitRequest{
		Order: domain.TradingOrder{
			Symbol:   "AAPL",
			Side:     domain.SideBuy,
			Type:     domain.OrderTypeMarket,
			Quantity: 10,
			GoodFor:  domain.GoodForGTC,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, order.Status)
	assert.NotZero(t, order.TransactionID)
	assert.True(t, validateComment(order.Comment))

	tx, err := st.GetTransaction(ctx, order.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", tx.Symbol)
}

func TestSubmitOrder_NonMarketWithoutTransactionIsRejected(t *testing.T) {
	acc, _ := newTestAccount(t, &fakeProvider{})
	_, err := acc.SubmitOrder(context.Background(), SubmitRequest{
		Order: domain.TradingOrder{
			Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimitBuy,
			Quantity: 1, LimitPrice: 100, GoodFor: domain.GoodForGTC,
		},
	})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitOrder_InvalidOrderFailsValidationBeforeAnyPersistence(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()
	_, err := acc.SubmitOrder(ctx, SubmitRequest{Order: domain.TradingOrder{Quantity: -1}})
	assert.Error(t, err)

	orders, listErr := st.NonTerminalOrdersForAccount(ctx, 1)
	require.NoError(t, listErr)
	assert.Empty(t, orders)
}

func TestSubmitOrder_BrokerFailureMarksOrderError(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{submitErr: assertErr{}})
	ctx := context.Background()

	order, err := acc.SubmitOrder(ctx, SubmitRequest{
		Order: domain.TradingOrder{Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1, GoodFor: domain.GoodForGTC},
	})
	assert.Error(t, err)
	assert.Equal(t, domain.OrderError, order.Status)

	persisted, getErr := st.GetOrder(ctx, order.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.OrderError, persisted.Status)
}

type assertErr struct{}

func (assertErr) Error() string { return "broker rejected order" }

func TestAdjustTP_LongPositionEnforcesMinimumAboveOpenPrice(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxOpened})
	require.NoError(t, err)
	_, err = st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Quantity: 10, Status: domain.OrderFilled, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	// Requesting 100.5 (0.5%) must be floored up to the 3% default minimum.
	order, err := acc.AdjustTP(ctx, tx.ID, 100.5)
	require.NoError(t, err)
	assert.InDelta(t, 103.0, order.LimitPrice, 1e-6)
}

func TestAdjustTP_IsIdempotentWhenPriceAlreadyMatches(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxOpened})
	require.NoError(t, err)
	_, err = st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Quantity: 10, Status: domain.OrderFilled, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	first, err := acc.AdjustTP(ctx, tx.ID, 110)
	require.NoError(t, err)
	second, err := acc.AdjustTP(ctx, tx.ID, 110)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAdjustTP_NewLegWaitsForTriggerWhenEntryNotYetFilled(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxWaiting})
	require.NoError(t, err)
	entry, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Quantity: 10, Status: domain.OrderPending, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	order, err := acc.AdjustTP(ctx, tx.ID, 110)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderWaitingTrigger, order.Status)
	assert.Equal(t, entry.ID, order.DependsOnOrder)
}

func TestResolveDependentOrders_SubmitsWaitingLegWhenParentFills(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxOpened})
	require.NoError(t, err)
	entry, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Quantity: 10, Status: domain.OrderFilled, OpenPrice: 100, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)
	waiting, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideSell,
		Type: domain.OrderTypeLimitSell, Quantity: 10, LimitPrice: 110, GoodFor: domain.GoodForGTC,
		Status: domain.OrderWaitingTrigger, DependsOnOrder: entry.ID, DependsOrderStatusTrigger: domain.OrderFilled,
	})
	require.NoError(t, err)

	require.NoError(t, acc.ResolveDependentOrders(ctx))

	resolved, err := st.GetOrder(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, resolved.Status)
}

func TestResolveDependentOrders_CancelsWaitingLegWhenParentTerminatesWithoutFilling(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxWaiting})
	require.NoError(t, err)
	entry, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Quantity: 10, Status: domain.OrderCanceled, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)
	waiting, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideSell,
		Type: domain.OrderTypeLimitSell, Quantity: 10, LimitPrice: 110, GoodFor: domain.GoodForGTC,
		Status: domain.OrderWaitingTrigger, DependsOnOrder: entry.ID, DependsOrderStatusTrigger: domain.OrderFilled,
	})
	require.NoError(t, err)

	require.NoError(t, acc.ResolveDependentOrders(ctx))

	resolved, err := st.GetOrder(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCanceled, resolved.Status)
}

func TestCheckPositionSizeCap_RejectsOrderExceedingNotionalCap(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{accountInfo: domain.AccountInfo{Equity: 10000, Cash: 10000, BuyingPower: 10000}})
	ctx := context.Background()

	_, err := st.AddAccount(ctx, domain.AccountDefinition{Provider: "fake", Name: "test"})
	require.NoError(t, err)
	expert, err := st.AddExpertInstance(ctx, domain.ExpertInstance{ExpertClassTag: "x", AccountID: 1, VirtualEquityPercent: 100, Enabled: true})
	require.NoError(t, err)
	require.NoError(t, st.PutSetting(ctx, domain.Setting{
		OwnerKind: domain.OwnerExpert, OwnerID: expert.ID, Key: SettingMaxVirtualEquityPerInstrumentPercent,
		ValueType: domain.SettingFloat, RawValue: "10",
	}))

	_, err = acc.SubmitOrder(ctx, SubmitRequest{
		ExpertInstanceID: expert.ID,
		Order: domain.TradingOrder{
			Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
			Quantity: 100, LimitPrice: 100, GoodFor: domain.GoodForGTC,
		},
	})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestValidateComment_RejectsOverLengthAndMalformedPrefix(t *testing.T) {
	assert.False(t, validateComment("no tracking prefix at all"))
	ok := stampComment(1, 2, "3", "4", "hello")
	assert.True(t, validateComment(ok))
}
