package broker

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotProvider struct {
	fakeProvider
	snapshots map[string]domain.BrokerOrderSnapshot
}

func (p *snapshotProvider) GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrderSnapshot, error) {
	return p.snapshots[brokerOrderID], nil
}

func TestRefreshOrders_UpdatesStatusAndFillFromBrokerSnapshot(t *testing.T) {
	provider := &snapshotProvider{snapshots: map[string]domain.BrokerOrderSnapshot{
		"bro-1": {Status: domain.OrderFilled, FilledQuantity: 10, AverageFillPrice: 101.5},
	}}
	acc, st := newTestAccount(t, provider)
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxWaiting})
	require.NoError(t, err)
	order, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, Status: domain.OrderSubmitted, BrokerOrderID: "bro-1", GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	require.NoError(t, acc.RefreshOrders(ctx))

	refreshed, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, refreshed.Status)
	assert.Equal(t, 10.0, refreshed.FilledQuantity)
	assert.Equal(t, 101.5, refreshed.OpenPrice)
}

func TestRefreshOrders_NeverOverwritesAlreadyTerminalOrder(t *testing.T) {
	provider := &snapshotProvider{snapshots: map[string]domain.BrokerOrderSnapshot{
		"bro-1": {Status: domain.OrderFilled, FilledQuantity: 10},
	}}
	acc, st := newTestAccount(t, provider)
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxWaiting})
	require.NoError(t, err)
	order, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, Status: domain.OrderCanceled, BrokerOrderID: "bro-1", GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	require.NoError(t, acc.RefreshOrders(ctx))

	refreshed, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCanceled, refreshed.Status)
}

func TestRefreshTransactions_ClosesOnBalancedBuySellFill(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxOpened})
	require.NoError(t, err)
	_, err = st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, FilledQuantity: 10, OpenPrice: 100, Status: domain.OrderFilled, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)
	_, err = st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeLimitSell,
		Quantity: 10, FilledQuantity: 10, OpenPrice: 112, Status: domain.OrderFilled, GoodFor: domain.GoodForGTC,
		Comment: "closing",
	})
	require.NoError(t, err)

	require.NoError(t, acc.RefreshTransactions(ctx))

	closed, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxClosed, closed.Status)
	assert.NotEmpty(t, closed.CloseReason)
}

func TestRefreshTransactions_SkipsAlreadyClosedTransaction(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxClosed, CloseReason: "manual_close"})
	require.NoError(t, err)

	require.NoError(t, acc.RefreshTransactions(ctx))

	after, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual_close", after.CloseReason)
}
