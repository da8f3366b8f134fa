package broker

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseTransaction_SubmitsOppositeOrderForFilledEntry(t *testing.T) {
	provider := &fakeProvider{}
	acc, st := newTestAccount(t, provider)
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxOpened})
	require.NoError(t, err)
	_, err = st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, Status: domain.OrderFilled, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	require.NoError(t, acc.CloseTransaction(ctx, tx.ID))

	orders, err := st.OrdersForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	var foundClosing bool
	for _, o := range orders {
		if o.Side == domain.SideSell && o.Type == domain.OrderTypeMarket {
			foundClosing = true
			assert.Equal(t, domain.OrderSubmitted, o.Status)
		}
	}
	assert.True(t, foundClosing)
}

func TestCloseTransaction_AlreadyClosedIsNoOp(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxClosed, CloseReason: "already_done"})
	require.NoError(t, err)

	require.NoError(t, acc.CloseTransaction(ctx, tx.ID))

	after, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "already_done", after.CloseReason)
}

func TestCloseTransaction_CancelsUnsentPendingOrder(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxWaiting})
	require.NoError(t, err)
	pending, err := st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimitBuy,
		Quantity: 10, LimitPrice: 90, Status: domain.OrderPending, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	require.NoError(t, acc.CloseTransaction(ctx, tx.ID))

	closedOrder, err := st.GetOrder(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderClosed, closedOrder.Status)

	closed, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxClosed, closed.Status)
	assert.Equal(t, "manual_close", closed.CloseReason)
}
