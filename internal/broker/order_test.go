package broker

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOrder_AppendingToExistingTransactionRecalculatesQuantity(t *testing.T) {
	acc, st := newTestAccount(t, &fakeProvider{})
	ctx := context.Background()

	tx, err := st.AddTransaction(ctx, domain.Transaction{Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, OpenPrice: 100, Status: domain.TxOpened})
	require.NoError(t, err)
	_, err = st.AddOrder(ctx, domain.TradingOrder{
		AccountID: 1, TransactionID: tx.ID, Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Quantity: 10, Status: domain.OrderFilled, GoodFor: domain.GoodForGTC,
	})
	require.NoError(t, err)

	_, err = acc.SubmitOrder(ctx, SubmitRequest{
		Order: domain.TradingOrder{
			Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
			Quantity: 5, TransactionID: tx.ID, GoodFor: domain.GoodForGTC,
		},
	})
	require.NoError(t, err)

	updated, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, updated.Quantity)
}

func TestSubmitOrder_ReferencingUnknownTransactionFails(t *testing.T) {
	acc, _ := newTestAccount(t, &fakeProvider{})
	_, err := acc.SubmitOrder(context.Background(), SubmitRequest{
		Order: domain.TradingOrder{
			Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
			Quantity: 5, TransactionID: 9999, GoodFor: domain.GoodForGTC,
		},
	})
	assert.Error(t, err)
}
