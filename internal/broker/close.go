package broker

import (
	"context"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

// CloseTransaction closes a transaction synchronously: cancel every live
// order, submit an opposite-side closing order if one doesn't already exist,
// and close the transaction once every order has reached a terminal state.
func (a *Account) CloseTransaction(ctx context.Context, transactionID int64) error {
	tx, err := a.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status == domain.TxClosed {
		return nil
	}

	tx.Status = domain.TxClosing
	if err := a.store.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("mark transaction %d closing: %w", transactionID, err)
	}

	orders, err := a.store.OrdersForTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	var closingOrder *domain.TradingOrder
	var anyFilledEntry bool
	allTerminal := true

	for i := range orders {
		o := &orders[i]
		if o.Side != tx.Side && containsClosing(o.Comment) && o.Type == domain.OrderTypeMarket {
			closingOrder = o
		}
		if o.IsEntryOrder() && o.Status == domain.OrderFilled {
			anyFilledEntry = true
		}

		switch {
		case o.Status == domain.OrderPending || o.Status == domain.OrderWaitingTrigger:
			o.Status = domain.OrderClosed
			if err := a.store.UpdateOrder(ctx, *o); err != nil {
				return fmt.Errorf("close unsent order %d: %w", o.ID, err)
			}
		case !o.Status.Terminal():
			if o.BrokerOrderID != "" {
				if err := a.Provider.CancelOrder(ctx, o.BrokerOrderID); err != nil {
					a.log.Error().Err(err).Int64("order_id", o.ID).Msg("failed to cancel live order during close")
					allTerminal = false
					continue
				}
			}
			o.Status = domain.OrderCanceled
			if err := a.store.UpdateOrder(ctx, *o); err != nil {
				return fmt.Errorf("persist canceled order %d: %w", o.ID, err)
			}
		}

		if !o.Status.Terminal() {
			allTerminal = false
		}
	}

	if closingOrder != nil && closingOrder.Status == domain.OrderError {
		stillOpen, err := a.positionStillOpen(ctx, tx.Symbol)
		if err != nil {
			return err
		}
		if !stillOpen {
			closingOrder.Status = domain.OrderCanceled
			if err := a.store.UpdateOrder(ctx, *closingOrder); err != nil {
				return err
			}
			tx.Status = domain.TxClosed
			tx.CloseReason = "position_not_at_broker"
			return a.store.UpdateTransaction(ctx, tx)
		}
		if _, err := a.submitToBroker(ctx, *closingOrder); err != nil {
			return err
		}
		allTerminal = false
	} else if closingOrder == nil && anyFilledEntry {
		closing, err := a.SubmitOrder(ctx, SubmitRequest{
			Order: domain.TradingOrder{
				Symbol:        tx.Symbol,
				Side:          tx.Side.Opposite(),
				Type:          domain.OrderTypeMarket,
				Quantity:      tx.Quantity,
				TransactionID: tx.ID,
				GoodFor:       domain.GoodForGTC,
				Comment:       "closing",
			},
			ExpertInstanceID: tx.ExpertInstanceID,
			IsClosingOrder:   true,
		})
		if err != nil {
			return fmt.Errorf("submit closing order for transaction %d: %w", transactionID, err)
		}
		_ = closing
		allTerminal = false
	}

	if allTerminal {
		tx.Status = domain.TxClosed
		tx.CloseReason = "manual_close"
		if err := a.store.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		a.logActivity(ctx, domain.SeverityInfo, "transaction_closed",
			fmt.Sprintf("transaction %d closed: manual_close", transactionID), tx.ExpertInstanceID,
			map[string]interface{}{"transaction_id": transactionID})
	}
	return nil
}

// CloseTransactionAsync kicks off CloseTransaction in a goroutine and follows
// up with a refresh cycle so the caller (typically an HTTP handler) never
// blocks on broker round-trips.
func (a *Account) CloseTransactionAsync(ctx context.Context, transactionID int64) {
	go func() {
		bg := context.Background()
		if err := a.CloseTransaction(bg, transactionID); err != nil {
			a.log.Error().Err(err).Int64("transaction_id", transactionID).Msg("async close failed")
			return
		}
		if err := a.RefreshOrders(bg); err != nil {
			a.log.Error().Err(err).Msg("async close: refresh orders failed")
		}
		if err := a.RefreshTransactions(bg); err != nil {
			a.log.Error().Err(err).Msg("async close: refresh transactions failed")
		}
	}()
}

// positionStillOpen reports whether the broker still reports a non-zero
// position for symbol, used to disambiguate an ERRORed closing order from a
// position that was already flattened out-of-band.
func (a *Account) positionStillOpen(ctx context.Context, symbol string) (bool, error) {
	positions, err := a.Provider.GetPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("check position for %s: %w", symbol, err)
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Quantity != 0 {
			return true, nil
		}
	}
	return false, nil
}
