package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"gonum.org/v1/gonum/floats/scalar"
)

// balanceTolerance is the tolerance used when comparing filled BUY and SELL
// volume to decide a position is balanced.
const balanceTolerance = 1e-4

// RefreshOrders syncs every non-terminal local order with broker state:
// status, filled quantity, average fill price.
func (a *Account) RefreshOrders(ctx context.Context) error {
	orders, err := a.store.NonTerminalOrdersForAccount(ctx, a.Definition.ID)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if order.BrokerOrderID == "" {
			continue // not yet submitted (WAITING_TRIGGER); handled by ResolveDependentOrders
		}
		snapshot, err := a.Provider.GetOrder(ctx, order.BrokerOrderID)
		if err != nil {
			a.log.Error().Err(err).Int64("order_id", order.ID).Msg("failed to refresh order from broker")
			continue
		}
		if order.Status.Terminal() {
			continue // another actor already finalised it; never overwrite a terminal status
		}
		if snapshot.Status == order.Status && scalar.EqualWithinAbs(snapshot.FilledQuantity, order.FilledQuantity, 1e-9) {
			continue
		}
		previousStatus := order.Status
		order.Status = snapshot.Status
		order.FilledQuantity = snapshot.FilledQuantity
		if snapshot.AverageFillPrice > 0 {
			order.OpenPrice = snapshot.AverageFillPrice
		}
		if err := a.store.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("persist refreshed order %d: %w", order.ID, err)
		}
		if previousStatus != order.Status {
			a.logActivity(ctx, domain.SeverityInfo, "order_status_changed",
				fmt.Sprintf("order %d: %s -> %s", order.ID, previousStatus, order.Status), 0,
				map[string]interface{}{"order_id": order.ID, "from": previousStatus, "to": order.Status})
		}
	}
	return nil
}

// RefreshTransactions is the pure-local reconciliation pass: it applies the
// close-reason precedence cascade once per transaction that has at least one
// order on this account.
func (a *Account) RefreshTransactions(ctx context.Context) error {
	txs, err := a.store.TransactionsWithOrdersForAccount(ctx, a.Definition.ID)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Status == domain.TxClosed {
			continue
		}
		if err := a.refreshOneTransaction(ctx, tx); err != nil {
			a.log.Error().Err(err).Int64("transaction_id", tx.ID).Msg("failed to refresh transaction")
		}
	}
	return nil
}

func (a *Account) refreshOneTransaction(ctx context.Context, tx domain.Transaction) error {
	orders, err := a.store.OrdersForTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}

	var entryOrders []domain.TradingOrder
	var filledBuyQty, filledSellQty float64
	var anyEntryExecuted, allEntryTerminal, allEntryTerminalWithoutFill bool
	allEntryTerminal = true
	allEntryTerminalWithoutFill = true
	var oldestFilledEntry *domain.TradingOrder
	var latestFilledClose *domain.TradingOrder
	var ocoLegFilled, dedicatedCloseFilled bool
	allOrdersTerminal := true
	anyDependentActive := false

	for i := range orders {
		o := &orders[i]
		if !o.Status.Terminal() {
			allOrdersTerminal = false
		}
		if o.Status.Executed() {
			if o.Side == domain.SideBuy {
				filledBuyQty += o.FilledQuantity
			} else {
				filledSellQty += o.FilledQuantity
			}
		}

		if o.IsEntryOrder() {
			entryOrders = append(entryOrders, *o)
			if o.Status.Executed() {
				anyEntryExecuted = true
				allEntryTerminalWithoutFill = false
				if oldestFilledEntry == nil {
					oldestFilledEntry = o
				}
			}
			if !o.Status.Terminal() {
				allEntryTerminal = false
			}
			continue
		}

		// Dependent (TP/SL/close) order.
		if !o.Status.Terminal() {
			anyDependentActive = true
		}
		if o.Type == domain.OrderTypeOCO && o.Status == domain.OrderFilled {
			ocoLegFilled = true
		}
		isClosingComment := containsClosing(o.Comment)
		if o.Status == domain.OrderFilled {
			if isClosingComment || o.Type == domain.OrderTypeLimitBuy || o.Type == domain.OrderTypeLimitSell ||
				o.Type == domain.OrderTypeStopBuy || o.Type == domain.OrderTypeStopSell {
				dedicatedCloseFilled = true
			}
			if latestFilledClose == nil || o.CreatedAt.After(latestFilledClose.CreatedAt) {
				latestFilledClose = o
			}
		}
	}

	changed := false

	// Step 1: promote WAITING -> OPENED on any executed entry order.
	if anyEntryExecuted && tx.Status == domain.TxWaiting {
		tx.Status = domain.TxOpened
		if tx.OpenDate == nil {
			now := time.Now()
			tx.OpenDate = &now
		}
		changed = true
	}

	// Step 2: copy open_price from the oldest filled entry order.
	if oldestFilledEntry != nil && !priceEqual(tx.OpenPrice, oldestFilledEntry.OpenPrice) && oldestFilledEntry.OpenPrice > 0 {
		tx.OpenPrice = oldestFilledEntry.OpenPrice
		changed = true
	}

	// Step 3: recompute quantity from the signed sum of filled entry orders.
	var signedQty float64
	for _, o := range entryOrders {
		if !o.Status.Executed() {
			continue
		}
		if o.Side == tx.Side {
			signedQty += o.FilledQuantity
		} else {
			signedQty -= o.FilledQuantity
		}
	}
	if anyEntryExecuted && !scalar.EqualWithinAbs(signedQty, tx.Quantity, 1e-9) {
		tx.Quantity = signedQty
		changed = true
	}

	// Step 4: copy close_price from the most recent filled closing order.
	if latestFilledClose != nil && !priceEqual(tx.ClosePrice, latestFilledClose.OpenPrice) {
		tx.ClosePrice = latestFilledClose.OpenPrice
		changed = true
	}

	if tx.Status != domain.TxClosed {
		reason := ""
		switch {
		case ocoLegFilled:
			reason = "oco_leg_filled"
		case dedicatedCloseFilled:
			reason = "tp_sl_filled"
		case scalar.EqualWithinAbs(filledBuyQty, filledSellQty, balanceTolerance) && (filledBuyQty > 0 || filledSellQty > 0):
			reason = "position_balanced"
			if latestFilledClose != nil {
				tx.ClosePrice = latestFilledClose.OpenPrice
			}
		case allEntryTerminal && allEntryTerminalWithoutFill:
			reason = "entry_orders_terminal_no_execution"
		case allEntryTerminal && tx.Status == domain.TxOpened && !anyDependentActive:
			reason = "entry_orders_terminal_after_opening"
		case allOrdersTerminal:
			reason = "all_orders_terminal"
		}
		if reason != "" {
			tx.Status = domain.TxClosed
			tx.CloseReason = reason
			if tx.CloseDate == nil {
				now := time.Now()
				tx.CloseDate = &now
			}
			changed = true
			a.logActivity(ctx, domain.SeverityInfo, "transaction_closed",
				fmt.Sprintf("transaction %d closed: %s", tx.ID, reason), tx.ExpertInstanceID,
				map[string]interface{}{"transaction_id": tx.ID, "reason": reason})
		}
	}

	if !changed {
		return nil
	}
	return a.store.UpdateTransaction(ctx, tx)
}

func containsClosing(comment string) bool {
	return strings.Contains(strings.ToLower(comment), "closing")
}
