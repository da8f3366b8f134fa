package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bmigette/tradecore/internal/domain"
	"gonum.org/v1/gonum/floats/scalar"
)

// SubmitRequest carries an order plus the context SubmitOrder needs that is
// not itself a TradingOrder field: which expert instance originated it (for
// the position-size cap and, when a new transaction is created, its
// expert_id), and optional TP/SL target prices applied once the entry is
// booked.
type SubmitRequest struct {
	Order            domain.TradingOrder
	ExpertInstanceID int64
	IsClosingOrder   bool
	TakeProfitPrice  *float64
	StopLossPrice    *float64
}

// SubmitOrder runs the full submission pipeline: validation, transaction
// coupling, dependent-quantity sync, comment stamping, persist-before-submit,
// the provider call, TP/SL adjustment, and transaction-quantity recompute.
func (a *Account) SubmitOrder(ctx context.Context, req SubmitRequest) (domain.TradingOrder, error) {
	order := req.Order
	order.AccountID = a.Definition.ID

	if errs := validateOrder(order); len(errs) > 0 {
		return domain.TradingOrder{}, domain.NewValidationError(errs...)
	}

	if !req.IsClosingOrder && req.ExpertInstanceID != 0 {
		if err := a.checkPositionSizeCap(ctx, req.ExpertInstanceID, order); err != nil {
			return domain.TradingOrder{}, err
		}
	}

	tx, appendingToExisting, err := a.coupleTransaction(ctx, &order, req.ExpertInstanceID)
	if err != nil {
		return domain.TradingOrder{}, err
	}

	if order.HasDependency() {
		if parent, err := a.store.GetOrder(ctx, order.DependsOnOrder); err == nil {
			if parent.Type != domain.OrderTypeMarket && (order.Type.RequiresLimitPrice() || order.Type.RequiresStopPrice()) {
				order.Quantity = parent.Quantity
			}
		}
	}

	order.Comment = stampComment(a.Definition.ID, req.ExpertInstanceID, strconv.FormatInt(tx.ID, 10), "new", order.Comment)

	if order.HasDependency() {
		if parent, err := a.store.GetOrder(ctx, order.DependsOnOrder); err == nil && !parent.Status.Terminal() && parent.Status != domain.OrderFilled {
			order.Status = domain.OrderWaitingTrigger
		}
	}
	if order.Status == "" {
		order.Status = domain.OrderPending
	}

	order, err = a.store.AddOrder(ctx, order)
	if err != nil {
		return domain.TradingOrder{}, fmt.Errorf("persist order: %w", err)
	}
	order.Comment = stampComment(a.Definition.ID, req.ExpertInstanceID, strconv.FormatInt(tx.ID, 10), strconv.FormatInt(order.ID, 10), trimTrackingPrefix(order.Comment))
	if err := a.store.UpdateOrder(ctx, order); err != nil {
		return domain.TradingOrder{}, fmt.Errorf("re-stamp order comment: %w", err)
	}

	if order.Status != domain.OrderWaitingTrigger {
		order, err = a.submitToBroker(ctx, order)
		if err != nil {
			return order, err
		}
	}

	if req.TakeProfitPrice != nil {
		if _, err := a.AdjustTP(ctx, tx.ID, *req.TakeProfitPrice); err != nil {
			a.log.Error().Err(err).Int64("transaction_id", tx.ID).Msg("failed to attach TP leg at submission")
		}
	}
	if req.StopLossPrice != nil {
		if _, err := a.AdjustSL(ctx, tx.ID, *req.StopLossPrice); err != nil {
			a.log.Error().Err(err).Int64("transaction_id", tx.ID).Msg("failed to attach SL leg at submission")
		}
	}

	if appendingToExisting {
		if err := a.recalculateTransactionQuantity(ctx, tx.ID); err != nil {
			a.log.Error().Err(err).Int64("transaction_id", tx.ID).Msg("failed to recompute transaction quantity")
		}
	}

	return order, nil
}

// submitToBroker persists a terminal-pending order to the broker and writes
// back whatever the provider reports (broker_order_id + initial status).
func (a *Account) submitToBroker(ctx context.Context, order domain.TradingOrder) (domain.TradingOrder, error) {
	submitted, err := a.Provider.SubmitOrderImpl(ctx, order)
	if err != nil {
		order.Status = domain.OrderError
		_ = a.store.UpdateOrder(ctx, order)
		a.logActivity(ctx, domain.SeverityError, "order_submit_failed", err.Error(), 0, map[string]interface{}{"order_id": order.ID})
		return order, &domain.BrokerError{Message: err.Error()}
	}
	submitted.ID = order.ID
	submitted.AccountID = order.AccountID
	if submitted.Status == "" {
		submitted.Status = domain.OrderSubmitted
	}
	if err := a.store.UpdateOrder(ctx, submitted); err != nil {
		return submitted, fmt.Errorf("persist submitted order: %w", err)
	}
	a.logActivity(ctx, domain.SeverityInfo, "order_submitted", fmt.Sprintf("order %d submitted to broker", submitted.ID), 0,
		map[string]interface{}{"order_id": submitted.ID, "broker_order_id": submitted.BrokerOrderID})
	return submitted, nil
}

// coupleTransaction enforces transaction coupling: a MARKET order without
// a transaction_id opens a new one; a non-MARKET order without one is
// rejected; otherwise the referenced transaction is validated to exist.
func (a *Account) coupleTransaction(ctx context.Context, order *domain.TradingOrder, expertInstanceID int64) (domain.Transaction, bool, error) {
	if order.TransactionID != 0 {
		tx, err := a.store.GetTransaction(ctx, order.TransactionID)
		if err != nil {
			return domain.Transaction{}, false, err
		}
		return tx, true, nil
	}
	if order.Type != domain.OrderTypeMarket {
		return domain.Transaction{}, false, domain.NewValidationError("a non-MARKET order must reference an existing transaction_id")
	}

	openPrice := order.LimitPrice
	if openPrice <= 0 {
		if price, err := a.GetInstrumentCurrentPrice(ctx, order.Symbol, domain.PriceMid); err == nil {
			openPrice = price
		}
	}

	tx, err := a.store.AddTransaction(ctx, domain.Transaction{
		ExpertInstanceID: expertInstanceID,
		Symbol:           order.Symbol,
		Side:             order.Side,
		Quantity:         order.Quantity,
		OpenPrice:        openPrice,
		Status:           domain.TxWaiting,
	})
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("create transaction for order: %w", err)
	}
	order.TransactionID = tx.ID
	return tx, false, nil
}

// checkPositionSizeCap enforces the per-instrument virtual-equity cap.
// Closing orders skip it entirely (checked by the caller).
func (a *Account) checkPositionSizeCap(ctx context.Context, expertInstanceID int64, order domain.TradingOrder) error {
	expert, err := a.store.GetExpertInstance(ctx, expertInstanceID)
	if err != nil {
		return err
	}

	settings, err := a.store.ListSettingsForOwner(ctx, domain.OwnerExpert, expertInstanceID)
	if err != nil {
		return err
	}
	st, ok := settings[SettingMaxVirtualEquityPerInstrumentPercent]
	if !ok {
		return nil // no cap declared for this expert: nothing to enforce
	}
	maxPerInstrument := st.AsFloat(0)
	if maxPerInstrument <= 0 {
		return nil
	}

	info, err := a.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("resolve account equity for position-size cap: %w", err)
	}

	currentPrice := order.LimitPrice
	if currentPrice <= 0 {
		currentPrice, err = a.GetInstrumentCurrentPrice(ctx, order.Symbol, domain.PriceMid)
		if err != nil {
			return fmt.Errorf("resolve current price for position-size cap: %w", err)
		}
	}

	maxAllowed := info.Equity * (expert.VirtualEquityPercent / 100) * (maxPerInstrument / 100)
	notional := order.Quantity * currentPrice
	if notional > maxAllowed {
		return domain.NewValidationError(fmt.Sprintf(
			"order notional %.2f exceeds position-size cap %.2f (equity=%.2f, virtual_equity_pct=%.2f, max_per_instrument_pct=%.2f)",
			notional, maxAllowed, info.Equity, expert.VirtualEquityPercent, maxPerInstrument))
	}
	return nil
}

// recalculateTransactionQuantity recomputes Transaction.quantity from the
// signed sum of the transaction's entry orders (depends_on_order unset) of
// any order type: orders on the transaction's side add, orders on the
// opposite side subtract. FILLED and live orders count; CANCELED/REJECTED/
// EXPIRED/ERROR/CLOSED orders are excluded.
func (a *Account) recalculateTransactionQuantity(ctx context.Context, transactionID int64) error {
	tx, err := a.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	orders, err := a.store.OrdersForTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	var total float64
	for _, o := range orders {
		if o.HasDependency() {
			continue
		}
		if o.Status.NonFillingTerminal() {
			continue
		}
		if o.Side == tx.Side {
			total += o.Quantity
		} else {
			total -= o.Quantity
		}
	}
	if scalar.EqualWithinAbs(total, tx.Quantity, 1e-9) {
		return nil
	}
	tx.Quantity = total
	return a.store.UpdateTransaction(ctx, tx)
}

// trimTrackingPrefix strips a previously applied tracking prefix so
// re-stamping after the order ID is known does not double-stamp the comment.
func trimTrackingPrefix(comment string) string {
	loc := commentRegex.FindStringSubmatchIndex(comment)
	if loc == nil {
		return comment
	}
	return comment[loc[4]:loc[5]]
}
