package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bmigette/tradecore/internal/domain"
)

// AdjustTP is the stateless take-profit adjustment: it
// works from whatever state the transaction and its orders are in and is
// idempotent (calling it twice with the same price, once the live order
// already matches, performs no broker call the second time).
func (a *Account) AdjustTP(ctx context.Context, transactionID int64, price float64) (domain.TradingOrder, error) {
	return a.adjustLeg(ctx, transactionID, legTakeProfit, price)
}

// AdjustSL is the stop-loss counterpart of AdjustTP.
func (a *Account) AdjustSL(ctx context.Context, transactionID int64, price float64) (domain.TradingOrder, error) {
	return a.adjustLeg(ctx, transactionID, legStopLoss, price)
}

// AdjustTPSL sets both legs together, preferring a broker's native bracket /
// stop-limit combination (domain.BrokerProvider.SetOrderTPSLImpl) and falling
// back to two independent legs when the broker does not support it
// natively.
func (a *Account) AdjustTPSL(ctx context.Context, transactionID int64, tp, sl float64) (tpOrder, slOrder domain.TradingOrder, err error) {
	tx, err := a.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.TradingOrder{}, domain.TradingOrder{}, err
	}
	entry, hasEntry, err := a.findEntryOrder(ctx, transactionID)
	if err == nil && hasEntry && entry.Status == domain.OrderFilled {
		tp = a.enforceMinimum(ctx, tx, legTakeProfit, tp)
		sl = a.enforceMinimum(ctx, tx, legStopLoss, sl)
		if existingTP, ok, _ := a.findActiveLeg(ctx, transactionID, legTakeProfit); ok && !existingTP.Status.Terminal() {
			if ok2, err := a.Provider.SetOrderTPSLImpl(ctx, entry, tp, sl); err == nil && ok2 {
				tx.TakeProfit = &tp
				tx.StopLoss = &sl
				_ = a.store.UpdateTransaction(ctx, tx)
				return existingTP, existingTP, nil
			}
		}
	}

	tpOrder, err = a.AdjustTP(ctx, transactionID, tp)
	if err != nil {
		return domain.TradingOrder{}, domain.TradingOrder{}, err
	}
	slOrder, err = a.AdjustSL(ctx, transactionID, sl)
	if err != nil {
		return tpOrder, domain.TradingOrder{}, err
	}
	return tpOrder, slOrder, nil
}

type leg int

const (
	legTakeProfit leg = iota
	legStopLoss
)

func (a *Account) adjustLeg(ctx context.Context, transactionID int64, which leg, price float64) (domain.TradingOrder, error) {
	tx, err := a.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.TradingOrder{}, err
	}

	price = a.enforceMinimum(ctx, tx, which, price)

	originalTP, originalSL := tx.TakeProfit, tx.StopLoss
	if which == legTakeProfit {
		tx.TakeProfit = &price
	} else {
		tx.StopLoss = &price
	}
	if err := a.store.UpdateTransaction(ctx, tx); err != nil {
		return domain.TradingOrder{}, fmt.Errorf("persist %s on transaction: %w", legName(which), err)
	}
	a.logActivity(ctx, domain.SeverityInfo, "tpsl_adjusted",
		fmt.Sprintf("%s enforcement (%s): transaction %d -> %.4f", legName(which), sideLabel(tx.Side), tx.ID, price),
		tx.ExpertInstanceID, map[string]interface{}{"transaction_id": tx.ID, "leg": legName(which), "price": price})

	existing, found, err := a.findActiveLeg(ctx, transactionID, which)
	if err != nil {
		return domain.TradingOrder{}, err
	}

	if !found {
		order, err := a.createDependentLeg(ctx, tx, which, price)
		if err != nil {
			return domain.TradingOrder{}, err
		}
		return order, nil
	}

	currentPrice := existing.LimitPrice
	if which == legStopLoss {
		currentPrice = existing.StopPrice
	}
	if priceEqual(currentPrice, price) {
		return existing, nil // idempotent: already matches, no DB or broker call needed
	}

	if existing.Status == domain.OrderPending || existing.Status == domain.OrderWaitingTrigger {
		setLegPrice(&existing, which, price)
		if err := a.store.UpdateOrder(ctx, existing); err != nil {
			return domain.TradingOrder{}, err
		}
		return existing, nil
	}

	// Live at the broker: ask the provider to update in place; fall back to
	// cancel-and-replace, rolling back transaction + order state on failure.
	var ok bool
	if which == legTakeProfit {
		ok, err = a.Provider.UpdateBrokerTPOrder(ctx, existing, price)
	} else {
		ok, err = a.Provider.UpdateBrokerSLOrder(ctx, existing, price)
	}
	if err == nil && ok {
		setLegPrice(&existing, which, price)
		if err := a.store.UpdateOrder(ctx, existing); err != nil {
			return domain.TradingOrder{}, err
		}
		return existing, nil
	}

	replacement, replaceErr := a.cancelAndReplaceLeg(ctx, tx, existing, which, price)
	if replaceErr != nil {
		// Full rollback: restore the original TP/SL on the transaction and
		// leave the existing order's price untouched.
		tx.TakeProfit, tx.StopLoss = originalTP, originalSL
		_ = a.store.UpdateTransaction(ctx, tx)
		return domain.TradingOrder{}, fmt.Errorf("cancel-and-replace %s order: %w", legName(which), replaceErr)
	}
	return replacement, nil
}

// enforceMinimum applies the minimum TP/SL percent from the app setting
// min_tp_sl_percent (default 3.0).
func (a *Account) enforceMinimum(ctx context.Context, tx domain.Transaction, which leg, price float64) float64 {
	minPercent, err := a.store.GetOrCreateFloatSetting(ctx, SettingMinTPSLPercent, DefaultMinTPSLPercent)
	if err != nil {
		minPercent = DefaultMinTPSLPercent
	}
	isLong := tx.Side == domain.SideBuy
	open := tx.OpenPrice
	switch {
	case which == legTakeProfit && isLong:
		floor := open * (1 + minPercent/100)
		if price < floor {
			return floor
		}
	case which == legTakeProfit && !isLong:
		ceil := open * (1 - minPercent/100)
		if price > ceil {
			return ceil
		}
	case which == legStopLoss && isLong:
		ceil := open * (1 - minPercent/100)
		if price > ceil {
			return ceil
		}
	case which == legStopLoss && !isLong:
		floor := open * (1 + minPercent/100)
		if price < floor {
			return floor
		}
	}
	return price
}

// findActiveLeg locates the non-terminal TP or SL order for a transaction:
// TP is limit-price-only, SL is stop-price-only, always on the opposite side
// to the entry.
func (a *Account) findActiveLeg(ctx context.Context, transactionID int64, which leg) (domain.TradingOrder, bool, error) {
	orders, err := a.store.OrdersForTransaction(ctx, transactionID)
	if err != nil {
		return domain.TradingOrder{}, false, err
	}
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		if which == legTakeProfit && (o.Type == domain.OrderTypeLimitBuy || o.Type == domain.OrderTypeLimitSell) {
			return o, true, nil
		}
		if which == legStopLoss && (o.Type == domain.OrderTypeStopBuy || o.Type == domain.OrderTypeStopSell) {
			return o, true, nil
		}
	}
	return domain.TradingOrder{}, false, nil
}

// findEntryOrder returns the oldest entry order (no dependency) on a
// transaction, used to decide whether a new TP/SL leg can submit immediately
// or must wait for the FILLED trigger.
func (a *Account) findEntryOrder(ctx context.Context, transactionID int64) (domain.TradingOrder, bool, error) {
	orders, err := a.store.OrdersForTransaction(ctx, transactionID)
	if err != nil {
		return domain.TradingOrder{}, false, err
	}
	for _, o := range orders {
		if o.IsEntryOrder() {
			return o, true, nil
		}
	}
	return domain.TradingOrder{}, false, nil
}

// createDependentLeg builds and persists a new TP/SL order for a
// transaction, applying the waiting-trigger pattern when the entry is not
// yet filled.
func (a *Account) createDependentLeg(ctx context.Context, tx domain.Transaction, which leg, price float64) (domain.TradingOrder, error) {
	entry, hasEntry, err := a.findEntryOrder(ctx, tx.ID)
	if err != nil {
		return domain.TradingOrder{}, err
	}
	qty := tx.Quantity
	if hasEntry {
		qty = entry.Quantity
	}

	order := domain.TradingOrder{
		AccountID:     a.Definition.ID,
		TransactionID: tx.ID,
		Symbol:        tx.Symbol,
		Side:          tx.Side.Opposite(),
		Quantity:      qty,
		GoodFor:       domain.GoodForGTC,
	}
	percent := (price/tx.OpenPrice - 1) * 100
	if which == legTakeProfit {
		order.Type = limitTypeFor(order.Side)
		order.LimitPrice = price
		order.Data.TPPercent = &percent
		order.Data.TPReferencePrice = &tx.OpenPrice
	} else {
		order.Type = stopTypeFor(order.Side)
		order.StopPrice = price
		order.Data.SLPercent = &percent
		order.Data.SLReferencePrice = &tx.OpenPrice
	}

	if hasEntry && entry.DependsOnOrder == 0 {
		order.DependsOnOrder = entry.ID
		order.DependsOrderStatusTrigger = domain.OrderFilled
	}

	immediate := hasEntry && entry.Status == domain.OrderFilled
	if !immediate {
		order.Status = domain.OrderWaitingTrigger
	} else {
		order.Status = domain.OrderPending
	}

	order.Comment = stampComment(a.Definition.ID, tx.ExpertInstanceID, strconv.FormatInt(tx.ID, 10), "new", legName(which)+" leg")
	order, err = a.store.AddOrder(ctx, order)
	if err != nil {
		return domain.TradingOrder{}, err
	}
	order.Comment = stampComment(a.Definition.ID, tx.ExpertInstanceID, strconv.FormatInt(tx.ID, 10), strconv.FormatInt(order.ID, 10), legName(which)+" leg")
	if err := a.store.UpdateOrder(ctx, order); err != nil {
		return domain.TradingOrder{}, err
	}

	if immediate {
		return a.submitToBroker(ctx, order)
	}
	return order, nil
}

// cancelAndReplaceLeg cancels the live broker order and creates a fresh one
// at the new price, used when the broker hook reports it cannot modify a
// live order in place.
func (a *Account) cancelAndReplaceLeg(ctx context.Context, tx domain.Transaction, existing domain.TradingOrder, which leg, price float64) (domain.TradingOrder, error) {
	if existing.BrokerOrderID != "" {
		if err := a.Provider.CancelOrder(ctx, existing.BrokerOrderID); err != nil {
			return domain.TradingOrder{}, fmt.Errorf("cancel existing %s order: %w", legName(which), err)
		}
	}
	existing.Status = domain.OrderCanceled
	if err := a.store.UpdateOrder(ctx, existing); err != nil {
		return domain.TradingOrder{}, err
	}
	return a.createDependentLeg(ctx, tx, which, price)
}

func setLegPrice(order *domain.TradingOrder, which leg, price float64) {
	if which == legTakeProfit {
		order.LimitPrice = price
	} else {
		order.StopPrice = price
	}
}

func limitTypeFor(side domain.OrderSide) domain.OrderType {
	if side == domain.SideBuy {
		return domain.OrderTypeLimitBuy
	}
	return domain.OrderTypeLimitSell
}

func stopTypeFor(side domain.OrderSide) domain.OrderType {
	if side == domain.SideBuy {
		return domain.OrderTypeStopBuy
	}
	return domain.OrderTypeStopSell
}

func legName(which leg) string {
	if which == legTakeProfit {
		return "TP"
	}
	return "SL"
}

func sideLabel(side domain.OrderSide) string {
	if side == domain.SideBuy {
		return "LONG"
	}
	return "SHORT"
}

func priceEqual(a, b float64) bool {
	const epsilon = 1e-6
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < epsilon
}
