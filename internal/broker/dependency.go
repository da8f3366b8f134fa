package broker

import (
	"context"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

// ResolveDependentOrders walks every WAITING_TRIGGER
// order on this account and, when its parent has reached the declared
// trigger status, submits it to the broker exactly once. A parent that
// terminates in a non-FILLED state cancels the dependent instead.
func (a *Account) ResolveDependentOrders(ctx context.Context) error {
	waiting, err := a.store.NonTerminalOrdersForAccount(ctx, a.Definition.ID)
	if err != nil {
		return err
	}
	for _, order := range waiting {
		if order.Status != domain.OrderWaitingTrigger || !order.HasDependency() {
			continue
		}
		if err := a.resolveOne(ctx, order); err != nil {
			a.log.Error().Err(err).Int64("order_id", order.ID).Msg("failed to resolve dependent order")
		}
	}
	return nil
}

func (a *Account) resolveOne(ctx context.Context, order domain.TradingOrder) error {
	parent, err := a.store.GetOrder(ctx, order.DependsOnOrder)
	if err != nil {
		return err
	}

	if parent.Status.Terminal() && parent.Status != domain.OrderFilled {
		order.Status = domain.OrderCanceled
		if err := a.store.UpdateOrder(ctx, order); err != nil {
			return err
		}
		a.logActivity(ctx, domain.SeverityWarning, "dependent_order_canceled",
			fmt.Sprintf("order %d canceled: parent %d terminated as %s without filling", order.ID, parent.ID, parent.Status), 0,
			map[string]interface{}{"order_id": order.ID, "parent_id": parent.ID, "parent_status": parent.Status})
		return nil
	}

	if parent.Status != order.DependsOrderStatusTrigger {
		return nil // trigger not yet observed
	}

	if parent.Quantity <= 0 {
		order.Status = domain.OrderError
		if err := a.store.UpdateOrder(ctx, order); err != nil {
			return err
		}
		a.logActivity(ctx, domain.SeverityError, "dependent_order_error",
			fmt.Sprintf("order %d errored: parent %d has zero quantity", order.ID, parent.ID), 0,
			map[string]interface{}{"order_id": order.ID, "parent_id": parent.ID})
		return nil
	}

	order.Quantity = parent.Quantity
	if order.Data.TPPercent != nil && order.Data.TPReferencePrice == nil {
		ref := parent.OpenPrice
		order.Data.TPReferencePrice = &ref
	}
	if order.Data.SLPercent != nil && order.Data.SLReferencePrice == nil {
		ref := parent.OpenPrice
		order.Data.SLReferencePrice = &ref
	}
	if order.Data.TPPercent == nil && order.LimitPrice > 0 && parent.OpenPrice > 0 {
		percent := (order.LimitPrice/parent.OpenPrice - 1) * 100
		order.Data.TPPercent = &percent
		order.Data.TPReferencePrice = &parent.OpenPrice
	}
	if order.Data.SLPercent == nil && order.StopPrice > 0 && parent.OpenPrice > 0 {
		percent := (order.StopPrice/parent.OpenPrice - 1) * 100
		order.Data.SLPercent = &percent
		order.Data.SLReferencePrice = &parent.OpenPrice
	}

	order.Status = domain.OrderPending
	if _, err := a.submitToBroker(ctx, order); err != nil {
		return err
	}
	return nil
}
