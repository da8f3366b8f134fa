package broker

import (
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
)

// validateOrder is the pure, side-effect-free validation pass of
// submit_order. It never touches the store or the
// broker; it only inspects the order as given.
func validateOrder(order domain.TradingOrder) []string {
	var errs []string

	if order.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	switch order.Side {
	case domain.SideBuy, domain.SideSell:
	default:
		errs = append(errs, fmt.Sprintf("invalid side %q", order.Side))
	}
	switch order.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimitBuy, domain.OrderTypeLimitSell,
		domain.OrderTypeStopBuy, domain.OrderTypeStopSell,
		domain.OrderTypeStopLimitBuy, domain.OrderTypeStopLimitSell, domain.OrderTypeOCO:
	default:
		errs = append(errs, fmt.Sprintf("invalid order type %q", order.Type))
	}
	if order.Quantity <= 0 {
		errs = append(errs, "quantity must be > 0")
	}
	if order.Type.RequiresLimitPrice() && order.LimitPrice <= 0 {
		errs = append(errs, fmt.Sprintf("order type %s requires a limit price", order.Type))
	}
	if order.Type.RequiresStopPrice() && order.StopPrice <= 0 {
		errs = append(errs, fmt.Sprintf("order type %s requires a stop price", order.Type))
	}
	if !order.GoodFor.Valid() {
		errs = append(errs, fmt.Sprintf("invalid time-in-force %q", order.GoodFor))
	}
	if order.DependsOnOrder != 0 && order.DependsOrderStatusTrigger == "" {
		errs = append(errs, "depends_on_order requires depends_order_status_trigger")
	}
	return errs
}
