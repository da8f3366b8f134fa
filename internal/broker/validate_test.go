package broker

import (
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestValidateOrder_ValidMarketOrderHasNoErrors(t *testing.T) {
	errs := validateOrder(domain.TradingOrder{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1, GoodFor: domain.GoodForGTC,
	})
	assert.Empty(t, errs)
}

func TestValidateOrder_LimitOrderWithoutLimitPriceFails(t *testing.T) {
	errs := validateOrder(domain.TradingOrder{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeLimitBuy, Quantity: 1, GoodFor: domain.GoodForGTC,
	})
	assert.Contains(t, errs, "order type LIMIT_BUY requires a limit price")
}

func TestValidateOrder_StopOrderWithoutStopPriceFails(t *testing.T) {
	errs := validateOrder(domain.TradingOrder{
		Symbol: "AAPL", Side: domain.SideSell, Type: domain.OrderTypeStopSell, Quantity: 1, GoodFor: domain.GoodForGTC,
	})
	assert.Contains(t, errs, "order type STOP_SELL requires a stop price")
}

func TestValidateOrder_DependencyWithoutTriggerFails(t *testing.T) {
	errs := validateOrder(domain.TradingOrder{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
		GoodFor: domain.GoodForGTC, DependsOnOrder: 5,
	})
	assert.Contains(t, errs, "depends_on_order requires depends_order_status_trigger")
}

func TestValidateOrder_AccumulatesMultipleErrors(t *testing.T) {
	errs := validateOrder(domain.TradingOrder{})
	assert.True(t, len(errs) >= 3)
}

func TestValidateOrder_InvalidGoodForFails(t *testing.T) {
	errs := validateOrder(domain.TradingOrder{
		Symbol: "AAPL", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1, GoodFor: "BOGUS",
	})
	assert.Contains(t, errs, `invalid time-in-force "BOGUS"`)
}
