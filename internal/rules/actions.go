package rules

import "github.com/bmigette/tradecore/internal/domain"

// Action type tags an event-action's descriptors may carry.
// The engine never interprets these beyond passing them through; a caller in
// the Trade Action Engine's consumer (the analysis task executor) is
// responsible for turning a descriptor into a broker.SubmitRequest or an
// AdjustTP/AdjustSL/CloseTransaction call.
const (
	ActionBuy        = "BUY"
	ActionSell       = "SELL"
	ActionSetTP      = "SET_TP"
	ActionSetSL      = "SET_SL"
	ActionClose      = "CLOSE"
	ActionAdjustTPSL = "ADJUST_TP_SL"
)

// NewAction builds an Action descriptor with the given type and parameters.
func NewAction(actionType string, parameters map[string]interface{}) domain.Action {
	return domain.Action{Type: actionType, Parameters: parameters}
}

// PercentParam reads a float64 "percent" parameter off an action descriptor,
// the shape SET_TP/SET_SL carry.
func PercentParam(a domain.Action) (float64, bool) {
	raw, ok := a.Parameters["percent"]
	if !ok {
		return 0, false
	}
	return asFloat(raw)
}
