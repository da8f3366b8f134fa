package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/markcheno/go-talib"
)

// Condition kinds recognised by evaluateCondition.
const (
	flagBullish                  = "bullish"
	flagBearish                  = "bearish"
	flagHasNoPosition            = "has_no_position"
	flagHasPosition              = "has_position"
	flagHasNoPositionAccountWide = "has_no_position_account_wide"
	flagHasPositionAccountWide   = "has_position_account_wide"
	flagShortTerm                = "short_term"
	flagMediumTerm               = "medium_term"
	flagLongTerm                 = "long_term"
	flagHighRisk                 = "high_risk"
	flagMediumRisk               = "medium_risk"
	flagLowRisk                  = "low_risk"
	flagCurrentRatingPositive    = "current_rating_positive"
	flagCurrentRatingNeutral     = "current_rating_neutral"
	flagCurrentRatingNegative    = "current_rating_negative"

	compareConfidence            = "confidence"
	compareExpectedProfitPercent = "expected_profit_target_percent"
	compareDaysOpened            = "days_opened"
	compareProfitLossPercent     = "profit_loss_percent"
)

// rsiConfirmationPeriod is the lookback used to confirm bullish/bearish flags
// against recent trade history when the caller supplies a price series.
const rsiConfirmationPeriod = 14

func evaluateCondition(cond domain.Condition, req EvaluateRequest) (bool, error) {
	switch cond.Kind {
	case flagBullish:
		return evaluateBullish(req), nil
	case flagBearish:
		return evaluateBearish(req), nil
	case flagHasNoPosition:
		return !req.HasPosition, nil
	case flagHasPosition:
		return req.HasPosition, nil
	case flagHasNoPositionAccountWide:
		return !req.HasPositionAccountWide, nil
	case flagHasPositionAccountWide:
		return req.HasPositionAccountWide, nil
	case flagShortTerm:
		return req.Recommendation.TimeHorizon == domain.HorizonShortTerm, nil
	case flagMediumTerm:
		return req.Recommendation.TimeHorizon == domain.HorizonMediumTerm, nil
	case flagLongTerm:
		return req.Recommendation.TimeHorizon == domain.HorizonLongTerm, nil
	case flagHighRisk:
		return req.Recommendation.RiskLevel == domain.RiskHigh, nil
	case flagMediumRisk:
		return req.Recommendation.RiskLevel == domain.RiskMedium, nil
	case flagLowRisk:
		return req.Recommendation.RiskLevel == domain.RiskLow, nil
	case flagCurrentRatingPositive:
		return req.Recommendation.Action == domain.ActionBuy, nil
	case flagCurrentRatingNeutral:
		return req.Recommendation.Action == domain.ActionHold, nil
	case flagCurrentRatingNegative:
		return req.Recommendation.Action == domain.ActionSell, nil

	case compareConfidence:
		return compareNumeric(cond, req.Recommendation.Confidence)
	case compareExpectedProfitPercent:
		return compareNumeric(cond, req.Recommendation.ExpectedProfitPercent)
	case compareDaysOpened:
		return evaluateDaysOpened(cond, req)
	case compareProfitLossPercent:
		return evaluateProfitLossPercent(cond, req)
	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

// evaluateBullish matches a BUY recommendation, confirmed against a fresh
// RSI reading over RecentCloses when trade history is available: RSI at or
// above 50 corroborates upward momentum. With no price history the recommendation
// field alone decides.
func evaluateBullish(req EvaluateRequest) bool {
	if req.Recommendation.Action != domain.ActionBuy {
		return false
	}
	rsi := latestRSI(req.RecentCloses)
	if rsi == nil {
		return true
	}
	return *rsi >= 50
}

// evaluateBearish is evaluateBullish's mirror for SELL recommendations.
func evaluateBearish(req EvaluateRequest) bool {
	if req.Recommendation.Action != domain.ActionSell {
		return false
	}
	rsi := latestRSI(req.RecentCloses)
	if rsi == nil {
		return true
	}
	return *rsi <= 50
}

func latestRSI(closes []float64) *float64 {
	if len(closes) < rsiConfirmationPeriod+1 {
		return nil
	}
	values := talib.Rsi(closes, rsiConfirmationPeriod)
	if len(values) == 0 {
		return nil
	}
	last := values[len(values)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

func evaluateDaysOpened(cond domain.Condition, req EvaluateRequest) (bool, error) {
	if req.ExistingOrder == nil {
		return false, nil
	}
	days := time.Since(req.ExistingOrder.CreatedAt).Hours() / 24
	return compareNumeric(cond, days)
}

func evaluateProfitLossPercent(cond domain.Condition, req EvaluateRequest) (bool, error) {
	if req.Position == nil || req.Position.AveragePrice == 0 {
		return false, nil
	}
	pct := (req.Position.CurrentPrice/req.Position.AveragePrice - 1) * 100
	return compareNumeric(cond, pct)
}

func compareNumeric(cond domain.Condition, actual float64) (bool, error) {
	target, ok := asFloat(cond.Value)
	if !ok {
		return false, fmt.Errorf("condition %q: value %v is not numeric", cond.Kind, cond.Value)
	}
	switch cond.Operator {
	case ">":
		return actual > target, nil
	case ">=":
		return actual >= target, nil
	case "<":
		return actual < target, nil
	case "<=":
		return actual <= target, nil
	case "==":
		return actual == target, nil
	case "!=":
		return actual != target, nil
	default:
		return false, fmt.Errorf("condition %q: unknown operator %q", cond.Kind, cond.Operator)
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
