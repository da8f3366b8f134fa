// Package rules implements the Trade Action Engine: it walks
// a ruleset's ordered event-actions, evaluates each one's trigger set, and
// emits the action descriptors of the first one that matches, plus those of
// later matches while continue_processing is set. Turning those
// descriptors into TradingOrder submissions is the caller's job.
package rules

import (
	"context"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
)

// EvaluateRequest carries everything a condition might need to evaluate
// against. Not every field is populated for every call; conditions that need
// an absent field simply evaluate false rather than error (e.g.
// days_opened without ExistingOrder).
type EvaluateRequest struct {
	AccountID              int64
	ExpertInstanceID       int64
	Symbol                 string
	RulesetID              int64
	Recommendation         domain.ExpertRecommendation
	ExistingOrder          *domain.TradingOrder
	Position               *domain.BrokerPosition
	HasPosition            bool
	HasPositionAccountWide bool
	RecentCloses           []float64 // most recent last; used for talib-confirmed bullish/bearish
}

// EvaluateResult is the engine's output: the action lists of the matching
// event-actions, in order, up to and including the first match without
// continue_processing, plus one error entry per event-action whose triggers
// failed to evaluate (that event-action is skipped). A ruleset that cannot be
// loaded yields a single error entry. The engine never returns an error to
// the caller.
type EvaluateResult struct {
	Actions []domain.Action
	Errors  []string
}

// Engine evaluates rulesets against recommendations.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
}

// New builds an Engine backed by st for ruleset/membership lookups.
func New(st *store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: st, log: log.With().Str("component", "rules_engine").Logger()}
}

// Evaluate walks the ruleset's ordered event-actions: an empty
// ruleset yields an empty action list, a missing ruleset ID yields a single
// error entry, and no event-action runs more than once.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) EvaluateResult {
	if _, err := e.store.GetRuleset(ctx, req.RulesetID); err != nil {
		return EvaluateResult{Errors: []string{fmt.Sprintf("load ruleset %d: %v", req.RulesetID, err)}}
	}

	eventActions, err := e.store.OrderedEventActions(ctx, req.RulesetID)
	if err != nil {
		return EvaluateResult{Errors: []string{fmt.Sprintf("load event actions for ruleset %d: %v", req.RulesetID, err)}}
	}

	var result EvaluateResult
	for _, ea := range eventActions {
		matched, err := evaluateTriggers(ea.Triggers, req)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("event_action %d: %v", ea.ID, err))
			continue
		}
		if !matched {
			continue
		}
		result.Actions = append(result.Actions, ea.Actions...)
		if !ea.ContinueProcessing {
			break
		}
	}
	return result
}

// evaluateTriggers is the logical AND of every condition in the set; the
// first false or erroring condition short-circuits.
func evaluateTriggers(conditions []domain.Condition, req EvaluateRequest) (bool, error) {
	for _, cond := range conditions {
		ok, err := evaluateCondition(cond, req)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
