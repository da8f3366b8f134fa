package jobmanager

import (
	"context"
	"fmt"

	"github.com/bmigette/tradecore/internal/broker"
	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/queue"
	"github.com/bmigette/tradecore/internal/rules"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
)

// Executor implements queue.Executor: it runs an AnalysisTask end to end
// (expert analysis, then the Trade Action Engine, then order submission) or
// resolves an InstrumentExpansionTask into per-symbol AnalysisTask
// submissions.
type Executor struct {
	store    *store.Store
	queue    *queue.Manager
	experts  domain.ExpertRegistry
	accounts *broker.AccountRegistry
	selector domain.InstrumentSelector
	engine   *rules.Engine
	log      zerolog.Logger
}

// NewExecutor wires together the pieces a queued task needs to run.
// selector may be nil when DYNAMIC instrument expansion is not configured.
func NewExecutor(st *store.Store, q *queue.Manager, experts domain.ExpertRegistry, accounts *broker.AccountRegistry, selector domain.InstrumentSelector, engine *rules.Engine, log zerolog.Logger) *Executor {
	return &Executor{
		store: st, queue: q, experts: experts, accounts: accounts, selector: selector, engine: engine,
		log: log.With().Str("component", "queue_executor").Logger(),
	}
}

// Execute dispatches a claimed PersistedQueueTask by kind.
func (x *Executor) Execute(ctx context.Context, task domain.PersistedQueueTask) error {
	switch task.Kind {
	case domain.TaskKindAnalysis:
		payload, err := queue.DecodeAnalysisPayload(task)
		if err != nil {
			return fmt.Errorf("decode analysis payload: %w", err)
		}
		return x.runAnalysis(ctx, payload)
	case domain.TaskKindExpansion:
		payload, err := queue.DecodeExpansionPayload(task)
		if err != nil {
			return fmt.Errorf("decode expansion payload: %w", err)
		}
		return x.runExpansion(ctx, payload)
	default:
		return fmt.Errorf("unsupported task kind %q", task.Kind)
	}
}

// runAnalysis creates the MarketAnalysis row, runs the expert, and acts on
// whatever recommendation it produced.
func (x *Executor) runAnalysis(ctx context.Context, p queue.AnalysisTaskPayload) error {
	inst, err := x.store.GetExpertInstance(ctx, p.ExpertInstanceID)
	if err != nil {
		return err
	}

	if p.UseCase == domain.UseCaseEnterMarket && !p.BypassTransactionCheck {
		if exists, err := x.store.HasOpenTransactionForExpertAndSymbol(ctx, p.ExpertInstanceID, p.Symbol); err != nil {
			return err
		} else if exists {
			x.log.Debug().Int64("expert_instance_id", p.ExpertInstanceID).Str("symbol", p.Symbol).Msg("skipped: existing transaction")
			return nil
		}
	}

	acct, err := x.accounts.Get(inst.AccountID)
	if err != nil {
		return err
	}

	if !p.BypassBalanceCheck {
		feasible, err := x.isFeasible(ctx, acct, inst, p.Symbol)
		if err != nil {
			return err
		}
		if !feasible {
			x.log.Debug().Int64("expert_instance_id", p.ExpertInstanceID).Str("symbol", p.Symbol).Msg("skipped: balance/price infeasible")
			return nil
		}
	}

	if _, err := x.store.EnsureInstrument(ctx, p.Symbol); err != nil {
		x.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to auto-add instrument")
	}

	analysis, err := x.store.AddMarketAnalysis(ctx, domain.MarketAnalysis{
		ExpertInstanceID: p.ExpertInstanceID,
		Symbol:           p.Symbol,
		UseCase:          p.UseCase,
		Status:           domain.AnalysisPending,
	})
	if err != nil {
		return fmt.Errorf("create market analysis: %w", err)
	}

	if err := x.store.UpdateMarketAnalysisStatus(ctx, analysis.ID, domain.AnalysisRunning, analysis.State); err != nil {
		return err
	}

	expert, err := x.experts.Resolve(ctx, inst)
	if err != nil {
		_ = x.store.UpdateMarketAnalysisStatus(ctx, analysis.ID, domain.AnalysisFailed, map[string]interface{}{"failure_reason": err.Error()})
		return err
	}

	if err := expert.RunAnalysis(ctx, p.Symbol, &analysis); err != nil {
		_ = x.store.UpdateMarketAnalysisStatus(ctx, analysis.ID, domain.AnalysisFailed, mergeState(analysis.State, "failure_reason", err.Error()))
		return err
	}

	recommendation, err := x.store.GetLatestRecommendationForAnalysis(ctx, analysis.ID)
	if err != nil {
		_ = x.store.UpdateMarketAnalysisStatus(ctx, analysis.ID, domain.AnalysisFailed, mergeState(analysis.State, "failure_reason", "no recommendation produced"))
		return fmt.Errorf("no recommendation for analysis %d: %w", analysis.ID, err)
	}

	if err := x.store.UpdateMarketAnalysisStatus(ctx, analysis.ID, domain.AnalysisCompleted, analysis.State); err != nil {
		x.log.Error().Err(err).Int64("analysis_id", analysis.ID).Msg("failed to mark analysis completed")
	}

	return x.actOnRecommendation(ctx, acct, inst, recommendation)
}

// actOnRecommendation runs the Trade Action Engine against recommendation
// and executes whatever action descriptors it emits.
func (x *Executor) actOnRecommendation(ctx context.Context, acct *broker.Account, inst domain.ExpertInstance, rec domain.ExpertRecommendation) error {
	existingTx, hasOpen, err := x.store.OpenTransactionForExpertAndSymbol(ctx, inst.ID, rec.Symbol)
	if err != nil {
		return err
	}

	var existingOrder *domain.TradingOrder
	if hasOpen {
		orders, err := x.store.OrdersForTransaction(ctx, existingTx.ID)
		if err == nil {
			for i := range orders {
				if orders[i].IsEntryOrder() {
					existingOrder = &orders[i]
					break
				}
			}
		}
	}

	positions, err := acct.GetPositions(ctx)
	if err != nil {
		x.log.Warn().Err(err).Msg("failed to fetch broker positions for rules evaluation")
	}
	var pos *domain.BrokerPosition
	hasPositionAccountWide := false
	for i := range positions {
		if positions[i].Symbol == rec.Symbol {
			p := positions[i]
			pos = &p
			hasPositionAccountWide = true
		}
	}

	req := rules.EvaluateRequest{
		AccountID:              acct.Definition.ID,
		ExpertInstanceID:       inst.ID,
		Symbol:                 rec.Symbol,
		RulesetID:              inst.RulesetID,
		Recommendation:         rec,
		ExistingOrder:          existingOrder,
		Position:               pos,
		HasPosition:            hasOpen,
		HasPositionAccountWide: hasPositionAccountWide,
	}

	result := x.engine.Evaluate(ctx, req)
	for _, msg := range result.Errors {
		x.log.Error().Str("expert_instance_id", fmt.Sprint(inst.ID)).Msg("rules engine error: " + msg)
	}

	// tx/hasOpen are re-read after a BUY/SELL action so that the SET_TP/
	// SET_SL/ADJUST_TP_SL actions the same event-action emits alongside the
	// entry see the transaction it just opened
	// instead of the pre-evaluation snapshot.
	tx, hasOpenNow := existingTx, hasOpen
	for _, action := range result.Actions {
		nextTx, nextHasOpen, err := x.executeAction(ctx, acct, inst, rec, tx, hasOpenNow, action)
		if err != nil {
			x.log.Error().Err(err).Str("action_type", action.Type).Int64("expert_instance_id", inst.ID).Msg("failed to execute action")
			continue
		}
		tx, hasOpenNow = nextTx, nextHasOpen
	}
	return nil
}

// executeAction translates one engine-emitted descriptor into the
// corresponding broker.Account call. It returns the transaction state a
// subsequent action in the same event-action's list should see, so a BUY
// followed by SET_TP/SET_SL in one rule match acts on the transaction the
// BUY just opened.
func (x *Executor) executeAction(ctx context.Context, acct *broker.Account, inst domain.ExpertInstance, rec domain.ExpertRecommendation, tx domain.Transaction, hasOpen bool, action domain.Action) (domain.Transaction, bool, error) {
	switch action.Type {
	case rules.ActionBuy, rules.ActionSell:
		if hasOpen {
			return tx, hasOpen, nil // already in a position for this expert+symbol; nothing to enter
		}
		if err := x.submitEntry(ctx, acct, inst, rec, action.Type); err != nil {
			return tx, hasOpen, err
		}
		opened, found, err := x.store.OpenTransactionForExpertAndSymbol(ctx, inst.ID, rec.Symbol)
		if err != nil || !found {
			return tx, hasOpen, err
		}
		return opened, true, nil
	case rules.ActionSetTP:
		if !hasOpen {
			return tx, hasOpen, nil
		}
		percent, ok := rules.PercentParam(action)
		if !ok {
			return tx, hasOpen, fmt.Errorf("SET_TP action missing percent parameter")
		}
		_, err := acct.AdjustTP(ctx, tx.ID, percentToPrice(tx.OpenPrice, tx.Side, true, percent))
		return tx, hasOpen, err
	case rules.ActionSetSL:
		if !hasOpen {
			return tx, hasOpen, nil
		}
		percent, ok := rules.PercentParam(action)
		if !ok {
			return tx, hasOpen, fmt.Errorf("SET_SL action missing percent parameter")
		}
		_, err := acct.AdjustSL(ctx, tx.ID, percentToPrice(tx.OpenPrice, tx.Side, false, percent))
		return tx, hasOpen, err
	case rules.ActionAdjustTPSL:
		if !hasOpen {
			return tx, hasOpen, nil
		}
		tpPercent, tpOk := rules.PercentParam(action)
		if !tpOk {
			return tx, hasOpen, fmt.Errorf("ADJUST_TP_SL action missing percent parameter")
		}
		slPercent := tpPercent
		if v, ok := action.Parameters["sl_percent"]; ok {
			if f, ok := asFloatParam(v); ok {
				slPercent = f
			}
		}
		_, _, err := acct.AdjustTPSL(ctx, tx.ID,
			percentToPrice(tx.OpenPrice, tx.Side, true, tpPercent),
			percentToPrice(tx.OpenPrice, tx.Side, false, slPercent))
		return tx, hasOpen, err
	case rules.ActionClose:
		if !hasOpen {
			return tx, hasOpen, nil
		}
		acct.CloseTransactionAsync(ctx, tx.ID)
		return tx, hasOpen, nil
	default:
		return tx, hasOpen, fmt.Errorf("unrecognised action type %q", action.Type)
	}
}

// submitEntry sizes and submits a new MARKET entry order against the
// expert's virtual equity allocation.
func (x *Executor) submitEntry(ctx context.Context, acct *broker.Account, inst domain.ExpertInstance, rec domain.ExpertRecommendation, actionType string) error {
	price := rec.PriceAtIssue
	if price <= 0 {
		var err error
		price, err = acct.GetInstrumentCurrentPrice(ctx, rec.Symbol, domain.PriceMid)
		if err != nil {
			return fmt.Errorf("resolve entry price: %w", err)
		}
	}
	info, err := acct.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("resolve account info for entry sizing: %w", err)
	}
	notional := info.Equity * (inst.VirtualEquityPercent / 100)
	quantity := notional / price
	if quantity <= 0 {
		return fmt.Errorf("computed non-positive entry quantity for %s", rec.Symbol)
	}

	side := domain.SideBuy
	if actionType == rules.ActionSell {
		side = domain.SideSell
	}

	_, err = acct.SubmitOrder(ctx, broker.SubmitRequest{
		Order: domain.TradingOrder{
			Symbol:   rec.Symbol,
			Type:     domain.OrderTypeMarket,
			Side:     side,
			Quantity: quantity,
			GoodFor:  domain.GoodForGTC,
		},
		ExpertInstanceID: inst.ID,
	})
	return err
}

// isFeasible is the balance/price pre-flight gate for analysis runs: the
// account equity and the current price must be positive, and the expert's
// allocated notional (equity x VirtualEquityPercent) must cover at least one
// share/unit at the current price.
func (x *Executor) isFeasible(ctx context.Context, acct *broker.Account, inst domain.ExpertInstance, symbol string) (bool, error) {
	info, err := acct.GetAccountInfo(ctx)
	if err != nil {
		return false, err
	}
	if info.Equity <= 0 {
		return false, nil
	}
	price, err := acct.GetInstrumentCurrentPrice(ctx, symbol, domain.PriceMid)
	if err != nil || price <= 0 {
		return false, nil
	}
	notional := info.Equity * (inst.VirtualEquityPercent / 100)
	return notional/price >= 1, nil
}

// runExpansion resolves an expansion task into per-symbol analysis
// submissions.
func (x *Executor) runExpansion(ctx context.Context, p queue.InstrumentExpansionTaskPayload) error {
	inst, err := x.store.GetExpertInstance(ctx, p.ExpertInstanceID)
	if err != nil {
		return err
	}

	var symbols []string
	switch p.ExpansionType {
	case domain.ExpansionDynamic:
		if x.selector == nil {
			return fmt.Errorf("dynamic instrument expansion requested but no InstrumentSelector configured")
		}
		settings, err := x.store.ListSettingsForOwner(ctx, domain.OwnerExpert, inst.ID)
		if err != nil {
			return err
		}
		prompt := unquote(settings[SettingDynamicPrompt].RawValue)
		model := unquote(settings[SettingDynamicModel].RawValue)
		maxInstruments := int(settings[SettingMaxInstruments].AsFloat(10))
		symbols, err = x.selector.SelectInstruments(ctx, inst.ID, prompt, model, maxInstruments)
		if err != nil {
			return fmt.Errorf("select dynamic instruments: %w", err)
		}
	case domain.ExpansionExpert:
		expert, err := x.experts.Resolve(ctx, inst)
		if err != nil {
			return err
		}
		if !expert.Properties().ShouldExpandInstrumentJobs {
			return x.submitAnalysis(ctx, inst.ID, string(domain.SymbolExpert), p.UseCase, queue.PriorityHigh)
		}
		symbols, err = expert.GetRecommendedInstruments(ctx)
		if err != nil {
			return fmt.Errorf("get recommended instruments: %w", err)
		}
	case domain.ExpansionOpenPositions:
		symbols, err = x.store.OpenSymbolsForExpert(ctx, inst.ID)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unrecognised expansion type %q", p.ExpansionType)
	}

	if acct, err := x.accounts.Get(inst.AccountID); err == nil && len(symbols) > 0 {
		if supported, err := acct.FilterSupportedSymbols(ctx, symbols); err == nil {
			symbols = supported
		}
	}

	for _, symbol := range symbols {
		if err := x.submitAnalysis(ctx, inst.ID, symbol, p.UseCase, queue.PriorityHigh); err != nil {
			x.log.Error().Err(err).Int64("expert_instance_id", inst.ID).Str("symbol", symbol).Msg("failed to submit expanded analysis task")
		}
	}
	return nil
}

func (x *Executor) submitAnalysis(ctx context.Context, expertInstanceID int64, symbol string, useCase domain.AnalysisUseCase, priority int) error {
	payload := queue.AnalysisTaskPayload{ExpertInstanceID: expertInstanceID, Symbol: symbol, UseCase: useCase}
	dedupKey := queue.DedupKey(domain.TaskKindAnalysis, expertInstanceID, symbol, useCase)
	_, err := x.queue.Submit(ctx, queue.SubmitRequest{
		Kind: domain.TaskKindAnalysis, Payload: payload, Priority: priority, DedupKey: dedupKey,
	})
	if _, dup := err.(*domain.DuplicateTaskError); dup {
		return nil
	}
	return err
}

// percentToPrice re-anchors a TP/SL percent target on an entry's open price:
// the favourable direction is up for a long TP / short SL and down for a
// short TP / long SL.
func percentToPrice(openPrice float64, side domain.OrderSide, isTakeProfit bool, percent float64) float64 {
	favourableUp := (isTakeProfit && side == domain.SideBuy) || (!isTakeProfit && side == domain.SideSell)
	if favourableUp {
		return openPrice * (1 + percent/100)
	}
	return openPrice * (1 - percent/100)
}

func mergeState(state map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if state == nil {
		state = make(map[string]interface{})
	}
	state[key] = value
	return state
}

func asFloatParam(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
