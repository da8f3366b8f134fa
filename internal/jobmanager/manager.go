// Package jobmanager implements the Job Manager: a
// cron-driven scheduler that wakes up on time events and submits tasks into
// the Worker Queue, plus the executor that runs those tasks end to end
// (analysis, instrument expansion, and the Trade Action Engine hookup).
package jobmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bmigette/tradecore/internal/broker"
	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/queue"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Setting keys this package reads off ExpertInstance and app-level rows.
const (
	SettingScheduleEnterMarket       = "execution_schedule_enter_market"
	SettingScheduleOpenPositions     = "execution_schedule_open_positions"
	SettingInstrumentSelectionMethod = "instrument_selection_method"
	SettingDynamicPrompt             = "dynamic_instrument_prompt"
	SettingDynamicModel              = "dynamic_instrument_model"
	SettingMaxInstruments            = "max_instruments"

	// AppSettingAccountRefreshInterval is the minutes between periodic
	// account refresh job firings; default 5.
	AppSettingAccountRefreshInterval     = "account_refresh_interval"
	DefaultAccountRefreshIntervalMinutes = 5.0
)

// Manager owns the cron scheduler and its control-plane consumer. Jobs are
// materialised per expert instance from schedule settings and can be
// re-scheduled at runtime.
type Manager struct {
	cron     *cron.Cron
	store    *store.Store
	queue    *queue.Manager
	experts  domain.ExpertRegistry
	accounts *broker.AccountRegistry
	log      zerolog.Logger

	entriesMu sync.Mutex
	entries   map[string]cron.EntryID // job ID -> cron entry, for replace-on-reschedule

	control chan controlCommand
	bgCtx   context.Context
	cancel  context.CancelFunc
}

// New builds a Manager. accounts supplies the registered broker accounts the
// periodic account refresh job reconciles; bgCtx is the long-lived context
// used by the control loop and every fired job, cancelled via Stop.
func New(st *store.Store, q *queue.Manager, experts domain.ExpertRegistry, accounts *broker.AccountRegistry, log zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:    st,
		queue:    q,
		experts:  experts,
		accounts: accounts,
		log:      log.With().Str("component", "job_manager").Logger(),
		entries:  make(map[string]cron.EntryID),
		control:  make(chan controlCommand, 32),
		bgCtx:    ctx,
		cancel:   cancel,
	}
}

// Start materialises every enabled expert instance's jobs, schedules the
// periodic account refresh job, and starts the cron executor plus the
// control-plane consumer goroutine.
func (m *Manager) Start(ctx context.Context) error {
	go m.runControlLoop()

	m.RefreshExpertSchedulesSync(nil)

	if err := m.scheduleAccountRefreshJob(ctx); err != nil {
		return fmt.Errorf("schedule account refresh job: %w", err)
	}

	m.cron.Start()
	m.log.Info().Msg("job manager started")
	return nil
}

// Stop drains the cron scheduler and the control loop.
func (m *Manager) Stop() {
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	m.requestShutdown()
	m.cancel()
	m.log.Info().Msg("job manager stopped")
}

// refreshAllSchedules re-materialises jobs for every enabled expert instance.
func (m *Manager) refreshAllSchedules(ctx context.Context) {
	instances, err := m.store.ListEnabledExpertInstances(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list enabled expert instances")
		return
	}
	for _, inst := range instances {
		if err := m.refreshExpertSchedule(ctx, inst.ID); err != nil {
			m.log.Error().Err(err).Int64("expert_instance_id", inst.ID).Msg("failed to refresh expert schedule")
		}
	}
}

// refreshExpertSchedule removes every existing cron entry owned by
// expertInstanceID, then re-derives and re-registers them from its current
// settings. Disabled or deleted instances simply end up with zero entries.
func (m *Manager) refreshExpertSchedule(ctx context.Context, expertInstanceID int64) error {
	prefix := fmt.Sprintf("expert_%d_", expertInstanceID)
	m.entriesMu.Lock()
	for id, entryID := range m.entries {
		if strings.HasPrefix(id, prefix) {
			m.cron.Remove(entryID)
			delete(m.entries, id)
		}
	}
	m.entriesMu.Unlock()

	inst, err := m.store.GetExpertInstance(ctx, expertInstanceID)
	if err != nil {
		return err
	}
	if !inst.Enabled {
		return nil
	}

	settings, err := m.store.ListSettingsForOwner(ctx, domain.OwnerExpert, expertInstanceID)
	if err != nil {
		return err
	}

	if st, ok := settings[SettingScheduleEnterMarket]; ok {
		if err := m.materialiseEnterMarket(ctx, inst, st, settings); err != nil {
			return fmt.Errorf("materialise enter_market jobs: %w", err)
		}
	}
	if st, ok := settings[SettingScheduleOpenPositions]; ok {
		if err := m.addJob(inst.ID, domain.UseCaseOpenPositions, string(domain.SymbolOpenPositions), st); err != nil {
			return fmt.Errorf("materialise open_positions job: %w", err)
		}
	}

	m.entriesMu.Lock()
	jobCount := countPrefixed(m.entries, prefix)
	m.entriesMu.Unlock()
	m.logActivity(ctx, fmt.Sprintf("refreshed schedule for expert instance %d (%d jobs)", inst.ID, jobCount))
	return nil
}

// materialiseEnterMarket branches on the instrument selection method:
// static expands to one job per enabled instrument; dynamic/expert each
// collapse to a single special-symbol job.
func (m *Manager) materialiseEnterMarket(ctx context.Context, inst domain.ExpertInstance, scheduleSetting domain.Setting, settings map[string]domain.Setting) error {
	method := domain.SelectionStatic
	if st, ok := settings[SettingInstrumentSelectionMethod]; ok {
		// RawValue for a string setting is JSON-encoded (quoted).
		method = domain.InstrumentSelectionMethod(unquote(st.RawValue))
	}

	switch method {
	case domain.SelectionDynamic:
		return m.addJob(inst.ID, domain.UseCaseEnterMarket, string(domain.SymbolDynamic), scheduleSetting)
	case domain.SelectionExpert:
		return m.addJob(inst.ID, domain.UseCaseEnterMarket, string(domain.SymbolExpert), scheduleSetting)
	default:
		expert, err := m.experts.Resolve(ctx, inst)
		if err != nil {
			return err
		}
		symbols, err := expert.GetEnabledInstruments(ctx)
		if err != nil {
			return err
		}
		for _, symbol := range symbols {
			if err := m.addJob(inst.ID, domain.UseCaseEnterMarket, symbol, scheduleSetting); err != nil {
				return err
			}
		}
		return nil
	}
}

// addJob parses st as a Schedule, builds its cron expressions, and registers
// one cron entry per expression under the deterministic job ID
// `expert_{id}_symbol_{SYMBOL}_subtype_{use_case}`.
func (m *Manager) addJob(expertInstanceID int64, useCase domain.AnalysisUseCase, symbol string, st domain.Setting) error {
	var sched Schedule
	if err := st.AsStructured(&sched); err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}
	exprs, err := sched.cronExpressions()
	if err != nil {
		return fmt.Errorf("invalid schedule for expert %d symbol %s: %w", expertInstanceID, symbol, err)
	}

	jobID := fmt.Sprintf("expert_%d_symbol_%s_subtype_%s", expertInstanceID, symbol, useCase)
	for i, expr := range exprs {
		entryJobID := jobID
		if i > 0 {
			entryJobID = fmt.Sprintf("%s_%d", jobID, i)
		}
		entryID, err := m.cron.AddFunc(expr, m.fireFunc(expertInstanceID, symbol, useCase))
		if err != nil {
			return fmt.Errorf("register cron entry %q: %w", expr, err)
		}
		m.entriesMu.Lock()
		m.entries[entryJobID] = entryID
		m.entriesMu.Unlock()
	}
	return nil
}

// fireFunc closes over one job's identity and returns the func cron invokes.
func (m *Manager) fireFunc(expertInstanceID int64, symbol string, useCase domain.AnalysisUseCase) func() {
	return func() {
		m.onFire(m.bgCtx, expertInstanceID, symbol, useCase)
	}
}

// onFire runs when a scheduled trigger fires: it stamps a batch ID and
// submits the matching task, skipping fires that would be no-ops.
func (m *Manager) onFire(ctx context.Context, expertInstanceID int64, symbol string, useCase domain.AnalysisUseCase) {
	now := time.Now()
	batchID := fmt.Sprintf("%d_%s_%s", expertInstanceID, now.Format("1504"), now.Format("20060102"))

	log := m.log.With().Int64("expert_instance_id", expertInstanceID).Str("symbol", symbol).Str("batch_id", batchID).Logger()

	if domain.IsSpecialSymbol(symbol) {
		expansionType := domain.ExpansionType(symbol)
		payload := queue.InstrumentExpansionTaskPayload{ExpertInstanceID: expertInstanceID, ExpansionType: expansionType, UseCase: useCase}
		dedupKey := queue.DedupKey(domain.TaskKindExpansion, expertInstanceID, symbol, useCase)
		if _, err := m.queue.Submit(ctx, queue.SubmitRequest{
			Kind: domain.TaskKindExpansion, Payload: payload, Priority: queue.PriorityLow, DedupKey: dedupKey, BatchID: batchID,
		}); err != nil {
			if _, dup := err.(*domain.DuplicateTaskError); !dup {
				log.Error().Err(err).Msg("failed to submit instrument expansion task")
			}
		}
		return
	}

	switch useCase {
	case domain.UseCaseEnterMarket:
		if exists, err := m.store.HasOpenTransactionForExpertAndSymbol(ctx, expertInstanceID, symbol); err != nil {
			log.Error().Err(err).Msg("failed to check existing transaction before enter_market fire")
			return
		} else if exists {
			return
		}
	case domain.UseCaseOpenPositions:
		if exists, err := m.store.HasOpenTransactionForExpertAndSymbol(ctx, expertInstanceID, symbol); err != nil {
			log.Error().Err(err).Msg("failed to check open transaction before open_positions fire")
			return
		} else if !exists {
			return
		}
	}

	payload := queue.AnalysisTaskPayload{ExpertInstanceID: expertInstanceID, Symbol: symbol, UseCase: useCase}
	dedupKey := queue.DedupKey(domain.TaskKindAnalysis, expertInstanceID, symbol, useCase)
	if _, err := m.queue.Submit(ctx, queue.SubmitRequest{
		Kind: domain.TaskKindAnalysis, Payload: payload, Priority: queue.PriorityLow, DedupKey: dedupKey, BatchID: batchID,
	}); err != nil {
		if _, dup := err.(*domain.DuplicateTaskError); !dup {
			log.Error().Err(err).Msg("failed to submit analysis task")
		}
	}
}

// SubmitManualAnalysis enqueues a user-initiated analysis at the highest
// priority, sharing the scheduled path's dedup and persistence. Manual runs
// may bypass the transaction/balance pre-flight checks.
func (m *Manager) SubmitManualAnalysis(ctx context.Context, expertInstanceID int64, symbol string, useCase domain.AnalysisUseCase, bypassBalanceCheck, bypassTransactionCheck bool) (string, error) {
	if domain.IsSpecialSymbol(symbol) {
		payload := queue.InstrumentExpansionTaskPayload{ExpertInstanceID: expertInstanceID, ExpansionType: domain.ExpansionType(symbol), UseCase: useCase}
		return m.queue.Submit(ctx, queue.SubmitRequest{
			Kind:     domain.TaskKindExpansion,
			Payload:  payload,
			Priority: queue.PriorityHigh,
			DedupKey: queue.DedupKey(domain.TaskKindExpansion, expertInstanceID, symbol, useCase),
		})
	}
	payload := queue.AnalysisTaskPayload{
		ExpertInstanceID:       expertInstanceID,
		Symbol:                 symbol,
		UseCase:                useCase,
		BypassBalanceCheck:     bypassBalanceCheck,
		BypassTransactionCheck: bypassTransactionCheck,
	}
	return m.queue.Submit(ctx, queue.SubmitRequest{
		Kind:     domain.TaskKindAnalysis,
		Payload:  payload,
		Priority: queue.PriorityHigh,
		DedupKey: queue.DedupKey(domain.TaskKindAnalysis, expertInstanceID, symbol, useCase),
	})
}

// scheduleAccountRefreshJob registers the periodic account refresh job at
// the interval named by the account_refresh_interval app setting, creating
// it with a 5-minute default on first start.
func (m *Manager) scheduleAccountRefreshJob(ctx context.Context) error {
	minutes, err := m.store.GetOrCreateFloatSetting(ctx, AppSettingAccountRefreshInterval, DefaultAccountRefreshIntervalMinutes)
	if err != nil {
		return err
	}
	if minutes <= 0 {
		minutes = DefaultAccountRefreshIntervalMinutes
	}
	expr := fmt.Sprintf("@every %dm", int(minutes))
	entryID, err := m.cron.AddFunc(expr, func() { m.runAccountRefresh(m.bgCtx) })
	if err != nil {
		return err
	}
	m.entriesMu.Lock()
	m.entries["account_refresh"] = entryID
	m.entriesMu.Unlock()
	return nil
}

// runAccountRefresh pulls every registered account's orders and
// transactions up to date and resolves any newly-triggered dependent
// orders, mirroring the refresh_account_and_transactions job.
func (m *Manager) runAccountRefresh(ctx context.Context) {
	for _, acct := range m.accounts.All() {
		if err := acct.RefreshOrders(ctx); err != nil {
			m.log.Error().Err(err).Int64("account_id", acct.Definition.ID).Msg("periodic order refresh failed")
			continue
		}
		if err := acct.ResolveDependentOrders(ctx); err != nil {
			m.log.Error().Err(err).Int64("account_id", acct.Definition.ID).Msg("periodic dependency resolution failed")
		}
		if err := acct.RefreshTransactions(ctx); err != nil {
			m.log.Error().Err(err).Int64("account_id", acct.Definition.ID).Msg("periodic transaction refresh failed")
		}
	}
}

// AddPeriodicFunc registers an arbitrary periodic job under id, replacing a
// previous registration with the same id. Used for ambient jobs (database
// backup) the embedding program opts into.
func (m *Manager) AddPeriodicFunc(id string, every time.Duration, fn func(context.Context)) error {
	m.entriesMu.Lock()
	defer m.entriesMu.Unlock()
	if prev, ok := m.entries[id]; ok {
		m.cron.Remove(prev)
	}
	entryID, err := m.cron.AddFunc(fmt.Sprintf("@every %s", every), func() { fn(m.bgCtx) })
	if err != nil {
		return err
	}
	m.entries[id] = entryID
	return nil
}

func countPrefixed(entries map[string]cron.EntryID, prefix string) int {
	n := 0
	for id := range entries {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func (m *Manager) logActivity(ctx context.Context, description string) {
	_, _ = m.store.LogActivity(ctx, domain.ActivityLog{
		Severity:    domain.SeverityInfo,
		Type:        "scheduler_refresh",
		Description: description,
	})
}
