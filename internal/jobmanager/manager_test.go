package jobmanager

import (
	"context"
	"testing"

	"github.com/bmigette/tradecore/internal/broker"
	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *queue.Manager) {
	t.Helper()
	st := newTestStore(t)
	q := queue.New(st, nil, 1, zerolog.Nop())
	m := New(st, q, NewExpertRegistry(), broker.NewAccountRegistry(), zerolog.Nop())
	return m, q
}

func TestSubmitManualAnalysis_SecondSubmissionIsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.SubmitManualAnalysis(ctx, 1, "AAPL", domain.UseCaseEnterMarket, false, false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.SubmitManualAnalysis(ctx, 1, "AAPL", domain.UseCaseEnterMarket, false, false)
	var dup *domain.DuplicateTaskError
	require.ErrorAs(t, err, &dup)
}

func TestSubmitManualAnalysis_SpecialSymbolBecomesExpansionTask(t *testing.T) {
	m, q := newTestManager(t)
	ctx := context.Background()

	_, err := m.SubmitManualAnalysis(ctx, 1, string(domain.SymbolOpenPositions), domain.UseCaseOpenPositions, false, false)
	require.NoError(t, err)

	pending, err := q.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskKindExpansion, pending[0].Kind)
}

func TestSubmitManualAnalysis_ExpansionSymbolDoesNotCollideWithSameTicker(t *testing.T) {
	m, q := newTestManager(t)
	ctx := context.Background()

	_, err := m.SubmitManualAnalysis(ctx, 1, string(domain.SymbolDynamic), domain.UseCaseEnterMarket, false, false)
	require.NoError(t, err)

	// An analysis task for a real instrument that happens to spell the same
	// as the special symbol lives under its own dedup namespace.
	_, err = q.Submit(ctx, queue.SubmitRequest{
		Kind:     domain.TaskKindAnalysis,
		Payload:  queue.AnalysisTaskPayload{ExpertInstanceID: 1, Symbol: "DYNAMIC", UseCase: domain.UseCaseEnterMarket},
		Priority: queue.PriorityNormal,
		DedupKey: queue.DedupKey(domain.TaskKindAnalysis, 1, "DYNAMIC", domain.UseCaseEnterMarket),
	})
	require.NoError(t, err)

	pending, err := q.GetPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
