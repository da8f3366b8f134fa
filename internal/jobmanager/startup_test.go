package jobmanager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), Profile: store.ProfileStandard, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return store.New(db)
}

func TestReconcileStartup_FailsOrphanedRunningAnalyses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	analysis, err := st.AddMarketAnalysis(ctx, domain.MarketAnalysis{
		ExpertInstanceID: 1, Symbol: "AAPL", UseCase: domain.UseCaseEnterMarket, Status: domain.AnalysisPending,
	})
	require.NoError(t, err)
	require.NoError(t, st.UpdateMarketAnalysisStatus(ctx, analysis.ID, domain.AnalysisRunning, nil))

	require.NoError(t, ReconcileStartup(ctx, st))

	reconciled, err := st.ListMarketAnalysesByStatus(ctx, domain.AnalysisFailed)
	require.NoError(t, err)
	require.Len(t, reconciled, 1)
	assert.Equal(t, true, reconciled[0].State["startup_cleanup"])
}

func TestReconcileStartup_NoOrphansIsNoOp(t *testing.T) {
	st := newTestStore(t)
	assert.NoError(t, ReconcileStartup(context.Background(), st))
}
