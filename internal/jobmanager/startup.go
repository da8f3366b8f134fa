package jobmanager

import (
	"context"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
)

// ReconcileStartup re-marks any MarketAnalysis row still RUNNING at process
// boot as FAILED with startup_cleanup=true, since a RUNNING row implies a
// worker that no longer exists.
func ReconcileStartup(ctx context.Context, st *store.Store) error {
	running, err := st.ListMarketAnalysesByStatus(ctx, domain.AnalysisRunning)
	if err != nil {
		return err
	}
	for _, a := range running {
		state := mergeState(a.State, "startup_cleanup", true)
		state = mergeState(state, "failure_reason", "Application was restarted while analysis was running")
		if err := st.UpdateMarketAnalysisStatus(ctx, a.ID, domain.AnalysisFailed, state); err != nil {
			return err
		}
	}
	_, _ = st.LogActivity(ctx, domain.ActivityLog{
		Severity:    domain.SeverityInfo,
		Type:        "application_startup",
		Description: "application startup: reconciled orphaned analyses",
		Data:        map[string]interface{}{"reconciled_count": len(running)},
	})
	return nil
}
