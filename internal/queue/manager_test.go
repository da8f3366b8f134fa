package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(store.Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: store.ProfileStandard,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return store.New(db)
}

// recordingExecutor records every task it is asked to run, optionally
// failing tasks whose ID is listed in failIDs.
type recordingExecutor struct {
	mu      sync.Mutex
	ran     []string
	failIDs map[string]bool
	done    chan struct{}
	want    int
}

func newRecordingExecutor(want int) *recordingExecutor {
	return &recordingExecutor{failIDs: map[string]bool{}, done: make(chan struct{}), want: want}
}

func (e *recordingExecutor) Execute(ctx context.Context, task domain.PersistedQueueTask) error {
	e.mu.Lock()
	e.ran = append(e.ran, task.ID)
	fail := e.failIDs[task.ID]
	done := len(e.ran) >= e.want
	e.mu.Unlock()
	if done {
		close(e.done)
	}
	if fail {
		return assert.AnError
	}
	return nil
}

func (e *recordingExecutor) waitForCompletion(t *testing.T) {
	t.Helper()
	select {
	case <-e.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue to run submitted tasks")
	}
}

func TestManager_SubmitDeduplicatesActiveTask(t *testing.T) {
	st := newTestStore(t)
	m := New(st, newRecordingExecutor(0), 1, zerolog.Nop())

	id, err := m.Submit(context.Background(), SubmitRequest{
		Kind: domain.TaskKindAnalysis, Payload: AnalysisTaskPayload{Symbol: "AAPL"}, DedupKey: "analysis:1:AAPL:ENTER_MARKET",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.Submit(context.Background(), SubmitRequest{
		Kind: domain.TaskKindAnalysis, Payload: AnalysisTaskPayload{Symbol: "AAPL"}, DedupKey: "analysis:1:AAPL:ENTER_MARKET",
	})
	var dupErr *domain.DuplicateTaskError
	require.ErrorAs(t, err, &dupErr)
}

func TestManager_RunExecutesSubmittedTaskAndMarksCompleted(t *testing.T) {
	st := newTestStore(t)
	executor := newRecordingExecutor(1)
	m := New(st, executor, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	id, err := m.Submit(ctx, SubmitRequest{Kind: domain.TaskKindAnalysis, Payload: AnalysisTaskPayload{Symbol: "AAPL"}})
	require.NoError(t, err)

	executor.waitForCompletion(t)

	task, err := m.GetTaskStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, task.Status)
}

func TestManager_CancelPendingTaskSucceeds(t *testing.T) {
	st := newTestStore(t)
	m := New(st, newRecordingExecutor(0), 1, zerolog.Nop())

	id, err := m.Submit(context.Background(), SubmitRequest{Kind: domain.TaskKindAnalysis, Payload: AnalysisTaskPayload{}})
	require.NoError(t, err)

	canceled, err := m.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, canceled)

	pending, err := m.GetPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManager_ReconcileStartupFailsOrphanedRunningTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task, err := st.AddQueueTask(ctx, domain.PersistedQueueTask{Kind: domain.TaskKindAnalysis, Payload: []byte(`{}`)})
	require.NoError(t, err)
	claimed, err := st.ClaimQueueTask(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	m := New(st, newRecordingExecutor(0), 1, zerolog.Nop())
	require.NoError(t, m.ReconcileStartup(ctx))

	got, err := st.GetQueueTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueFailed, got.Status)
}
