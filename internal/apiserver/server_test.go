package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/queue"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, task domain.PersistedQueueTask) error { return nil }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), Profile: store.ProfileStandard, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	st := store.New(db)
	q := queue.New(st, noopExecutor{}, 1, zerolog.Nop())

	return New(Config{Port: 0, Queue: q, Store: st, Log: zerolog.Nop()}), st
}

func TestServer_HealthzReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_QueuePendingReturnsSubmittedTask(t *testing.T) {
	srv, st := newTestServer(t)
	_, err := st.AddQueueTask(context.Background(), domain.PersistedQueueTask{Kind: domain.TaskKindAnalysis, Payload: []byte(`{}`)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/pending", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []domain.PersistedQueueTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.QueuePending, tasks[0].Status)
}

func TestServer_ActivityEndpointReturnsLoggedEntries(t *testing.T) {
	srv, st := newTestServer(t)
	_, err := st.LogActivity(context.Background(), domain.ActivityLog{Type: "test", Description: "hello"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/activity", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.ActivityLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Description)
}

func TestServer_TaskStatusUnknownIDReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/queue/tasks/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
