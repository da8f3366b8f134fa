package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
)

// Executor runs one claimed task to completion. Implementations live in
// internal/jobmanager (the AnalysisTask/InstrumentExpansionTask executor).
type Executor interface {
	Execute(ctx context.Context, task domain.PersistedQueueTask) error
}

// Manager is the Worker Queue's submission and scheduling surface. Ordering
// and dedup are enforced by the backing store (priority, FIFO, and the
// dedup_key uniqueness invariant all live in SQL); Manager's own state is
// limited to the worker pool's lifecycle and the trigger channel that wakes
// it up.
type Manager struct {
	store    *store.Store
	executor Executor
	log      zerolog.Logger

	poolSize int
	trigger  chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
}

// New builds a Manager with a worker pool of size poolSize.
func New(st *store.Store, executor Executor, poolSize int, log zerolog.Logger) *Manager {
	if poolSize < 1 {
		poolSize = 2
	}
	return &Manager{
		store:    st,
		executor: executor,
		poolSize: poolSize,
		log:      log.With().Str("component", "worker_queue").Logger(),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Submit enqueues a task: dedup against any
// PENDING/RUNNING task sharing req.DedupKey, persist, and wake the pool.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.DedupKey != "" {
		existing, found, err := m.store.ActiveTaskForDedupKey(ctx, req.DedupKey)
		if err != nil {
			return "", err
		}
		if found {
			return "", &domain.DuplicateTaskError{Key: req.DedupKey, ExistingTaskID: existing.ID}
		}
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}

	task, err := m.store.AddQueueTask(ctx, domain.PersistedQueueTask{
		Kind:     req.Kind,
		Payload:  payload,
		Priority: req.Priority,
		DedupKey: req.DedupKey,
		BatchID:  req.BatchID,
	})
	if err != nil {
		// The partial unique index on (dedup_key, active statuses) closes the
		// race between the pre-check above and the insert.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return "", &domain.DuplicateTaskError{Key: req.DedupKey}
		}
		return "", fmt.Errorf("persist queue task: %w", err)
	}

	m.Wake()
	return task.ID, nil
}

// Cancel cancels a PENDING task; a no-op (false, nil) for anything already
// RUNNING or terminal.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	return m.store.CancelQueueTask(ctx, id)
}

// GetPending, GetRunning, GetAll, and GetStatus expose the read-only
// diagnostics surface the API server renders.
func (m *Manager) GetPending(ctx context.Context) ([]domain.PersistedQueueTask, error) {
	return m.store.ListQueueTasksByStatus(ctx, domain.QueuePending)
}

func (m *Manager) GetRunning(ctx context.Context) ([]domain.PersistedQueueTask, error) {
	return m.store.ListQueueTasksByStatus(ctx, domain.QueueRunning)
}

func (m *Manager) GetAll(ctx context.Context) ([]domain.PersistedQueueTask, error) {
	return m.store.ListAllQueueTasks(ctx)
}

func (m *Manager) GetTaskStatus(ctx context.Context, id string) (domain.PersistedQueueTask, error) {
	return m.store.GetQueueTask(ctx, id)
}

// Wake nudges the pool to check for newly-available work. Safe to call from
// any goroutine; non-blocking.
func (m *Manager) Wake() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// ReconcileStartup re-marks every still-RUNNING task FAILED with an
// "application restart" error, since a RUNNING task implies a worker that no
// longer exists.
func (m *Manager) ReconcileStartup(ctx context.Context) error {
	running, err := m.store.ListQueueTasksByStatus(ctx, domain.QueueRunning)
	if err != nil {
		return err
	}
	for _, t := range running {
		if err := m.store.CompleteQueueTask(ctx, t.ID, domain.QueueFailed, "application restart"); err != nil {
			return fmt.Errorf("reconcile orphaned task %s: %w", t.ID, err)
		}
		m.log.Warn().Str("task_id", t.ID).Msg("marked orphaned RUNNING task FAILED after restart")
	}
	return nil
}
