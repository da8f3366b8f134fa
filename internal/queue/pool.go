package queue

import (
	"context"
	"sync"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/rs/zerolog"
)

// pollInterval is the periodic failsafe check: claims are always
// possible on Wake(), but a missed
// wakeup (e.g. a task becoming eligible without an explicit Submit, such as
// after a dependency resolves) is still picked up within this window.
const pollInterval = 2 * time.Second

// Run starts poolSize worker goroutines and blocks until Stop is called.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(m.poolSize)
	for i := 0; i < m.poolSize; i++ {
		go func(workerID int) {
			defer wg.Done()
			m.workerLoop(ctx, workerID)
		}(i)
	}

	<-m.stop
	wg.Wait()
	close(m.stopped)
}

// Stop signals every worker to finish its current task and exit.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.stopped
}

func (m *Manager) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	log := m.log.With().Int("worker_id", workerID).Logger()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-m.trigger:
			m.claimAndRun(ctx, log)
		case <-ticker.C:
			m.claimAndRun(ctx, log)
		}
	}
}

// claimAndRun drains every currently-claimable task on this worker, one at a
// time, re-checking after each so a burst of submissions drains without
// waiting for the next tick.
func (m *Manager) claimAndRun(ctx context.Context, log zerolog.Logger) {
	for {
		task, found, err := m.store.NextClaimableQueueTask(ctx)
		if err != nil {
			return
		}
		if !found {
			return
		}

		claimed, err := m.store.ClaimQueueTask(ctx, task.ID)
		if err != nil || !claimed {
			// Another worker claimed it first; try the next one.
			continue
		}

		m.execute(ctx, task)
	}
}

func (m *Manager) execute(ctx context.Context, task domain.PersistedQueueTask) {
	err := m.executor.Execute(ctx, task)
	status := domain.QueueCompleted
	msg := ""
	if err != nil {
		status = domain.QueueFailed
		msg = err.Error()
		m.log.Error().Err(err).Str("task_id", task.ID).Str("kind", string(task.Kind)).Msg("queue task failed")
	}
	if err := m.store.CompleteQueueTask(ctx, task.ID, status, msg); err != nil {
		m.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to finalise queue task")
	}
}
