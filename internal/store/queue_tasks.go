package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/google/uuid"
)

const queueTaskColumns = `id, kind, priority, payload, status, batch_id, retry_count, error, submitted_at, claimed_at, completed_at, dedup_key`

func scanQueueTask(scan func(dest ...interface{}) error) (domain.PersistedQueueTask, error) {
	var t domain.PersistedQueueTask
	var payload []byte
	if err := scan(&t.ID, &t.Kind, &t.Priority, &payload, &t.Status, &t.BatchID, &t.RetryCount, &t.Error,
		&t.SubmittedAt, &t.ClaimedAt, &t.CompletedAt, &t.DedupKey); err != nil {
		if err == sql.ErrNoRows {
			return domain.PersistedQueueTask{}, &domain.NotFoundError{Kind: "PersistedQueueTask", ID: "?"}
		}
		return domain.PersistedQueueTask{}, err
	}
	t.Payload = payload
	return t, nil
}

// AddQueueTask persists a new task in PENDING status with a fresh ID.
func (s *Store) AddQueueTask(ctx context.Context, t domain.PersistedQueueTask) (domain.PersistedQueueTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.QueuePending
	}
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO queue_tasks (id, kind, priority, payload, status, batch_id, retry_count, error, dedup_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Kind, t.Priority, []byte(t.Payload), t.Status, t.BatchID, t.RetryCount, t.Error, t.DedupKey)
	if err != nil {
		return domain.PersistedQueueTask{}, fmt.Errorf("add queue task: %w", err)
	}
	return s.GetQueueTask(ctx, t.ID)
}

// GetQueueTask fetches a PersistedQueueTask by ID.
func (s *Store) GetQueueTask(ctx context.Context, id string) (domain.PersistedQueueTask, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+queueTaskColumns+` FROM queue_tasks WHERE id=?`, id)
	return scanQueueTask(row.Scan)
}

// ActiveTaskForDedupKey returns the PENDING or RUNNING task for key, if any.
func (s *Store) ActiveTaskForDedupKey(ctx context.Context, key string) (domain.PersistedQueueTask, bool, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+queueTaskColumns+` FROM queue_tasks WHERE dedup_key=? AND status IN ('PENDING','RUNNING') LIMIT 1`, key)
	t, err := scanQueueTask(row.Scan)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return domain.PersistedQueueTask{}, false, nil
		}
		return domain.PersistedQueueTask{}, false, err
	}
	return t, true, nil
}

// ClaimQueueTask moves a task from PENDING to RUNNING, recording the claim
// time. Returns false if the task was claimed by someone else first, so
// exactly one worker ever observes a given task in the RUNNING state.
func (s *Store) ClaimQueueTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE queue_tasks SET status='RUNNING', claimed_at=CURRENT_TIMESTAMP WHERE id=? AND status='PENDING'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteQueueTask finalises a task as COMPLETED or FAILED with an optional
// error message.
func (s *Store) CompleteQueueTask(ctx context.Context, id string, status domain.QueueTaskStatus, errMsg string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE queue_tasks SET status=?, error=?, completed_at=CURRENT_TIMESTAMP WHERE id=?`, status, errMsg, id)
	return err
}

// CancelQueueTask cancels a PENDING task; returns false if it was not
// PENDING.
func (s *Store) CancelQueueTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE queue_tasks SET status='CANCELED', completed_at=CURRENT_TIMESTAMP WHERE id=? AND status='PENDING'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListQueueTasksByStatus returns every task in the given status, FIFO within
// priority (lower priority value first).
func (s *Store) ListQueueTasksByStatus(ctx context.Context, status domain.QueueTaskStatus) ([]domain.PersistedQueueTask, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+queueTaskColumns+` FROM queue_tasks WHERE status=? ORDER BY priority ASC, submitted_at ASC, rowid ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PersistedQueueTask
	for rows.Next() {
		t, err := scanQueueTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAllQueueTasks returns every queue task, most recently submitted first.
func (s *Store) ListAllQueueTasks(ctx context.Context) ([]domain.PersistedQueueTask, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+queueTaskColumns+` FROM queue_tasks ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PersistedQueueTask
	for rows.Next() {
		t, err := scanQueueTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NextClaimableQueueTask returns the highest-priority, oldest PENDING task,
// or found=false if none exists.
func (s *Store) NextClaimableQueueTask(ctx context.Context) (domain.PersistedQueueTask, bool, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+queueTaskColumns+` FROM queue_tasks WHERE status='PENDING' ORDER BY priority ASC, submitted_at ASC, rowid ASC LIMIT 1`)
	t, err := scanQueueTask(row.Scan)
	if err != nil {
		if _, ok := err.(*domain.NotFoundError); ok {
			return domain.PersistedQueueTask{}, false, nil
		}
		return domain.PersistedQueueTask{}, false, err
	}
	return t, true, nil
}
