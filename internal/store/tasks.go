package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
)

const taskColumns = `id,task_type,payload,priority,status,scheduled_at,retries,max_retries,error_message,result,client_id,created_by,created_at,started_at,completed_at`

// CreateTask inserts t, filling in its ID and CreatedAt.
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	if t.ID == "" {
		t.ID = "tsk_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	t.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Type, []byte(t.Payload), t.Priority, t.Status, nullableMS(t.ScheduledAt),
		t.Retries, t.MaxRetries, t.ErrorMessage, []byte(t.Result), t.ClientID, t.CreatedBy,
		unixMS(t.CreatedAt), nullableMS(t.StartedAt), nullableMS(t.CompletedAt))
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ClaimPending atomically selects up to limit eligible pending tasks, ordered
// by priority descending then creation time ascending, and flips them to
// running. The whole claim happens in one transaction so two concurrent
// claimers never mark the same row; rows another claimer already flipped are
// simply no longer pending (lock-and-skip).
func (s *Store) ClaimPending(ctx context.Context, now time.Time, limit int) ([]domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE status='pending' AND (scheduled_at IS NULL OR scheduled_at <= ?)
ORDER BY priority DESC, created_at ASC
LIMIT ?`, unixMS(now), limit)
	if err != nil {
		return nil, err
	}
	var claimed []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	started := fromMS(unixMS(now))
	for i := range claimed {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status='running', started_at=? WHERE id=? AND status='pending'`,
			unixMS(started), claimed[i].ID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("claim lost for task %s", claimed[i].ID)
		}
		claimed[i].Status = domain.TaskRunning
		claimed[i].StartedAt = &started
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteTask records a successful handler run.
func (s *Store) CompleteTask(ctx context.Context, id string, result []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status='completed', result=?, error_message='', completed_at=? WHERE id=?`,
		result, unixMS(now), id)
	return err
}

// FailTask records a terminal failure.
func (s *Store) FailTask(ctx context.Context, id, errMsg string, retries int, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status='failed', error_message=?, retries=?, completed_at=? WHERE id=?`,
		errMsg, retries, unixMS(now), id)
	return err
}

// RetryTask re-queues a failed attempt. The task becomes eligible again at
// notBefore via the ordinary scheduled_at check.
func (s *Store) RetryTask(ctx context.Context, id, errMsg string, retries int, notBefore time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status='pending', error_message=?, retries=?, scheduled_at=? WHERE id=?`,
		errMsg, retries, unixMS(notBefore), id)
	return err
}

// CancelTask cancels a pending task. Returns false if the task was not
// pending (already claimed, finished, or unknown).
func (s *Store) CancelTask(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status='cancelled', completed_at=? WHERE id=? AND status='pending'`,
		unixMS(now), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ResetFailed puts a failed task back to pending with a clean slate.
func (s *Store) ResetFailed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status='pending', retries=0, error_message='', scheduled_at=NULL,
       started_at=NULL, completed_at=NULL
WHERE id=? AND status='failed'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeleteFinishedBefore hard-deletes completed/failed/cancelled tasks whose
// completed_at precedes cutoff.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM tasks
WHERE status IN ('completed','failed','cancelled') AND completed_at IS NOT NULL AND completed_at < ?`,
		unixMS(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecoverStale re-queues tasks stuck in running, e.g. after a crash mid
// handler. Intended for startup, before any worker is polling.
func (s *Store) RecoverStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status='pending', started_at=NULL WHERE status='running'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TaskStats counts tasks by status plus completions since local midnight.
func (s *Store) TaskStats(ctx context.Context, now time.Time) (domain.QueueStats, error) {
	stats := domain.QueueStats{ByStatus: map[domain.TaskStatus]int{
		domain.TaskPending: 0, domain.TaskRunning: 0, domain.TaskCompleted: 0,
		domain.TaskFailed: 0, domain.TaskCancelled: 0,
	}}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[domain.TaskStatus(st)] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	y, m, d := now.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status='completed' AND completed_at >= ?`, unixMS(midnight)).
		Scan(&stats.CompletedToday)
	return stats, err
}

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	Status   domain.TaskStatus
	TaskType string
	Limit    int
	Offset   int
}

func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	where := []string{"1=1"}
	args := []any{}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.TaskType != "" {
		where = append(where, "task_type=?")
		args = append(args, f.TaskType)
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE `+strings.Join(where, " AND ")+`
ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var payload, result []byte
	var createdAt int64
	var scheduledAt, startedAt, completedAt, clientID sql.NullInt64
	err := row.Scan(&t.ID, &t.Type, &payload, &t.Priority, &t.Status, &scheduledAt,
		&t.Retries, &t.MaxRetries, &t.ErrorMessage, &result, &clientID, &t.CreatedBy,
		&createdAt, &startedAt, &completedAt)
	if err != nil {
		return domain.Task{}, err
	}
	t.Payload = payload
	t.Result = result
	t.CreatedAt = fromMS(createdAt)
	t.ScheduledAt = fromNullMS(scheduledAt)
	t.StartedAt = fromNullMS(startedAt)
	t.CompletedAt = fromNullMS(completedAt)
	if clientID.Valid {
		v := clientID.Int64
		t.ClientID = &v
	}
	return t, nil
}
