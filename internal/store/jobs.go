package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
)

const jobColumns = `id,name,task_type,payload,cron_expression,is_active,next_run,last_run,run_count,last_status,last_error,created_at,updated_at`

// CreateJob inserts j, filling ID and timestamps. Job names are unique.
func (s *Store) CreateJob(ctx context.Context, j *domain.ScheduledJob) error {
	if j.ID == "" {
		j.ID = "job_" + uuid.NewString()
	}
	now := time.Now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scheduled_jobs (`+jobColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.TaskType, []byte(j.Payload), j.CronExpr, j.IsActive,
		unixMS(j.NextRun), nullableMS(j.LastRun), j.RunCount, j.LastStatus, j.LastError,
		unixMS(j.CreatedAt), unixMS(j.UpdatedAt))
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (domain.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledJob{}, fmt.Errorf("scheduled job %s: %w", id, ErrNotFound)
	}
	return j, err
}

func (s *Store) GetJobByName(ctx context.Context, name string) (domain.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE name=?`, name)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledJob{}, fmt.Errorf("scheduled job %q: %w", name, ErrNotFound)
	}
	return j, err
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY name`)
}

// DueJobs returns active jobs whose next_run has passed.
func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error) {
	return s.queryJobs(ctx, `
SELECT `+jobColumns+` FROM scheduled_jobs
WHERE is_active=1 AND next_run IS NOT NULL AND next_run <= ?
ORDER BY next_run`, unixMS(now))
}

// AdvanceJob records a fired job: last_run, run_count, and the recomputed
// next_run.
func (s *Store) AdvanceJob(ctx context.Context, id string, lastRun, nextRun time.Time, status string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE scheduled_jobs
SET last_run=?, next_run=?, run_count=run_count+1, last_status=?, last_error='', updated_at=?
WHERE id=?`, unixMS(lastRun), unixMS(nextRun), status, unixMS(time.Now()), id)
	return err
}

// MarkJobRun records an out-of-band manual run without touching next_run.
func (s *Store) MarkJobRun(ctx context.Context, id string, lastRun time.Time, status string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE scheduled_jobs
SET last_run=?, run_count=run_count+1, last_status=?, last_error='', updated_at=?
WHERE id=?`, unixMS(lastRun), status, unixMS(time.Now()), id)
	return err
}

// MarkJobError records a failed enqueue attempt.
func (s *Store) MarkJobError(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE scheduled_jobs SET last_status='error', last_error=?, updated_at=? WHERE id=?`,
		errMsg, unixMS(time.Now()), id)
	return err
}

// SetJobActive toggles is_active. When nextRun is non-nil it is written too
// (resume recomputes the schedule from "now").
func (s *Store) SetJobActive(ctx context.Context, id string, active bool, nextRun *time.Time) (bool, error) {
	var res sql.Result
	var err error
	if nextRun != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_jobs SET is_active=?, next_run=?, updated_at=? WHERE id=?`,
			active, unixMS(*nextRun), unixMS(time.Now()), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_jobs SET is_active=?, updated_at=? WHERE id=?`,
			active, unixMS(time.Now()), id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (domain.ScheduledJob, error) {
	var j domain.ScheduledJob
	var payload []byte
	var createdAt, updatedAt int64
	var nextRun, lastRun sql.NullInt64
	err := row.Scan(&j.ID, &j.Name, &j.TaskType, &payload, &j.CronExpr, &j.IsActive,
		&nextRun, &lastRun, &j.RunCount, &j.LastStatus, &j.LastError, &createdAt, &updatedAt)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	j.Payload = payload
	j.CreatedAt = fromMS(createdAt)
	j.UpdatedAt = fromMS(updatedAt)
	if nextRun.Valid {
		j.NextRun = fromMS(nextRun.Int64)
	}
	if lastRun.Valid {
		v := fromMS(lastRun.Int64)
		j.LastRun = &v
	}
	return j, nil
}
