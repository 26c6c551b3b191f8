// Package scheduler fires cron-driven scheduled jobs into the task queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MDx-Vision/fcra-sub001/internal/cronexpr"
	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
)

const (
	// tickPriority outranks ordinary tasks so routine schedules aren't
	// starved; runNowPriority outranks the tick.
	tickPriority   = 7
	runNowPriority = 8

	statusEnqueued = "enqueued"
	statusError    = "error"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	CreateJob(ctx context.Context, j *domain.ScheduledJob) error
	GetJob(ctx context.Context, id string) (domain.ScheduledJob, error)
	GetJobByName(ctx context.Context, name string) (domain.ScheduledJob, error)
	ListJobs(ctx context.Context) ([]domain.ScheduledJob, error)
	DueJobs(ctx context.Context, now time.Time) ([]domain.ScheduledJob, error)
	AdvanceJob(ctx context.Context, id string, lastRun, nextRun time.Time, status string) error
	MarkJobRun(ctx context.Context, id string, lastRun time.Time, status string) error
	MarkJobError(ctx context.Context, id, errMsg string) error
	SetJobActive(ctx context.Context, id string, active bool, nextRun *time.Time) (bool, error)
}

// Enqueuer is the slice of the task queue the scheduler uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (domain.Task, error)
}

type Service struct {
	store    Store
	queue    Enqueuer
	interval time.Duration
}

func NewService(st Store, q Enqueuer, tickInterval time.Duration) *Service {
	return &Service{store: st, queue: q, interval: tickInterval}
}

// Start runs the tick loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := s.Tick(ctx, now); err != nil {
				log.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// Tick enqueues a task for every active job whose next_run has passed, then
// advances each job's schedule. A single job's enqueue failure is recorded on
// that job and does not stop the rest of the tick.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	due, err := s.store.DueJobs(ctx, now)
	if err != nil {
		return err
	}
	for _, job := range due {
		if err := s.fire(ctx, job, now); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Str("job_name", job.Name).Msg("scheduled job failed")
		}
	}
	return nil
}

func (s *Service) fire(ctx context.Context, job domain.ScheduledJob, now time.Time) error {
	task, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Type:      job.TaskType,
		Payload:   job.Payload,
		Priority:  tickPriority,
		CreatedBy: "scheduler:" + job.Name,
	})
	if err != nil {
		if markErr := s.store.MarkJobError(ctx, job.ID, err.Error()); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}

	nextRun := cronexpr.NextRun(job.CronExpr, now)
	if err := s.store.AdvanceJob(ctx, job.ID, now, nextRun, statusEnqueued); err != nil {
		return err
	}
	log.Info().Str("job_id", job.ID).Str("job_name", job.Name).Str("task_id", task.ID).
		Time("next_run", nextRun).Msg("scheduled job enqueued")
	return nil
}

// RunNow fires a job immediately, ahead of routine ticks, without touching
// its cron schedule.
func (s *Service) RunNow(ctx context.Context, jobID string) (domain.Task, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Type:      job.TaskType,
		Payload:   job.Payload,
		Priority:  runNowPriority,
		CreatedBy: "scheduler:" + job.Name + ":manual",
	})
	if err != nil {
		if markErr := s.store.MarkJobError(ctx, job.ID, err.Error()); markErr != nil {
			return domain.Task{}, errors.Join(err, markErr)
		}
		return domain.Task{}, err
	}
	if err := s.store.MarkJobRun(ctx, job.ID, time.Now(), statusEnqueued); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *Service) Pause(ctx context.Context, jobID string) (bool, error) {
	return s.store.SetJobActive(ctx, jobID, false, nil)
}

// Resume reactivates a job and recomputes next_run from now, so a long pause
// doesn't replay missed runs.
func (s *Service) Resume(ctx context.Context, jobID string) (bool, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	nextRun := cronexpr.NextRun(job.CronExpr, time.Now())
	return s.store.SetJobActive(ctx, jobID, true, &nextRun)
}

// CreateJob validates the cron expression and registers a new scheduled job
// with next_run computed from now.
func (s *Service) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	if job.Name == "" || job.TaskType == "" {
		return errors.New("scheduled job needs a name and task type")
	}
	if _, err := cronexpr.Parse(job.CronExpr); err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}
	job.IsActive = true
	job.NextRun = cronexpr.NextRun(job.CronExpr, time.Now())
	return s.store.CreateJob(ctx, job)
}

// EnsureJob creates the named job if it doesn't exist yet. Used for seeding
// built-in maintenance schedules at startup.
func (s *Service) EnsureJob(ctx context.Context, job domain.ScheduledJob) error {
	_, err := s.store.GetJobByName(ctx, job.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.CreateJob(ctx, &job)
}

func (s *Service) ListJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	return s.store.ListJobs(ctx)
}
