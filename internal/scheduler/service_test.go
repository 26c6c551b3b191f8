package scheduler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MDx-Vision/fcra-sub001/internal/cronexpr"
	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
)

func newTestService(t *testing.T) (*Service, *queue.Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	q := queue.New(st, queue.NewRegistry())
	return NewService(st, q, time.Minute), q, st
}

// seedJob inserts a job with an explicit next_run, bypassing CreateJob's
// "next run from now" so ticks can be tested at fixed instants.
func seedJob(t *testing.T, st *store.Store, name, expr string, nextRun time.Time) string {
	t.Helper()
	job := domain.ScheduledJob{
		Name:     name,
		TaskType: "report",
		Payload:  json.RawMessage(`{"kind":"` + name + `"}`),
		CronExpr: expr,
		IsActive: true,
		NextRun:  nextRun,
	}
	require.NoError(t, st.CreateJob(context.Background(), &job))
	return job.ID
}

func pendingTasks(t *testing.T, q *queue.Queue) []domain.Task {
	t.Helper()
	tasks, err := q.ListTasks(context.Background(), store.TaskFilter{Status: domain.TaskPending, Limit: 100})
	require.NoError(t, err)
	return tasks
}

func TestTickFiresOnlyAcrossBoundary(t *testing.T) {
	svc, q, st := newTestService(t)
	ctx := context.Background()

	noon := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)
	jobID := seedJob(t, st, "five-minute-report", "*/5 * * * *", noon)

	require.NoError(t, svc.Tick(ctx, noon))
	assert.Len(t, pendingTasks(t, q), 1, "due job fires at its boundary")

	require.NoError(t, svc.Tick(ctx, noon.Add(4*time.Minute+59*time.Second)))
	assert.Len(t, pendingTasks(t, q), 1, "nothing extra before the next boundary")

	require.NoError(t, svc.Tick(ctx, noon.Add(5*time.Minute+30*time.Second)))
	assert.Len(t, pendingTasks(t, q), 2, "fires exactly once crossing the boundary")

	job, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.RunCount)
	assert.Equal(t, "enqueued", job.LastStatus)
	assert.True(t, job.NextRun.Equal(noon.Add(10*time.Minute)), "next_run advanced to the boundary after the fire")
	require.NotNil(t, job.LastRun)

	task := pendingTasks(t, q)[0]
	assert.Equal(t, "report", task.Type)
	assert.Equal(t, 7, task.Priority)
}

func TestTickIsolatesPerJobFailures(t *testing.T) {
	svc, q, st := newTestService(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)
	// An empty task type makes Enqueue fail for this job only.
	broken := domain.ScheduledJob{Name: "broken", TaskType: "", CronExpr: "* * * * *", IsActive: true, NextRun: now.Add(-time.Minute)}
	require.NoError(t, st.CreateJob(ctx, &broken))
	healthyID := seedJob(t, st, "healthy", "* * * * *", now.Add(-time.Minute))

	require.NoError(t, svc.Tick(ctx, now))

	assert.Len(t, pendingTasks(t, q), 1, "healthy job still fired")
	healthy, err := st.GetJob(ctx, healthyID)
	require.NoError(t, err)
	assert.Equal(t, 1, healthy.RunCount)

	job, err := st.GetJob(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", job.LastStatus)
	assert.NotEmpty(t, job.LastError)
	assert.Equal(t, 0, job.RunCount)
}

func TestRunNowSkipsScheduleArithmetic(t *testing.T) {
	svc, q, st := newTestService(t)
	ctx := context.Background()

	future := time.Now().Add(2 * time.Hour).Truncate(time.Minute)
	jobID := seedJob(t, st, "manual", "0 */2 * * *", future)

	task, err := svc.RunNow(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 8, task.Priority, "manual runs outrank routine ticks")
	assert.Len(t, pendingTasks(t, q), 1)

	job, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.RunCount)
	require.NotNil(t, job.LastRun)
	assert.True(t, job.NextRun.Equal(future), "next_run untouched by manual run")
}

func TestPauseAndResume(t *testing.T) {
	svc, q, st := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	jobID := seedJob(t, st, "pausable", "*/5 * * * *", now.Add(-time.Minute))

	ok, err := svc.Pause(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Tick(ctx, now))
	assert.Empty(t, pendingTasks(t, q), "paused jobs never fire")

	ok, err = svc.Resume(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := st.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, job.IsActive)
	assert.True(t, job.NextRun.After(now), "resume recomputes next_run from now")
	assert.True(t, cronexpr.Matches(job.CronExpr, job.NextRun))
}

func TestCreateJobValidatesCron(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	err := svc.CreateJob(ctx, &domain.ScheduledJob{Name: "bad", TaskType: "report", CronExpr: "* * *"})
	assert.ErrorIs(t, err, cronexpr.ErrInvalidExpression)

	good := domain.ScheduledJob{Name: "good", TaskType: "report", CronExpr: "0 9 * * *"}
	require.NoError(t, svc.CreateJob(ctx, &good))
	assert.True(t, good.IsActive)
	assert.True(t, cronexpr.Matches(good.CronExpr, good.NextRun))
}

func TestEnsureJobIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := domain.ScheduledJob{Name: "nightly-cleanup", TaskType: "queue_cleanup", CronExpr: "0 3 * * *"}
	require.NoError(t, svc.EnsureJob(ctx, job))
	require.NoError(t, svc.EnsureJob(ctx, job))

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
