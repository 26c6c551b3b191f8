package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecoverStaleRequeuesRunningTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := domain.Task{Type: "stuck", MaxRetries: 3}
	require.NoError(t, st.CreateTask(ctx, &task))
	claimed, err := st.ClaimPending(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := st.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestClaimPendingSkipsClaimedRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := domain.Task{Type: "work", MaxRetries: 3}
		require.NoError(t, st.CreateTask(ctx, &task))
	}

	first, err := st.ClaimPending(ctx, time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := st.ClaimPending(ctx, time.Now(), 5)
	require.NoError(t, err)
	require.Len(t, second, 1, "already-claimed rows are invisible to the next claim")

	seen := map[string]bool{}
	for _, tk := range append(first, second...) {
		assert.False(t, seen[tk.ID], "task claimed twice")
		seen[tk.ID] = true
	}
}

func TestRecordExecutionRollsBackOnMutationFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	trig := domain.Trigger{Name: "t", TriggerType: "case_created", Priority: 5, IsActive: true}
	require.NoError(t, st.CreateTrigger(ctx, &trig))

	exec := domain.Execution{
		TriggerID:    trig.ID,
		TriggerEvent: []byte(`{}`),
		Status:       domain.ExecSuccess,
	}
	// Status update against a client that doesn't exist fails the whole
	// transaction: no execution row, no counter bump.
	err := st.RecordExecution(ctx, &exec, []ClientMutation{StatusUpdate{ClientID: 999, NewStatus: "x"}})
	require.Error(t, err)

	execs, err := st.ListExecutions(ctx, trig.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, execs)

	got, err := st.GetTrigger(ctx, trig.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TriggerCount)
	assert.Nil(t, got.LastTriggered)
}

func TestGetJobByName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := domain.ScheduledJob{Name: "nightly", TaskType: "report", CronExpr: "0 3 * * *", IsActive: true, NextRun: time.Now()}
	require.NoError(t, st.CreateJob(ctx, &job))

	got, err := st.GetJobByName(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = st.GetJobByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskStatsIncludesZeroCounts(t *testing.T) {
	st := newTestStore(t)
	stats, err := st.TaskStats(context.Background(), time.Now())
	require.NoError(t, err)
	for _, status := range []domain.TaskStatus{domain.TaskPending, domain.TaskRunning, domain.TaskCompleted, domain.TaskFailed, domain.TaskCancelled} {
		n, ok := stats.ByStatus[status]
		assert.True(t, ok, string(status))
		assert.Zero(t, n)
	}
}
