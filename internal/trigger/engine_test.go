package trigger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
)

type fixture struct {
	store  *store.Store
	queue  *queue.Queue
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := queue.NewRegistry()
	q := queue.New(st, registry)
	engine := NewEngine(st, q)
	registry.Register(TaskTypeExecuteWorkflow, engine.HandleExecuteWorkflow)
	return &fixture{store: st, queue: q, engine: engine}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		n, err := f.queue.DequeueAndRun(context.Background(), 10)
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func (f *fixture) createClient(t *testing.T, c domain.Client) int64 {
	t.Helper()
	if c.Name == "" {
		c.Name = "Test Client"
	}
	if c.Status == "" {
		c.Status = "active"
	}
	require.NoError(t, f.store.CreateClient(context.Background(), &c))
	return c.ID
}

func (f *fixture) createTrigger(t *testing.T, trig domain.Trigger) string {
	t.Helper()
	require.NoError(t, f.engine.CreateTrigger(context.Background(), &trig))
	return trig.ID
}

func action(actionType, params string) domain.Action {
	a := domain.Action{Type: actionType}
	if params != "" {
		a.Params = json.RawMessage(params)
	}
	return a
}

func TestEvaluateNumericBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createTrigger(t, domain.Trigger{
		Name:        "overdue deadline",
		TriggerType: "deadline_check",
		Conditions:  json.RawMessage(`{"days_remaining_max": -5}`),
		Actions:     []domain.Action{action(ActionCreateTask, `{"task_type":"escalate"}`)},
		Priority:    5,
	})

	matches, err := f.engine.Evaluate(ctx, "deadline_check", map[string]any{"days_remaining": -6})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = f.engine.Evaluate(ctx, "deadline_check", map[string]any{"days_remaining": 0})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// A condition on a field the event doesn't carry passes rather than failing
// the match. That fail-open behavior is deliberate (optional context fields
// must not suppress triggers) and this test pins it.
func TestConditionsMissingFieldPasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createTrigger(t, domain.Trigger{
		Name:        "equifax dispute",
		TriggerType: "dispute_filed",
		Conditions:  json.RawMessage(`{"bureau_in": ["Equifax"]}`),
		Actions:     []domain.Action{action(ActionCreateTask, `{"task_type":"review"}`)},
		Priority:    5,
	})

	matches, err := f.engine.Evaluate(ctx, "dispute_filed", map[string]any{"case_id": 42})
	require.NoError(t, err)
	assert.Len(t, matches, 1, "missing field must pass the predicate")

	matches, err = f.engine.Evaluate(ctx, "dispute_filed", map[string]any{"bureau": "TransUnion"})
	require.NoError(t, err)
	assert.Empty(t, matches, "present non-member field must fail the predicate")
}

func TestConditionOperators(t *testing.T) {
	preds, err := CompileConditions(json.RawMessage(`{
		"status": "active",
		"score_min": 500,
		"age_max": 90,
		"bureau_in": ["Equifax", "Experian"],
		"state_not_in": ["closed", "archived"]
	}`))
	require.NoError(t, err)
	require.Len(t, preds, 5)

	match := map[string]any{
		"status": "active", "score": 650.0, "age": 30.0, "bureau": "Equifax", "state": "open",
	}
	assert.True(t, matchAll(preds, match))

	for field, bad := range map[string]any{
		"status": "inactive",
		"score":  499.0,
		"age":    91.0,
		"bureau": "TransUnion",
		"state":  "closed",
	} {
		event := map[string]any{}
		for k, v := range match {
			event[k] = v
		}
		event[field] = bad
		assert.False(t, matchAll(preds, event), field)
	}

	// Empty and absent conditions match unconditionally.
	none, err := CompileConditions(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, matchAll(none, map[string]any{"anything": 1}))
	none, err = CompileConditions(nil)
	require.NoError(t, err)
	assert.True(t, matchAll(none, nil))
}

func TestCompileConditionsSuffixPrecedence(t *testing.T) {
	preds, err := CompileConditions(json.RawMessage(`{"state_not_in": ["x"]}`))
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "state", preds[0].Field)
	assert.Equal(t, OpNotIn, preds[0].Op)

	_, err = CompileConditions(json.RawMessage(`{"bureau_in": "Equifax"}`))
	assert.Error(t, err, "membership operand must be a list")
}

func TestCreateTriggerRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)
	err := f.engine.CreateTrigger(context.Background(), &domain.Trigger{
		Name:        "bad",
		TriggerType: "case_created",
		Actions:     []domain.Action{action("launch_missiles", "")},
	})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestEndToEndCaseCreatedWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clientID := f.createClient(t, domain.Client{Name: "Jordan Ellis"})
	triggerID := f.createTrigger(t, domain.Trigger{
		Name:        "welcome note",
		TriggerType: "case_created",
		Actions:     []domain.Action{action(ActionAddNote, `{"note_text":"x"}`)},
		Priority:    5,
	})

	matches, err := f.engine.Evaluate(ctx, "case_created", map[string]any{"client_id": clientID})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, triggerID, matches[0].TriggerID)

	queued, err := f.queue.GetStatus(ctx, matches[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeExecuteWorkflow, queued.Type)
	assert.Equal(t, domain.TaskPending, queued.Status)

	f.drain(t)

	done, err := f.queue.GetStatus(ctx, matches[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, done.Status)

	execs, err := f.store.ListExecutions(ctx, triggerID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecSuccess, execs[0].Status)
	require.Len(t, execs[0].ActionsExecuted, 1)
	assert.True(t, execs[0].ActionsExecuted[0].Success)

	notes, err := f.store.ListNotes(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "x", notes[0].Text)

	trig, err := f.store.GetTrigger(ctx, triggerID)
	require.NoError(t, err)
	assert.Equal(t, 1, trig.TriggerCount)
	assert.NotNil(t, trig.LastTriggered)
}

func TestExecuteActionsPartialAndFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Client without an email makes send_email fail; add_note still runs.
	clientID := f.createClient(t, domain.Client{Name: "No Email"})
	partialID := f.createTrigger(t, domain.Trigger{
		Name:        "partial",
		TriggerType: "case_created",
		Actions: []domain.Action{
			action(ActionSendEmail, `{"template":"welcome"}`),
			action(ActionAddNote, `{"note_text":"still here"}`),
		},
	})
	exec, err := f.engine.ExecuteActions(ctx, partialID, "case_created", map[string]any{"client_id": clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecPartial, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "no email address")
	require.Len(t, exec.ActionsExecuted, 2)
	assert.False(t, exec.ActionsExecuted[0].Success)
	assert.True(t, exec.ActionsExecuted[1].Success)

	failedID := f.createTrigger(t, domain.Trigger{
		Name:        "all failing",
		TriggerType: "case_created",
		Actions:     []domain.Action{action(ActionSendEmail, `{"template":"welcome"}`)},
	})
	exec, err = f.engine.ExecuteActions(ctx, failedID, "case_created", map[string]any{"client_id": clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecFailed, exec.Status)
}

func TestSendSMSOptOutIsSkippedNotFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clientID := f.createClient(t, domain.Client{Name: "Opted Out", Phone: "555-0100", SmsOptIn: false})
	triggerID := f.createTrigger(t, domain.Trigger{
		Name:        "sms reminder",
		TriggerType: "deadline_check",
		Actions:     []domain.Action{action(ActionSendSMS, `{"message":"reminder"}`)},
	})

	exec, err := f.engine.ExecuteActions(ctx, triggerID, "deadline_check", map[string]any{"client_id": clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecSuccess, exec.Status, "a skip is not a failure")
	require.Len(t, exec.ActionsExecuted, 1)
	assert.True(t, exec.ActionsExecuted[0].Skipped)
	assert.False(t, exec.ActionsExecuted[0].Success)
}

func TestUpdateStatusCommitsWithExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clientID := f.createClient(t, domain.Client{Name: "Mover", Status: "lead"})
	triggerID := f.createTrigger(t, domain.Trigger{
		Name:        "promote",
		TriggerType: "retainer_signed",
		Actions: []domain.Action{
			action(ActionUpdateStatus, `{"new_status":"active_client"}`),
			action(ActionAssignAttorney, `{"staff_id":7,"assignment_type":"primary"}`),
			action(ActionScheduleFollowup, `{"days_from_now":14,"deadline_type":"check_in"}`),
		},
	})

	exec, err := f.engine.ExecuteActions(ctx, triggerID, "retainer_signed", map[string]any{"client_id": clientID})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecSuccess, exec.Status)

	client, err := f.store.GetClient(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, "active_client", client.Status)
	require.NotNil(t, client.AttorneyID)
	assert.Equal(t, int64(7), *client.AttorneyID)

	deadlines, err := f.store.ListDeadlines(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, deadlines, 1)
	assert.Equal(t, "check_in", deadlines[0].Type)
}

func TestEvaluateOrdersByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createTrigger(t, domain.Trigger{
		Name: "low", TriggerType: "case_created", Priority: 2,
		Actions: []domain.Action{action(ActionCreateTask, `{"task_type":"a"}`)},
	})
	high := f.createTrigger(t, domain.Trigger{
		Name: "high", TriggerType: "case_created", Priority: 9,
		Actions: []domain.Action{action(ActionCreateTask, `{"task_type":"b"}`)},
	})

	matches, err := f.engine.Evaluate(ctx, "case_created", map[string]any{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, high, matches[0].TriggerID)

	// The queued workflow task inherits the trigger's priority.
	task, err := f.queue.GetStatus(ctx, matches[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, 9, task.Priority)
}

func TestTestTriggerDryRunHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	triggerID := f.createTrigger(t, domain.Trigger{
		Name:        "dry run target",
		TriggerType: "case_created",
		Conditions:  json.RawMessage(`{"source": "web"}`),
		Actions:     []domain.Action{action(ActionAddNote, `{"note_text":"hi"}`)},
	})

	report, err := f.engine.TestTrigger(ctx, triggerID, map[string]any{"source": "web"})
	require.NoError(t, err)
	assert.True(t, report.Matched)
	require.Len(t, report.Actions, 1)

	report, err = f.engine.TestTrigger(ctx, triggerID, map[string]any{"source": "referral"})
	require.NoError(t, err)
	assert.False(t, report.Matched)
	assert.Empty(t, report.Actions)

	// Nothing was enqueued or recorded.
	tasks, err := f.queue.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	execs, err := f.store.ListExecutions(ctx, triggerID, 10)
	require.NoError(t, err)
	assert.Empty(t, execs)

	trig, err := f.store.GetTrigger(ctx, triggerID)
	require.NoError(t, err)
	assert.Equal(t, 0, trig.TriggerCount)
	assert.Nil(t, trig.LastTriggered)
}

func TestEmptyActionListIsLegal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	triggerID := f.createTrigger(t, domain.Trigger{
		Name:        "no-op",
		TriggerType: "case_created",
	})
	exec, err := f.engine.ExecuteActions(ctx, triggerID, "case_created", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecSuccess, exec.Status)
	assert.Empty(t, exec.ActionsExecuted)
}
