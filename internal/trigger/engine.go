// Package trigger implements the workflow rule engine: condition evaluation
// over typed events, deferred action execution through the task queue, and
// the audit trail of every firing.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
)

// TaskTypeExecuteWorkflow is the task type the engine enqueues for each
// matched trigger; HandleExecuteWorkflow must be registered under it.
const TaskTypeExecuteWorkflow = "execute_workflow"

var (
	ErrClientEmailMissing = errors.New("client has no email address")
	ErrClientNotFound     = errors.New("no client in event")
)

// Store is the persistence surface the engine needs.
type Store interface {
	CreateTrigger(ctx context.Context, t *domain.Trigger) error
	GetTrigger(ctx context.Context, id string) (domain.Trigger, error)
	ListTriggers(ctx context.Context) ([]domain.Trigger, error)
	ActiveTriggersForType(ctx context.Context, eventType string) ([]domain.Trigger, error)
	GetClient(ctx context.Context, id int64) (domain.Client, error)
	RecordExecution(ctx context.Context, e *domain.Execution, muts []store.ClientMutation) error
}

// Enqueuer is the slice of the task queue the engine uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (domain.Task, error)
}

type Engine struct {
	store Store
	queue Enqueuer
}

func NewEngine(st Store, q Enqueuer) *Engine {
	return &Engine{store: st, queue: q}
}

// workflowPayload is the execute_workflow task payload: enough to replay the
// firing asynchronously.
type workflowPayload struct {
	TriggerID string         `json:"trigger_id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

// Match is one trigger that fired for an event, with the task carrying its
// deferred actions.
type Match struct {
	TriggerID string `json:"trigger_id"`
	TaskID    string `json:"task_id"`
}

// CreateTrigger validates conditions and actions, clamps priority, and
// persists the trigger.
func (e *Engine) CreateTrigger(ctx context.Context, t *domain.Trigger) error {
	if t.Name == "" || t.TriggerType == "" {
		return errors.New("trigger needs a name and trigger type")
	}
	if _, err := CompileConditions(t.Conditions); err != nil {
		return fmt.Errorf("trigger %q: %w", t.Name, err)
	}
	if err := ValidateActions(t.Actions); err != nil {
		return fmt.Errorf("trigger %q: %w", t.Name, err)
	}
	if t.Priority < 1 {
		t.Priority = 1
	}
	if t.Priority > 10 {
		t.Priority = 10
	}
	t.IsActive = true
	return e.store.CreateTrigger(ctx, t)
}

// Evaluate matches eventData against every active trigger for eventType
// (highest priority first) and enqueues one execute_workflow task per match.
// Side effects are deferred to the queue so event ingestion stays fast.
// Malformed stored conditions make that trigger a non-match, never an error.
func (e *Engine) Evaluate(ctx context.Context, eventType string, eventData map[string]any) ([]Match, error) {
	triggers, err := e.store.ActiveTriggersForType(ctx, eventType)
	if err != nil {
		return nil, err
	}
	var matches []Match
	for _, t := range triggers {
		preds, err := CompileConditions(t.Conditions)
		if err != nil {
			log.Warn().Err(err).Str("trigger_id", t.ID).Msg("malformed trigger conditions, skipping")
			continue
		}
		if !matchAll(preds, eventData) {
			continue
		}
		payload, err := json.Marshal(workflowPayload{TriggerID: t.ID, EventType: eventType, EventData: eventData})
		if err != nil {
			log.Error().Err(err).Str("trigger_id", t.ID).Msg("cannot marshal workflow payload")
			continue
		}
		task, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Type:      TaskTypeExecuteWorkflow,
			Payload:   payload,
			Priority:  t.Priority,
			ClientID:  eventClientID(eventData),
			CreatedBy: "trigger:" + t.Name,
		})
		if err != nil {
			log.Error().Err(err).Str("trigger_id", t.ID).Msg("cannot enqueue workflow task")
			continue
		}
		log.Info().Str("trigger_id", t.ID).Str("trigger_name", t.Name).Str("task_id", task.ID).
			Str("event_type", eventType).Msg("trigger matched")
		matches = append(matches, Match{TriggerID: t.ID, TaskID: task.ID})
	}
	return matches, nil
}

// HandleExecuteWorkflow is the task handler behind execute_workflow.
func (e *Engine) HandleExecuteWorkflow(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p workflowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("workflow payload: %w", err)
	}
	exec, err := e.ExecuteActions(ctx, p.TriggerID, p.EventType, p.EventData)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
		"actions":      len(exec.ActionsExecuted),
	})
}

// TestReport is the result of a dry run against sample event data.
type TestReport struct {
	TriggerID string          `json:"trigger_id"`
	Matched   bool            `json:"matched"`
	Actions   []domain.Action `json:"actions_that_would_run,omitempty"`
}

// TestTrigger dry-runs a trigger against sample event data: it reports
// whether conditions would match and which actions would run, enqueueing and
// recording nothing.
func (e *Engine) TestTrigger(ctx context.Context, triggerID string, sample map[string]any) (TestReport, error) {
	t, err := e.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return TestReport{}, err
	}
	report := TestReport{TriggerID: t.ID}
	preds, err := CompileConditions(t.Conditions)
	if err != nil {
		return report, nil // malformed conditions never match
	}
	if matchAll(preds, sample) {
		report.Matched = true
		report.Actions = t.Actions
	}
	return report, nil
}

func (e *Engine) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	return e.store.ListTriggers(ctx)
}

// eventClientID pulls a numeric client_id out of event data, if present.
func eventClientID(event map[string]any) *int64 {
	v, ok := event["client_id"]
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	id := int64(f)
	return &id
}
