package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
)

// ExecuteActions runs a trigger's action list in order against an event.
// Actions execute independently: one failure never blocks the next. Queue
// deliveries (email, SMS, tasks, documents) fire immediately; client-record
// mutations are collected and committed atomically with the Execution insert
// and the trigger counters.
func (e *Engine) ExecuteActions(ctx context.Context, triggerID, eventType string, eventData map[string]any) (domain.Execution, error) {
	start := time.Now()
	t, err := e.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return domain.Execution{}, err
	}
	clientID := eventClientID(eventData)

	var results []domain.ActionResult
	var muts []store.ClientMutation
	var errs []string
	failures := 0
	for _, action := range t.Actions {
		res, mut := e.runAction(ctx, action, clientID, eventData)
		results = append(results, res)
		if mut != nil {
			muts = append(muts, mut)
		}
		if !res.Success && !res.Skipped {
			failures++
			errs = append(errs, fmt.Sprintf("%s: %s", res.ActionType, res.Error))
		}
	}

	status := domain.ExecSuccess
	if failures > 0 {
		status = domain.ExecPartial
		if failures == len(t.Actions) {
			status = domain.ExecFailed
		}
	}
	event, err := json.Marshal(map[string]any{"event_type": eventType, "event_data": eventData})
	if err != nil {
		return domain.Execution{}, err
	}
	exec := domain.Execution{
		TriggerID:       t.ID,
		ClientID:        clientID,
		TriggerEvent:    event,
		ActionsExecuted: results,
		Status:          status,
		ErrorMessage:    strings.Join(errs, "; "),
		ExecutionMS:     time.Since(start).Milliseconds(),
	}
	if err := e.store.RecordExecution(ctx, &exec, muts); err != nil {
		return domain.Execution{}, err
	}
	log.Info().Str("trigger_id", t.ID).Str("execution_id", exec.ID).Str("status", string(status)).
		Int("actions", len(results)).Msg("workflow executed")
	return exec, nil
}

func (e *Engine) runAction(ctx context.Context, a domain.Action, clientID *int64, eventData map[string]any) (domain.ActionResult, store.ClientMutation) {
	res := domain.ActionResult{ActionType: a.Type}
	fail := func(err error) (domain.ActionResult, store.ClientMutation) {
		res.Error = err.Error()
		return res, nil
	}

	switch a.Type {
	case ActionSendEmail:
		var p sendEmailParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		to := p.ToOverride
		if to == "" {
			client, err := e.requireClient(ctx, clientID)
			if err != nil {
				return fail(err)
			}
			if client.Email == "" {
				return fail(fmt.Errorf("client %d: %w", client.ID, ErrClientEmailMissing))
			}
			to = client.Email
		}
		payload, _ := json.Marshal(map[string]any{
			"to": to, "template": p.Template, "subject": p.Subject, "client_id": clientID,
		})
		task, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Type: "send_email", Payload: payload, ClientID: clientID, CreatedBy: "workflow",
		})
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = "queued " + task.ID
		return res, nil

	case ActionSendSMS:
		var p sendSMSParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		client, err := e.requireClient(ctx, clientID)
		if err != nil {
			return fail(err)
		}
		if !client.SmsOptIn {
			res.Skipped = true
			res.Result = "client has not opted in to SMS"
			return res, nil
		}
		if client.Phone == "" {
			return fail(fmt.Errorf("client %d has no phone number", client.ID))
		}
		payload, _ := json.Marshal(map[string]any{
			"phone": client.Phone, "message": p.Message, "client_id": client.ID,
		})
		task, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Type: "send_sms", Payload: payload, ClientID: clientID, CreatedBy: "workflow",
		})
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = "queued " + task.ID
		return res, nil

	case ActionCreateTask:
		var p createTaskParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		if p.TaskType == "" {
			return fail(fmt.Errorf("create_task: task_type is required"))
		}
		merged := make(map[string]any, len(p.Payload)+2)
		for k, v := range p.Payload {
			merged[k] = v
		}
		if clientID != nil {
			merged["client_id"] = *clientID
		}
		merged["event_data"] = eventData
		payload, err := json.Marshal(merged)
		if err != nil {
			return fail(err)
		}
		task, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Type: p.TaskType, Payload: payload, Priority: p.Priority, ClientID: clientID, CreatedBy: "workflow",
		})
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = "queued " + task.ID
		return res, nil

	case ActionUpdateStatus:
		var p updateStatusParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		client, err := e.requireClient(ctx, clientID)
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = fmt.Sprintf("status %s -> %s", client.Status, p.NewStatus)
		return res, store.StatusUpdate{ClientID: client.ID, NewStatus: p.NewStatus}

	case ActionAssignAttorney:
		var p assignAttorneyParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		client, err := e.requireClient(ctx, clientID)
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = fmt.Sprintf("assigned staff %d", p.StaffID)
		return res, store.AttorneyAssignment{ClientID: client.ID, StaffID: p.StaffID, AssignmentType: p.AssignmentType}

	case ActionAddNote:
		var p addNoteParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		client, err := e.requireClient(ctx, clientID)
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = "note added"
		return res, store.NoteInsert{ClientID: client.ID, Text: p.NoteText, Type: p.NoteType}

	case ActionScheduleFollowup:
		var p scheduleFollowupParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		client, err := e.requireClient(ctx, clientID)
		if err != nil {
			return fail(err)
		}
		due := time.Now().UTC().AddDate(0, 0, p.DaysFromNow)
		res.Success = true
		res.Result = "followup due " + due.Format("2006-01-02")
		return res, store.DeadlineInsert{ClientID: client.ID, DueAt: due, Type: p.DeadlineType, Description: p.Description}

	case ActionGenerateDocument:
		var p generateDocumentParams
		if err := decodeParams(a.Params, &p); err != nil {
			return fail(err)
		}
		payload, _ := json.Marshal(map[string]any{
			"template_name": p.TemplateName, "document_type": p.DocumentType, "client_id": clientID,
		})
		task, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Type: "generate_document", Payload: payload, ClientID: clientID, CreatedBy: "workflow",
		})
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Result = "queued " + task.ID
		return res, nil

	default:
		// Unreachable for triggers created through CreateTrigger; kept for
		// rows written before validation existed.
		return fail(fmt.Errorf("%w: %q", ErrUnknownAction, a.Type))
	}
}

func (e *Engine) requireClient(ctx context.Context, clientID *int64) (domain.Client, error) {
	if clientID == nil {
		return domain.Client{}, ErrClientNotFound
	}
	return e.store.GetClient(ctx, *clientID)
}
