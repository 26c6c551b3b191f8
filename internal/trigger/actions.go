package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
)

// The closed set of workflow action types. Unknown types are rejected when a
// trigger is created, so the executor switch over these is exhaustive.
const (
	ActionSendEmail        = "send_email"
	ActionSendSMS          = "send_sms"
	ActionCreateTask       = "create_task"
	ActionUpdateStatus     = "update_status"
	ActionAssignAttorney   = "assign_attorney"
	ActionAddNote          = "add_note"
	ActionScheduleFollowup = "schedule_followup"
	ActionGenerateDocument = "generate_document"
)

var ErrUnknownAction = errors.New("unknown action type")

type sendEmailParams struct {
	Template   string `json:"template,omitempty"`
	Subject    string `json:"subject,omitempty"`
	ToOverride string `json:"to_override,omitempty"`
}

type sendSMSParams struct {
	Message string `json:"message"`
}

type createTaskParams struct {
	TaskType string         `json:"task_type"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

type updateStatusParams struct {
	NewStatus string `json:"new_status"`
}

type assignAttorneyParams struct {
	StaffID        int64  `json:"staff_id"`
	AssignmentType string `json:"assignment_type,omitempty"`
}

type addNoteParams struct {
	NoteText string `json:"note_text"`
	NoteType string `json:"note_type,omitempty"`
}

type scheduleFollowupParams struct {
	DaysFromNow  int    `json:"days_from_now"`
	DeadlineType string `json:"deadline_type,omitempty"`
	Description  string `json:"description,omitempty"`
}

type generateDocumentParams struct {
	TemplateName string `json:"template_name"`
	DocumentType string `json:"document_type,omitempty"`
}

// ValidateActions checks every action type and decodes its params strictly.
// An empty action list is legal; it just produces no effect.
func ValidateActions(actions []domain.Action) error {
	for i, a := range actions {
		var dst any
		switch a.Type {
		case ActionSendEmail:
			dst = &sendEmailParams{}
		case ActionSendSMS:
			dst = &sendSMSParams{}
		case ActionCreateTask:
			dst = &createTaskParams{}
		case ActionUpdateStatus:
			dst = &updateStatusParams{}
		case ActionAssignAttorney:
			dst = &assignAttorneyParams{}
		case ActionAddNote:
			dst = &addNoteParams{}
		case ActionScheduleFollowup:
			dst = &scheduleFollowupParams{}
		case ActionGenerateDocument:
			dst = &generateDocumentParams{}
		default:
			return fmt.Errorf("action %d: %w: %q", i, ErrUnknownAction, a.Type)
		}
		if err := decodeParams(a.Params, dst); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
