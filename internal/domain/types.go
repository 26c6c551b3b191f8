package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one unit of asynchronous work. Payload and Result are opaque to the
// queue; only the handler registered for Type interprets them.
type Task struct {
	ID           string          `json:"id"`
	Type         string          `json:"task_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     int             `json:"priority"`
	Status       TaskStatus      `json:"status"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	Retries      int             `json:"retries"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ClientID     *int64          `json:"client_id,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ScheduledJob is a recurring task definition driven by a cron expression.
type ScheduledJob struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	TaskType   string          `json:"task_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CronExpr   string          `json:"cron_expression"`
	IsActive   bool            `json:"is_active"`
	NextRun    time.Time       `json:"next_run"`
	LastRun    *time.Time      `json:"last_run,omitempty"`
	RunCount   int             `json:"run_count"`
	LastStatus string          `json:"last_status,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Trigger maps an event type plus a condition predicate to an ordered action
// list. Conditions are stored raw and compiled by the trigger engine.
type Trigger struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	TriggerType   string          `json:"trigger_type"`
	Conditions    json.RawMessage `json:"conditions,omitempty"`
	Actions       []Action        `json:"actions"`
	Priority      int             `json:"priority"`
	IsActive      bool            `json:"is_active"`
	LastTriggered *time.Time      `json:"last_triggered,omitempty"`
	TriggerCount  int             `json:"trigger_count"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Action struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

type ActionResult struct {
	ActionType string `json:"action_type"`
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ExecutionStatus string

const (
	ExecSuccess ExecutionStatus = "success"
	ExecPartial ExecutionStatus = "partial"
	ExecFailed  ExecutionStatus = "failed"
)

// Execution is the append-only audit record of one trigger firing.
type Execution struct {
	ID              string          `json:"id"`
	TriggerID       string          `json:"trigger_id"`
	ClientID        *int64          `json:"client_id,omitempty"`
	TriggerEvent    json.RawMessage `json:"trigger_event"`
	ActionsExecuted []ActionResult  `json:"actions_executed"`
	Status          ExecutionStatus `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ExecutionMS     int64           `json:"execution_time_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Client is the slice of the host's client record the action executor needs.
type Client struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	SmsOptIn       bool   `json:"sms_opt_in"`
	Status         string `json:"status"`
	AttorneyID     *int64 `json:"attorney_id,omitempty"`
	AssignmentType string `json:"assignment_type,omitempty"`
}

type Note struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	Text      string    `json:"note_text"`
	Type      string    `json:"note_type"`
	CreatedAt time.Time `json:"created_at"`
}

type Deadline struct {
	ID          int64     `json:"id"`
	ClientID    int64     `json:"client_id"`
	DueAt       time.Time `json:"due_at"`
	Type        string    `json:"deadline_type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// QueueStats is a point-in-time snapshot of task counts.
type QueueStats struct {
	ByStatus       map[TaskStatus]int `json:"by_status"`
	CompletedToday int                `json:"completed_today"`
}
