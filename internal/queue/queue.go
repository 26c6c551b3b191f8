// Package queue implements the persistent task queue: enqueue, claim-and-run
// with retry semantics, cancellation, cleanup, and statistics.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
)

var (
	ErrNoHandler = errors.New("no handler registered")
	ErrNotFound  = store.ErrNotFound
)

const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3

	// maxRetryBackoff caps the exponential retry delay.
	maxRetryBackoff = 5 * time.Minute
)

// Store is the persistence surface the queue needs.
type Store interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ClaimPending(ctx context.Context, now time.Time, limit int) ([]domain.Task, error)
	CompleteTask(ctx context.Context, id string, result []byte, now time.Time) error
	FailTask(ctx context.Context, id, errMsg string, retries int, now time.Time) error
	RetryTask(ctx context.Context, id, errMsg string, retries int, notBefore time.Time) error
	CancelTask(ctx context.Context, id string, now time.Time) (bool, error)
	ResetFailed(ctx context.Context, id string) (bool, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	TaskStats(ctx context.Context, now time.Time) (domain.QueueStats, error)
	ListTasks(ctx context.Context, f store.TaskFilter) ([]domain.Task, error)
}

type Queue struct {
	store    Store
	registry *Registry
	backoff  func(retries int) time.Duration
}

func New(st Store, registry *Registry) *Queue {
	return &Queue{store: st, registry: registry, backoff: retryBackoff}
}

// EnqueueRequest describes a task to enqueue. Zero Priority and MaxRetries
// take the defaults; Priority is clamped to [1,10].
type EnqueueRequest struct {
	Type        string
	Payload     json.RawMessage
	Priority    int
	ScheduledAt *time.Time
	ClientID    *int64
	MaxRetries  int
	CreatedBy   string
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (domain.Task, error) {
	if req.Type == "" {
		return domain.Task{}, errors.New("task type is required")
	}
	t := domain.Task{
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    clampPriority(req.Priority),
		Status:      domain.TaskPending,
		ScheduledAt: req.ScheduledAt,
		MaxRetries:  req.MaxRetries,
		ClientID:    req.ClientID,
		CreatedBy:   req.CreatedBy,
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if err := q.store.CreateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	log.Debug().Str("task_id", t.ID).Str("task_type", t.Type).Int("priority", t.Priority).Msg("task enqueued")
	return t, nil
}

// DequeueAndRun claims up to limit eligible pending tasks and runs each one
// synchronously. Handler outcomes are absorbed into task state; the returned
// error covers claim failures only. Returns the number of tasks run.
func (q *Queue) DequeueAndRun(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 1
	}
	claimed, err := q.store.ClaimPending(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	for _, t := range claimed {
		q.runTask(ctx, t)
	}
	return len(claimed), nil
}

func (q *Queue) runTask(ctx context.Context, t domain.Task) {
	h, ok := q.registry.Resolve(t.Type)
	if !ok {
		// No retry could succeed, so a missing handler is terminal.
		msg := fmt.Sprintf("%v for task type %q", ErrNoHandler, t.Type)
		if err := q.store.FailTask(ctx, t.ID, msg, t.Retries, time.Now()); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark task failed")
		}
		log.Warn().Str("task_id", t.ID).Str("task_type", t.Type).Msg("no handler registered")
		return
	}

	result, handlerErr := invoke(ctx, h, t.Payload)
	if handlerErr == nil {
		if err := q.store.CompleteTask(ctx, t.ID, result, time.Now()); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark task completed")
		}
		log.Info().Str("task_id", t.ID).Str("task_type", t.Type).Msg("task completed")
		return
	}

	retries := t.Retries + 1
	if retries >= t.MaxRetries {
		if err := q.store.FailTask(ctx, t.ID, handlerErr.Error(), retries, time.Now()); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark task failed")
		}
		log.Error().Str("task_id", t.ID).Str("task_type", t.Type).Int("retries", retries).
			Str("error", handlerErr.Error()).Msg("task failed permanently")
		return
	}
	msg := fmt.Sprintf("attempt %d/%d: %v", retries, t.MaxRetries, handlerErr)
	notBefore := time.Now().Add(q.backoff(retries))
	if err := q.store.RetryTask(ctx, t.ID, msg, retries, notBefore); err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("failed to requeue task")
	}
	log.Warn().Str("task_id", t.ID).Str("task_type", t.Type).Int("retries", retries).
		Time("not_before", notBefore).Msg("task requeued for retry")
}

// invoke runs the handler, converting a panic into an error with its stack so
// a misbehaving handler surfaces in error_message instead of killing the
// worker.
func invoke(ctx context.Context, h HandlerFunc, payload json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, payload)
}

// retryBackoff is 2^retries seconds, capped.
func retryBackoff(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	if retries > 10 {
		retries = 10
	}
	d := time.Duration(1<<uint(retries)) * time.Second
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

func (q *Queue) GetStatus(ctx context.Context, id string) (domain.Task, error) {
	return q.store.GetTask(ctx, id)
}

// Cancel cancels a pending task. Returns false when the task is not pending;
// a task already running cannot be cancelled mid-flight.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	return q.store.CancelTask(ctx, id, time.Now())
}

// RetryFailed resets a failed task to pending with a clean retry budget.
func (q *Queue) RetryFailed(ctx context.Context, id string) (bool, error) {
	return q.store.ResetFailed(ctx, id)
}

// Cleanup hard-deletes finished tasks older than the retention window.
func (q *Queue) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	n, err := q.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("deleted", n).Int("older_than_days", olderThanDays).Msg("task cleanup")
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (domain.QueueStats, error) {
	return q.store.TaskStats(ctx, time.Now())
}

func (q *Queue) ListTasks(ctx context.Context, f store.TaskFilter) ([]domain.Task, error) {
	return q.store.ListTasks(ctx, f)
}

type cleanupPayload struct {
	OlderThanDays int `json:"older_than_days"`
}

// HandleCleanup is the handler behind the queue_cleanup maintenance task.
func (q *Queue) HandleCleanup(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p cleanupPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("cleanup payload: %w", err)
		}
	}
	n, err := q.Cleanup(ctx, p.OlderThanDays)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int64{"deleted": n})
}

func clampPriority(p int) int {
	switch {
	case p == 0:
		return DefaultPriority
	case p < 1:
		return 1
	case p > 10:
		return 10
	default:
		return p
	}
}
