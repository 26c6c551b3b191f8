package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
)

const triggerColumns = `id,name,trigger_type,conditions,actions,priority,is_active,last_triggered,trigger_count,created_at,updated_at`

// CreateTrigger inserts t, filling ID and timestamps. The trigger engine
// validates conditions and actions before calling this.
func (s *Store) CreateTrigger(ctx context.Context, t *domain.Trigger) error {
	if t.ID == "" {
		t.ID = "trg_" + uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	conditions := string(t.Conditions)
	if conditions == "" {
		conditions = "{}"
	}
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO triggers (`+triggerColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.TriggerType, conditions, string(actions), t.Priority, t.IsActive,
		nullableMS(t.LastTriggered), t.TriggerCount, unixMS(t.CreatedAt), unixMS(t.UpdatedAt))
	return err
}

func (s *Store) GetTrigger(ctx context.Context, id string) (domain.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id=?`, id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trigger{}, fmt.Errorf("trigger %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *Store) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	return s.queryTriggers(ctx, `SELECT `+triggerColumns+` FROM triggers ORDER BY priority DESC, name`)
}

// ActiveTriggersForType returns active triggers for an event type, highest
// priority first.
func (s *Store) ActiveTriggersForType(ctx context.Context, eventType string) ([]domain.Trigger, error) {
	return s.queryTriggers(ctx, `
SELECT `+triggerColumns+` FROM triggers
WHERE is_active=1 AND trigger_type=?
ORDER BY priority DESC, created_at ASC`, eventType)
}

func (s *Store) SetTriggerActive(ctx context.Context, id string, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET is_active=?, updated_at=? WHERE id=?`,
		active, unixMS(time.Now()), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) queryTriggers(ctx context.Context, query string, args ...any) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var t domain.Trigger
	var conditions, actions string
	var createdAt, updatedAt int64
	var lastTriggered sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.TriggerType, &conditions, &actions, &t.Priority,
		&t.IsActive, &lastTriggered, &t.TriggerCount, &createdAt, &updatedAt)
	if err != nil {
		return domain.Trigger{}, err
	}
	t.Conditions = json.RawMessage(conditions)
	if err := json.Unmarshal([]byte(actions), &t.Actions); err != nil {
		return domain.Trigger{}, fmt.Errorf("trigger %s actions: %w", t.ID, err)
	}
	t.CreatedAt = fromMS(createdAt)
	t.UpdatedAt = fromMS(updatedAt)
	t.LastTriggered = fromNullMS(lastTriggered)
	return t, nil
}
