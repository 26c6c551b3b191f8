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

const executionColumns = `id,trigger_id,client_id,trigger_event,actions_executed,status,error_message,execution_time_ms,created_at`

// ClientMutation is a client-record write produced by a trigger action. All
// mutations from one firing commit in the same transaction as the Execution
// insert and the trigger counters, so the audit record and its synchronous
// side effects are never visible apart.
type ClientMutation interface {
	apply(ctx context.Context, tx *sql.Tx, now time.Time) error
}

type StatusUpdate struct {
	ClientID  int64
	NewStatus string
}

func (m StatusUpdate) apply(ctx context.Context, tx *sql.Tx, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE clients SET status=?, updated_at=? WHERE id=?`, m.NewStatus, unixMS(now), m.ClientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("client %d: %w", m.ClientID, ErrNotFound)
	}
	return nil
}

type NoteInsert struct {
	ClientID int64
	Text     string
	Type     string
}

func (m NoteInsert) apply(ctx context.Context, tx *sql.Tx, now time.Time) error {
	noteType := m.Type
	if noteType == "" {
		noteType = "general"
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO client_notes (client_id, note_text, note_type, created_at) VALUES (?,?,?,?)`,
		m.ClientID, m.Text, noteType, unixMS(now))
	return err
}

type DeadlineInsert struct {
	ClientID    int64
	DueAt       time.Time
	Type        string
	Description string
}

func (m DeadlineInsert) apply(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO client_deadlines (client_id, due_at, deadline_type, description, created_at) VALUES (?,?,?,?,?)`,
		m.ClientID, unixMS(m.DueAt), m.Type, m.Description, unixMS(now))
	return err
}

type AttorneyAssignment struct {
	ClientID       int64
	StaffID        int64
	AssignmentType string
}

func (m AttorneyAssignment) apply(ctx context.Context, tx *sql.Tx, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE clients SET attorney_id=?, assignment_type=?, updated_at=? WHERE id=?`,
		m.StaffID, m.AssignmentType, unixMS(now), m.ClientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("client %d: %w", m.ClientID, ErrNotFound)
	}
	return nil
}

// RecordExecution writes the audit record of one trigger firing, bumps the
// trigger's counters, and applies the firing's client mutations, all in one
// transaction.
func (s *Store) RecordExecution(ctx context.Context, e *domain.Execution, muts []ClientMutation) error {
	if e.ID == "" {
		e.ID = "exe_" + uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	actions, err := json.Marshal(e.ActionsExecuted)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO executions (`+executionColumns+`)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TriggerID, e.ClientID, string(e.TriggerEvent), string(actions),
		e.Status, e.ErrorMessage, e.ExecutionMS, unixMS(e.CreatedAt))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE triggers SET trigger_count=trigger_count+1, last_triggered=?, updated_at=? WHERE id=?`,
		unixMS(now), unixMS(now), e.TriggerID)
	if err != nil {
		return err
	}
	for _, m := range muts {
		if err := m.apply(ctx, tx, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetExecution(ctx context.Context, id string) (domain.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id=?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListExecutions returns recent executions for a trigger, newest first.
func (s *Store) ListExecutions(ctx context.Context, triggerID string, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+executionColumns+` FROM executions
WHERE trigger_id=? ORDER BY created_at DESC LIMIT ?`, triggerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (domain.Execution, error) {
	var e domain.Execution
	var event, actions string
	var createdAt int64
	var clientID sql.NullInt64
	err := row.Scan(&e.ID, &e.TriggerID, &clientID, &event, &actions, &e.Status,
		&e.ErrorMessage, &e.ExecutionMS, &createdAt)
	if err != nil {
		return domain.Execution{}, err
	}
	e.CreatedAt = fromMS(createdAt)
	e.TriggerEvent = json.RawMessage(event)
	if err := json.Unmarshal([]byte(actions), &e.ActionsExecuted); err != nil {
		return domain.Execution{}, fmt.Errorf("execution %s actions: %w", e.ID, err)
	}
	if clientID.Valid {
		v := clientID.Int64
		e.ClientID = &v
	}
	return e, nil
}
