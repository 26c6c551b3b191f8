package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MDx-Vision/fcra-sub001/internal/domain"
)

// CreateClient inserts c and fills its ID. In production the host application
// owns the client table; this writer exists for seeding and tests.
func (s *Store) CreateClient(ctx context.Context, c *domain.Client) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO clients (name, email, phone, sms_opt_in, status, attorney_id, assignment_type, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.Name, c.Email, c.Phone, c.SmsOptIn, c.Status, c.AttorneyID, c.AssignmentType, unixMS(now), unixMS(now))
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetClient resolves the client fields actions need (name, email, phone,
// opt-in, status).
func (s *Store) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, email, phone, sms_opt_in, status, attorney_id, assignment_type
FROM clients WHERE id=?`, id)
	var c domain.Client
	var attorneyID sql.NullInt64
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.SmsOptIn, &c.Status, &attorneyID, &c.AssignmentType)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Client{}, fmt.Errorf("client %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Client{}, err
	}
	if attorneyID.Valid {
		v := attorneyID.Int64
		c.AttorneyID = &v
	}
	return c, nil
}

func (s *Store) ListNotes(ctx context.Context, clientID int64) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, client_id, note_text, note_type, created_at
FROM client_notes WHERE client_id=? ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Text, &n.Type, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = fromMS(createdAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Store) ListDeadlines(ctx context.Context, clientID int64) ([]domain.Deadline, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, client_id, due_at, deadline_type, description, created_at
FROM client_deadlines WHERE client_id=? ORDER BY due_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deadlines []domain.Deadline
	for rows.Next() {
		var d domain.Deadline
		var dueAt, createdAt int64
		if err := rows.Scan(&d.ID, &d.ClientID, &dueAt, &d.Type, &d.Description, &createdAt); err != nil {
			return nil, err
		}
		d.DueAt = fromMS(dueAt)
		d.CreatedAt = fromMS(createdAt)
		deadlines = append(deadlines, d)
	}
	return deadlines, rows.Err()
}
