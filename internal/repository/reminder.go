package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"call-reminder-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

const (
	reminderColumns = `id, title, description, scheduled_at, created_by, assigned_to,
		media_attachments, status, is_recurring, recurring_pattern, created_at, updated_at`

	joinedReminderColumns = `r.id, r.title, r.description, r.scheduled_at, r.created_by, r.assigned_to,
		r.media_attachments, r.status, r.is_recurring, r.recurring_pattern, r.created_at, r.updated_at`
)

// ReminderRepository handles database operations for reminders
type ReminderRepository struct {
	db DB
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Create inserts a new reminder
func (r *ReminderRepository) Create(ctx context.Context, rem *models.Reminder) error {
	attachments, err := marshalAttachments(rem.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reminders (` + reminderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		rem.ID, rem.Title, rem.Description, rem.ScheduledAt, rem.CreatedBy, rem.AssignedTo,
		attachments, rem.Status, rem.IsRecurring, patternArg(rem.RecurringPattern),
		rem.CreatedAt, rem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// GetByID retrieves a reminder by ID
func (r *ReminderRepository) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`
	rem, err := scanReminder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if nf := notFound(err, "reminder "+id); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return rem, nil
}

// ListForUser returns reminders created by or assigned to userID, earliest first
func (r *ReminderRepository) ListForUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE created_by = $1 OR assigned_to = $1
		ORDER BY scheduled_at ASC
	`
	return r.list(ctx, "reminders for user", query, userID)
}

// ListSharedWith returns reminders explicitly shared with userID
func (r *ReminderRepository) ListSharedWith(ctx context.Context, userID string) ([]*models.Reminder, error) {
	query := `
		SELECT ` + joinedReminderColumns + `
		FROM shared_reminders s
		JOIN reminders r ON r.id = s.reminder_id
		WHERE s.shared_with = $1
		ORDER BY r.scheduled_at ASC
	`
	return r.list(ctx, "shared reminders", query, userID)
}

// ListUpcoming returns pending reminders of userID scheduled within [from, to]
func (r *ReminderRepository) ListUpcoming(ctx context.Context, userID string, from, to time.Time) ([]*models.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE (created_by = $1 OR assigned_to = $1)
		  AND status = 'pending'
		  AND scheduled_at >= $2 AND scheduled_at <= $3
		ORDER BY scheduled_at ASC
	`
	return r.list(ctx, "upcoming reminders", query, userID, from, to)
}

// ListPending returns every pending reminder, earliest first
func (r *ReminderRepository) ListPending(ctx context.Context) ([]*models.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status = 'pending'
		ORDER BY scheduled_at ASC
	`
	return r.list(ctx, "pending reminders", query)
}

// Update writes the editable fields of rem
func (r *ReminderRepository) Update(ctx context.Context, rem *models.Reminder) error {
	query := `
		UPDATE reminders
		SET title = $2, description = $3, scheduled_at = $4, assigned_to = $5,
		    is_recurring = $6, recurring_pattern = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		rem.ID, rem.Title, rem.Description, rem.ScheduledAt, rem.AssignedTo,
		rem.IsRecurring, patternArg(rem.RecurringPattern), rem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("reminder %s: %w", rem.ID, ErrNotFound)
	}
	return nil
}

// UpdateStatus moves a reminder from one status to another.
// It reports false when the reminder is no longer in status from.
func (r *ReminderRepository) UpdateStatus(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error) {
	query := `UPDATE reminders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.Exec(ctx, query, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("failed to update reminder status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdateScheduledAt moves a pending reminder from prev to next.
// It reports false when the reminder changed since prev was read.
func (r *ReminderRepository) UpdateScheduledAt(ctx context.Context, id string, prev, next, at time.Time) (bool, error) {
	query := `
		UPDATE reminders SET scheduled_at = $3, updated_at = $4
		WHERE id = $1 AND scheduled_at = $2 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id, prev, next, at)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule reminder: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// AppendAttachment appends att unless the reminder already holds limit attachments.
// A negative limit means unbounded. The count check and the append are one statement,
// so concurrent appends cannot overshoot the limit.
func (r *ReminderRepository) AppendAttachment(ctx context.Context, id string, att models.Attachment, limit int, at time.Time) (bool, error) {
	data, err := marshalAttachments([]models.Attachment{att})
	if err != nil {
		return false, err
	}

	query := `
		UPDATE reminders
		SET media_attachments = media_attachments || $2::jsonb, updated_at = $4
		WHERE id = $1 AND ($3::int < 0 OR jsonb_array_length(media_attachments) < $3::int)
	`
	result, err := r.db.Exec(ctx, query, id, data, limit, at)
	if err != nil {
		return false, fmt.Errorf("failed to append attachment: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Delete deletes a reminder by ID; shares go with it
func (r *ReminderRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *ReminderRepository) list(ctx context.Context, what, query string, args ...any) ([]*models.Reminder, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}

	return reminders, nil
}

func scanReminder(row pgx.Row) (*models.Reminder, error) {
	var (
		rem         models.Reminder
		attachments []byte
		pattern     *string
	)
	err := row.Scan(
		&rem.ID, &rem.Title, &rem.Description, &rem.ScheduledAt, &rem.CreatedBy, &rem.AssignedTo,
		&attachments, &rem.Status, &rem.IsRecurring, &pattern, &rem.CreatedAt, &rem.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rem.Attachments = []models.Attachment{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &rem.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	if pattern != nil {
		p := models.RecurringPattern(*pattern)
		rem.RecurringPattern = &p
	}
	return &rem, nil
}

func marshalAttachments(atts []models.Attachment) (string, error) {
	if atts == nil {
		atts = []models.Attachment{}
	}
	data, err := json.Marshal(atts)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(data), nil
}

func patternArg(p *models.RecurringPattern) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}
