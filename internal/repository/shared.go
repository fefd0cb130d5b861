package repository

import (
	"context"
	"fmt"

	"call-reminder-backend/internal/models"
)

// SharedReminderRepository handles database operations for reminder shares
type SharedReminderRepository struct {
	db DB
}

// NewSharedReminderRepository creates a new shared reminder repository
func NewSharedReminderRepository(db DB) *SharedReminderRepository {
	return &SharedReminderRepository{db: db}
}

// Upsert grants share.SharedWith access to share.ReminderID, replacing an earlier grant's permission
func (r *SharedReminderRepository) Upsert(ctx context.Context, share *models.SharedReminder) error {
	query := `
		INSERT INTO shared_reminders (id, reminder_id, shared_with, permission, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reminder_id, shared_with) DO UPDATE SET permission = EXCLUDED.permission
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		share.ID, share.ReminderID, share.SharedWith, share.Permission, share.CreatedAt,
	).Scan(&share.ID, &share.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to share reminder: %w", err)
	}
	return nil
}

// Get retrieves the share of reminderID with userID
func (r *SharedReminderRepository) Get(ctx context.Context, reminderID, userID string) (*models.SharedReminder, error) {
	query := `
		SELECT id, reminder_id, shared_with, permission, created_at
		FROM shared_reminders
		WHERE reminder_id = $1 AND shared_with = $2
	`
	var share models.SharedReminder
	err := r.db.QueryRow(ctx, query, reminderID, userID).Scan(
		&share.ID, &share.ReminderID, &share.SharedWith, &share.Permission, &share.CreatedAt,
	)
	if err != nil {
		if nf := notFound(err, "share"); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return &share, nil
}

// ListForReminder returns every share of reminderID
func (r *SharedReminderRepository) ListForReminder(ctx context.Context, reminderID string) ([]*models.SharedReminder, error) {
	query := `
		SELECT id, reminder_id, shared_with, permission, created_at
		FROM shared_reminders
		WHERE reminder_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, reminderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shares: %w", err)
	}
	defer rows.Close()

	var shares []*models.SharedReminder
	for rows.Next() {
		var share models.SharedReminder
		if err := rows.Scan(
			&share.ID, &share.ReminderID, &share.SharedWith, &share.Permission, &share.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, &share)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}
	return shares, nil
}

// Delete revokes the share of reminderID with userID
func (r *SharedReminderRepository) Delete(ctx context.Context, reminderID, userID string) error {
	query := `DELETE FROM shared_reminders WHERE reminder_id = $1 AND shared_with = $2`
	result, err := r.db.Exec(ctx, query, reminderID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke share: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("share: %w", ErrNotFound)
	}
	return nil
}
