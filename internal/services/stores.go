package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/repository"
	"call-reminder-backend/internal/scheduler"
)

// ReminderStore is the reminder persistence the services use
type ReminderStore interface {
	Create(ctx context.Context, rem *models.Reminder) error
	GetByID(ctx context.Context, id string) (*models.Reminder, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Reminder, error)
	ListSharedWith(ctx context.Context, userID string) ([]*models.Reminder, error)
	ListUpcoming(ctx context.Context, userID string, from, to time.Time) ([]*models.Reminder, error)
	Update(ctx context.Context, rem *models.Reminder) error
	UpdateStatus(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error)
	AppendAttachment(ctx context.Context, id string, att models.Attachment, limit int, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ShareStore is the shared reminder persistence the services use
type ShareStore interface {
	Upsert(ctx context.Context, share *models.SharedReminder) error
	Get(ctx context.Context, reminderID, userID string) (*models.SharedReminder, error)
	ListForReminder(ctx context.Context, reminderID string) ([]*models.SharedReminder, error)
	Delete(ctx context.Context, reminderID, userID string) error
}

// ProfileStore is the profile persistence the services use
type ProfileStore interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	Search(ctx context.Context, query string, limit int) ([]*models.Profile, error)
	UpdateTier(ctx context.Context, id string, tier models.Tier, at time.Time) error
	UpdatePushToken(ctx context.Context, id string, pushToken *string, at time.Time) error
	UpdatePreferences(ctx context.Context, id string, prefs models.NotificationPreferences, at time.Time) error
}

// Scheduler arms and disarms reminder triggers
type Scheduler interface {
	Arm(r *models.Reminder) (scheduler.Handle, error)
	DisarmReminder(reminderID string)
}

// Blob stores attachment bytes
type Blob interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
}

// storeErr classifies a repository failure
func storeErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	return apperr.Persistence(op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
