package services

import (
	"context"
	"strings"
	"time"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/tier"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ShareNotifier tells a connected user about a new share
type ShareNotifier interface {
	NotifyShared(userID string, share *models.SharedReminder, title string) error
}

// SharingService grants and revokes access to reminders
type SharingService struct {
	reminders ReminderStore
	shares    ShareStore
	profiles  ProfileStore
	notifier  ShareNotifier
	now       func() time.Time
}

// NewSharingService creates a new sharing service. notifier may be nil.
func NewSharingService(reminders ReminderStore, shares ShareStore, profiles ProfileStore, notifier ShareNotifier) *SharingService {
	return &SharingService{
		reminders: reminders,
		shares:    shares,
		profiles:  profiles,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Share gives targetID view or edit access to a reminder. The caller must be the
// owner or hold edit permission, and be on a tier that allows collaboration.
// Sharing again with the same user replaces the permission.
func (s *SharingService) Share(ctx context.Context, callerID, reminderID, targetID string, perm models.Permission) (*models.SharedReminder, error) {
	targetID = strings.TrimSpace(targetID)
	if perm == "" {
		perm = models.PermissionView
	}
	if !perm.Valid() {
		return nil, apperr.Validation("unknown permission %q", perm)
	}
	if targetID == "" {
		return nil, apperr.Validation("shared_with is required")
	}
	if targetID == callerID {
		return nil, apperr.Validation("cannot share a reminder with yourself")
	}

	rem, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return nil, storeErr("load reminder", err)
	}
	if targetID == rem.CreatedBy {
		return nil, apperr.Validation("cannot share a reminder with its owner")
	}

	acc, err := accessFor(ctx, s.shares, callerID, rem)
	if err != nil {
		return nil, err
	}
	if err := acc.requireEdit(reminderID); err != nil {
		return nil, err
	}

	caller, err := s.profiles.GetByID(ctx, callerID)
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	if !tier.CanShare(caller.SubscriptionTier) {
		return nil, apperr.Permission("sharing requires the pro tier")
	}

	if _, err := s.profiles.GetByID(ctx, targetID); err != nil {
		if isNotFound(err) {
			return nil, apperr.Validation("user %s does not exist", targetID)
		}
		return nil, apperr.Persistence("load profile", err)
	}

	share := &models.SharedReminder{
		ID:         uuid.New().String(),
		ReminderID: reminderID,
		SharedWith: targetID,
		Permission: perm,
		CreatedAt:  timestamp(s.now()),
	}
	if err := s.shares.Upsert(ctx, share); err != nil {
		return nil, apperr.Persistence("share reminder", err)
	}

	log.Info().
		Str("reminder_id", reminderID).
		Str("user_id", callerID).
		Str("shared_with", targetID).
		Str("permission", string(perm)).
		Msg("Reminder shared")

	if s.notifier != nil {
		if err := s.notifier.NotifyShared(targetID, share, rem.Title); err != nil {
			log.Debug().Err(err).Str("user_id", targetID).Msg("Share notification not delivered")
		}
	}
	return share, nil
}

// Revoke removes targetID's access. The owner and edit holders may revoke
// anyone; a user may always drop their own share.
func (s *SharingService) Revoke(ctx context.Context, callerID, reminderID, targetID string) error {
	rem, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return storeErr("load reminder", err)
	}

	if callerID != targetID {
		acc, err := accessFor(ctx, s.shares, callerID, rem)
		if err != nil {
			return err
		}
		if err := acc.requireEdit(reminderID); err != nil {
			return err
		}
	}

	if err := s.shares.Delete(ctx, reminderID, targetID); err != nil {
		return storeErr("revoke share", err)
	}

	log.Info().Str("reminder_id", reminderID).Str("user_id", callerID).Str("shared_with", targetID).Msg("Share revoked")
	return nil
}

// List returns the shares of a reminder the caller can see
func (s *SharingService) List(ctx context.Context, callerID, reminderID string) ([]*models.SharedReminder, error) {
	rem, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return nil, storeErr("load reminder", err)
	}
	acc, err := accessFor(ctx, s.shares, callerID, rem)
	if err != nil {
		return nil, err
	}
	if !acc.view {
		return nil, apperr.NotFound("reminder", reminderID)
	}

	shares, err := s.shares.ListForReminder(ctx, reminderID)
	if err != nil {
		return nil, apperr.Persistence("list shares", err)
	}
	if shares == nil {
		shares = []*models.SharedReminder{}
	}
	return shares, nil
}
