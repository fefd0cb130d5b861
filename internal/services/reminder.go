package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/tier"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultUpcomingHours = 24

// Draft is the caller input for a new reminder
type Draft struct {
	Title            string                   `json:"title"`
	Description      *string                  `json:"description,omitempty"`
	ScheduledAt      time.Time                `json:"scheduled_at"`
	AssignedTo       string                   `json:"assigned_to,omitempty"`
	IsRecurring      bool                     `json:"is_recurring"`
	RecurringPattern *models.RecurringPattern `json:"recurring_pattern,omitempty"`
}

// Patch lists the fields to change; nil fields are left alone
type Patch struct {
	Title            *string                  `json:"title,omitempty"`
	Description      *string                  `json:"description,omitempty"`
	ScheduledAt      *time.Time               `json:"scheduled_at,omitempty"`
	AssignedTo       *string                  `json:"assigned_to,omitempty"`
	IsRecurring      *bool                    `json:"is_recurring,omitempty"`
	RecurringPattern *models.RecurringPattern `json:"recurring_pattern,omitempty"`
}

// MediaInput is one attachment to acquire while creating a reminder
type MediaInput struct {
	Kind   models.AttachmentKind
	Source Source
}

// ReminderService handles reminder business logic
type ReminderService struct {
	reminders ReminderStore
	shares    ShareStore
	profiles  ProfileStore
	media     *AttachmentManager
	scheduler Scheduler
	now       func() time.Time
}

// NewReminderService creates a new reminder service
func NewReminderService(
	reminders ReminderStore,
	shares ShareStore,
	profiles ProfileStore,
	media *AttachmentManager,
	scheduler Scheduler,
) *ReminderService {
	return &ReminderService{
		reminders: reminders,
		shares:    shares,
		profiles:  profiles,
		media:     media,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// Create validates and persists a new pending reminder, arms its trigger and
// uploads media. The reminder is returned together with an UploadFailed or
// NotificationError when it was stored but not every step after that succeeded;
// both are joined when arming and an upload failed.
func (s *ReminderService) Create(ctx context.Context, callerID string, d Draft, media ...MediaInput) (*models.Reminder, error) {
	title, err := validateTitle(d.Title)
	if err != nil {
		return nil, err
	}
	if d.ScheduledAt.IsZero() {
		return nil, apperr.Validation("scheduled_at is required")
	}
	pattern, err := validateRecurrence(d.IsRecurring, d.RecurringPattern)
	if err != nil {
		return nil, err
	}
	for _, m := range media {
		if _, err := models.ParseAttachmentKind(string(m.Kind)); err != nil {
			return nil, apperr.Validation("%v", err)
		}
	}

	caller, err := s.profiles.GetByID(ctx, callerID)
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	if d.IsRecurring && !tier.CanCreateRecurring(caller.SubscriptionTier) {
		return nil, apperr.Permission("recurring reminders require the pro tier")
	}
	if !tier.FitsAttachments(len(media), caller.SubscriptionTier) {
		return nil, apperr.Permission("the %s tier allows %d attachments per reminder",
			caller.SubscriptionTier, tier.LimitsFor(caller.SubscriptionTier).MaxAttachments)
	}

	assignee := strings.TrimSpace(d.AssignedTo)
	if assignee == "" {
		assignee = callerID
	}
	if err := s.checkAssignee(ctx, callerID, assignee); err != nil {
		return nil, err
	}

	now := timestamp(s.now())
	rem := &models.Reminder{
		ID:               uuid.New().String(),
		Title:            title,
		Description:      d.Description,
		ScheduledAt:      timestamp(d.ScheduledAt),
		CreatedBy:        callerID,
		AssignedTo:       assignee,
		Attachments:      []models.Attachment{},
		Status:           models.StatusPending,
		IsRecurring:      d.IsRecurring,
		RecurringPattern: pattern,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.reminders.Create(ctx, rem); err != nil {
		return nil, apperr.Persistence("create reminder", err)
	}

	log.Info().
		Str("reminder_id", rem.ID).
		Str("user_id", callerID).
		Time("scheduled_at", rem.ScheduledAt).
		Msg("Reminder created")

	var armErr error
	if _, err := s.scheduler.Arm(rem); err != nil {
		log.Warn().Err(err).Str("reminder_id", rem.ID).Msg("Reminder stored without a trigger")
		armErr = apperr.Notification(err)
	}

	limit := tier.LimitsFor(caller.SubscriptionTier).MaxAttachments
	for _, m := range media {
		if _, err := s.attach(ctx, rem, m.Kind, m.Source, limit); err != nil {
			return rem, errors.Join(err, armErr)
		}
	}

	return rem, armErr
}

// Get returns a reminder the caller owns, is assigned or was shared
func (s *ReminderService) Get(ctx context.Context, callerID, id string) (*models.Reminder, error) {
	rem, acc, err := s.load(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if !acc.view {
		return nil, apperr.NotFound("reminder", id)
	}
	return rem, nil
}

// ListForUser returns reminders created by or assigned to userID, each once, earliest first
func (s *ReminderService) ListForUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	list, err := s.reminders.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("list reminders", err)
	}
	return dedupeByTime(list), nil
}

// ListShared returns reminders explicitly shared with userID
func (s *ReminderService) ListShared(ctx context.Context, userID string) ([]*models.Reminder, error) {
	list, err := s.reminders.ListSharedWith(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("list shared reminders", err)
	}
	return dedupeByTime(list), nil
}

// ListUpcoming returns the pending reminders of userID due in the next hours
func (s *ReminderService) ListUpcoming(ctx context.Context, userID string, hours int) ([]*models.Reminder, error) {
	if hours <= 0 {
		hours = defaultUpcomingHours
	}
	now := timestamp(s.now())
	list, err := s.reminders.ListUpcoming(ctx, userID, now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, apperr.Persistence("list upcoming reminders", err)
	}
	return dedupeByTime(list), nil
}

// UpdateStatus moves a pending reminder to completed or cancelled and disarms it
func (s *ReminderService) UpdateStatus(ctx context.Context, callerID, id string, status models.Status) (*models.Reminder, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown status %q", status)
	}

	rem, acc, err := s.load(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if err := acc.requireEdit(id); err != nil {
		return nil, err
	}
	if !rem.Status.CanTransitionTo(status) {
		return nil, apperr.InvalidTransition("cannot move reminder from %s to %s", rem.Status, status)
	}

	now := timestamp(s.now())
	ok, err := s.reminders.UpdateStatus(ctx, id, rem.Status, status, now)
	if err != nil {
		return nil, apperr.Persistence("update status", err)
	}
	if !ok {
		return nil, apperr.InvalidTransition("reminder %s is no longer %s", id, rem.Status)
	}

	s.scheduler.DisarmReminder(id)
	rem.Status = status
	rem.UpdatedAt = now

	log.Info().Str("reminder_id", id).Str("user_id", callerID).Str("status", string(status)).Msg("Reminder status updated")
	return rem, nil
}

// Update applies a field edit. Turning recurrence on needs the owner's tier.
// A pending reminder whose time or recurrence changed is re-armed; the
// returned NotificationError means it could not be.
func (s *ReminderService) Update(ctx context.Context, callerID, id string, p Patch) (*models.Reminder, error) {
	rem, acc, err := s.load(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if err := acc.requireEdit(id); err != nil {
		return nil, err
	}

	next := *rem
	if p.Title != nil {
		if next.Title, err = validateTitle(*p.Title); err != nil {
			return nil, err
		}
	}
	if p.Description != nil {
		if *p.Description == "" {
			next.Description = nil
		} else {
			next.Description = p.Description
		}
	}
	if p.ScheduledAt != nil {
		if p.ScheduledAt.IsZero() {
			return nil, apperr.Validation("scheduled_at is required")
		}
		next.ScheduledAt = timestamp(*p.ScheduledAt)
	}
	if p.AssignedTo != nil {
		assignee := strings.TrimSpace(*p.AssignedTo)
		if assignee == "" {
			assignee = rem.CreatedBy
		}
		if err := s.checkAssignee(ctx, callerID, assignee); err != nil {
			return nil, err
		}
		next.AssignedTo = assignee
	}
	if p.IsRecurring != nil {
		next.IsRecurring = *p.IsRecurring
	}
	if p.RecurringPattern != nil {
		next.RecurringPattern = p.RecurringPattern
	}
	if next.RecurringPattern, err = validateRecurrence(next.IsRecurring, next.RecurringPattern); err != nil {
		return nil, err
	}

	if next.IsRecurring && !rem.IsRecurring {
		owner, err := s.profiles.GetByID(ctx, rem.CreatedBy)
		if err != nil {
			return nil, storeErr("load profile", err)
		}
		if !tier.CanCreateRecurring(owner.SubscriptionTier) {
			return nil, apperr.Permission("recurring reminders require the pro tier")
		}
	}

	next.UpdatedAt = timestamp(s.now())
	if err := s.reminders.Update(ctx, &next); err != nil {
		return nil, storeErr("update reminder", err)
	}

	log.Info().Str("reminder_id", id).Str("user_id", callerID).Msg("Reminder updated")

	rescheduled := !next.ScheduledAt.Equal(rem.ScheduledAt) ||
		next.IsRecurring != rem.IsRecurring ||
		next.Pattern() != rem.Pattern()
	if next.Status == models.StatusPending && rescheduled {
		if _, err := s.scheduler.Arm(&next); err != nil {
			s.scheduler.DisarmReminder(id)
			log.Warn().Err(err).Str("reminder_id", id).Msg("Edited reminder left without a trigger")
			return &next, apperr.Notification(err)
		}
	}
	return &next, nil
}

// Delete removes a reminder. Only the owner may delete; the trigger is
// disarmed first and the attachment blobs are removed afterwards.
func (s *ReminderService) Delete(ctx context.Context, callerID, id string) error {
	rem, acc, err := s.load(ctx, callerID, id)
	if err != nil {
		return err
	}
	if !acc.view {
		return apperr.NotFound("reminder", id)
	}
	if rem.CreatedBy != callerID {
		return apperr.Permission("only the owner can delete reminder %s", id)
	}

	s.scheduler.DisarmReminder(id)
	if err := s.reminders.Delete(ctx, id); err != nil {
		return storeErr("delete reminder", err)
	}

	for _, att := range rem.Attachments {
		if err := s.media.Discard(ctx, att); err != nil {
			log.Warn().Err(err).Str("reminder_id", id).Str("attachment_id", att.ID).Msg("Failed to delete attachment blob")
		}
	}

	log.Info().Str("reminder_id", id).Str("user_id", callerID).Msg("Reminder deleted")
	return nil
}

// AddAttachment uploads one more attachment to a reminder within the owner's tier limit
func (s *ReminderService) AddAttachment(ctx context.Context, callerID, id string, kind models.AttachmentKind, src Source) (*models.Reminder, error) {
	if _, err := models.ParseAttachmentKind(string(kind)); err != nil {
		return nil, apperr.Validation("%v", err)
	}

	rem, acc, err := s.load(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if err := acc.requireEdit(id); err != nil {
		return nil, err
	}

	owner, err := s.profiles.GetByID(ctx, rem.CreatedBy)
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	if !tier.CanAddAttachment(len(rem.Attachments), owner.SubscriptionTier) {
		return nil, apperr.Permission("the %s tier allows %d attachments per reminder",
			owner.SubscriptionTier, tier.LimitsFor(owner.SubscriptionTier).MaxAttachments)
	}

	if _, err := s.attach(ctx, rem, kind, src, tier.LimitsFor(owner.SubscriptionTier).MaxAttachments); err != nil {
		return nil, err
	}
	return rem, nil
}

// attach acquires one attachment and appends it to rem if the store still has room
func (s *ReminderService) attach(ctx context.Context, rem *models.Reminder, kind models.AttachmentKind, src Source, limit int) (models.Attachment, error) {
	att, err := s.media.Acquire(ctx, kind, src)
	if err != nil {
		return models.Attachment{}, err
	}

	now := timestamp(s.now())
	ok, err := s.reminders.AppendAttachment(ctx, rem.ID, att, limit, now)
	if err != nil || !ok {
		if derr := s.media.Discard(ctx, att); derr != nil {
			log.Warn().Err(derr).Str("attachment_id", att.ID).Msg("Failed to delete orphaned attachment")
		}
		if err != nil {
			return models.Attachment{}, apperr.Persistence("append attachment", err)
		}
		return models.Attachment{}, apperr.Permission("reminder %s reached its attachment limit", rem.ID)
	}

	rem.Attachments = append(rem.Attachments, att)
	rem.UpdatedAt = now
	return att, nil
}

type access struct {
	view bool
	edit bool
}

func (a access) requireEdit(id string) error {
	switch {
	case a.edit:
		return nil
	case a.view:
		return apperr.Permission("no edit permission on reminder %s", id)
	default:
		return apperr.NotFound("reminder", id)
	}
}

// load fetches a reminder and the caller's rights on it: the owner and edit
// shares may change it; the assignee and view shares may only read it.
func (s *ReminderService) load(ctx context.Context, callerID, id string) (*models.Reminder, access, error) {
	rem, err := s.reminders.GetByID(ctx, id)
	if err != nil {
		return nil, access{}, storeErr("load reminder", err)
	}
	acc, err := accessFor(ctx, s.shares, callerID, rem)
	if err != nil {
		return nil, access{}, err
	}
	return rem, acc, nil
}

func accessFor(ctx context.Context, shares ShareStore, callerID string, rem *models.Reminder) (access, error) {
	if rem.CreatedBy == callerID {
		return access{view: true, edit: true}, nil
	}

	var acc access
	if rem.AssignedTo == callerID {
		acc.view = true
	}

	share, err := shares.Get(ctx, rem.ID, callerID)
	switch {
	case err == nil:
		acc.view = true
		acc.edit = share.Permission == models.PermissionEdit
	case isNotFound(err):
	default:
		return access{}, apperr.Persistence("load share", err)
	}
	return acc, nil
}

func (s *ReminderService) checkAssignee(ctx context.Context, callerID, assignee string) error {
	if assignee == callerID {
		return nil
	}
	if _, err := s.profiles.GetByID(ctx, assignee); err != nil {
		if isNotFound(err) {
			return apperr.Validation("assigned user %s does not exist", assignee)
		}
		return apperr.Persistence("load assignee", err)
	}
	return nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.Validation("title is required")
	}
	if utf8.RuneCountInString(title) > models.MaxTitleLength {
		return "", apperr.Validation("title must be at most %d characters", models.MaxTitleLength)
	}
	return title, nil
}

// validateRecurrence returns the pattern to store: nil for one-shot reminders
func validateRecurrence(recurring bool, pattern *models.RecurringPattern) (*models.RecurringPattern, error) {
	if !recurring {
		return nil, nil
	}
	if pattern == nil || !pattern.Valid() {
		return nil, apperr.Validation("recurring reminders need a daily, weekly or monthly pattern")
	}
	p := *pattern
	return &p, nil
}

// dedupeByTime drops repeated ids and orders by scheduled_at, oldest first
func dedupeByTime(list []*models.Reminder) []*models.Reminder {
	seen := make(map[string]bool, len(list))
	out := make([]*models.Reminder, 0, len(list))
	for _, r := range list {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}
