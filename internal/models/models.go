package models

import "time"

// Status is the lifecycle state of a reminder
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal edge.
// Only pending has outgoing edges; completed and cancelled are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && (next == StatusCompleted || next == StatusCancelled)
}

// RecurringPattern is the interval rule of a recurring reminder
type RecurringPattern string

const (
	RecurDaily   RecurringPattern = "daily"
	RecurWeekly  RecurringPattern = "weekly"
	RecurMonthly RecurringPattern = "monthly"
)

// Valid reports whether p is a known pattern
func (p RecurringPattern) Valid() bool {
	switch p {
	case RecurDaily, RecurWeekly, RecurMonthly:
		return true
	}
	return false
}

// Tier is a subscription level
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Permission is the access level granted by a share
type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// Valid reports whether p is a known permission
func (p Permission) Valid() bool {
	return p == PermissionView || p == PermissionEdit
}

// MaxTitleLength bounds Reminder.Title in characters
const MaxTitleLength = 100

// Reminder is a time-triggered alert owned by CreatedBy and delivered to AssignedTo
type Reminder struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Description      *string           `json:"description,omitempty"`
	ScheduledAt      time.Time         `json:"scheduled_at"`
	CreatedBy        string            `json:"created_by"`
	AssignedTo       string            `json:"assigned_to"`
	Attachments      []Attachment      `json:"media_attachments"`
	Status           Status            `json:"status"`
	IsRecurring      bool              `json:"is_recurring"`
	RecurringPattern *RecurringPattern `json:"recurring_pattern"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Pattern returns the recurrence pattern, or "" when the reminder does not recur
func (r *Reminder) Pattern() RecurringPattern {
	if !r.IsRecurring || r.RecurringPattern == nil {
		return ""
	}
	return *r.RecurringPattern
}

// Recipient is the user who receives the alert
func (r *Reminder) Recipient() string {
	if r.AssignedTo == "" {
		return r.CreatedBy
	}
	return r.AssignedTo
}

// FirstImage returns the first attachment of kind image, if any
func (r *Reminder) FirstImage() (Attachment, bool) {
	for _, a := range r.Attachments {
		if a.Kind.IsImage() {
			return a, true
		}
	}
	return Attachment{}, false
}

// SharedReminder grants a non-owner view or edit access to a reminder
type SharedReminder struct {
	ID         string     `json:"id"`
	ReminderID string     `json:"reminder_id"`
	SharedWith string     `json:"shared_with"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NotificationPreferences controls how alerts reach a user
type NotificationPreferences struct {
	PushEnabled      bool `json:"push_enabled"`
	CallPopupEnabled bool `json:"call_popup_enabled"`
	SoundEnabled     bool `json:"sound_enabled"`
}

// DefaultNotificationPreferences enables every channel
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{PushEnabled: true, CallPopupEnabled: true, SoundEnabled: true}
}

// Profile represents a user of the system
type Profile struct {
	ID                      string                  `json:"id"`
	Email                   string                  `json:"email"`
	DisplayName             string                  `json:"display_name"`
	AvatarURL               string                  `json:"avatar_url"`
	NotificationPreferences NotificationPreferences `json:"notification_preferences"`
	SubscriptionTier        Tier                    `json:"subscription_tier"`
	PushToken               *string                 `json:"push_token,omitempty"`
	CreatedAt               time.Time               `json:"created_at"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

// AlertPayload is what a fired trigger carries to the recipient
type AlertPayload struct {
	ReminderID      string    `json:"reminder_id"`
	Recipient       string    `json:"recipient"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	AttachmentCount int       `json:"attachment_count"`
	ScheduledAt     time.Time `json:"scheduled_at"`
}

// NewAlertPayload snapshots the fields of r shown when its trigger fires
func NewAlertPayload(r *Reminder) AlertPayload {
	p := AlertPayload{
		ReminderID:      r.ID,
		Recipient:       r.Recipient(),
		Title:           r.Title,
		AttachmentCount: len(r.Attachments),
		ScheduledAt:     r.ScheduledAt,
	}
	if r.Description != nil {
		p.Description = *r.Description
	}
	if img, ok := r.FirstImage(); ok {
		p.ImageURL = img.URL
	}
	return p
}
