// Package tier maps a subscription tier to the features it unlocks.
// Everything here is pure; callers present upgrade prompts on denial.
package tier

import "call-reminder-backend/internal/models"

// Unlimited marks a limit with no upper bound.
const Unlimited = -1

// Limits are the capabilities of one tier
type Limits struct {
	MaxAttachments        int  `json:"max_attachments"`
	RecurringAllowed      bool `json:"recurring_allowed"`
	CollaborationAllowed  bool `json:"collaboration_allowed"`
	PriorityNotifications bool `json:"priority_notifications"`
}

// LimitsFor returns the limits of t. Unknown tiers get the free limits.
func LimitsFor(t models.Tier) Limits {
	switch t {
	case models.TierPro:
		return Limits{
			MaxAttachments:        Unlimited,
			RecurringAllowed:      true,
			CollaborationAllowed:  true,
			PriorityNotifications: true,
		}
	default:
		return Limits{
			MaxAttachments:        3,
			RecurringAllowed:      false,
			CollaborationAllowed:  false,
			PriorityNotifications: false,
		}
	}
}

// CanAddAttachment reports whether one more attachment fits next to currentCount
func CanAddAttachment(currentCount int, t models.Tier) bool {
	limit := LimitsFor(t).MaxAttachments
	return limit == Unlimited || currentCount < limit
}

// FitsAttachments reports whether a reminder may hold count attachments
func FitsAttachments(count int, t models.Tier) bool {
	limit := LimitsFor(t).MaxAttachments
	return limit == Unlimited || count <= limit
}

// CanCreateRecurring reports whether t may create recurring reminders
func CanCreateRecurring(t models.Tier) bool {
	return LimitsFor(t).RecurringAllowed
}

// CanShare reports whether t may share reminders
func CanShare(t models.Tier) bool {
	return LimitsFor(t).CollaborationAllowed
}
