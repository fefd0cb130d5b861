package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReminderService_CreateValidation(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()
	at := e.now.Add(time.Hour)
	daily := models.RecurDaily
	bogus := models.RecurringPattern("hourly")

	tests := []struct {
		name  string
		draft Draft
		want  error
	}{
		{"blank title", Draft{Title: "   ", ScheduledAt: at}, apperr.ErrValidation},
		{"title too long", Draft{Title: strings.Repeat("x", models.MaxTitleLength+1), ScheduledAt: at}, apperr.ErrValidation},
		{"missing time", Draft{Title: "Buy milk"}, apperr.ErrValidation},
		{"recurring without pattern", Draft{Title: "Buy milk", ScheduledAt: at, IsRecurring: true}, apperr.ErrValidation},
		{"unknown pattern", Draft{Title: "Buy milk", ScheduledAt: at, IsRecurring: true, RecurringPattern: &bogus}, apperr.ErrValidation},
		{"recurring on free tier", Draft{Title: "Buy milk", ScheduledAt: at, IsRecurring: true, RecurringPattern: &daily}, apperr.ErrPermission},
		{"unknown assignee", Draft{Title: "Buy milk", ScheduledAt: at, AssignedTo: "ghost"}, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Create(ctx, "alice", tt.draft)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, e.reminders.rows, "rejected drafts are never persisted")
	assert.Equal(t, 0, e.scheduler.arms)
}

func TestReminderService_CreateArms(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "  Buy milk ", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, "Buy milk", rem.Title)
	assert.Equal(t, models.StatusPending, rem.Status)
	assert.Equal(t, "alice", rem.CreatedBy)
	assert.Equal(t, "alice", rem.AssignedTo)
	assert.Nil(t, rem.RecurringPattern)
	assert.Equal(t, e.now, rem.CreatedAt)
	assert.True(t, e.scheduler.isArmed(rem.ID))

	stored, err := e.reminders.GetByID(ctx, rem.ID)
	require.NoError(t, err)
	assert.Equal(t, rem.Title, stored.Title)
}

func TestReminderService_CreateWithoutTrigger(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	e.scheduler.armError = scheduler.ErrTriggerInPast

	rem, err := e.svc.Create(context.Background(), "alice", Draft{Title: "Too late", ScheduledAt: e.now.Add(-time.Hour)})
	assert.ErrorIs(t, err, apperr.ErrNotification)
	require.NotNil(t, rem, "reminder is stored even when it cannot be armed")
	assert.Equal(t, models.StatusPending, e.reminders.rows[rem.ID].Status)
}

func TestReminderService_CreatePersistenceFailure(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	e.reminders.fail = errors.New("connection refused")

	_, err := e.svc.Create(context.Background(), "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)},
		MediaInput{Kind: models.KindImage, Source: pngSource("a.png")})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, 0, e.blob.count(), "nothing is uploaded before the record exists")
}

func TestReminderService_CreateTierLimitsMedia(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))

	media := make([]MediaInput, 4)
	for i := range media {
		media[i] = MediaInput{Kind: models.KindImage, Source: pngSource(fmt.Sprintf("%d.png", i))}
	}

	_, err := e.svc.Create(context.Background(), "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)}, media...)
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Empty(t, e.reminders.rows)
	assert.Equal(t, 0, e.blob.count())

	rem, err := e.svc.Create(context.Background(), "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)}, media[:3]...)
	require.NoError(t, err)
	assert.Len(t, rem.Attachments, 3)
}

func TestReminderService_CreateUploadFailure(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	e.blob.fail = errors.New("bucket unavailable")

	rem, err := e.svc.Create(context.Background(), "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)},
		MediaInput{Kind: models.KindImage, Source: pngSource("a.png")})
	assert.ErrorIs(t, err, apperr.ErrUploadFailed)
	require.NotNil(t, rem)
	assert.Empty(t, e.reminders.rows[rem.ID].Attachments)
}

func TestReminderService_CreateUploadFailureKeepsTriggerWarning(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	e.scheduler.armError = scheduler.ErrTriggerInPast
	e.blob.fail = errors.New("bucket unavailable")

	rem, err := e.svc.Create(context.Background(), "alice", Draft{Title: "Too late", ScheduledAt: e.now.Add(-time.Hour)},
		MediaInput{Kind: models.KindImage, Source: pngSource("a.png")})
	require.NotNil(t, rem)
	assert.ErrorIs(t, err, apperr.ErrUploadFailed)
	assert.ErrorIs(t, err, apperr.ErrNotification)
}

// Recurrence follows the owner's tier, whoever makes the edit.
func TestReminderService_UpdateRecurringUsesOwnerTier(t *testing.T) {
	e := newEnv(profile("alice", models.TierPro), profile("bob", models.TierPro))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Water plants", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = e.sharing.Share(ctx, "alice", rem.ID, "bob", models.PermissionEdit)
	require.NoError(t, err)
	e.profiles.rows["alice"].SubscriptionTier = models.TierFree

	recurring := true
	daily := models.RecurDaily
	patch := Patch{IsRecurring: &recurring, RecurringPattern: &daily}

	_, err = e.svc.Update(ctx, "bob", rem.ID, patch)
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.False(t, e.reminders.rows[rem.ID].IsRecurring)

	e.profiles.rows["alice"].SubscriptionTier = models.TierPro
	updated, err := e.svc.Update(ctx, "bob", rem.ID, patch)
	require.NoError(t, err)
	assert.True(t, updated.IsRecurring)
}

// Free tier: three attachments fit, the fourth is refused and nothing changes.
func TestReminderService_AttachmentLimitFreeTier(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.svc.AddAttachment(ctx, "alice", rem.ID, models.KindImage, pngSource(fmt.Sprintf("%d.png", i)))
		require.NoError(t, err)
	}

	_, err = e.svc.AddAttachment(ctx, "alice", rem.ID, models.KindImage, pngSource("3.png"))
	assert.ErrorIs(t, err, apperr.ErrPermission)

	got, err := e.svc.Get(ctx, "alice", rem.ID)
	require.NoError(t, err)
	assert.Len(t, got.Attachments, 3)
	assert.Equal(t, 3, e.blob.count(), "the refused image is never uploaded")
}

func TestReminderService_AttachmentLimitLostRace(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)

	// another device filled the reminder after our snapshot was read
	for i := 0; i < 3; i++ {
		e.reminders.rows[rem.ID].Attachments = append(e.reminders.rows[rem.ID].Attachments, models.Attachment{ID: fmt.Sprint(i)})
	}
	stale := &stubReminders{memReminders: e.reminders, snapshot: rem}
	svc := NewReminderService(stale, e.shares, e.profiles, e.media, e.scheduler)

	_, err = svc.AddAttachment(ctx, "alice", rem.ID, models.KindImage, pngSource("late.png"))
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Len(t, e.reminders.rows[rem.ID].Attachments, 3)
	assert.Equal(t, 0, e.blob.count(), "upload of the losing attachment is deleted")
}

// stubReminders serves a stale snapshot of one reminder
type stubReminders struct {
	*memReminders
	snapshot *models.Reminder
}

func (s *stubReminders) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	return cloneReminder(s.snapshot), nil
}

func TestReminderService_ProTierUnlimitedAttachments(t *testing.T) {
	e := newEnv(profile("bob", models.TierPro))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "bob", Draft{Title: "Trip", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := e.svc.AddAttachment(ctx, "bob", rem.ID, models.KindImage, pngSource(fmt.Sprintf("%d.png", i)))
		require.NoError(t, err)
	}
	assert.Len(t, e.reminders.rows[rem.ID].Attachments, 10)
}

func TestReminderService_UpdateStatus(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Buy milk", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)

	done, err := e.svc.UpdateStatus(ctx, "alice", rem.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.False(t, e.scheduler.isArmed(rem.ID))
	assert.Contains(t, e.scheduler.disarms, rem.ID)

	_, err = e.svc.UpdateStatus(ctx, "alice", rem.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, models.StatusCompleted, e.reminders.rows[rem.ID].Status)

	_, err = e.svc.UpdateStatus(ctx, "alice", rem.ID, "archived")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReminderService_UpdateStatusOnlyFromPending(t *testing.T) {
	statuses := []models.Status{models.StatusPending, models.StatusCompleted, models.StatusCancelled}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				e := newEnv(profile("alice", models.TierFree))
				ctx := context.Background()
				rem, err := e.svc.Create(ctx, "alice", Draft{Title: "x", ScheduledAt: e.now.Add(time.Hour)})
				require.NoError(t, err)
				e.reminders.rows[rem.ID].Status = from

				_, err = e.svc.UpdateStatus(ctx, "alice", rem.ID, to)
				if from == models.StatusPending && to != models.StatusPending {
					require.NoError(t, err)
					assert.Equal(t, to, e.reminders.rows[rem.ID].Status)
					return
				}
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
				assert.Equal(t, from, e.reminders.rows[rem.ID].Status)
			})
		}
	}
}

// A view share can read but not change status.
func TestReminderService_ViewShareCannotUpdate(t *testing.T) {
	e := newEnv(profile("alice", models.TierPro), profile("bob", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Team call", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)

	_, err = e.sharing.Share(ctx, "alice", rem.ID, "bob", models.PermissionView)
	require.NoError(t, err)

	shared, err := e.svc.ListShared(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, rem.ID, shared[0].ID)

	_, err = e.svc.UpdateStatus(ctx, "bob", rem.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Equal(t, models.StatusPending, e.reminders.rows[rem.ID].Status)

	_, err = e.sharing.Share(ctx, "alice", rem.ID, "bob", models.PermissionEdit)
	require.NoError(t, err)
	_, err = e.svc.UpdateStatus(ctx, "bob", rem.ID, models.StatusCompleted)
	assert.NoError(t, err)
}

func TestReminderService_StrangerSeesNothing(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree), profile("mallory", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Private", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)

	_, err = e.svc.Get(ctx, "mallory", rem.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.svc.UpdateStatus(ctx, "mallory", rem.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, e.svc.Delete(ctx, "mallory", rem.ID), apperr.ErrNotFound)
}

func TestReminderService_ListForUserNoDuplicates(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree), profile("bob", models.TierFree))
	ctx := context.Background()

	late, err := e.svc.Create(ctx, "alice", Draft{Title: "late", ScheduledAt: e.now.Add(3 * time.Hour)})
	require.NoError(t, err)
	early, err := e.svc.Create(ctx, "alice", Draft{Title: "early", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)
	assigned, err := e.svc.Create(ctx, "bob", Draft{Title: "for alice", ScheduledAt: e.now.Add(2 * time.Hour), AssignedTo: "alice"})
	require.NoError(t, err)

	list, err := e.svc.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{early.ID, assigned.ID, late.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	// a store that returns a row once per matching column
	doubled := dedupeByTime(append(list, list[0]))
	assert.Len(t, doubled, 3)
}

func TestReminderService_ListUpcoming(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	soon, err := e.svc.Create(ctx, "alice", Draft{Title: "soon", ScheduledAt: e.now.Add(2 * time.Hour)})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, "alice", Draft{Title: "later", ScheduledAt: e.now.Add(48 * time.Hour)})
	require.NoError(t, err)

	list, err := e.svc.ListUpcoming(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, soon.ID, list[0].ID)

	list, err = e.svc.ListUpcoming(ctx, "alice", 72)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// Moving an armed reminder re-arms it for the new time.
func TestReminderService_UpdateRearms(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Dentist", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, 1, e.scheduler.arms)

	title := "Dentist (moved)"
	updated, err := e.svc.Update(ctx, "alice", rem.ID, Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, 1, e.scheduler.arms, "title edits keep the trigger")

	moved := e.now.Add(5 * time.Hour)
	updated, err = e.svc.Update(ctx, "alice", rem.ID, Patch{ScheduledAt: &moved})
	require.NoError(t, err)
	assert.True(t, updated.ScheduledAt.Equal(moved))
	assert.Equal(t, 2, e.scheduler.arms)
	assert.True(t, e.scheduler.armed[rem.ID].Equal(moved))

	recurring := true
	daily := models.RecurDaily
	_, err = e.svc.Update(ctx, "alice", rem.ID, Patch{IsRecurring: &recurring, RecurringPattern: &daily})
	assert.ErrorIs(t, err, apperr.ErrPermission, "free tier cannot turn on recurrence")

	blank := ""
	_, err = e.svc.Update(ctx, "alice", rem.ID, Patch{Title: &blank})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReminderService_UpdateTerminalDoesNotArm(t *testing.T) {
	e := newEnv(profile("alice", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Dentist", ScheduledAt: e.now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = e.svc.UpdateStatus(ctx, "alice", rem.ID, models.StatusCancelled)
	require.NoError(t, err)

	moved := e.now.Add(5 * time.Hour)
	_, err = e.svc.Update(ctx, "alice", rem.ID, Patch{ScheduledAt: &moved})
	require.NoError(t, err)
	assert.False(t, e.scheduler.isArmed(rem.ID))
}

func TestReminderService_Delete(t *testing.T) {
	e := newEnv(profile("alice", models.TierPro), profile("bob", models.TierFree))
	ctx := context.Background()

	rem, err := e.svc.Create(ctx, "alice", Draft{Title: "Trip", ScheduledAt: e.now.Add(time.Hour)},
		MediaInput{Kind: models.KindImage, Source: pngSource("a.png")},
		MediaInput{Kind: models.KindFile, Source: BytesSource{Name: "plan.pdf", Data: []byte("%PDF-1.4")}},
	)
	require.NoError(t, err)
	require.Equal(t, 2, e.blob.count())

	_, err = e.sharing.Share(ctx, "alice", rem.ID, "bob", models.PermissionEdit)
	require.NoError(t, err)
	assert.ErrorIs(t, e.svc.Delete(ctx, "bob", rem.ID), apperr.ErrPermission, "edit holders cannot delete")

	require.NoError(t, e.svc.Delete(ctx, "alice", rem.ID))
	assert.Empty(t, e.reminders.rows)
	assert.False(t, e.scheduler.isArmed(rem.ID))
	assert.Equal(t, 0, e.blob.count())

	assert.ErrorIs(t, e.svc.Delete(ctx, "alice", rem.ID), apperr.ErrNotFound)
}
