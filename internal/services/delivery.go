package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"call-reminder-backend/internal/events"
	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/push"
	"call-reminder-backend/internal/tier"

	"github.com/rs/zerolog/log"
)

// Channel is how a fired alert reached its recipient
type Channel string

const (
	ChannelCall Channel = "call"
	ChannelPush Channel = "push"
	ChannelNone Channel = "none"
)

// Ringer presents alerts to connected users
type Ringer interface {
	IsOnline(userID string) bool
	Ring(userID string, alert models.AlertPayload) error
}

// DeliveryDispatcher routes fired alerts to the foreground call screen when the
// recipient is connected, and to push otherwise.
type DeliveryDispatcher struct {
	profiles ProfileStore
	ringer   Ringer
	sender   push.Sender
	timeout  time.Duration

	sub *events.Subscription
	wg  sync.WaitGroup
}

// NewDeliveryDispatcher creates a dispatcher
func NewDeliveryDispatcher(profiles ProfileStore, ringer Ringer, sender push.Sender, timeout time.Duration) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		profiles: profiles,
		ringer:   ringer,
		sender:   sender,
		timeout:  timeout,
	}
}

// Start subscribes to bus and delivers events on workers goroutines until Stop
func (d *DeliveryDispatcher) Start(bus *events.Bus, buffer, workers int) {
	if workers < 1 {
		workers = 1
	}
	d.sub = bus.Subscribe(buffer)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for evt := range d.sub.C() {
				d.handle(evt)
			}
		}()
	}
	log.Info().Int("workers", workers).Msg("Delivery dispatcher started")
}

// Stop detaches from the bus and waits for the events in flight
func (d *DeliveryDispatcher) Stop() {
	if d.sub != nil {
		d.sub.Close()
	}
	d.wg.Wait()
	log.Info().Msg("Delivery dispatcher stopped")
}

func (d *DeliveryDispatcher) handle(evt events.Event) {
	switch evt.Kind {
	case events.KindReminderFired:
		if evt.Alert == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if _, err := d.Deliver(ctx, *evt.Alert); err != nil {
			log.Error().Err(err).Str("reminder_id", evt.ReminderID).Str("user_id", evt.UserID).Msg("Failed to deliver alert")
		}
	case events.KindReminderResponded:
		log.Info().
			Str("reminder_id", evt.ReminderID).
			Str("user_id", evt.UserID).
			Str("response", string(evt.Response)).
			Msg("Alert answered")
	}
}

// Deliver sends one fired alert to its recipient
func (d *DeliveryDispatcher) Deliver(ctx context.Context, alert models.AlertPayload) (Channel, error) {
	profile, err := d.profiles.GetByID(ctx, alert.Recipient)
	if err != nil {
		return ChannelNone, storeErr("load recipient", err)
	}

	if profile.NotificationPreferences.CallPopupEnabled && d.ringer.IsOnline(profile.ID) {
		err := d.ringer.Ring(profile.ID, alert)
		if err == nil {
			return ChannelCall, nil
		}
		log.Debug().Err(err).Str("user_id", profile.ID).Msg("Ring failed, falling back to push")
	}

	return d.push(ctx, profile, alert)
}

// Fallback pushes alerts that were ringing or queued when the recipient disconnected
func (d *DeliveryDispatcher) Fallback(userID string, alerts []models.AlertPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	profile, err := d.profiles.GetByID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load profile for push fallback")
		return
	}
	for _, alert := range alerts {
		if _, err := d.push(ctx, profile, alert); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("reminder_id", alert.ReminderID).Msg("Push fallback failed")
		}
	}
}

func (d *DeliveryDispatcher) push(ctx context.Context, profile *models.Profile, alert models.AlertPayload) (Channel, error) {
	prefs := profile.NotificationPreferences
	if !prefs.PushEnabled || profile.PushToken == nil || *profile.PushToken == "" {
		log.Info().Str("user_id", profile.ID).Str("reminder_id", alert.ReminderID).Msg("No channel to deliver alert")
		return ChannelNone, nil
	}

	err := d.sender.Send(ctx, push.Alert{
		DeviceToken:     *profile.PushToken,
		ReminderID:      alert.ReminderID,
		Title:           alert.Title,
		Body:            alert.Description,
		ImageURL:        alert.ImageURL,
		AttachmentCount: alert.AttachmentCount,
		Sound:           prefs.SoundEnabled,
		TimeSensitive:   tier.LimitsFor(profile.SubscriptionTier).PriorityNotifications,
	})
	if err != nil {
		if errors.Is(err, push.ErrInvalidToken) {
			if cerr := d.profiles.UpdatePushToken(ctx, profile.ID, nil, timestamp(time.Now())); cerr != nil {
				log.Error().Err(cerr).Str("user_id", profile.ID).Msg("Failed to clear push token")
			}
		}
		return ChannelNone, err
	}

	log.Info().Str("user_id", profile.ID).Str("reminder_id", alert.ReminderID).Msg("Alert pushed")
	return ChannelPush, nil
}
