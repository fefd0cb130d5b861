// Package push delivers alerts to devices that are not connected, through APNs.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-reminder-backend/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// CategoryIncomingCall is the notification category the app registers call actions for
const CategoryIncomingCall = "INCOMING_CALL"

// ErrInvalidToken is returned when APNs rejects the device token for good
var ErrInvalidToken = errors.New("device token is no longer valid")

// Alert is one push notification for a fired reminder
type Alert struct {
	DeviceToken     string
	ReminderID      string
	Title           string
	Body            string
	ImageURL        string
	AttachmentCount int
	Sound           bool
	// TimeSensitive sends at high priority, breaking through Focus modes
	TimeSensitive bool
}

// Sender delivers push alerts
type Sender interface {
	Send(ctx context.Context, a Alert) error
}

// Pusher is the part of *apns2.Client the sender uses
type Pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsSender sends alerts through Apple Push Notification service
type APNsSender struct {
	client Pusher
	topic  string
}

// NewAPNsSender builds a token-authenticated sender from config
func NewAPNsSender(cfg config.APNsConfig) (*APNsSender, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return NewAPNsSenderWithClient(client, cfg.Topic), nil
}

// NewAPNsSenderWithClient wraps an existing client
func NewAPNsSenderWithClient(client Pusher, topic string) *APNsSender {
	return &APNsSender{client: client, topic: topic}
}

// Send pushes a. ErrInvalidToken means the caller should forget the device token.
func (s *APNsSender) Send(ctx context.Context, a Alert) error {
	n := &apns2.Notification{
		DeviceToken: a.DeviceToken,
		Topic:       s.topic,
		CollapseID:  a.ReminderID,
		PushType:    apns2.PushTypeAlert,
		Payload:     buildPayload(a),
		Priority:    apns2.PriorityLow,
		Expiration:  time.Now().Add(time.Hour),
	}
	if a.TimeSensitive {
		n.Priority = apns2.PriorityHigh
	}

	res, err := s.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		if res.Reason == apns2.ReasonBadDeviceToken || res.Reason == apns2.ReasonUnregistered {
			return fmt.Errorf("%w: %s", ErrInvalidToken, res.Reason)
		}
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}

	log.Debug().Str("reminder_id", a.ReminderID).Str("apns_id", res.ApnsID).Msg("Push notification sent")
	return nil
}

func buildPayload(a Alert) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(a.Title).
		AlertBody(a.Body).
		Category(CategoryIncomingCall).
		Custom("reminder_id", a.ReminderID).
		Custom("attachment_count", a.AttachmentCount)

	if a.Sound {
		p.Sound("default")
	}
	if a.ImageURL != "" {
		p.MutableContent().Custom("image_url", a.ImageURL)
	}
	if a.TimeSensitive {
		p.InterruptionLevel(payload.InterruptionLevelTimeSensitive)
	}
	return p
}

// LogSender stands in when APNs is not configured
type LogSender struct{}

// Send logs the alert and drops it
func (LogSender) Send(_ context.Context, a Alert) error {
	log.Info().Str("reminder_id", a.ReminderID).Msg("Push disabled, alert not sent")
	return nil
}
