package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"call-reminder-backend/internal/models"
)

// Kind is the type of an in-process event
type Kind string

const (
	KindReminderFired     Kind = "reminder.fired"
	KindReminderResponded Kind = "reminder.responded"
)

// Response is the user's answer to a ringing alert
type Response string

const (
	ResponseAccepted  Response = "accepted"
	ResponseDismissed Response = "dismissed"
)

// Event carries a fired alert or the recipient's response to one.
// Alert is set for KindReminderFired, Response for KindReminderResponded.
type Event struct {
	Kind       Kind
	ReminderID string
	UserID     string
	Alert      *models.AlertPayload
	Response   Response
	At         time.Time
}

// Fired builds the event published when a trigger fires
func Fired(alert models.AlertPayload, at time.Time) Event {
	return Event{
		Kind:       KindReminderFired,
		ReminderID: alert.ReminderID,
		UserID:     alert.Recipient,
		Alert:      &alert,
		At:         at,
	}
}

// Responded builds the event published when a user accepts or dismisses an alert
func Responded(userID, reminderID string, response Response, at time.Time) Event {
	return Event{
		Kind:       KindReminderResponded,
		ReminderID: reminderID,
		UserID:     userID,
		Response:   response,
		At:         at,
	}
}

// ErrClosed is returned when publishing on a closed bus
var ErrClosed = errors.New("event bus closed")

// Bus is an in-process pub-sub with one buffered channel per subscriber
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription receives every event published after it was created
type Subscription struct {
	bus  *Bus
	ch   chan Event
	once sync.Once
}

// Subscribe registers a subscriber with the given buffer size
func (b *Bus) Subscribe(buffer int) *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers evt to every subscriber without blocking.
// It returns the number of subscribers whose buffer was full.
func (b *Bus) Publish(evt Event) (dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

// PublishWait delivers evt to every subscriber, waiting for buffer space.
// It gives up when ctx is done and reports how many subscribers missed evt.
func (b *Bus) PublishWait(ctx context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	missed := 0
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		case <-ctx.Done():
			missed++
		}
	}
	if missed > 0 {
		return fmt.Errorf("%d subscribers missed %s: %w", missed, evt.Kind, ctx.Err())
	}
	return nil
}

// Close detaches every subscriber and closes their channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, sub)
	}
}

// C is the channel events arrive on. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the bus
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s)
	s.once.Do(func() { close(s.ch) })
}
