package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"call-reminder-backend/internal/events"
	"call-reminder-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

// Message types sent to clients
const (
	TypeIncomingCall   = "incoming_call"
	TypeOpenReminder   = "open_reminder"
	TypeAlertClosed    = "alert_closed"
	TypeReminderShared = "reminder_shared"
	TypeError          = "error"
)

// Message types sent by clients
const (
	TypeAccept  = "accept"
	TypeDismiss = "dismiss"
)

// ErrOffline is returned when the user has no open connection
var ErrOffline = errors.New("user is not connected")

// Message is a websocket frame in either direction
type Message struct {
	Type       string               `json:"type"`
	ReminderID string               `json:"reminder_id,omitempty"`
	Alert      *models.AlertPayload `json:"alert,omitempty"`
	Haptic     bool                 `json:"haptic,omitempty"`
	Queued     int                  `json:"queued,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Message    string               `json:"message,omitempty"`
	Data       any                  `json:"data,omitempty"`
	Timestamp  int64                `json:"timestamp,omitempty"`
}

// Conn is the part of *websocket.Conn the hub writes to
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Publisher receives user responses
type Publisher interface {
	Publish(evt events.Event) int
}

// FallbackFunc receives alerts that were ringing or queued when a client went away
type FallbackFunc func(userID string, alerts []models.AlertPayload)

type client struct {
	mu      sync.Mutex
	conn    Conn
	session *Session
	gone    bool
}

// Hub holds one connection and one alert session per online user
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	bus      Publisher
	fallback FallbackFunc
	now      func() time.Time
}

// NewHub creates a hub publishing responses to bus
func NewHub(bus Publisher) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		bus:     bus,
		now:     time.Now,
	}
}

// SetFallback installs the handler for alerts stranded by a disconnect
func (h *Hub) SetFallback(fn FallbackFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = fn
}

// Register attaches conn to userID. A previous connection is closed and the
// alert session stays with the user, re-presenting the ringing alert on conn.
func (h *Hub) Register(userID string, conn Conn) {
	h.mu.Lock()
	c, exists := h.clients[userID]
	if !exists {
		session := NewSession()
		session.OnTransition = func(from, to State) {
			log.Debug().Str("user_id", userID).Str("from", from.String()).Str("to", to.String()).Msg("Alert state changed")
		}
		c = &client{session: session}
		h.clients[userID] = c
	}
	c.mu.Lock()
	h.mu.Unlock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn

	log.Info().Str("user_id", userID).Bool("replaced", exists).Msg("WebSocket connection registered")

	if alert, ok := c.session.Current(); ok {
		if err := c.write(ringMessage(alert, c.session.Pending())); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to re-present ringing alert")
		}
	}
}

// Unregister detaches conn from userID if it is still the registered connection.
// Alerts that were ringing or queued are handed to the fallback and returned.
func (h *Hub) Unregister(userID string, conn Conn) []models.AlertPayload {
	h.mu.Lock()
	c, exists := h.clients[userID]
	if !exists {
		h.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		h.mu.Unlock()
		return nil
	}
	delete(h.clients, userID)
	fallback := h.fallback
	h.mu.Unlock()

	_ = c.conn.Close()
	c.gone = true
	stranded := c.session.Drain()
	c.mu.Unlock()

	log.Info().Str("user_id", userID).Int("stranded_alerts", len(stranded)).Msg("WebSocket connection unregistered")

	if len(stranded) > 0 && fallback != nil {
		fallback(userID, stranded)
	}
	return stranded
}

// IsOnline checks if a user is connected
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// Ring presents alert to the user or queues it behind the ringing one.
// It returns ErrOffline when the user is not connected. If the write fails the
// connection is dropped and the alert goes to the fallback with the rest.
func (h *Hub) Ring(userID string, alert models.AlertPayload) error {
	c, err := h.client(userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.gone {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOffline, userID)
	}
	presented := c.session.Ring(alert)
	conn := c.conn
	var writeErr error
	if presented {
		writeErr = c.write(ringMessage(alert, c.session.Pending()))
	}
	c.mu.Unlock()

	if writeErr != nil {
		log.Error().Err(writeErr).Str("user_id", userID).Str("reminder_id", alert.ReminderID).Msg("Failed to ring")
		h.Unregister(userID, conn)
		return nil
	}

	log.Info().
		Str("user_id", userID).
		Str("reminder_id", alert.ReminderID).
		Bool("queued", !presented).
		Msg("Alert delivered")
	return nil
}

// Accept answers the ringing alert: the client is told to open the reminder
// and the next queued alert, if any, starts ringing.
func (h *Hub) Accept(userID, reminderID string) error {
	return h.answer(userID, reminderID, events.ResponseAccepted)
}

// Dismiss closes the ringing alert and rings the next queued one
func (h *Hub) Dismiss(userID, reminderID string) error {
	return h.answer(userID, reminderID, events.ResponseDismissed)
}

func (h *Hub) answer(userID, reminderID string, response events.Response) error {
	c, err := h.client(userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return fmt.Errorf("%w: %s", ErrOffline, userID)
	}

	var out Outcome
	if response == events.ResponseAccepted {
		out, err = c.session.Accept(reminderID)
	} else {
		out, err = c.session.Dismiss(reminderID)
	}
	if err != nil {
		return err
	}

	h.bus.Publish(events.Responded(userID, out.Closed.ReminderID, response, h.now()))

	if response == events.ResponseAccepted {
		if err := c.write(Message{Type: TypeOpenReminder, ReminderID: out.Closed.ReminderID}); err != nil {
			return fmt.Errorf("failed to send open_reminder: %w", err)
		}
	}
	if err := c.write(Message{Type: TypeAlertClosed, ReminderID: out.Closed.ReminderID, Reason: string(response)}); err != nil {
		return fmt.Errorf("failed to send alert_closed: %w", err)
	}
	if out.Next != nil {
		if err := c.write(ringMessage(*out.Next, c.session.Pending())); err != nil {
			return fmt.Errorf("failed to ring next alert: %w", err)
		}
	}
	return nil
}

// SendToUser sends a message to a specific user
func (h *Hub) SendToUser(userID string, msg Message) error {
	c, err := h.client(userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(msg)
}

// NotifyShared tells a connected user that a reminder was shared with them
func (h *Hub) NotifyShared(userID string, share *models.SharedReminder, title string) error {
	return h.SendToUser(userID, Message{
		Type:       TypeReminderShared,
		ReminderID: share.ReminderID,
		Data: map[string]any{
			"title":      title,
			"permission": share.Permission,
		},
	})
}

// Close drops every connection without falling back
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, c := range h.clients {
		c.mu.Lock()
		_ = c.conn.Close()
		c.gone = true
		c.mu.Unlock()
		delete(h.clients, userID)
	}
}

func (h *Hub) client(userID string) (*client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, exists := h.clients[userID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrOffline, userID)
	}
	return c, nil
}

// write must be called with c.mu held
func (c *client) write(msg Message) error {
	if c.gone {
		return ErrOffline
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func ringMessage(alert models.AlertPayload, queued int) Message {
	return Message{
		Type:       TypeIncomingCall,
		ReminderID: alert.ReminderID,
		Alert:      &alert,
		Haptic:     true,
		Queued:     queued,
	}
}
