// Package alert presents fired reminders to connected clients as incoming calls
// and collects the recipient's accept or dismiss.
package alert

import (
	"fmt"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"
)

// State is the presentation state of one user's alerts
type State int

const (
	StateIdle State = iota
	StateRinging
	StateAccepted
	StateDismissed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateAccepted:
		return "accepted"
	case StateDismissed:
		return "dismissed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotRinging is returned by Accept and Dismiss when no alert is presented
var ErrNotRinging = fmt.Errorf("%w: no alert is ringing", apperr.ErrInvalidTransition)

// ErrWrongAlert is returned when the response names a reminder other than the ringing one
var ErrWrongAlert = fmt.Errorf("%w: response does not match the ringing alert", apperr.ErrValidation)

// Outcome is the result of answering the ringing alert
type Outcome struct {
	Closed models.AlertPayload
	// Next is the queued alert that started ringing, if any
	Next *models.AlertPayload
}

// Session is the alert state machine of one recipient. Alerts that fire while
// one is ringing wait in order. It has no timeout. Not safe for concurrent use.
type Session struct {
	state   State
	current models.AlertPayload
	queue   []models.AlertPayload

	// OnTransition, when set, observes every state change
	OnTransition func(from, to State)
}

// NewSession returns an idle session
func NewSession() *Session {
	return &Session{state: StateIdle}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Current returns the ringing alert
func (s *Session) Current() (models.AlertPayload, bool) {
	if s.state != StateRinging {
		return models.AlertPayload{}, false
	}
	return s.current, true
}

// Pending is the number of queued alerts, not counting the ringing one
func (s *Session) Pending() int {
	return len(s.queue)
}

// Ring presents p, or queues it behind the ringing alert. It reports whether p is now ringing.
// An alert for a reminder that is already ringing or queued is ignored.
func (s *Session) Ring(p models.AlertPayload) bool {
	if s.state == StateRinging {
		if s.current.ReminderID == p.ReminderID {
			return false
		}
		for _, q := range s.queue {
			if q.ReminderID == p.ReminderID {
				return false
			}
		}
		s.queue = append(s.queue, p)
		return false
	}
	s.current = p
	s.transition(StateRinging)
	return true
}

// Accept answers the ringing alert. The reminder's status is not touched.
func (s *Session) Accept(reminderID string) (Outcome, error) {
	return s.answer(reminderID, StateAccepted)
}

// Dismiss rejects the ringing alert. The reminder's status is not touched.
func (s *Session) Dismiss(reminderID string) (Outcome, error) {
	return s.answer(reminderID, StateDismissed)
}

func (s *Session) answer(reminderID string, to State) (Outcome, error) {
	if s.state != StateRinging {
		return Outcome{}, ErrNotRinging
	}
	if reminderID != "" && reminderID != s.current.ReminderID {
		return Outcome{}, fmt.Errorf("%w: %s", ErrWrongAlert, reminderID)
	}

	out := Outcome{Closed: s.current}
	s.transition(to)
	s.current = models.AlertPayload{}
	s.transition(StateIdle)

	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.current = next
		s.transition(StateRinging)
		out.Next = &next
	}
	return out, nil
}

// Drain returns the ringing and queued alerts, oldest first, and resets to idle
func (s *Session) Drain() []models.AlertPayload {
	var out []models.AlertPayload
	if s.state == StateRinging {
		out = append(out, s.current)
	}
	out = append(out, s.queue...)

	s.queue = nil
	s.current = models.AlertPayload{}
	if s.state != StateIdle {
		s.transition(StateIdle)
	}
	return out
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
}
