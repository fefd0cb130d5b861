package alert

import (
	"testing"

	"call-reminder-backend/internal/apperr"
	"call-reminder-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(id string) models.AlertPayload {
	return models.AlertPayload{ReminderID: id, Recipient: "u1", Title: "Reminder " + id}
}

func TestSession_AcceptCycle(t *testing.T) {
	s := NewSession()
	var seen []State
	s.OnTransition = func(_, to State) { seen = append(seen, to) }

	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.Ring(payload("r1")))
	assert.Equal(t, StateRinging, s.State())

	out, err := s.Accept("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", out.Closed.ReminderID)
	assert.Nil(t, out.Next)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []State{StateRinging, StateAccepted, StateIdle}, seen)
}

func TestSession_DismissRingsNextQueued(t *testing.T) {
	s := NewSession()
	assert.True(t, s.Ring(payload("r1")))
	assert.False(t, s.Ring(payload("r2")))
	assert.False(t, s.Ring(payload("r2")), "duplicate is ignored")
	assert.False(t, s.Ring(payload("r1")), "ringing alert is not queued again")
	assert.Equal(t, 1, s.Pending())

	out, err := s.Dismiss("r1")
	require.NoError(t, err)
	require.NotNil(t, out.Next)
	assert.Equal(t, "r2", out.Next.ReminderID)
	assert.Equal(t, StateRinging, s.State())

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "r2", cur.ReminderID)
}

func TestSession_InvalidResponses(t *testing.T) {
	s := NewSession()

	_, err := s.Accept("r1")
	assert.ErrorIs(t, err, ErrNotRinging)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = s.Dismiss("")
	assert.ErrorIs(t, err, ErrNotRinging)

	s.Ring(payload("r1"))
	_, err = s.Accept("r9")
	assert.ErrorIs(t, err, ErrWrongAlert)
	assert.Equal(t, StateRinging, s.State(), "wrong response keeps the alert ringing")

	_, err = s.Accept("")
	assert.NoError(t, err, "empty id answers the ringing alert")
}

func TestSession_Drain(t *testing.T) {
	s := NewSession()
	assert.Empty(t, s.Drain())

	s.Ring(payload("r1"))
	s.Ring(payload("r2"))
	s.Ring(payload("r3"))

	drained := s.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, "r1", drained[0].ReminderID)
	assert.Equal(t, "r3", drained[2].ReminderID)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Pending())
}
