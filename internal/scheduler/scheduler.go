// Package scheduler arms one trigger per pending reminder, publishes a fired
// event when it goes off and re-arms recurring reminders for their next occurrence.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"call-reminder-backend/internal/events"
	"call-reminder-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrNotPending is returned when arming a completed or cancelled reminder
var ErrNotPending = errors.New("reminder is not pending")

// Store is the reminder access the scheduler needs
type Store interface {
	GetByID(ctx context.Context, id string) (*models.Reminder, error)
	ListPending(ctx context.Context) ([]*models.Reminder, error)
	UpdateScheduledAt(ctx context.Context, id string, prev, next, at time.Time) (bool, error)
}

// Publisher receives fired events. PublishWait blocks until every subscriber took the event.
type Publisher interface {
	PublishWait(ctx context.Context, evt events.Event) error
}

// Handle identifies one arming of a reminder
type Handle struct {
	ReminderID string
	Trigger    TriggerID
	seq        uint64
}

type state int

const (
	stateArmed state = iota
	stateFired
	stateDisarmed
)

type entry struct {
	handle Handle
	state  state
}

// Scheduler keeps at most one outstanding trigger per reminder
type Scheduler struct {
	timer        Timer
	store        Store
	bus          Publisher
	rearmTimeout time.Duration
	now          func() time.Time

	// done is cancelled by Stop and bounds publishes of fired events
	done   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	stopped bool
}

// New creates a scheduler. Call Start to rehydrate pending reminders.
func New(timer Timer, store Store, bus Publisher, rearmTimeout time.Duration) *Scheduler {
	done, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		done:         done,
		cancel:       cancel,
		timer:        timer,
		store:        store,
		bus:          bus,
		rearmTimeout: rearmTimeout,
		now:          time.Now,
		entries:      make(map[string]*entry),
	}
}

// Start starts the timer and arms every pending reminder in the store.
// Overdue recurring reminders are moved to their next future occurrence;
// overdue one-shot reminders are left alone.
func (s *Scheduler) Start(ctx context.Context) error {
	if starter, ok := s.timer.(interface{ Start() }); ok {
		starter.Start()
	}

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	var armed, skipped int
	for _, r := range pending {
		if !r.ScheduledAt.After(now) {
			p := r.Pattern()
			if p == "" {
				log.Info().Str("reminder_id", r.ID).Time("scheduled_at", r.ScheduledAt).Msg("Skipping overdue reminder")
				skipped++
				continue
			}
			next, err := NextAfter(r.ScheduledAt, now, p)
			if err != nil {
				log.Error().Err(err).Str("reminder_id", r.ID).Msg("Failed to compute next occurrence")
				skipped++
				continue
			}
			ok, err := s.store.UpdateScheduledAt(ctx, r.ID, r.ScheduledAt, next, now)
			if err != nil || !ok {
				log.Error().Err(err).Str("reminder_id", r.ID).Msg("Failed to advance overdue recurring reminder")
				skipped++
				continue
			}
			r.ScheduledAt = next
		}

		if _, err := s.Arm(r); err != nil {
			log.Error().Err(err).Str("reminder_id", r.ID).Msg("Failed to arm reminder")
			skipped++
			continue
		}
		armed++
	}

	log.Info().Int("armed", armed).Int("skipped", skipped).Msg("Scheduler started")
	return nil
}

// Stop cancels every outstanding trigger and stops the timer
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.entries {
		if e.state == stateArmed {
			s.timer.Cancel(e.handle.Trigger)
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.cancel()

	if stopper, ok := s.timer.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	log.Info().Msg("Scheduler stopped")
}

// Arm registers a trigger at r.ScheduledAt, replacing any trigger already armed for r
func (s *Scheduler) Arm(r *models.Reminder) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked(r.ID, r.Status, r.ScheduledAt)
}

func (s *Scheduler) armLocked(id string, status models.Status, at time.Time) (Handle, error) {
	if s.stopped {
		return Handle{}, ErrTimerStopped
	}
	if status != models.StatusPending {
		return Handle{}, ErrNotPending
	}

	s.disarmLocked(id)

	s.seq++
	seq := s.seq
	trigger, err := s.timer.ScheduleAt(at, func() { s.fire(id, seq) })
	if err != nil {
		return Handle{}, err
	}

	h := Handle{ReminderID: id, Trigger: trigger, seq: seq}
	s.entries[id] = &entry{handle: h, state: stateArmed}
	log.Debug().Str("reminder_id", id).Int("trigger_id", int(trigger)).Time("at", at).Msg("Reminder armed")
	return h, nil
}

// Disarm cancels the trigger of h. Disarming a fired, replaced or already
// disarmed handle does nothing.
func (s *Scheduler) Disarm(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h.ReminderID]
	if !ok || e.handle.seq != h.seq {
		return
	}
	s.disarmLocked(h.ReminderID)
}

// DisarmReminder cancels whatever trigger is outstanding for reminderID
func (s *Scheduler) DisarmReminder(reminderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(reminderID)
}

func (s *Scheduler) disarmLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.state == stateArmed {
		s.timer.Cancel(e.handle.Trigger)
		log.Debug().Str("reminder_id", id).Int("trigger_id", int(e.handle.Trigger)).Msg("Reminder disarmed")
	}
	e.state = stateDisarmed
	delete(s.entries, id)
}

func (s *Scheduler) fire(id string, seq uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.handle.seq != seq || e.state != stateArmed {
		s.mu.Unlock()
		return
	}
	e.state = stateFired
	s.mu.Unlock()
	defer s.settle(id, seq)

	ctx, cancel := context.WithTimeout(context.Background(), s.rearmTimeout)
	defer cancel()

	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("reminder_id", id).Msg("Failed to load fired reminder")
		return
	}
	if r.Status != models.StatusPending {
		log.Debug().Str("reminder_id", id).Str("status", string(r.Status)).Msg("Fired reminder is no longer pending")
		return
	}

	now := s.now()
	if err := s.bus.PublishWait(s.done, events.Fired(models.NewAlertPayload(r), now)); err != nil {
		log.Error().Err(err).Str("reminder_id", id).Msg("Failed to publish fired reminder")
	}

	p := r.Pattern()
	if p == "" {
		return
	}

	next, err := NextAfter(r.ScheduledAt, now, p)
	if err != nil {
		log.Error().Err(err).Str("reminder_id", id).Msg("Failed to compute next occurrence")
		return
	}
	ok, err = s.store.UpdateScheduledAt(ctx, id, r.ScheduledAt, next, now)
	if err != nil {
		log.Error().Err(err).Str("reminder_id", id).Msg("Failed to reschedule recurring reminder")
		return
	}
	if !ok {
		log.Debug().Str("reminder_id", id).Msg("Reminder changed since it fired, not re-arming")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[id]
	if !ok || e.handle.seq != seq || e.state != stateFired {
		return
	}
	if _, err := s.armLocked(id, models.StatusPending, next); err != nil {
		log.Error().Err(err).Str("reminder_id", id).Time("next", next).Msg("Failed to re-arm recurring reminder")
		return
	}
	log.Info().Str("reminder_id", id).Time("next", next).Msg("Recurring reminder re-armed")
}

// settle forgets a fired entry that was not re-armed
func (s *Scheduler) settle(id string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.handle.seq == seq && e.state == stateFired {
		delete(s.entries, id)
	}
}
