package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTriggerInPast is returned when a trigger time is not in the future
	ErrTriggerInPast = errors.New("trigger time is not in the future")
	// ErrTimerStopped is returned when scheduling on a stopped timer
	ErrTimerStopped = errors.New("timer is stopped")
)

// TriggerID identifies one scheduled trigger
type TriggerID int

// Timer schedules one-shot callbacks
type Timer interface {
	ScheduleAt(at time.Time, fn func()) (TriggerID, error)
	Cancel(id TriggerID)
}

// onceSchedule yields its time on the first call to Next and never again,
// so cron runs the entry exactly once.
type onceSchedule struct {
	at     time.Time
	handed atomic.Bool
}

func (s *onceSchedule) Next(time.Time) time.Time {
	if s.handed.CompareAndSwap(false, true) {
		return s.at
	}
	return time.Time{}
}

// CronTimer runs one-shot triggers on a robfig/cron runner
type CronTimer struct {
	cron *cron.Cron
	now  func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewCronTimer creates a timer. Nothing fires until Start.
func NewCronTimer() *CronTimer {
	return &CronTimer{
		cron: cron.New(cron.WithLocation(time.UTC)),
		now:  time.Now,
	}
}

// Start begins running triggers
func (t *CronTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.stopped {
		return
	}
	t.running = true
	t.cron.Start()
}

// Stop halts the runner and waits for running callbacks to return
func (t *CronTimer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()

	if wasRunning {
		<-t.cron.Stop().Done()
	}
}

// ScheduleAt runs fn once at at
func (t *CronTimer) ScheduleAt(at time.Time, fn func()) (TriggerID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return 0, ErrTimerStopped
	}
	if !at.After(t.now()) {
		return 0, ErrTriggerInPast
	}

	var (
		idMu sync.Mutex
		id   cron.EntryID
	)
	idMu.Lock()
	defer idMu.Unlock()

	id = t.cron.Schedule(&onceSchedule{at: at}, cron.FuncJob(func() {
		idMu.Lock()
		entry := id
		idMu.Unlock()

		t.cron.Remove(entry)
		log.Debug().Int("trigger_id", int(entry)).Msg("Trigger fired")
		fn()
	}))
	return TriggerID(id), nil
}

// Cancel removes a trigger. Unknown or already fired ids are ignored.
func (t *CronTimer) Cancel(id TriggerID) {
	t.cron.Remove(cron.EntryID(id))
}
