package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"call-reminder-backend/internal/models"
	"call-reminder-backend/internal/repository"
	"call-reminder-backend/internal/scheduler"
)

type memReminders struct {
	mu   sync.Mutex
	rows map[string]*models.Reminder
	fail error
}

func newMemReminders() *memReminders {
	return &memReminders{rows: map[string]*models.Reminder{}}
}

func cloneReminder(r *models.Reminder) *models.Reminder {
	cp := *r
	cp.Attachments = append([]models.Attachment{}, r.Attachments...)
	return &cp
}

func (m *memReminders) Create(ctx context.Context, rem *models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.rows[rem.ID] = cloneReminder(rem)
	return nil
}

func (m *memReminders) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("reminder %s: %w", id, repository.ErrNotFound)
	}
	return cloneReminder(r), nil
}

func (m *memReminders) filter(keep func(*models.Reminder) bool) []*models.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Reminder
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (m *memReminders) ListForUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	return m.filter(func(r *models.Reminder) bool { return r.CreatedBy == userID || r.AssignedTo == userID }), nil
}

func (m *memReminders) ListSharedWith(ctx context.Context, userID string) ([]*models.Reminder, error) {
	return nil, errors.New("use memStores for shared listings")
}

func (m *memReminders) ListUpcoming(ctx context.Context, userID string, from, to time.Time) ([]*models.Reminder, error) {
	return m.filter(func(r *models.Reminder) bool {
		return (r.CreatedBy == userID || r.AssignedTo == userID) &&
			r.Status == models.StatusPending &&
			!r.ScheduledAt.Before(from) && !r.ScheduledAt.After(to)
	}), nil
}

func (m *memReminders) Update(ctx context.Context, rem *models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[rem.ID]
	if !ok {
		return fmt.Errorf("reminder %s: %w", rem.ID, repository.ErrNotFound)
	}
	next := cloneReminder(rem)
	next.Attachments = cur.Attachments
	next.Status = cur.Status
	m.rows[rem.ID] = next
	return nil
}

func (m *memReminders) UpdateStatus(ctx context.Context, id string, from, to models.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = at
	return true, nil
}

func (m *memReminders) AppendAttachment(ctx context.Context, id string, att models.Attachment, limit int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || (limit >= 0 && len(r.Attachments) >= limit) {
		return false, nil
	}
	r.Attachments = append(r.Attachments, att)
	r.UpdatedAt = at
	return true, nil
}

func (m *memReminders) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("reminder %s: %w", id, repository.ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}

type memShares struct {
	mu   sync.Mutex
	rows map[string]*models.SharedReminder
}

func shareKey(reminderID, userID string) string { return reminderID + "/" + userID }

func (m *memShares) Upsert(ctx context.Context, share *models.SharedReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shareKey(share.ReminderID, share.SharedWith)
	if cur, ok := m.rows[key]; ok {
		cur.Permission = share.Permission
		share.ID = cur.ID
		share.CreatedAt = cur.CreatedAt
		return nil
	}
	cp := *share
	m.rows[key] = &cp
	return nil
}

func (m *memShares) Get(ctx context.Context, reminderID, userID string) (*models.SharedReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[shareKey(reminderID, userID)]
	if !ok {
		return nil, fmt.Errorf("share: %w", repository.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *memShares) ListForReminder(ctx context.Context, reminderID string) ([]*models.SharedReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SharedReminder
	for _, s := range m.rows {
		if s.ReminderID == reminderID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memShares) Delete(ctx context.Context, reminderID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := shareKey(reminderID, userID)
	if _, ok := m.rows[key]; !ok {
		return fmt.Errorf("share: %w", repository.ErrNotFound)
	}
	delete(m.rows, key)
	return nil
}

// sharedReminders joins shares and reminders the way the SQL store does
type sharedReminders struct {
	*memReminders
	shares *memShares
}

func (s sharedReminders) ListSharedWith(ctx context.Context, userID string) ([]*models.Reminder, error) {
	s.shares.mu.Lock()
	ids := map[string]bool{}
	for _, sh := range s.shares.rows {
		if sh.SharedWith == userID {
			ids[sh.ReminderID] = true
		}
	}
	s.shares.mu.Unlock()
	return s.filter(func(r *models.Reminder) bool { return ids[r.ID] }), nil
}

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]*models.Profile
}

func newMemProfiles(ps ...*models.Profile) *memProfiles {
	m := &memProfiles{rows: map[string]*models.Profile{}}
	for _, p := range ps {
		m.rows[p.ID] = p
	}
	return m
}

func (m *memProfiles) Create(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.rows {
		if cur.Email == p.Email {
			return repository.ErrDuplicateEmail
		}
	}
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memProfiles) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, repository.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) Search(ctx context.Context, query string, limit int) ([]*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []*models.Profile
	for _, p := range m.rows {
		if strings.Contains(strings.ToLower(p.Email), q) || strings.Contains(strings.ToLower(p.DisplayName), q) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memProfiles) update(id string, fn func(*models.Profile)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("profile: %w", repository.ErrNotFound)
	}
	fn(p)
	return nil
}

func (m *memProfiles) UpdateTier(ctx context.Context, id string, t models.Tier, at time.Time) error {
	return m.update(id, func(p *models.Profile) { p.SubscriptionTier = t })
}

func (m *memProfiles) UpdatePushToken(ctx context.Context, id string, tok *string, at time.Time) error {
	return m.update(id, func(p *models.Profile) { p.PushToken = tok })
}

func (m *memProfiles) UpdatePreferences(ctx context.Context, id string, prefs models.NotificationPreferences, at time.Time) error {
	return m.update(id, func(p *models.Profile) { p.NotificationPreferences = prefs })
}

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}}
}

const blobBase = "https://blobs.example.com/"

func (b *memBlob) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return "", b.fail
	}
	b.objects[name] = append([]byte(nil), data...)
	return blobBase + name, nil
}

func (b *memBlob) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, name)
	return nil
}

// resolve is the read side of the public URL
func (b *memBlob) resolve(url string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[strings.TrimPrefix(url, blobBase)]
	return data, ok
}

func (b *memBlob) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[string]time.Time
	arms     int
	disarms  []string
	armError error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: map[string]time.Time{}}
}

func (f *fakeScheduler) Arm(r *models.Reminder) (scheduler.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armError != nil {
		return scheduler.Handle{}, f.armError
	}
	f.arms++
	f.armed[r.ID] = r.ScheduledAt
	return scheduler.Handle{ReminderID: r.ID}, nil
}

func (f *fakeScheduler) DisarmReminder(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarms = append(f.disarms, id)
	delete(f.armed, id)
}

func (f *fakeScheduler) isArmed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[id]
	return ok
}

func profile(id string, t models.Tier) *models.Profile {
	return &models.Profile{
		ID:                      id,
		Email:                   id + "@example.com",
		DisplayName:             strings.ToUpper(id),
		NotificationPreferences: models.DefaultNotificationPreferences(),
		SubscriptionTier:        t,
	}
}

type env struct {
	reminders *memReminders
	shares    *memShares
	profiles  *memProfiles
	blob      *memBlob
	scheduler *fakeScheduler
	media     *AttachmentManager
	svc       *ReminderService
	sharing   *SharingService
	now       time.Time
}

func newEnv(profiles ...*models.Profile) *env {
	reminders := newMemReminders()
	shares := &memShares{rows: map[string]*models.SharedReminder{}}
	store := sharedReminders{memReminders: reminders, shares: shares}
	e := &env{
		reminders: reminders,
		shares:    shares,
		profiles:  newMemProfiles(profiles...),
		blob:      newMemBlob(),
		scheduler: newFakeScheduler(),
		now:       time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	e.media = NewAttachmentManager(e.blob, 1<<20)
	e.media.now = func() time.Time { return e.now }
	e.svc = NewReminderService(store, shares, e.profiles, e.media, e.scheduler)
	e.svc.now = func() time.Time { return e.now }
	e.sharing = NewSharingService(store, shares, e.profiles, nil)
	e.sharing.now = func() time.Time { return e.now }
	return e
}

func pngSource(name string) BytesSource {
	return BytesSource{Name: name, Data: []byte("\x89PNG\r\n\x1a\n" + name)}
}
