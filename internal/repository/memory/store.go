// Package memory provides an in-process implementation of repository.Store.
//
// Transactions are serialized behind one lock and roll back by restoring a
// snapshot, so it offers the same atomicity and isolation guarantees as the
// MySQL store for a single server process. It backs the development server
// when no database is reachable, and the service and handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository"
)

type dayKey struct {
	userID int64
	day    string
}

type state struct {
	users    map[int64]model.User
	tasks    map[string]model.Task
	sessions map[string]model.FocusSession
	daily    map[dayKey]model.DailyStat
}

func (s state) clone() state {
	c := state{
		users:    make(map[int64]model.User, len(s.users)),
		tasks:    make(map[string]model.Task, len(s.tasks)),
		sessions: make(map[string]model.FocusSession, len(s.sessions)),
		daily:    make(map[dayKey]model.DailyStat, len(s.daily)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.daily {
		c.daily[k] = v
	}
	return c
}

// Store is an in-memory repository.Store.
type Store struct {
	mu sync.RWMutex
	st state
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: state{
		users:    make(map[int64]model.User),
		tasks:    make(map[string]model.Task),
		sessions: make(map[string]model.FocusSession),
		daily:    make(map[dayKey]model.DailyStat),
	}}
}

// AddUser provisions a user row, standing in for the external account service.
func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Tier == "" {
		u.Tier = model.TierFree
	}
	s.st.users[u.ID] = u
}

// WithTx runs fn with exclusive access. Changes are discarded if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(&s.st, userID)
}

func (s *Store) GetActiveSession(ctx context.Context, userID int64) (*model.FocusSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeSession(&s.st, userID), nil
}

func (s *Store) ListDailyStats(ctx context.Context, userID int64, fromDay, toDay string) ([]model.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DailyStat
	for k, d := range s.st.daily {
		if k.userID == userID && k.day >= fromDay && k.day <= toDay {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// Session returns a copy of a stored session regardless of owner. Used by tests
// and diagnostics.
func (s *Store) Session(id string) (model.FocusSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.st.sessions[id]
	return fs, ok
}

// Task returns a copy of a stored task regardless of owner.
func (s *Store) Task(id string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.tasks[id]
	return t, ok
}

// SessionCount returns how many sessions the user owns.
func (s *Store) SessionCount(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fs := range s.st.sessions {
		if fs.UserID == userID {
			n++
		}
	}
	return n
}

func getUser(st *state, userID int64) (*model.User, error) {
	u, ok := st.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func activeSession(st *state, userID int64) *model.FocusSession {
	var found *model.FocusSession
	for _, fs := range st.sessions {
		if fs.UserID != userID || !fs.Status.Active() {
			continue
		}
		if found == nil || fs.StartTime.After(found.StartTime) {
			cp := fs
			found = &cp
		}
	}
	return found
}

// memTx operates on the live state; the owning Store holds the lock.
type memTx struct {
	st *state
}

// LockUser provisions a default stats row for a user seen for the first time.
func (t *memTx) LockUser(ctx context.Context, userID int64) (*model.User, error) {
	if _, ok := t.st.users[userID]; !ok {
		now := time.Now().UTC()
		t.st.users[userID] = model.User{ID: userID, Tier: model.TierFree, Timezone: "UTC", CreatedAt: now, UpdatedAt: now}
	}
	return getUser(t.st, userID)
}

func (t *memTx) UpdateUserStats(ctx context.Context, user *model.User) error {
	u, ok := t.st.users[user.ID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.TotalFocusTime = user.TotalFocusTime
	u.CompletedSessions = user.CompletedSessions
	u.CurrentStreak = user.CurrentStreak
	u.LongestStreak = user.LongestStreak
	u.LastSessionDate = user.LastSessionDate
	t.st.users[user.ID] = u
	return nil
}

func (t *memTx) GetSessionForUpdate(ctx context.Context, userID int64, id string) (*model.FocusSession, error) {
	fs, ok := t.st.sessions[id]
	if !ok || fs.UserID != userID {
		return nil, repository.ErrSessionNotFound
	}
	return &fs, nil
}

func (t *memTx) GetSessionByClientID(ctx context.Context, userID int64, clientID string) (*model.FocusSession, error) {
	for _, fs := range t.st.sessions {
		if fs.UserID == userID && clientID != "" && fs.ClientID == clientID {
			return &fs, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (t *memTx) GetActiveSessionForUpdate(ctx context.Context, userID int64) (*model.FocusSession, error) {
	return activeSession(t.st, userID), nil
}

func (t *memTx) InsertSession(ctx context.Context, s *model.FocusSession) error {
	if _, err := t.GetSessionByClientID(ctx, s.UserID, s.ClientID); err == nil {
		return repository.ErrDuplicateClient
	}
	t.st.sessions[s.ID] = *s
	return nil
}

func (t *memTx) UpdateSession(ctx context.Context, s *model.FocusSession) error {
	existing, ok := t.st.sessions[s.ID]
	if !ok || existing.UserID != s.UserID {
		return repository.ErrSessionNotFound
	}
	// Immutable columns keep their stored values, as in the SQL UPDATE.
	updated := *s
	updated.ClientID = existing.ClientID
	updated.Duration = existing.Duration
	updated.StartTime = existing.StartTime
	t.st.sessions[s.ID] = updated
	return nil
}

func (t *memTx) SessionsModifiedSince(ctx context.Context, userID int64, since time.Time) ([]model.FocusSession, error) {
	var out []model.FocusSession
	for _, fs := range t.st.sessions {
		if fs.UserID == userID && fs.ServerModifiedAt.After(since) {
			out = append(out, fs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerModifiedAt.Before(out[j].ServerModifiedAt) })
	return out, nil
}

func (t *memTx) GetTaskForUpdate(ctx context.Context, userID int64, id string) (*model.Task, error) {
	task, ok := t.st.tasks[id]
	if !ok || task.UserID != userID {
		return nil, repository.ErrTaskNotFound
	}
	return &task, nil
}

func (t *memTx) GetTaskByClientID(ctx context.Context, userID int64, clientID string) (*model.Task, error) {
	for _, task := range t.st.tasks {
		if task.UserID == userID && clientID != "" && task.ClientID == clientID {
			return &task, nil
		}
	}
	return nil, repository.ErrTaskNotFound
}

func (t *memTx) InsertTask(ctx context.Context, task *model.Task) error {
	if _, err := t.GetTaskByClientID(ctx, task.UserID, task.ClientID); err == nil {
		return repository.ErrDuplicateClient
	}
	t.st.tasks[task.ID] = *task
	return nil
}

func (t *memTx) UpdateTask(ctx context.Context, task *model.Task) error {
	existing, ok := t.st.tasks[task.ID]
	if !ok || existing.UserID != task.UserID {
		return repository.ErrTaskNotFound
	}
	updated := *task
	updated.ClientID = existing.ClientID
	t.st.tasks[task.ID] = updated
	return nil
}

func (t *memTx) TasksModifiedSince(ctx context.Context, userID int64, since time.Time) ([]model.Task, error) {
	var out []model.Task
	for _, task := range t.st.tasks {
		if task.UserID == userID && task.ServerModifiedAt.After(since) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerModifiedAt.Before(out[j].ServerModifiedAt) })
	return out, nil
}

func (t *memTx) GetDailyStat(ctx context.Context, userID int64, day string) (model.DailyStat, error) {
	d, ok := t.st.daily[dayKey{userID, day}]
	if !ok {
		return model.DailyStat{UserID: userID, Day: day}, nil
	}
	return d, nil
}

func (t *memTx) AddDailyStat(ctx context.Context, userID int64, delta model.DailyStat) error {
	k := dayKey{userID, delta.Day}
	d, ok := t.st.daily[k]
	if !ok {
		d = model.DailyStat{UserID: userID, Day: delta.Day}
	}
	d.TotalSessions += delta.TotalSessions
	d.CompletedSessions += delta.CompletedSessions
	d.FailedSessions += delta.FailedSessions
	d.TotalFocusTime += delta.TotalFocusTime
	d.TasksCompleted += delta.TasksCompleted
	t.st.daily[k] = d
	return nil
}
