package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository"
)

// SyncService applies batches of device operations. Each batch is one
// transaction; conflicts are settled by last-write-wins on updatedAt.
type SyncService struct {
	store repository.Store
	stats *StatsService
	now   func() time.Time
}

// NewSyncService creates a new SyncService.
func NewSyncService(store repository.Store, stats *StatsService) *SyncService {
	return &SyncService{store: store, stats: stats, now: time.Now}
}

func (s *SyncService) clock() time.Time {
	return normalize(s.now())
}

// batch accumulates the response of one sync request.
type batch[T any] struct {
	resp      *model.SyncResponse[T]
	conflicts []T
}

func newBatch[T any]() *batch[T] {
	return &batch[T]{resp: &model.SyncResponse[T]{
		Mapping:        map[string]string{},
		ServerEntities: []T{},
	}}
}

func (b *batch[T]) reject(id string, err error) {
	code := ErrorCode(err)
	if code == "" {
		code = ErrInvalidPayload.Code
	}
	b.resp.Rejected = append(b.resp.Rejected, model.RejectedOperation{ID: id, Code: code, Message: err.Error()})
}

// isRejection reports whether err invalidates a single operation rather than the batch.
func isRejection(err error) bool {
	var se *Error
	return errors.As(err, &se) ||
		errors.Is(err, model.ErrUnknownOperation) ||
		errors.Is(err, model.ErrMissingOperationID) ||
		errors.Is(err, model.ErrMalformedPayload)
}

func validateBatch(req model.SyncRequest) error {
	if len(req.Operations) > model.MaxSyncOperations {
		return ErrTooManyOperations
	}
	return nil
}

func watermark(req model.SyncRequest) time.Time {
	if req.LastSyncedAt == nil {
		return time.Time{}
	}
	return req.LastSyncedAt.UTC()
}

// opTime is the client timestamp of an operation, defaulting to now when absent.
func opTime(at, now time.Time) time.Time {
	if at.IsZero() {
		return now
	}
	return normalize(at)
}

// statsDay attributes work done offline to the day it happened, never to a
// day after the server's now.
func statsDay(at, now time.Time, loc *time.Location) string {
	if at.After(now) {
		at = now
	}
	return dayIn(at, loc)
}

// SyncTasks applies task operations and returns the tasks changed since the
// device's watermark.
func (s *SyncService) SyncTasks(ctx context.Context, userID int64, req model.SyncRequest) (*model.SyncResponse[model.Task], error) {
	if err := validateBatch(req); err != nil {
		return nil, err
	}

	b := newBatch[model.Task]()
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return translateRepoError(err)
		}
		now := s.clock()

		for _, env := range req.Operations {
			op, err := model.DecodeOperation(model.EntityTask, env)
			if err == nil {
				err = s.applyTask(ctx, tx, user, op, now, b)
			}
			if err != nil {
				if !isRejection(err) {
					return err
				}
				slog.Warn("sync operation rejected", "user_id", userID, "entity", model.EntityTask, "id", env.ID, "error", err)
				b.reject(env.ID, err)
			}
		}

		changed, err := tx.TasksModifiedSince(ctx, userID, watermark(req))
		if err != nil {
			return fmt.Errorf("loading changed tasks: %w", err)
		}
		b.resp.ServerEntities = mergeEntities(changed, b.conflicts, func(t model.Task) string { return t.ID })
		b.resp.LastSyncedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("tasks synced", "user_id", userID, "device_id", req.ClientID,
		"synced", b.resp.Synced, "conflicts", b.resp.Conflicts, "rejected", len(b.resp.Rejected))
	return b.resp, nil
}

func (s *SyncService) applyTask(ctx context.Context, tx repository.Tx, user *model.User, op model.SyncOperation, now time.Time, b *batch[model.Task]) error {
	h := op.Header()
	at := opTime(h.At, now)

	var (
		data     model.TaskPayload
		existing *model.Task
	)
	switch o := op.(type) {
	case model.TaskCreate:
		data = o.Data
		found, err := tx.GetTaskByClientID(ctx, user.ID, h.ID)
		switch {
		case errors.Is(err, repository.ErrTaskNotFound):
		case err != nil:
			return fmt.Errorf("loading task by client id: %w", err)
		default:
			existing = found
		}
	case model.TaskUpdate:
		data = o.Data
		found, err := tx.GetTaskForUpdate(ctx, user.ID, h.ID)
		if err != nil {
			return translateRepoError(err)
		}
		existing = found
	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownOperation, op)
	}

	if err := normalizeTaskPayload(&data); err != nil {
		return err
	}

	if existing == nil {
		task := &model.Task{
			ID:               uuid.NewString(),
			ClientID:         h.ID,
			UserID:           user.ID,
			Title:            data.Title,
			Priority:         data.Priority,
			Status:           data.Status,
			UpdatedAt:        at,
			ServerModifiedAt: now,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return fmt.Errorf("inserting task: %w", err)
		}
		if task.Status == model.TaskCompleted {
			if err := s.stats.Record(ctx, tx, user.ID, statsDay(at, now, user.Location()), model.DailyStat{TasksCompleted: 1}); err != nil {
				return err
			}
		}
		b.resp.Mapping[h.ID] = task.ID
		b.resp.Synced++
		return nil
	}

	if op.Kind() == model.OpCreate {
		b.resp.Mapping[h.ID] = existing.ID
	}

	switch {
	case at.Equal(existing.UpdatedAt):
		b.resp.Synced++
		return nil
	case at.Before(existing.UpdatedAt):
		b.resp.Conflicts++
		b.conflicts = append(b.conflicts, *existing)
		return nil
	}

	completed := data.Status == model.TaskCompleted && existing.Status != model.TaskCompleted
	existing.Title = data.Title
	existing.Priority = data.Priority
	existing.Status = data.Status
	existing.UpdatedAt = at
	existing.ServerModifiedAt = now
	if err := tx.UpdateTask(ctx, existing); err != nil {
		return fmt.Errorf("updating task %s: %w", existing.ID, err)
	}
	if completed {
		if err := s.stats.Record(ctx, tx, user.ID, statsDay(at, now, user.Location()), model.DailyStat{TasksCompleted: 1}); err != nil {
			return err
		}
	}
	b.resp.Synced++
	return nil
}

func normalizeTaskPayload(p *model.TaskPayload) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" || p.Priority < 0 || p.Priority > 4 {
		return ErrInvalidPayload
	}
	if p.Status == "" {
		p.Status = model.TaskTodo
	}
	if !p.Status.Valid() {
		return ErrInvalidPayload
	}
	return nil
}

// SyncSessions applies session operations and returns the sessions changed
// since the device's watermark. Terminal transitions arriving here credit the
// same statistics as the lifecycle endpoints.
func (s *SyncService) SyncSessions(ctx context.Context, userID int64, req model.SyncRequest) (*model.SyncResponse[model.FocusSession], error) {
	if err := validateBatch(req); err != nil {
		return nil, err
	}

	b := newBatch[model.FocusSession]()
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return translateRepoError(err)
		}
		now := s.clock()

		for _, env := range req.Operations {
			op, err := model.DecodeOperation(model.EntitySession, env)
			if err == nil {
				err = s.applySession(ctx, tx, user, op, now, b)
			}
			if err != nil {
				if !isRejection(err) {
					return err
				}
				slog.Warn("sync operation rejected", "user_id", userID, "entity", model.EntitySession, "id", env.ID, "error", err)
				b.reject(env.ID, err)
			}
		}

		changed, err := tx.SessionsModifiedSince(ctx, userID, watermark(req))
		if err != nil {
			return fmt.Errorf("loading changed sessions: %w", err)
		}
		b.resp.ServerEntities = mergeEntities(changed, b.conflicts, func(fs model.FocusSession) string { return fs.ID })
		b.resp.LastSyncedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("sessions synced", "user_id", userID, "device_id", req.ClientID,
		"synced", b.resp.Synced, "conflicts", b.resp.Conflicts, "rejected", len(b.resp.Rejected))
	return b.resp, nil
}

func (s *SyncService) applySession(ctx context.Context, tx repository.Tx, user *model.User, op model.SyncOperation, now time.Time, b *batch[model.FocusSession]) error {
	h := op.Header()
	at := opTime(h.At, now)

	var (
		data     model.SessionPayload
		existing *model.FocusSession
	)
	switch o := op.(type) {
	case model.SessionCreate:
		data = o.Data
		found, err := tx.GetSessionByClientID(ctx, user.ID, h.ID)
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
		case err != nil:
			return fmt.Errorf("loading session by client id: %w", err)
		default:
			existing = found
		}
	case model.SessionUpdate:
		data = o.Data
		found, err := tx.GetSessionForUpdate(ctx, user.ID, h.ID)
		if err != nil {
			return translateRepoError(err)
		}
		existing = found
	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownOperation, op)
	}

	taskID, err := resolveTaskReference(ctx, tx, user.ID, data.TaskID)
	if err != nil {
		return err
	}
	data.TaskID = taskID

	if existing == nil {
		id, err := s.insertSyncedSession(ctx, tx, user, h.ID, data, at, now)
		if err != nil {
			return err
		}
		b.resp.Mapping[h.ID] = id
		b.resp.Synced++
		return nil
	}

	if op.Kind() == model.OpCreate {
		b.resp.Mapping[h.ID] = existing.ID
	}

	switch {
	case at.Equal(existing.UpdatedAt):
		b.resp.Synced++
		return nil
	case at.Before(existing.UpdatedAt):
		b.resp.Conflicts++
		b.conflicts = append(b.conflicts, *existing)
		return nil
	case existing.Status.Terminal() && data.Status != existing.Status:
		// A finished session keeps its outcome. Stamping it just after the
		// device's edit makes the server copy win on the device.
		existing.UpdatedAt = at.Add(timestampPrecision)
		existing.ServerModifiedAt = now
		if err := tx.UpdateSession(ctx, existing); err != nil {
			return fmt.Errorf("updating session %s: %w", existing.ID, err)
		}
		b.resp.Conflicts++
		b.conflicts = append(b.conflicts, *existing)
		return nil
	}

	if err := normalizeSessionPayload(&data, existing.Duration); err != nil {
		return err
	}

	prev := existing.Status
	existing.TaskID = data.TaskID
	existing.EndTime = normalize(data.EndTime)
	existing.Status = data.Status
	existing.Progress = data.Progress
	existing.TimeElapsed = data.TimeElapsed
	existing.PauseDuration = data.PauseDuration
	existing.PausedAt = data.PausedAt
	existing.Reason = data.Reason
	existing.UpdatedAt = at
	existing.ServerModifiedAt = now
	if existing.EndTime.IsZero() {
		existing.EndTime = existing.StartTime.Add(time.Duration(existing.Duration) * time.Second)
	}

	if !prev.Terminal() {
		if err := s.recordSyncedTransition(ctx, tx, user, existing, at, now); err != nil {
			return err
		}
	}
	if err := tx.UpdateSession(ctx, existing); err != nil {
		return fmt.Errorf("updating session %s: %w", existing.ID, err)
	}
	b.resp.Synced++
	return nil
}

func (s *SyncService) insertSyncedSession(ctx context.Context, tx repository.Tx, user *model.User, clientID string, data model.SessionPayload, at, now time.Time) (string, error) {
	if data.Duration < MinDurationMinutes*60 || data.Duration > MaxDurationMinutes*60 {
		return "", ErrInvalidDuration
	}
	if data.StartTime.IsZero() {
		return "", ErrInvalidPayload
	}
	if err := normalizeSessionPayload(&data, data.Duration); err != nil {
		return "", err
	}

	fs := &model.FocusSession{
		ID:               uuid.NewString(),
		ClientID:         clientID,
		UserID:           user.ID,
		TaskID:           data.TaskID,
		Duration:         data.Duration,
		StartTime:        normalize(data.StartTime),
		EndTime:          normalize(data.EndTime),
		Status:           data.Status,
		Progress:         data.Progress,
		TimeElapsed:      data.TimeElapsed,
		PauseDuration:    data.PauseDuration,
		PausedAt:         data.PausedAt,
		Reason:           data.Reason,
		UpdatedAt:        at,
		ServerModifiedAt: now,
	}
	if fs.EndTime.IsZero() {
		fs.EndTime = fs.StartTime.Add(time.Duration(fs.Duration) * time.Second)
	}

	if fs.Status.Active() {
		active, err := tx.GetActiveSessionForUpdate(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("loading active session: %w", err)
		}
		if active != nil && stale(active, now) {
			if err := expire(ctx, tx, s.stats, user, active, now); err != nil {
				return "", err
			}
			active = nil
		}
		if active != nil {
			// Keep the offline record without breaking the single-active rule.
			// The later stamp makes the server copy win on the device.
			fs.Status = model.SessionFailed
			fs.Reason = model.ReasonSuperseded
			fs.PausedAt = nil
			fs.UpdatedAt = at.Add(timestampPrecision)
		}
	}

	if err := tx.InsertSession(ctx, fs); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	if err := s.recordSyncedTransition(ctx, tx, user, fs, at, now); err != nil {
		return "", err
	}
	return fs.ID, nil
}

// recordSyncedTransition credits a session that reached a terminal state on a device.
func (s *SyncService) recordSyncedTransition(ctx context.Context, tx repository.Tx, user *model.User, fs *model.FocusSession, at, now time.Time) error {
	day := statsDay(at, now, user.Location())
	switch fs.Status {
	case model.SessionCompleted:
		return recordCompletion(ctx, tx, s.stats, user, fs, fs.TimeElapsed, day, now)
	case model.SessionFailed:
		return recordFailure(ctx, tx, s.stats, user, fs, day, now)
	}
	return nil
}

// normalizeSessionPayload validates device-reported fields and clamps the
// counters into their invariant ranges.
func normalizeSessionPayload(p *model.SessionPayload, duration int) error {
	if !p.Status.Valid() {
		return ErrInvalidPayload
	}
	p.Progress = clamp(p.Progress, 0, 100)
	p.TimeElapsed = clamp(p.TimeElapsed, 0, duration+GracePeriod)
	p.PauseDuration = max(p.PauseDuration, 0)
	if p.Status == model.SessionCompleted {
		p.Progress = 100
	}
	if p.Status != model.SessionPaused {
		p.PausedAt = nil
	} else if p.PausedAt != nil {
		t := normalize(*p.PausedAt)
		p.PausedAt = &t
	}
	if p.Status != model.SessionFailed {
		p.Reason = ""
	} else if p.Reason == "" {
		p.Reason = model.ReasonAbandoned
	} else if utf8.RuneCountInString(p.Reason) > model.MaxReasonLength {
		return ErrInvalidPayload
	}
	return nil
}

// resolveTaskReference turns a task client id into the task's server id when
// the task has already been synced. Unknown references are kept as given.
func resolveTaskReference(ctx context.Context, tx repository.Tx, userID int64, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if _, err := tx.GetTaskForUpdate(ctx, userID, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, repository.ErrTaskNotFound) {
		return "", fmt.Errorf("loading task %s: %w", ref, err)
	}

	task, err := tx.GetTaskByClientID(ctx, userID, ref)
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		return ref, nil
	case err != nil:
		return "", fmt.Errorf("loading task by client id %s: %w", ref, err)
	}
	return task.ID, nil
}

// mergeEntities appends conflict copies not already among the changed entities.
func mergeEntities[T any](changed, conflicts []T, id func(T) string) []T {
	out := make([]T, 0, len(changed)+len(conflicts))
	seen := make(map[string]bool, len(changed))
	for _, e := range changed {
		seen[id(e)] = true
		out = append(out, e)
	}
	for _, e := range conflicts {
		if !seen[id(e)] {
			seen[id(e)] = true
			out = append(out, e)
		}
	}
	return out
}
