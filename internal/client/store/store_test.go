package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// newTestStore creates an in-memory Store with a frozen clock.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	s.now = func() time.Time { return t0 }

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

func TestDevice_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "focus.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first, err := s.Device(ctx)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if first.DeviceID == "" || first.LastSyncedAt != nil {
		t.Fatalf("Device() got = %+v, want id and no watermark", first)
	}
	if err := s.SetLastSyncedAt(ctx, t0); err != nil {
		t.Fatalf("SetLastSyncedAt() error = %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	second, err := s.Device(ctx)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if second.DeviceID != first.DeviceID {
		t.Errorf("DeviceID got = %q, want %q", second.DeviceID, first.DeviceID)
	}
	if second.LastSyncedAt == nil || !second.LastSyncedAt.Equal(t0) {
		t.Errorf("LastSyncedAt got = %v, want %v", second.LastSyncedAt, t0)
	}
}

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		title    string
		priority int
		wantErr  bool
	}{
		{"valid", "write report", 1, false},
		{"trimmed", "  spaced  ", 2, false},
		{"empty title", "   ", 2, true},
		{"priority too high", "x", 5, true},
		{"negative priority", "x", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CreateTask(ctx, tt.title, tt.priority)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateTask() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTask) {
					t.Errorf("CreateTask() error = %v, want ErrInvalidTask", err)
				}
				return
			}
			if !strings.HasPrefix(got.ClientID, clientIDPrefix) || got.ServerID != "" {
				t.Errorf("ids got = %q/%q", got.ClientID, got.ServerID)
			}
			if got.Status != model.TaskTodo || got.Synced {
				t.Errorf("CreateTask() got = %+v", got)
			}
			if got.Title != strings.TrimSpace(tt.title) {
				t.Errorf("Title got = %q", got.Title)
			}
		})
	}
}

func TestGetUnsynced_CreateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "a", 2)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	ops, err := s.GetUnsynced(ctx, model.EntityTask)
	if err != nil {
		t.Fatalf("GetUnsynced() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("GetUnsynced() got %d ops, want 1", len(ops))
	}
	create, ok := ops[0].(model.TaskCreate)
	if !ok {
		t.Fatalf("op type got = %T, want TaskCreate", ops[0])
	}
	if create.ID != task.ClientID || create.LocalID != task.LocalID || create.Data.Title != "a" {
		t.Errorf("TaskCreate got = %+v", create)
	}

	if err := s.ApplyMapping(ctx, model.EntityTask, task.ClientID, "srv-1"); err != nil {
		t.Fatalf("ApplyMapping() error = %v", err)
	}
	if ok, err := s.MarkSynced(ctx, model.EntityTask, task.LocalID, create.At); err != nil || !ok {
		t.Fatalf("MarkSynced() got = %v, %v", ok, err)
	}
	if ops, _ := s.GetUnsynced(ctx, model.EntityTask); len(ops) != 0 {
		t.Fatalf("GetUnsynced() after sync got %d ops", len(ops))
	}

	mapped, err := s.GetTask(ctx, task.LocalID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if mapped.ServerID != "srv-1" || mapped.ClientID != "" || !mapped.Synced {
		t.Errorf("mapped task got = %+v", mapped)
	}

	if _, err := s.UpdateTask(ctx, task.LocalID, func(t *Task) { t.Status = model.TaskInProgress }); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	ops, _ = s.GetUnsynced(ctx, model.EntityTask)
	if len(ops) != 1 {
		t.Fatalf("GetUnsynced() got %d ops, want 1", len(ops))
	}
	update, ok := ops[0].(model.TaskUpdate)
	if !ok {
		t.Fatalf("op type got = %T, want TaskUpdate", ops[0])
	}
	if update.ID != "srv-1" || update.Data.Status != model.TaskInProgress {
		t.Errorf("TaskUpdate got = %+v", update)
	}
}

func TestMarkSynced_KeepsNewerEditQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "a", 2)
	ops, _ := s.GetUnsynced(ctx, model.EntityTask)
	snapshot := ops[0].Header()

	if _, err := s.UpdateTask(ctx, task.LocalID, func(t *Task) { t.Title = "b" }); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	ok, err := s.MarkSynced(ctx, model.EntityTask, snapshot.LocalID, snapshot.At)
	if err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	if ok {
		t.Error("MarkSynced() got = true for a row edited after the snapshot")
	}
	if ops, _ := s.GetUnsynced(ctx, model.EntityTask); len(ops) != 1 {
		t.Errorf("GetUnsynced() got %d ops, want the newer edit queued", len(ops))
	}
}

func TestUpdateTask_MonotonicUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "a", 2)
	prev := task.UpdatedAt
	for i := 0; i < 3; i++ {
		got, err := s.UpdateTask(ctx, task.LocalID, func(t *Task) { t.Priority = i })
		if err != nil {
			t.Fatalf("UpdateTask() error = %v", err)
		}
		if !got.UpdatedAt.After(prev) {
			t.Fatalf("UpdatedAt got = %v, want after %v", got.UpdatedAt, prev)
		}
		prev = got.UpdatedAt
	}
}

func TestUpdateTask_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, "a", 2)

	if _, err := s.UpdateTask(ctx, "missing", func(*Task) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask() error = %v, want ErrNotFound", err)
	}
	if _, err := s.UpdateTask(ctx, task.LocalID, func(t *Task) { t.Status = "DONE" }); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("UpdateTask() error = %v, want ErrInvalidTask", err)
	}

	got, err := s.UpdateTask(ctx, task.LocalID, func(t *Task) {
		t.ClientID = "forged"
		t.ServerID = "forged"
		t.Synced = true
	})
	if err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	if got.ClientID != task.ClientID || got.ServerID != "" || got.Synced {
		t.Errorf("UpdateTask() changed bookkeeping fields: %+v", got)
	}
}

func TestRemapTaskReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "a", 2)
	fs, err := s.CreateSession(ctx, Session{
		TaskID:      task.ClientID,
		Duration:    1500,
		StartTime:   t0.Add(-time.Hour),
		Status:      model.SessionCompleted,
		TimeElapsed: 1500,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	n, err := s.RemapTaskReference(ctx, task.ClientID, "srv-task")
	if err != nil || n != 1 {
		t.Fatalf("RemapTaskReference() got = %d, %v", n, err)
	}

	got, _ := s.GetSession(ctx, fs.LocalID)
	if got.TaskID != "srv-task" {
		t.Errorf("TaskID got = %q, want srv-task", got.TaskID)
	}
	if !got.UpdatedAt.Equal(fs.UpdatedAt) {
		t.Errorf("remap changed updatedAt: %v -> %v", fs.UpdatedAt, got.UpdatedAt)
	}
}

func TestCreateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	paused := t0.Add(-5 * time.Minute)
	fs, err := s.CreateSession(ctx, Session{
		Duration:      1500,
		StartTime:     t0.Add(-20 * time.Minute),
		Status:        model.SessionPaused,
		TimeElapsed:   750,
		PauseDuration: 60,
		PausedAt:      &paused,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if fs.Progress != 50 {
		t.Errorf("Progress got = %d, want 50", fs.Progress)
	}
	if want := t0.Add(5 * time.Minute); !fs.EndTime.Equal(want) {
		t.Errorf("EndTime got = %v, want %v", fs.EndTime, want)
	}

	ops, err := s.GetUnsynced(ctx, model.EntitySession)
	if err != nil || len(ops) != 1 {
		t.Fatalf("GetUnsynced() got = %d, %v", len(ops), err)
	}
	create, ok := ops[0].(model.SessionCreate)
	if !ok {
		t.Fatalf("op type got = %T", ops[0])
	}
	if create.Data.PausedAt == nil || !create.Data.PausedAt.Equal(paused) || create.Data.Status != model.SessionPaused {
		t.Errorf("SessionCreate got = %+v", create.Data)
	}

	if _, err := s.CreateSession(ctx, Session{Duration: 0, StartTime: t0, Status: model.SessionRunning}); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("CreateSession() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpdateSession_KeepsImmutableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fs, _ := s.CreateSession(ctx, Session{Duration: 1500, StartTime: t0.Add(-time.Minute), Status: model.SessionRunning})
	got, err := s.UpdateSession(ctx, fs.LocalID, func(fs *Session) {
		fs.Duration = 60
		fs.Status = model.SessionCompleted
		fs.TimeElapsed = 1500
	})
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if got.Duration != 1500 || got.Status != model.SessionCompleted || got.Progress != 100 {
		t.Errorf("UpdateSession() got = %+v", got)
	}
}

func TestApplyServerTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted := Task{LocalID: "l-1", ServerID: "srv-1", Title: "from server", Priority: 2, Status: model.TaskTodo, UpdatedAt: t0, Synced: true}
	if ok, err := s.ApplyServerTask(ctx, inserted, nil); err != nil || !ok {
		t.Fatalf("ApplyServerTask() insert got = %v, %v", ok, err)
	}

	found, err := s.FindTask(ctx, "srv-1", "")
	if err != nil {
		t.Fatalf("FindTask() error = %v", err)
	}

	newer := *found
	newer.Title = "renamed"
	newer.UpdatedAt = t0.Add(time.Minute)
	stale := t0.Add(-time.Minute)
	if ok, _ := s.ApplyServerTask(ctx, newer, &stale); ok {
		t.Error("ApplyServerTask() applied with a stale prev")
	}
	if ok, err := s.ApplyServerTask(ctx, newer, &found.UpdatedAt); err != nil || !ok {
		t.Fatalf("ApplyServerTask() update got = %v, %v", ok, err)
	}

	got, _ := s.GetTask(ctx, "l-1")
	if got.Title != "renamed" || !got.Synced {
		t.Errorf("task got = %+v", got)
	}
}

func TestFindTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, "a", 2)

	tests := []struct {
		name     string
		serverID string
		clientID string
		wantErr  error
	}{
		{"by client id", "unknown", task.ClientID, nil},
		{"client id only", "", task.ClientID, nil},
		{"missing", "unknown", "tmp-unknown", ErrNotFound},
		{"no ids", "", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindTask(ctx, tt.serverID, tt.clientID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FindTask() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.LocalID != task.LocalID {
				t.Errorf("FindTask() got = %q, want %q", got.LocalID, task.LocalID)
			}
		})
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateTask(ctx, "a", 2)
	s.CreateTask(ctx, "b", 2)
	s.CreateSession(ctx, Session{Duration: 1500, StartTime: t0, Status: model.SessionRunning})

	got, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if got[model.EntityTask] != 2 || got[model.EntitySession] != 1 {
		t.Errorf("Counts() got = %v", got)
	}

	if _, err := s.GetUnsynced(ctx, "devices"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("GetUnsynced() error = %v, want ErrUnknownEntity", err)
	}
}
