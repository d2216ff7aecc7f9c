package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/focusflow/focusflow-go/internal/client/netmon"
	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/model"
)

type fakeNet struct {
	online atomic.Bool
	ch     chan netmon.Transition
}

func newFakeNet(online bool) *fakeNet {
	n := &fakeNet{ch: make(chan netmon.Transition, 1)}
	n.online.Store(online)
	return n
}

func (n *fakeNet) IsOnline(ctx context.Context) bool { return n.online.Load() }
func (n *fakeNet) Online() bool { return n.online.Load() }
func (n *fakeNet) Transitions() <-chan netmon.Transition { return n.ch }

type fakeTransport struct {
	taskCalls    atomic.Int32
	sessionCalls atomic.Int32
	taskErr      error
	sessionErr   error
	block        chan struct{}
	entered      chan struct{}
	called       chan struct{}
}

func (f *fakeTransport) ExchangeTasks(ctx context.Context, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[model.Task], error) {
	f.taskCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	return &model.SyncResponse[model.Task]{Synced: len(ops), Mapping: map[string]string{}, LastSyncedAt: time.Now()}, nil
}

func (f *fakeTransport) ExchangeSessions(ctx context.Context, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[model.FocusSession], error) {
	f.sessionCalls.Add(1)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &model.SyncResponse[model.FocusSession]{Synced: len(ops), Mapping: map[string]string{}, LastSyncedAt: time.Now()}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func TestSync_Offline(t *testing.T) {
	tr := &fakeTransport{}
	c := New(newTestStore(t), tr, newFakeNet(false), time.Hour, nil)

	got := c.Sync(context.Background(), TriggerManual)
	if got.Success || got.Reason != ReasonOffline {
		t.Errorf("Sync() got success=%v reason=%q, want offline", got.Success, got.Reason)
	}
	if tr.taskCalls.Load() != 0 {
		t.Error("transport called while offline")
	}
	if st := c.Status(); st.Cycles != 0 || st.FailedCycles != 0 || st.LastResult != nil {
		t.Errorf("Status() after offline got = %+v, want untouched counters", st)
	}
}

func TestSync_InProgress(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := New(newTestStore(t), tr, newFakeNet(true), time.Hour, nil)

	done := make(chan SyncResult, 1)
	go func() { done <- c.Sync(context.Background(), TriggerPeriodic) }()
	<-tr.entered

	if !c.Status().InProgress {
		t.Error("Status().InProgress got = false during a cycle")
	}
	second := c.Sync(context.Background(), TriggerManual)
	if second.Success || second.Reason != ReasonInProgress {
		t.Errorf("overlapping Sync() got success=%v reason=%q", second.Success, second.Reason)
	}

	close(tr.block)
	first := <-done
	if !first.Success {
		t.Errorf("first Sync() failed: %v", first.Errors)
	}
	if tr.taskCalls.Load() != 1 {
		t.Errorf("task exchanges got = %d, want 1", tr.taskCalls.Load())
	}
}

func TestSync_TaskExchangeFailureKeepsQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task, _ := st.CreateTask(ctx, "a", 2)
	st.CreateSession(ctx, store.Session{TaskID: task.ClientID, Duration: 1500, StartTime: time.Now().Add(-time.Hour), Status: model.SessionCompleted, TimeElapsed: 1500})

	tr := &fakeTransport{taskErr: errors.New("connection reset")}
	c := New(st, tr, newFakeNet(true), time.Hour, nil)

	got := c.Sync(ctx, TriggerManual)
	if got.Success || len(got.Errors) != 1 {
		t.Fatalf("Sync() got success=%v errors=%v", got.Success, got.Errors)
	}
	if tr.sessionCalls.Load() != 0 {
		t.Error("sessions exchanged after the task exchange failed")
	}

	counts, _ := st.Counts(ctx)
	if counts[model.EntityTask] != 1 || counts[model.EntitySession] != 1 {
		t.Errorf("Counts() got = %v, want everything still queued", counts)
	}
	if dev, _ := st.Device(ctx); dev.LastSyncedAt != nil {
		t.Errorf("watermark got = %v, want unset", dev.LastSyncedAt)
	}
	if s := c.Status(); s.Cycles != 1 || s.FailedCycles != 1 || s.LastResult == nil {
		t.Errorf("Status() got = %+v", s)
	}
}

func TestSync_SessionExchangeFailureKeepsWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task, _ := st.CreateTask(ctx, "a", 2)
	st.CreateSession(ctx, store.Session{TaskID: task.ClientID, Duration: 1500, StartTime: time.Now().Add(-time.Hour), Status: model.SessionCompleted, TimeElapsed: 1500})

	tr := &fakeTransport{sessionErr: errors.New("503 service unavailable")}
	c := New(st, tr, newFakeNet(true), time.Hour, nil)

	got := c.Sync(ctx, TriggerManual)
	if got.Success || len(got.Errors) != 1 {
		t.Fatalf("Sync() got success=%v errors=%v", got.Success, got.Errors)
	}
	if tr.taskCalls.Load() != 1 || tr.sessionCalls.Load() != 1 {
		t.Errorf("exchanges got tasks=%d sessions=%d, want 1 and 1", tr.taskCalls.Load(), tr.sessionCalls.Load())
	}

	counts, _ := st.Counts(ctx)
	if counts[model.EntityTask] != 0 || counts[model.EntitySession] != 1 {
		t.Errorf("Counts() got = %v, want tasks acknowledged and the session queued", counts)
	}
	if dev, _ := st.Device(ctx); dev.LastSyncedAt != nil {
		t.Errorf("watermark got = %v, want unset", dev.LastSyncedAt)
	}
	if got.LastSyncedAt != nil {
		t.Errorf("SyncResult.LastSyncedAt got = %v, want nil", got.LastSyncedAt)
	}
}

func TestRun_Triggers(t *testing.T) {
	tr := &fakeTransport{called: make(chan struct{}, 1)}
	net := newFakeNet(true)
	c := New(newTestStore(t), tr, net, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wait := func(what string) {
		t.Helper()
		select {
		case <-tr.called:
		case <-time.After(2 * time.Second):
			t.Fatalf("no sync after %s", what)
		}
	}

	net.ch <- netmon.Transition{Online: true, At: time.Now()}
	wait("reconnect")

	c.TriggerNow()
	wait("manual trigger")

	net.ch <- netmon.Transition{Online: false, At: time.Now()}
	select {
	case <-tr.called:
		t.Error("sync triggered by an offline transition")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := tr.taskCalls.Load(); got != 2 {
		t.Errorf("task exchanges got = %d, want 2", got)
	}
}

func TestRun_ReconnectSyncsOnce(t *testing.T) {
	tr := &fakeTransport{called: make(chan struct{}, 1)}
	mon := netmon.New(func(ctx context.Context) error { return nil }, time.Hour, time.Second, nil)
	c := New(newTestStore(t), tr, mon, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// The monitor starts offline, so the probe inside this cycle reports
	// the reconnect as well.
	c.TriggerNow()
	select {
	case <-tr.called:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync after manual trigger")
	}
	select {
	case <-tr.called:
		t.Error("second sync for a reconnect the first cycle already covered")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := tr.taskCalls.Load(); got != 1 {
		t.Errorf("task exchanges got = %d, want 1", got)
	}
	if !mon.Online() {
		t.Error("Online() got = false after a successful probe")
	}
}

func TestRun_TransitionDuringCycle(t *testing.T) {
	tr := &fakeTransport{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 4),
		called:  make(chan struct{}, 1),
	}
	net := newFakeNet(true)
	c := New(newTestStore(t), tr, net, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.TriggerNow()
	<-tr.entered
	net.ch <- netmon.Transition{Online: true, At: time.Now()}
	close(tr.block)

	select {
	case <-tr.called:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}
	select {
	case <-tr.called:
		t.Error("reconnect seen during a cycle started another one")
	case <-time.After(100 * time.Millisecond):
	}

	// A reconnect after the cycle still syncs.
	net.ch <- netmon.Transition{Online: true, At: time.Now()}
	select {
	case <-tr.called:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync for a reconnect after the cycle")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := tr.taskCalls.Load(); got != 2 {
		t.Errorf("task exchanges got = %d, want 2", got)
	}
}
