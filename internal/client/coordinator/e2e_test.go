package coordinator

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/focusflow/focusflow-go/internal/client/netmon"
	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/client/transport"
	"github.com/focusflow/focusflow-go/internal/crypto"
	"github.com/focusflow/focusflow-go/internal/handler"
	"github.com/focusflow/focusflow-go/internal/model"
	"github.com/focusflow/focusflow-go/internal/repository/memory"
	"github.com/focusflow/focusflow-go/internal/service"
)

const (
	e2eSecret = "e2e-secret"
	e2eUser   = int64(1)
)

type e2eServer struct {
	url   string
	token string
	repo  *memory.Store
}

func newE2EServer(t *testing.T) *e2eServer {
	t.Helper()

	repo := memory.New()
	repo.AddUser(model.User{ID: e2eUser, Tier: model.TierFree, Timezone: "UTC"})
	stats := service.NewStatsService(repo)
	router := handler.NewRouter(handler.RouterConfig{JWTSecret: e2eSecret, SyncRateRPS: 100, SyncRateBurst: 100},
		service.NewSessionService(repo, stats, 3),
		service.NewSyncService(repo, stats))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := crypto.GenerateToken(e2eUser, e2eSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return &e2eServer{url: srv.URL, token: token, repo: repo}
}

type device struct {
	store *store.Store
	coord *Coordinator
}

func (s *e2eServer) newDevice(t *testing.T) *device {
	t.Helper()

	st := newTestStore(t)
	client := transport.New(s.url, s.token, 5*time.Second, 0)
	mon := netmon.New(client.Ping, time.Hour, time.Second, nil)
	return &device{store: st, coord: New(st, client, mon, time.Hour, nil)}
}

func (d *device) sync(t *testing.T) SyncResult {
	t.Helper()
	res := d.coord.Sync(context.Background(), TriggerManual)
	if !res.Success {
		t.Fatalf("Sync() failed: reason=%q errors=%v", res.Reason, res.Errors)
	}
	return res
}

func TestEndToEnd_OfflineWorkIsUploadedOnce(t *testing.T) {
	srv := newE2EServer(t)
	dev := srv.newDevice(t)
	ctx := context.Background()

	report, _ := dev.store.CreateTask(ctx, "write report", 1)
	review, _ := dev.store.CreateTask(ctx, "review", 2)
	fs, err := dev.store.CreateSession(ctx, store.Session{
		TaskID:      report.ClientID,
		Duration:    1500,
		StartTime:   time.Now().Add(-2 * time.Hour),
		Status:      model.SessionCompleted,
		TimeElapsed: 1500,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	first := dev.sync(t)
	if first.Synced != 3 || first.Conflicts != 0 || len(first.Mapping) != 3 {
		t.Fatalf("first sync got synced=%d conflicts=%d mapping=%v", first.Synced, first.Conflicts, first.Mapping)
	}

	gotReport, _ := dev.store.GetTask(ctx, report.LocalID)
	if gotReport.ServerID != first.Mapping[report.ClientID] || gotReport.ClientID != "" || !gotReport.Synced {
		t.Errorf("mapped task got = %+v", gotReport)
	}
	gotReview, _ := dev.store.GetTask(ctx, review.LocalID)
	if gotReview.ServerID == "" || gotReview.ServerID == gotReport.ServerID {
		t.Errorf("second task server id got = %q", gotReview.ServerID)
	}

	gotSession, _ := dev.store.GetSession(ctx, fs.LocalID)
	if gotSession.ServerID == "" || gotSession.TaskID != gotReport.ServerID || !gotSession.Synced {
		t.Errorf("mapped session got = %+v, want task %s", gotSession, gotReport.ServerID)
	}
	serverSession, ok := srv.repo.Session(gotSession.ServerID)
	if !ok || serverSession.TaskID != gotReport.ServerID || serverSession.Status != model.SessionCompleted {
		t.Errorf("server session got = %+v (found %v)", serverSession, ok)
	}

	dev.sync(t)
	gotReport, _ = dev.store.GetTask(ctx, report.LocalID)
	if gotReport.ActualMinutes != 25 || !gotReport.Synced {
		t.Errorf("pulled task got actualMinutes=%d synced=%v, want 25 and synced", gotReport.ActualMinutes, gotReport.Synced)
	}

	third := dev.sync(t)
	if third.Synced != 0 || third.Conflicts != 0 {
		t.Errorf("idle sync got synced=%d conflicts=%d", third.Synced, third.Conflicts)
	}
	if n := srv.repo.SessionCount(e2eUser); n != 1 {
		t.Errorf("server sessions got = %d, want 1", n)
	}

	counts, _ := dev.store.Counts(ctx)
	if counts[model.EntityTask] != 0 || counts[model.EntitySession] != 0 {
		t.Errorf("Counts() got = %v, want nothing pending", counts)
	}
	device, _ := dev.store.Device(ctx)
	if device.LastSyncedAt == nil || third.LastSyncedAt == nil || !device.LastSyncedAt.Equal(*third.LastSyncedAt) {
		t.Errorf("watermark got = %v, want %v", device.LastSyncedAt, third.LastSyncedAt)
	}
}

func TestEndToEnd_TwoDevicesLastWriterWins(t *testing.T) {
	srv := newE2EServer(t)
	a := srv.newDevice(t)
	b := srv.newDevice(t)
	ctx := context.Background()

	draft, _ := a.store.CreateTask(ctx, "draft", 2)
	a.sync(t)

	pulled := b.sync(t)
	if pulled.Synced != 0 {
		t.Errorf("pull-only sync got synced=%d", pulled.Synced)
	}
	bTasks, _ := b.store.ListTasks(ctx)
	if len(bTasks) != 1 || bTasks[0].Title != "draft" || !bTasks[0].Synced {
		t.Fatalf("device B tasks got = %+v", bTasks)
	}

	if _, err := a.store.UpdateTask(ctx, draft.LocalID, func(t *store.Task) { t.Title = "edited on A" }); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := b.store.UpdateTask(ctx, bTasks[0].LocalID, func(t *store.Task) { t.Title = "edited on B" }); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	b.sync(t)
	res := a.sync(t)
	if res.Conflicts != 1 {
		t.Errorf("device A conflicts got = %d, want 1", res.Conflicts)
	}

	got, _ := a.store.GetTask(ctx, draft.LocalID)
	if got.Title != "edited on B" || !got.Synced {
		t.Errorf("device A task got title=%q synced=%v, want the newer edit from B", got.Title, got.Synced)
	}

	if counts, _ := a.store.Counts(ctx); counts[model.EntityTask] != 0 {
		t.Errorf("device A pending got = %v", counts)
	}
}

func TestEndToEnd_OfflineThenReconnect(t *testing.T) {
	srv := newE2EServer(t)
	st := newTestStore(t)
	client := transport.New(srv.url, srv.token, 5*time.Second, 0)
	net := newFakeNet(false)
	c := New(st, client, net, time.Hour, nil)
	ctx := context.Background()

	st.CreateTask(ctx, "queued offline", 2)
	if res := c.Sync(ctx, TriggerManual); res.Reason != ReasonOffline {
		t.Fatalf("Sync() reason got = %q, want offline", res.Reason)
	}
	if counts, _ := st.Counts(ctx); counts[model.EntityTask] != 1 {
		t.Fatalf("Counts() got = %v, want the task still queued", counts)
	}

	net.online.Store(true)
	res := c.Sync(ctx, TriggerReconnect)
	if !res.Success || res.Synced != 1 || res.Trigger != TriggerReconnect {
		t.Errorf("Sync() after reconnect got = %+v", res)
	}
}
