package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/focusflow/focusflow-go/internal/client/netmon"
	"github.com/focusflow/focusflow-go/internal/client/resolver"
	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/model"
)

// Trigger names what started a sync cycle.
type Trigger string

const (
	TriggerPeriodic  Trigger = "periodic"
	TriggerReconnect Trigger = "reconnect"
	TriggerManual    Trigger = "manual"
)

// Reasons a cycle did not run.
const (
	ReasonInProgress = "in-progress"
	ReasonOffline    = "offline"
)

// DefaultInterval is the periodic sync interval.
const DefaultInterval = 5 * time.Minute

// Store is the local persistence the coordinator reconciles.
type Store interface {
	Device(ctx context.Context) (model.DeviceRecord, error)
	SetLastSyncedAt(ctx context.Context, t time.Time) error
	GetUnsynced(ctx context.Context, entity model.EntityType) ([]model.SyncOperation, error)
	MarkSynced(ctx context.Context, entity model.EntityType, localID string, updatedAt time.Time) (bool, error)
	ApplyMapping(ctx context.Context, entity model.EntityType, clientID, serverID string) error
	RemapTaskReference(ctx context.Context, clientID, serverID string) (int64, error)
	FindTask(ctx context.Context, serverID, clientID string) (*store.Task, error)
	FindSession(ctx context.Context, serverID, clientID string) (*store.Session, error)
	ApplyServerTask(ctx context.Context, t store.Task, prev *time.Time) (bool, error)
	ApplyServerSession(ctx context.Context, fs store.Session, prev *time.Time) (bool, error)
}

// Transport exchanges operations with the server.
type Transport interface {
	ExchangeTasks(ctx context.Context, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[model.Task], error)
	ExchangeSessions(ctx context.Context, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[model.FocusSession], error)
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	IsOnline(ctx context.Context) bool
	Online() bool
	Transitions() <-chan netmon.Transition
}

// SyncResult summarises one call to Sync.
type SyncResult struct {
	Success      bool
	Reason       string
	Trigger      Trigger
	Synced       int
	Conflicts    int
	Rejected     int
	Mapping      map[string]string
	Errors       []string
	StartedAt    time.Time
	FinishedAt   time.Time
	LastSyncedAt *time.Time
}

func (r *SyncResult) addError(stage string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// Status is a snapshot of the coordinator for display.
type Status struct {
	InProgress   bool
	Online       bool
	Cycles       int
	FailedCycles int
	LastResult   *SyncResult
}

// Coordinator runs sync cycles. At most one cycle runs at a time per
// Coordinator; overlapping calls return immediately.
type Coordinator struct {
	store     Store
	transport Transport
	net       Connectivity
	interval  time.Duration
	logger    *slog.Logger

	inProgress atomic.Bool
	manual     chan struct{}

	mu         sync.Mutex
	cycles     int
	failed     int
	lastResult *SyncResult
	lastEnd    time.Time
}

// New creates a Coordinator. A non-positive interval uses DefaultInterval.
func New(st Store, tr Transport, net Connectivity, interval time.Duration, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     st,
		transport: tr,
		net:       net,
		interval:  interval,
		logger:    logger,
		manual:    make(chan struct{}, 1),
	}
}

// TriggerNow asks the Run loop for a sync as soon as possible.
func (c *Coordinator) TriggerNow() {
	select {
	case c.manual <- struct{}{}:
	default:
	}
}

// Run is the coordinator loop. It syncs on every tick, on each
// offline-to-online transition and on TriggerNow, until ctx is done.
// A transition observed before the last cycle finished is already covered
// by that cycle and does not start another one.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("sync coordinator started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sync coordinator stopped")
			return nil
		case <-ticker.C:
			c.Sync(ctx, TriggerPeriodic)
		case tr := <-c.net.Transitions():
			if tr.Online && !c.coveredBy(tr.At) {
				c.Sync(ctx, TriggerReconnect)
			}
		case <-c.manual:
			c.Sync(ctx, TriggerManual)
		}
	}
}

// Status returns counters and the last completed result.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		InProgress:   c.inProgress.Load(),
		Online:       c.net.Online(),
		Cycles:       c.cycles,
		FailedCycles: c.failed,
	}
	if c.lastResult != nil {
		r := *c.lastResult
		st.LastResult = &r
	}
	return st
}

// coveredBy reports whether a cycle finished after t.
func (c *Coordinator) coveredBy(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastEnd.IsZero() && t.Before(c.lastEnd)
}

// Sync runs one cycle: tasks are exchanged first so that sessions can be
// re-pointed from task client ids to server ids before they are uploaded.
// Transport and storage errors end up in the result, never in a panic or a
// returned error, and leave the affected rows queued.
func (c *Coordinator) Sync(ctx context.Context, trigger Trigger) SyncResult {
	res := SyncResult{Trigger: trigger, StartedAt: time.Now(), Mapping: map[string]string{}}

	if !c.inProgress.CompareAndSwap(false, true) {
		res.Reason = ReasonInProgress
		res.FinishedAt = time.Now()
		return res
	}
	defer c.inProgress.Store(false)

	if !c.net.IsOnline(ctx) {
		res.Reason = ReasonOffline
		res.FinishedAt = time.Now()
		return res
	}

	c.cycle(ctx, &res)
	res.Success = len(res.Errors) == 0
	res.FinishedAt = time.Now()

	c.mu.Lock()
	c.cycles++
	if !res.Success {
		c.failed++
	}
	last := res
	c.lastResult = &last
	c.lastEnd = res.FinishedAt
	c.mu.Unlock()

	if res.Success {
		c.logger.Info("sync completed", "trigger", trigger, "synced", res.Synced,
			"conflicts", res.Conflicts, "rejected", res.Rejected,
			"duration", res.FinishedAt.Sub(res.StartedAt))
	} else {
		c.logger.Error("sync failed", "trigger", trigger, "errors", res.Errors)
	}
	return res
}

func (c *Coordinator) cycle(ctx context.Context, res *SyncResult) {
	device, err := c.store.Device(ctx)
	if err != nil {
		res.addError("device", err)
		return
	}

	taskOps, err := c.store.GetUnsynced(ctx, model.EntityTask)
	if err != nil {
		res.addError("tasks snapshot", err)
		return
	}
	sessionOps, err := c.store.GetUnsynced(ctx, model.EntitySession)
	if err != nil {
		res.addError("sessions snapshot", err)
		return
	}

	tasks, err := c.transport.ExchangeTasks(ctx, device.DeviceID, taskOps, device.LastSyncedAt)
	if err != nil {
		res.addError("tasks exchange", err)
		return
	}
	c.acknowledge(ctx, model.EntityTask, taskOps, tasks.Mapping, tasks.Rejected, res)
	res.Synced += tasks.Synced
	res.Conflicts += tasks.Conflicts
	for _, t := range tasks.ServerEntities {
		if err := c.applyServerTask(ctx, t, res); err != nil {
			res.addError("apply task "+t.ID, err)
		}
	}

	for clientID, serverID := range tasks.Mapping {
		if _, err := c.store.RemapTaskReference(ctx, clientID, serverID); err != nil {
			res.addError("remap task reference", err)
		}
	}
	sessionOps = resolver.RemapSessionOps(sessionOps, tasks.Mapping)

	sessions, err := c.transport.ExchangeSessions(ctx, device.DeviceID, sessionOps, device.LastSyncedAt)
	if err != nil {
		res.addError("sessions exchange", err)
		return
	}
	c.acknowledge(ctx, model.EntitySession, sessionOps, sessions.Mapping, sessions.Rejected, res)
	res.Synced += sessions.Synced
	res.Conflicts += sessions.Conflicts
	for _, fs := range sessions.ServerEntities {
		if err := c.applyServerSession(ctx, fs, res); err != nil {
			res.addError("apply session "+fs.ID, err)
		}
	}

	if len(res.Errors) > 0 {
		return
	}

	watermark := tasks.LastSyncedAt
	if sessions.LastSyncedAt.Before(watermark) {
		watermark = sessions.LastSyncedAt
	}
	if err := c.store.SetLastSyncedAt(ctx, watermark); err != nil {
		res.addError("watermark", err)
		return
	}
	res.LastSyncedAt = &watermark
}

// acknowledge applies the id mapping and marks every uploaded operation as
// synced. Rejected operations are acknowledged too: resending an invalid
// payload cannot succeed, and a later local edit queues the row again.
func (c *Coordinator) acknowledge(ctx context.Context, entity model.EntityType, ops []model.SyncOperation, mapping map[string]string, rejected []model.RejectedOperation, res *SyncResult) {
	for clientID, serverID := range mapping {
		if err := c.store.ApplyMapping(ctx, entity, clientID, serverID); err != nil {
			res.addError("apply mapping", err)
			continue
		}
		res.Mapping[clientID] = serverID
	}

	for _, r := range rejected {
		c.logger.Warn("operation rejected by server", "entity", entity, "id", r.ID, "code", r.Code, "message", r.Message)
	}
	res.Rejected += len(rejected)

	for _, op := range ops {
		h := op.Header()
		if _, err := c.store.MarkSynced(ctx, entity, h.LocalID, h.At); err != nil {
			res.addError("mark synced", err)
		}
	}
}

func (c *Coordinator) applyServerTask(ctx context.Context, t model.Task, res *SyncResult) error {
	local, err := c.store.FindTask(ctx, t.ID, t.ClientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	merged, d := resolver.MergeTask(local, t)
	if d == resolver.KeepLocal {
		return nil
	}

	var prev *time.Time
	if local != nil {
		prev = &local.UpdatedAt
	}
	applied, err := c.store.ApplyServerTask(ctx, merged, prev)
	if err != nil {
		return err
	}
	if !applied {
		c.logger.Debug("local task changed during sync, keeping local copy", "local_id", merged.LocalID)
		return nil
	}
	if d == resolver.ServerWins && !local.Synced {
		res.Conflicts++
	}
	return nil
}

func (c *Coordinator) applyServerSession(ctx context.Context, fs model.FocusSession, res *SyncResult) error {
	local, err := c.store.FindSession(ctx, fs.ID, fs.ClientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	merged, d := resolver.MergeSession(local, fs)
	if d == resolver.KeepLocal {
		return nil
	}

	var prev *time.Time
	if local != nil {
		prev = &local.UpdatedAt
	}
	applied, err := c.store.ApplyServerSession(ctx, merged, prev)
	if err != nil {
		return err
	}
	if !applied {
		c.logger.Debug("local session changed during sync, keeping local copy", "local_id", merged.LocalID)
		return nil
	}
	if d == resolver.ServerWins && !local.Synced {
		res.Conflicts++
	}
	return nil
}
