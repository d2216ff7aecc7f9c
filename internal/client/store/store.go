package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/focusflow/focusflow-go/internal/model"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownEntity = errors.New("unknown entity type")
)

// clientIDPrefix marks identifiers minted on the device before the server
// has assigned one.
const clientIDPrefix = "tmp-"

// Store is the device-side database: local copies of tasks and sessions, the
// pending-operation queue derived from their synced flags, and the device record.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path, enables WAL mode,
// runs pending migrations and makes sure the device record exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:" databases
	// alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.ensureDevice(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *Store) ensureDevice() error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO device (id, device_id) VALUES (1, ?)", uuid.NewString())
	if err != nil {
		return fmt.Errorf("creating device record: %w", err)
	}
	return nil
}

// Device returns this device's identity and pull watermark.
func (s *Store) Device(ctx context.Context) (model.DeviceRecord, error) {
	var row struct {
		DeviceID     string `db:"device_id"`
		LastSyncedAt *int64 `db:"last_synced_at"`
	}
	if err := s.db.GetContext(ctx, &row, "SELECT device_id, last_synced_at FROM device WHERE id = 1"); err != nil {
		return model.DeviceRecord{}, fmt.Errorf("reading device record: %w", err)
	}

	rec := model.DeviceRecord{DeviceID: row.DeviceID}
	if row.LastSyncedAt != nil {
		t := fromMicro(*row.LastSyncedAt)
		rec.LastSyncedAt = &t
	}
	return rec, nil
}

// SetLastSyncedAt persists the pull watermark after a fully successful cycle.
func (s *Store) SetLastSyncedAt(ctx context.Context, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE device SET last_synced_at = ? WHERE id = 1", toMicro(t)); err != nil {
		return fmt.Errorf("updating last synced at: %w", err)
	}
	return nil
}

// GetUnsynced returns the pending operations for entity, oldest edit first.
// Rows without a server id become CREATE operations, the rest UPDATE.
func (s *Store) GetUnsynced(ctx context.Context, entity model.EntityType) ([]model.SyncOperation, error) {
	switch entity {
	case model.EntityTask:
		return s.unsyncedTasks(ctx)
	case model.EntitySession:
		return s.unsyncedSessions(ctx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
}

// MarkSynced flags a row as uploaded, but only while its updated_at still
// equals the snapshot value. A row edited after the snapshot stays queued.
func (s *Store) MarkSynced(ctx context.Context, entity model.EntityType, localID string, updatedAt time.Time) (bool, error) {
	table, err := tableFor(entity)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE "+table+" SET synced = 1 WHERE local_id = ? AND updated_at = ?",
		localID, toMicro(updatedAt))
	if err != nil {
		return false, fmt.Errorf("marking %s %s synced: %w", entity, localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking %s %s synced: %w", entity, localID, err)
	}
	return n > 0, nil
}

// ApplyMapping records the server id for a row known by its client id and
// retires the client id.
func (s *Store) ApplyMapping(ctx context.Context, entity model.EntityType, clientID, serverID string) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE "+table+" SET server_id = ?, client_id = '' WHERE client_id = ?",
		serverID, clientID)
	if err != nil {
		return fmt.Errorf("applying %s mapping %s: %w", entity, clientID, err)
	}
	return nil
}

// RemapTaskReference points sessions that reference a task by its client id
// at the task's server id.
func (s *Store) RemapTaskReference(ctx context.Context, clientID, serverID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET task_id = ? WHERE task_id = ?", serverID, clientID)
	if err != nil {
		return 0, fmt.Errorf("remapping task reference %s: %w", clientID, err)
	}
	return res.RowsAffected()
}

// Counts returns the number of unsynced rows per entity type.
func (s *Store) Counts(ctx context.Context) (map[model.EntityType]int, error) {
	counts := make(map[model.EntityType]int, 2)
	for _, entity := range []model.EntityType{model.EntityTask, model.EntitySession} {
		table, _ := tableFor(entity)
		var n int
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table+" WHERE synced = 0"); err != nil {
			return nil, fmt.Errorf("counting pending %s: %w", entity, err)
		}
		counts[entity] = n
	}
	return counts, nil
}

func tableFor(entity model.EntityType) (string, error) {
	switch entity {
	case model.EntityTask:
		return "tasks", nil
	case model.EntitySession:
		return "sessions", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// stamp returns the next updated_at for a row last written at prev.
func (s *Store) stamp(prev time.Time) time.Time {
	now := s.clock()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func newClientID() string {
	return clientIDPrefix + uuid.NewString()
}

func toMicro(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicro(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func toMicroPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMicro(*t)
	return &v
}

func fromMicroPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMicro(*v)
	return &t
}
