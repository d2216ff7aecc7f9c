// Package resolver reconciles server copies of entities with the device's
// copies using entity-level last-writer-wins on updatedAt. Concurrent edits
// to different fields are not merged: the losing copy is discarded whole.
package resolver

import (
	"time"

	"github.com/google/uuid"

	"github.com/focusflow/focusflow-go/internal/client/store"
	"github.com/focusflow/focusflow-go/internal/model"
)

// Decision is the outcome of comparing a local and a server copy.
type Decision int

const (
	// Insert stores a server entity the device has never seen.
	Insert Decision = iota
	// ServerWins overwrites the local copy and marks it synced.
	ServerWins
	// KeepLocal leaves the local copy untouched, including its synced flag.
	KeepLocal
)

func (d Decision) String() string {
	switch d {
	case Insert:
		return "insert"
	case ServerWins:
		return "server-wins"
	case KeepLocal:
		return "keep-local"
	}
	return "unknown"
}

// Versioned is anything carrying a last-writer-wins timestamp.
type Versioned interface {
	Version() time.Time
}

// Resolve compares the local copy, nil when the device has none, with the
// server copy. The server wins only when strictly newer; ties favour the
// local copy.
func Resolve(local, server Versioned) Decision {
	if local == nil {
		return Insert
	}
	if server.Version().After(local.Version()) {
		return ServerWins
	}
	return KeepLocal
}

type serverTask model.Task

func (t serverTask) Version() time.Time { return t.UpdatedAt }

type serverSession model.FocusSession

func (fs serverSession) Version() time.Time { return fs.UpdatedAt }

// MergeTask returns the row to store for a server task and the decision that
// produced it. For KeepLocal the returned row is the unchanged local copy.
func MergeTask(local *store.Task, server model.Task) (store.Task, Decision) {
	var d Decision
	if local == nil {
		d = Resolve(nil, serverTask(server))
	} else {
		d = Resolve(*local, serverTask(server))
	}
	if d == KeepLocal {
		return *local, d
	}

	merged := store.Task{
		LocalID:       uuid.NewString(),
		ServerID:      server.ID,
		Title:         server.Title,
		Priority:      server.Priority,
		Status:        server.Status,
		ActualMinutes: server.ActualMinutes,
		UpdatedAt:     server.UpdatedAt.UTC(),
		Synced:        true,
	}
	if local != nil {
		merged.LocalID = local.LocalID
	}
	return merged, d
}

// MergeSession is MergeTask for focus sessions.
func MergeSession(local *store.Session, server model.FocusSession) (store.Session, Decision) {
	var d Decision
	if local == nil {
		d = Resolve(nil, serverSession(server))
	} else {
		d = Resolve(*local, serverSession(server))
	}
	if d == KeepLocal {
		return *local, d
	}

	merged := store.Session{
		LocalID:       uuid.NewString(),
		ServerID:      server.ID,
		TaskID:        server.TaskID,
		Duration:      server.Duration,
		StartTime:     server.StartTime.UTC(),
		EndTime:       server.EndTime.UTC(),
		Status:        server.Status,
		Progress:      server.Progress,
		TimeElapsed:   server.TimeElapsed,
		PauseDuration: server.PauseDuration,
		PausedAt:      server.PausedAt,
		Reason:        server.Reason,
		UpdatedAt:     server.UpdatedAt.UTC(),
		Synced:        true,
	}
	if local != nil {
		merged.LocalID = local.LocalID
	}
	return merged, d
}

// RemapSessionOps rewrites the task reference of queued session operations
// whose task was known by a client id now present in mapping. The input
// slice is not modified.
func RemapSessionOps(ops []model.SyncOperation, mapping map[string]string) []model.SyncOperation {
	out := make([]model.SyncOperation, len(ops))
	for i, op := range ops {
		switch o := op.(type) {
		case model.SessionCreate:
			if id, ok := mapping[o.Data.TaskID]; ok {
				o.Data.TaskID = id
			}
			out[i] = o
		case model.SessionUpdate:
			if id, ok := mapping[o.Data.TaskID]; ok {
				o.Data.TaskID = id
			}
			out[i] = o
		default:
			out[i] = op
		}
	}
	return out
}
