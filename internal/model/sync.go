package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntityType names a synchronized entity collection.
type EntityType string

const (
	EntityTask    EntityType = "tasks"
	EntitySession EntityType = "sessions"
)

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	return e == EntityTask || e == EntitySession
}

// OperationKind distinguishes first uploads from later edits.
type OperationKind string

const (
	OpCreate OperationKind = "CREATE"
	OpUpdate OperationKind = "UPDATE"
)

// MaxSyncOperations caps a single sync request.
const MaxSyncOperations = 1000

var (
	ErrUnknownOperation   = errors.New("unknown sync operation")
	ErrMissingOperationID = errors.New("sync operation id is required")
	ErrMalformedPayload   = errors.New("malformed sync operation payload")
)

// OperationEnvelope is the wire form of one queued mutation.
// ID is the client id for CREATE and the server id for UPDATE.
type OperationEnvelope struct {
	ID        string          `json:"id"`
	Operation OperationKind   `json:"operation"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// SyncRequest is the body of POST /sync/{tasks|sessions}.
type SyncRequest struct {
	ClientID     string              `json:"clientId"`
	LastSyncedAt *time.Time          `json:"lastSyncedAt"`
	Operations   []OperationEnvelope `json:"operations"`
}

// RejectedOperation reports an operation the server acknowledged but could not apply.
type RejectedOperation struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncResponse is returned by the sync endpoints; T is Task or FocusSession.
type SyncResponse[T any] struct {
	Synced         int                 `json:"synced"`
	Conflicts      int                 `json:"conflicts"`
	Mapping        map[string]string   `json:"mapping"`
	ServerEntities []T                 `json:"serverEntities"`
	LastSyncedAt   time.Time           `json:"lastSyncedAt"`
	Rejected       []RejectedOperation `json:"rejected,omitempty"`
}

// DeviceRecord identifies this device to the server and tracks the pull watermark.
type DeviceRecord struct {
	DeviceID     string
	LastSyncedAt *time.Time
}

// TaskPayload carries the client-editable task fields.
type TaskPayload struct {
	Title    string     `json:"title"`
	Priority int        `json:"priority"`
	Status   TaskStatus `json:"status"`
}

// SessionPayload carries the session fields a device reports.
type SessionPayload struct {
	TaskID        string        `json:"taskId,omitempty"`
	Duration      int           `json:"duration"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Status        SessionStatus `json:"status"`
	Progress      int           `json:"progress"`
	TimeElapsed   int           `json:"timeElapsed"`
	PauseDuration int           `json:"pauseDuration"`
	PausedAt      *time.Time    `json:"pausedAt,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}

// SyncOperation is one queued mutation. The concrete types are TaskCreate,
// TaskUpdate, SessionCreate and SessionUpdate.
type SyncOperation interface {
	Header() OpHeader
	Kind() OperationKind
	Entity() EntityType
}

// OpHeader holds the fields shared by every operation. LocalID never leaves the device.
type OpHeader struct {
	LocalID string
	ID      string
	At      time.Time
}

type TaskCreate struct {
	OpHeader
	Data TaskPayload
}

type TaskUpdate struct {
	OpHeader
	Data TaskPayload
}

type SessionCreate struct {
	OpHeader
	Data SessionPayload
}

type SessionUpdate struct {
	OpHeader
	Data SessionPayload
}

func (o TaskCreate) Header() OpHeader { return o.OpHeader }
func (o TaskCreate) Kind() OperationKind { return OpCreate }
func (o TaskCreate) Entity() EntityType { return EntityTask }
func (o TaskUpdate) Header() OpHeader { return o.OpHeader }
func (o TaskUpdate) Kind() OperationKind { return OpUpdate }
func (o TaskUpdate) Entity() EntityType { return EntityTask }
func (o SessionCreate) Header() OpHeader { return o.OpHeader }
func (o SessionCreate) Kind() OperationKind { return OpCreate }
func (o SessionCreate) Entity() EntityType { return EntitySession }
func (o SessionUpdate) Header() OpHeader { return o.OpHeader }
func (o SessionUpdate) Kind() OperationKind { return OpUpdate }
func (o SessionUpdate) Entity() EntityType { return EntitySession }

// EncodeOperation converts a typed operation into its wire envelope.
func EncodeOperation(op SyncOperation) (OperationEnvelope, error) {
	var payload any
	switch o := op.(type) {
	case TaskCreate:
		payload = o.Data
	case TaskUpdate:
		payload = o.Data
	case SessionCreate:
		payload = o.Data
	case SessionUpdate:
		payload = o.Data
	default:
		return OperationEnvelope{}, fmt.Errorf("%w: %T", ErrUnknownOperation, op)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return OperationEnvelope{}, fmt.Errorf("encoding %s operation %s: %w", op.Entity(), op.Header().ID, err)
	}

	h := op.Header()
	return OperationEnvelope{
		ID:        h.ID,
		Operation: op.Kind(),
		Data:      data,
		Timestamp: h.At,
	}, nil
}

// DecodeOperation decodes a wire envelope into the typed operation for entity.
func DecodeOperation(entity EntityType, env OperationEnvelope) (SyncOperation, error) {
	if env.ID == "" {
		return nil, ErrMissingOperationID
	}
	h := OpHeader{ID: env.ID, At: env.Timestamp}

	switch entity {
	case EntityTask:
		var p TaskPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: task %s: %v", ErrMalformedPayload, env.ID, err)
		}
		switch env.Operation {
		case OpCreate:
			return TaskCreate{OpHeader: h, Data: p}, nil
		case OpUpdate:
			return TaskUpdate{OpHeader: h, Data: p}, nil
		}
	case EntitySession:
		var p SessionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("%w: session %s: %v", ErrMalformedPayload, env.ID, err)
		}
		switch env.Operation {
		case OpCreate:
			return SessionCreate{OpHeader: h, Data: p}, nil
		case OpUpdate:
			return SessionUpdate{OpHeader: h, Data: p}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s %s", ErrUnknownOperation, entity, env.Operation)
}
