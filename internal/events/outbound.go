// ABOUTME: Outbound event catalog sent from the coordinator to clients
// ABOUTME: Each event is a concrete type tagged with its wire name

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/coven-collab/internal/identity"
)

// Kind is the wire name of an outbound event.
type Kind string

const (
	KindPresenceSnapshot Kind = "presence-snapshot"
	KindRoomState        Kind = "room-state"
	KindEditConflict     Kind = "edit-conflict"
	KindEditStarted      Kind = "edit-started"
	KindEditStopped      Kind = "edit-stopped"
	KindTypingStarted    Kind = "typing-started"
	KindTypingStopped    Kind = "typing-stopped"
	KindEntityChanged    Kind = "entity-changed"
	KindError            Kind = "error"
)

// StopReason explains why a lock or typing indicator went away.
type StopReason string

const (
	ReasonReleased      StopReason = "released"
	ReasonLeft          StopReason = "left"
	ReasonDisconnected  StopReason = "disconnected"
	ReasonEntityChanged StopReason = "entity-changed"
	ReasonExpired       StopReason = "expired"
)

// ErrorCode identifies a client-visible failure.
type ErrorCode string

const (
	CodeAccessDenied   ErrorCode = "access-denied"
	CodeNotJoined      ErrorCode = "not-joined"
	CodeMalformedEvent ErrorCode = "malformed-event"
	CodeUnknownEvent   ErrorCode = "unknown-event"
)

// Event is implemented by every outbound event type. The set is closed: only
// types in this package satisfy it.
type Event interface {
	Kind() Kind
	isEvent()
}

// PresenceSnapshot lists the distinct users viewing a project.
type PresenceSnapshot struct {
	ProjectID string              `json:"projectId"`
	Users     []identity.Identity `json:"users"`
}

// LockInfo describes a live lock inside a RoomState.
type LockInfo struct {
	ResourceID string            `json:"resourceId"`
	User       identity.Identity `json:"user"`
	AcquiredAt time.Time         `json:"acquiredAt"`
}

// TypingInfo describes a live typing indicator inside a RoomState.
type TypingInfo struct {
	ResourceID string            `json:"resourceId"`
	User       identity.Identity `json:"user"`
	StartedAt  time.Time         `json:"startedAt"`
}

// RoomState is sent to a connection right after it joins a project so it can
// render locks and typing indicators that predate its arrival.
type RoomState struct {
	ProjectID string       `json:"projectId"`
	Locks     []LockInfo   `json:"locks"`
	Typing    []TypingInfo `json:"typing"`
}

// EditConflict tells a requester that someone else holds the lock.
type EditConflict struct {
	ProjectID  string            `json:"projectId"`
	ResourceID string            `json:"resourceId"`
	Holder     identity.Identity `json:"holder"`
}

// EditStarted announces a newly acquired lock.
type EditStarted struct {
	ProjectID  string            `json:"projectId"`
	ResourceID string            `json:"resourceId"`
	UserID     string            `json:"userId"`
	User       identity.Identity `json:"user"`
}

// EditStopped announces a released lock.
type EditStopped struct {
	ProjectID  string     `json:"projectId"`
	ResourceID string     `json:"resourceId"`
	UserID     string     `json:"userId"`
	Reason     StopReason `json:"reason"`
}

// TypingStarted announces a user typing on a resource.
type TypingStarted struct {
	ProjectID  string            `json:"projectId"`
	ResourceID string            `json:"resourceId"`
	UserID     string            `json:"userId"`
	User       identity.Identity `json:"user"`
}

// TypingStopped announces a cleared typing indicator.
type TypingStopped struct {
	ProjectID  string     `json:"projectId"`
	ResourceID string     `json:"resourceId"`
	UserID     string     `json:"userId"`
	Reason     StopReason `json:"reason"`
}

// EntityChanged relays a change made by a peer.
type EntityChanged struct {
	ProjectID  string          `json:"projectId"`
	ResourceID string          `json:"resourceId"`
	ChangeKind string          `json:"changeKind"`
	UserID     string          `json:"userId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Error reports a rejected request to the requesting connection only.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	ProjectID string    `json:"projectId,omitempty"`
}

func (PresenceSnapshot) Kind() Kind { return KindPresenceSnapshot }
func (RoomState) Kind() Kind        { return KindRoomState }
func (EditConflict) Kind() Kind     { return KindEditConflict }
func (EditStarted) Kind() Kind      { return KindEditStarted }
func (EditStopped) Kind() Kind      { return KindEditStopped }
func (TypingStarted) Kind() Kind    { return KindTypingStarted }
func (TypingStopped) Kind() Kind    { return KindTypingStopped }
func (EntityChanged) Kind() Kind    { return KindEntityChanged }
func (Error) Kind() Kind            { return KindError }

func (PresenceSnapshot) isEvent() {}
func (RoomState) isEvent()        {}
func (EditConflict) isEvent()     {}
func (EditStarted) isEvent()      {}
func (EditStopped) isEvent()      {}
func (TypingStarted) isEvent()    {}
func (TypingStopped) isEvent()    {}
func (EntityChanged) isEvent()    {}
func (Error) isEvent()            {}

// Envelope is the wire framing for outbound events.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes an event inside its envelope.
func Marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Envelope{Type: ev.Kind(), Data: data})
}

// Unmarshal decodes an envelope back into its concrete event type. Clients
// written in Go and the test suite use it; the server only marshals.
func Unmarshal(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	var ev Event
	var err error
	switch env.Type {
	case KindPresenceSnapshot:
		ev, err = decode[PresenceSnapshot](env.Data)
	case KindRoomState:
		ev, err = decode[RoomState](env.Data)
	case KindEditConflict:
		ev, err = decode[EditConflict](env.Data)
	case KindEditStarted:
		ev, err = decode[EditStarted](env.Data)
	case KindEditStopped:
		ev, err = decode[EditStopped](env.Data)
	case KindTypingStarted:
		ev, err = decode[TypingStarted](env.Data)
	case KindTypingStopped:
		ev, err = decode[TypingStopped](env.Data)
	case KindEntityChanged:
		ev, err = decode[EntityChanged](env.Data)
	case KindError:
		ev, err = decode[Error](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return ev, nil
}

func decode[T Event](data json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
