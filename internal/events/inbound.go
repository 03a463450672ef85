// ABOUTME: Inbound client messages and their validation
// ABOUTME: Malformed or unknown messages are reported as typed errors, never panics

package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound decoding errors.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

// maxIDLength bounds project and resource ids accepted from clients.
const maxIDLength = 256

// Type is the wire name of an inbound message.
type Type string

const (
	TypeJoinRoom      Type = "join-room"
	TypeLeaveRoom     Type = "leave-room"
	TypeEditStart     Type = "edit-start"
	TypeEditStop      Type = "edit-stop"
	TypeTypingStart   Type = "typing-start"
	TypeTypingStop    Type = "typing-stop"
	TypeEntityChanged Type = "entity-changed"
	TypeHeartbeat     Type = "heartbeat"
)

// Inbound is a single client → coordinator message.
type Inbound struct {
	Type       Type            `json:"type"`
	ProjectID  string          `json:"projectId,omitempty"`
	ResourceID string          `json:"resourceId,omitempty"`
	ChangeKind string          `json:"changeKind,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DecodeInbound parses and validates a raw client message.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks that the fields required by the message type are present.
func (m *Inbound) Validate() error {
	switch m.Type {
	case TypeHeartbeat:
		return nil
	case TypeJoinRoom, TypeLeaveRoom:
		return requireID("projectId", m.ProjectID)
	case TypeEditStart, TypeEditStop, TypeTypingStart, TypeTypingStop:
		if err := requireID("projectId", m.ProjectID); err != nil {
			return err
		}
		return requireID("resourceId", m.ResourceID)
	case TypeEntityChanged:
		if err := requireID("projectId", m.ProjectID); err != nil {
			return err
		}
		if err := requireID("resourceId", m.ResourceID); err != nil {
			return err
		}
		if m.ChangeKind == "" {
			return fmt.Errorf("%w: changeKind is required", ErrMalformedEvent)
		}
		if len(m.Payload) > 0 && !json.Valid(m.Payload) {
			return fmt.Errorf("%w: payload is not valid JSON", ErrMalformedEvent)
		}
		return nil
	case "":
		return fmt.Errorf("%w: type is required", ErrMalformedEvent)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, m.Type)
	}
}

func requireID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrMalformedEvent, field)
	}
	if len(value) > maxIDLength {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedEvent, field, maxIDLength)
	}
	return nil
}
