// Package protocol defines the wire message catalogue of the relay and the
// decode/validate step at the transport boundary. Every frame is JSON
// {event, data}; mutation events additionally wrap {type, data, user,
// timestamp} so the originator rides along for echo suppression.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collaborative-diagram/internal/domain"
)

// Event names, client and server side.
const (
	EventJoinRoom            = "join-room"
	EventUsersInRoom         = "users-in-room"
	EventDiagramState        = "diagram-state"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventRequestDiagramState = "request-diagram-state"
	EventCursorMove          = "cursor-move"
)

var (
	ErrUnknownEvent   = errors.New("protocol: unknown event")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Message is one WebSocket frame.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom is sent by a client right after connecting.
type JoinRoom struct {
	RoomID string      `json:"roomId"`
	User   domain.User `json:"user"`
}

// DiagramState seeds a joining client with the room's full snapshot.
type DiagramState struct {
	Classes   []domain.UMLClass    `json:"classes"`
	Relations []domain.UMLRelation `json:"relations"`
}

// UserJoined notifies existing room members about a newcomer.
type UserJoined struct {
	Users   []domain.User `json:"users"`
	NewUser domain.User   `json:"newUser"`
}

// UserLeft notifies remaining room members about a departure.
type UserLeft struct {
	Users    []domain.User `json:"users"`
	LeftUser domain.User   `json:"leftUser"`
}

// CursorMove is broadcast-only and never applied to the snapshot.
type CursorMove struct {
	X    float64     `json:"x"`
	Y    float64     `json:"y"`
	User domain.User `json:"user"`
}

// MutationEnvelope wraps one diagram mutation with its originator and a
// millisecond timestamp.
type MutationEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	User      domain.User     `json:"user"`
	Timestamp int64           `json:"timestamp"`
}

// classDeletedPayload and relationDeletedPayload are the delete wire shapes.
type classDeletedPayload struct {
	ClassID string `json:"classId"`
}

type relationDeletedPayload struct {
	RelationID string `json:"relationId"`
}

// ParseMessage decodes one raw frame. The event name must be present.
func ParseMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event name", ErrInvalidPayload)
	}
	return msg, nil
}

// NewMessage builds a frame from an event name and payload.
func NewMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshal %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// IsMutationEvent reports whether the event name is one of the six diagram
// mutation kinds.
func IsMutationEvent(event string) bool {
	switch domain.MutationType(event) {
	case domain.MutationClassAdded, domain.MutationClassUpdated, domain.MutationClassDeleted,
		domain.MutationRelationAdded, domain.MutationRelationUpdated, domain.MutationRelationDeleted:
		return true
	}
	return false
}

// DecodeEnvelope decodes the {type, data, user, timestamp} wrapper of a
// mutation frame.
func DecodeEnvelope(data json.RawMessage) (MutationEnvelope, error) {
	var env MutationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return MutationEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.User.ID == "" {
		return MutationEnvelope{}, fmt.Errorf("%w: mutation without originating user", ErrInvalidPayload)
	}
	return env, nil
}

// DecodeMutation turns an envelope into a typed domain mutation, validating
// the payload against its declared type. Unknown or malformed mutations are
// rejected here so the merge logic only ever sees well-formed input.
func DecodeMutation(env MutationEnvelope) (domain.Mutation, error) {
	switch domain.MutationType(env.Type) {
	case domain.MutationClassAdded:
		var cls domain.UMLClass
		if err := json.Unmarshal(env.Data, &cls); err != nil {
			return nil, fmt.Errorf("%w: class-added: %v", ErrInvalidPayload, err)
		}
		if cls.ID == "" {
			return nil, fmt.Errorf("%w: class-added without id", ErrInvalidPayload)
		}
		return domain.ClassAdded{Class: cls}, nil

	case domain.MutationClassUpdated:
		var patch domain.ClassPatch
		if err := json.Unmarshal(env.Data, &patch); err != nil {
			return nil, fmt.Errorf("%w: class-updated: %v", ErrInvalidPayload, err)
		}
		if patch.ID == "" {
			return nil, fmt.Errorf("%w: class-updated without id", ErrInvalidPayload)
		}
		return domain.ClassUpdated{Patch: patch}, nil

	case domain.MutationClassDeleted:
		var payload classDeletedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: class-deleted: %v", ErrInvalidPayload, err)
		}
		if payload.ClassID == "" {
			return nil, fmt.Errorf("%w: class-deleted without classId", ErrInvalidPayload)
		}
		return domain.ClassDeleted{ClassID: payload.ClassID}, nil

	case domain.MutationRelationAdded:
		var rel domain.UMLRelation
		if err := json.Unmarshal(env.Data, &rel); err != nil {
			return nil, fmt.Errorf("%w: relation-added: %v", ErrInvalidPayload, err)
		}
		if rel.ID == "" {
			return nil, fmt.Errorf("%w: relation-added without id", ErrInvalidPayload)
		}
		if !domain.ValidRelationType(rel.Type) {
			return nil, fmt.Errorf("%w: relation-added with type %q", ErrInvalidPayload, rel.Type)
		}
		return domain.RelationAdded{Relation: rel}, nil

	case domain.MutationRelationUpdated:
		var patch domain.RelationPatch
		if err := json.Unmarshal(env.Data, &patch); err != nil {
			return nil, fmt.Errorf("%w: relation-updated: %v", ErrInvalidPayload, err)
		}
		if patch.ID == "" {
			return nil, fmt.Errorf("%w: relation-updated without id", ErrInvalidPayload)
		}
		if patch.Type != nil && !domain.ValidRelationType(*patch.Type) {
			return nil, fmt.Errorf("%w: relation-updated with type %q", ErrInvalidPayload, *patch.Type)
		}
		return domain.RelationUpdated{Patch: patch}, nil

	case domain.MutationRelationDeleted:
		var payload relationDeletedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: relation-deleted: %v", ErrInvalidPayload, err)
		}
		if payload.RelationID == "" {
			return nil, fmt.Errorf("%w: relation-deleted without relationId", ErrInvalidPayload)
		}
		return domain.RelationDeleted{RelationID: payload.RelationID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

// EncodeMutation builds the outbound frame for a locally originated mutation.
func EncodeMutation(m domain.Mutation, user domain.User, ts time.Time) (Message, error) {
	var payload any
	switch mut := m.(type) {
	case domain.ClassAdded:
		payload = mut.Class
	case domain.ClassUpdated:
		payload = mut.Patch
	case domain.ClassDeleted:
		payload = classDeletedPayload{ClassID: mut.ClassID}
	case domain.RelationAdded:
		payload = mut.Relation
	case domain.RelationUpdated:
		payload = mut.Patch
	case domain.RelationDeleted:
		payload = relationDeletedPayload{RelationID: mut.RelationID}
	default:
		return Message{}, fmt.Errorf("%w: %T", ErrUnknownEvent, m)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshal mutation payload: %w", err)
	}
	env := MutationEnvelope{
		Type:      string(m.MutationType()),
		Data:      data,
		User:      user,
		Timestamp: ts.UnixMilli(),
	}
	return NewMessage(string(m.MutationType()), env)
}
