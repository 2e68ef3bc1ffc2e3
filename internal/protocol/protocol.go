// ABOUTME: Wire envelope and message types exchanged over board WebSocket connections
// ABOUTME: Defines the closed set of request and response type tags

package protocol

import (
	"encoding/json"
	"fmt"
)

// Request types sent by clients.
const (
	TypeJoin              = "join"
	TypeGetBoard          = "get-board"
	TypeLeave             = "leave"
	TypeCreateContainer   = "create-container"
	TypeReorderContainers = "reorder-containers"
	TypeDeleteContainer   = "delete-container"
	TypeCreateTask        = "create-task"
	TypeReorderTask       = "reorder-task"
	TypeGetTaskDetail     = "get-task-detail"
)

// Response types sent by the gateway.
const (
	TypeBoardSnapshot       = "board-snapshot"
	TypeContainerCreated    = "container-created"
	TypeContainersReordered = "containers-reordered"
	TypeContainerDeleted    = "container-deleted"
	TypeTaskCreated         = "task-created"
	TypeTaskReordered       = "task-reordered"
	TypeTaskDetail          = "task-detail"
	TypeError               = "error"
)

// ResponseType maps a request type to the response type that answers it.
var ResponseType = map[string]string{
	TypeJoin:              TypeBoardSnapshot,
	TypeGetBoard:          TypeBoardSnapshot,
	TypeCreateContainer:   TypeContainerCreated,
	TypeReorderContainers: TypeContainersReordered,
	TypeDeleteContainer:   TypeContainerDeleted,
	TypeCreateTask:        TypeTaskCreated,
	TypeReorderTask:       TypeTaskReordered,
	TypeGetTaskDetail:     TypeTaskDetail,
}

// Envelope is one client request frame.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // client request id, echoed as request_id
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes req as the payload of a typ request.
func NewEnvelope(typ, id string, req any) (Envelope, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, ID: id, Payload: raw}, nil
}

// Message is one gateway frame. Room multicasts carry the board's sequence
// number in Seq; requester-only replies leave it zero.
type Message struct {
	Type      string          `json:"type"`
	BoardKey  string          `json:"board_key,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Origin    string          `json:"origin,omitempty"` // connection id of the requester
	Seq       uint64          `json:"seq,omitempty"`
	Error     bool            `json:"error"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a success message with payload encoded as JSON.
func NewMessage(typ string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Message{Type: typ, Payload: raw}, nil
}

// ErrorMessage builds a failure message. payload may be nil.
func ErrorMessage(typ, message string, payload any) Message {
	msg := Message{Type: typ, Error: true, Message: message}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			msg.Payload = raw
		}
	}
	return msg
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}
