// Package wire defines the JSON envelope exchanged over every realtime
// channel and the closed set of message types the clients and the gateway
// understand.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type discriminates a Message. Only the constants below are valid.
type Type string

// Server -> client types.
const (
	TypeStatsUpdate    Type = "stats_update"
	TypeNotification   Type = "notification"
	TypeActivity       Type = "activity"
	TypeSystemAlert    Type = "system_alert"
	TypeChartUpdate    Type = "chart_update"
	TypeCounterUpdate  Type = "counter_update"
	TypeTableUpdate    Type = "table_update"
	TypeSessionJoined  Type = "session_joined"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeCommentAdded   Type = "comment_added"
	TypeCommentUpdated Type = "comment_updated"
	TypeCommentDeleted Type = "comment_deleted"
	TypeError          Type = "error"
)

// Client -> server types. TypeCursorMove travels in both directions.
const (
	TypeSubscribe      Type = "subscribe"
	TypeUnsubscribe    Type = "unsubscribe"
	TypeJoinSession    Type = "join_session"
	TypeLeaveSession   Type = "leave_session"
	TypeCreateSession  Type = "create_session"
	TypeCursorMove     Type = "cursor_move"
	TypeAddComment     Type = "add_comment"
	TypeUpdateComment  Type = "update_comment"
	TypeResolveComment Type = "resolve_comment"
	TypeDeleteComment  Type = "delete_comment"
)

var knownTypes = map[Type]struct{}{
	TypeStatsUpdate: {}, TypeNotification: {}, TypeActivity: {}, TypeSystemAlert: {},
	TypeChartUpdate: {}, TypeCounterUpdate: {}, TypeTableUpdate: {},
	TypeSessionJoined: {}, TypeUserJoined: {}, TypeUserLeft: {},
	TypeCommentAdded: {}, TypeCommentUpdated: {}, TypeCommentDeleted: {}, TypeError: {},
	TypeSubscribe: {}, TypeUnsubscribe: {}, TypeJoinSession: {}, TypeLeaveSession: {},
	TypeCreateSession: {}, TypeCursorMove: {}, TypeAddComment: {}, TypeUpdateComment: {},
	TypeResolveComment: {}, TypeDeleteComment: {},
}

// Known reports whether t is one of the declared message types.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is the envelope for every frame: {type, data, timestamp}.
// Timestamp is Unix milliseconds.
type Message struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

var (
	// ErrMalformed is returned when a frame is not a JSON object.
	ErrMalformed = errors.New("wire: malformed message")
	// ErrMissingType is returned when a frame has no type field.
	ErrMissingType = errors.New("wire: message type is required")
)

// ParseError describes a frame that could not be turned into a Message.
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a raw frame. The returned error is always a *ParseError.
func Parse(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, &ParseError{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if msg.Type == "" {
		return Message{}, &ParseError{Raw: raw, Err: ErrMissingType}
	}
	return msg, nil
}

// New builds a message with data marshalled to JSON and the current time.
func New(t Type, data any) (Message, error) {
	msg := Message{Type: t, Timestamp: time.Now().UnixMilli()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals the payload of msg into a value of type T.
func Decode[T any](msg Message) (T, error) {
	var v T
	if len(msg.Data) == 0 {
		return v, fmt.Errorf("decode %s: %w", msg.Type, ErrMalformed)
	}
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return v, nil
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
