// Package collaboration implements shared editing sessions: presence,
// live cursors and comment threads. The Consumer is the client side; Store
// and Processor run inside the gateway.
package collaboration

import "time"

// Defaults for the client side.
const (
	CursorIdleTimeout = 5 * time.Second
	CursorInterval    = 50 * time.Millisecond
	MaxComments       = 200
)

// User is a session participant.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Color    string `json:"color,omitempty" yaml:"color,omitempty"`
	JoinedAt int64  `json:"joinedAt,omitempty" yaml:"joinedAt,omitempty"`
}

// Session identifies a collaboration room.
type Session struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	CreatedBy string `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedAt int64  `json:"createdAt" yaml:"createdAt"`
}

// Cursor is the last reported pointer position of a user.
type Cursor struct {
	SessionID string  `json:"sessionId,omitempty" yaml:"-"`
	UserID    string  `json:"userId" yaml:"userId"`
	UserName  string  `json:"userName,omitempty" yaml:"userName,omitempty"`
	X         float64 `json:"x" yaml:"x"`
	Y         float64 `json:"y" yaml:"y"`
	ElementID string  `json:"elementId,omitempty" yaml:"elementId,omitempty"`
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
}

// Comment is attached to a session and optionally to an element in it.
type Comment struct {
	ID        string `json:"id" yaml:"id"`
	SessionID string `json:"sessionId" yaml:"-"`
	UserID    string `json:"userId" yaml:"userId"`
	UserName  string `json:"userName,omitempty" yaml:"userName,omitempty"`
	Text      string `json:"text" yaml:"text"`
	ElementID string `json:"elementId,omitempty" yaml:"elementId,omitempty"`
	Resolved  bool   `json:"resolved" yaml:"resolved"`
	CreatedAt int64  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Outbound payloads.

type createSession struct {
	Name string `json:"name"`
	User User   `json:"user"`
}

type joinSession struct {
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
}

type leaveSession struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type addComment struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	ElementID string `json:"elementId,omitempty"`
}

type updateComment struct {
	SessionID string `json:"sessionId"`
	CommentID string `json:"commentId"`
	Text      string `json:"text"`
}

// commentRef addresses one comment; used by resolve_comment,
// delete_comment and comment_deleted.
type commentRef struct {
	SessionID string `json:"sessionId"`
	CommentID string `json:"commentId"`
}

// Inbound payloads.

type sessionJoined struct {
	Session  Session   `json:"session"`
	Users    []User    `json:"users"`
	Comments []Comment `json:"comments"`
}

type userEvent struct {
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
}

type userLeft struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}
