package collaboration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/clinic-live/internal/platform/wsclient"
	"github.com/ehr/clinic-live/pkg/bounded"
	"github.com/ehr/clinic-live/pkg/clock"
	"github.com/ehr/clinic-live/pkg/wire"
)

// ErrNoSession is returned by session-scoped operations outside a session.
var ErrNoSession = errors.New("not in a collaboration session")

// Sender is the outbound side of a connection.
type Sender interface {
	SendMessage(t wire.Type, data any) error
}

// Options configures a Consumer.
type Options struct {
	// Self is the local user. An empty ID gets a random one.
	Self           User
	CursorIdle     time.Duration
	CursorInterval time.Duration
	MaxComments    int
	Clock          clock.Clock
	Logger         zerolog.Logger
}

type cursorEntry struct {
	cursor Cursor
	timer  clock.Timer
	seq    uint64
}

// Consumer implements wsclient.Handler for the collaboration concern.
type Consumer struct {
	self       User
	cursorIdle time.Duration
	clock      clock.Clock
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu       sync.RWMutex
	sender   Sender
	session  *Session
	joining  string
	users    map[string]User
	cursors  map[string]*cursorEntry
	comments *bounded.List[Comment]
	seq      uint64
	closed   bool
}

func NewConsumer(sender Sender, opts Options) *Consumer {
	if opts.Self.ID == "" {
		opts.Self.ID = uuid.NewString()
	}
	if opts.CursorIdle <= 0 {
		opts.CursorIdle = CursorIdleTimeout
	}
	if opts.CursorInterval <= 0 {
		opts.CursorInterval = CursorInterval
	}
	if opts.MaxComments <= 0 {
		opts.MaxComments = MaxComments
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Consumer{
		self:       opts.Self,
		cursorIdle: opts.CursorIdle,
		clock:      opts.Clock,
		limiter:    rate.NewLimiter(rate.Every(opts.CursorInterval), 1),
		logger:     opts.Logger.With().Str("concern", string(wire.ConcernCollaboration)).Str("user", opts.Self.ID).Logger(),
		sender:     sender,
		users:      make(map[string]User),
		cursors:    make(map[string]*cursorEntry),
		comments:   bounded.New[Comment](opts.MaxComments),
	}
}

// Bind sets the sender after construction.
func (c *Consumer) Bind(s Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = s
}

// Self returns the local user.
func (c *Consumer) Self() User { return c.self }

// CreateSession asks the gateway for a new session. The consumer enters it
// when session_joined arrives.
func (c *Consumer) CreateSession(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("session name is required")
	}
	return c.send(wire.TypeCreateSession, createSession{Name: name, User: c.self})
}

// JoinSession asks to join id. While disconnected the request is kept and
// sent on connect.
func (c *Consumer) JoinSession(id string) error {
	if id == "" {
		return errors.New("session id is required")
	}
	c.mu.Lock()
	c.joining = id
	c.mu.Unlock()

	err := c.send(wire.TypeJoinSession, joinSession{SessionID: id, User: c.self})
	if errors.Is(err, wsclient.ErrNotConnected) {
		return nil
	}
	return err
}

// LeaveSession leaves the current session and drops its state.
func (c *Consumer) LeaveSession() error {
	c.mu.Lock()
	id := c.joining
	if c.session != nil {
		id = c.session.ID
	}
	if id == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.resetLocked()
	c.mu.Unlock()

	err := c.send(wire.TypeLeaveSession, leaveSession{SessionID: id, UserID: c.self.ID})
	if errors.Is(err, wsclient.ErrNotConnected) {
		return nil
	}
	return err
}

// MoveCursor reports the local pointer. Calls closer together than the
// cursor interval are dropped and return false, as do calls outside a
// session or while disconnected.
func (c *Consumer) MoveCursor(x, y float64, elementID string) bool {
	id, ok := c.sessionID()
	if !ok {
		return false
	}
	now := c.clock.Now()
	if !c.limiter.AllowN(now, 1) {
		return false
	}
	err := c.send(wire.TypeCursorMove, Cursor{
		SessionID: id,
		UserID:    c.self.ID,
		UserName:  c.self.Name,
		X:         x,
		Y:         y,
		ElementID: elementID,
		Timestamp: now.UnixMilli(),
	})
	return err == nil
}

func (c *Consumer) AddComment(text, elementID string) error {
	id, ok := c.sessionID()
	if !ok {
		return ErrNoSession
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("comment text is required")
	}
	return c.send(wire.TypeAddComment, addComment{SessionID: id, Text: text, ElementID: elementID})
}

func (c *Consumer) UpdateComment(commentID, text string) error {
	id, ok := c.sessionID()
	if !ok {
		return ErrNoSession
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("comment text is required")
	}
	return c.send(wire.TypeUpdateComment, updateComment{SessionID: id, CommentID: commentID, Text: text})
}

func (c *Consumer) ResolveComment(commentID string) error {
	id, ok := c.sessionID()
	if !ok {
		return ErrNoSession
	}
	return c.send(wire.TypeResolveComment, commentRef{SessionID: id, CommentID: commentID})
}

func (c *Consumer) DeleteComment(commentID string) error {
	id, ok := c.sessionID()
	if !ok {
		return ErrNoSession
	}
	return c.send(wire.TypeDeleteComment, commentRef{SessionID: id, CommentID: commentID})
}

func (c *Consumer) sessionID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", false
	}
	return c.session.ID, true
}

func (c *Consumer) send(t wire.Type, data any) error {
	c.mu.RLock()
	s := c.sender
	c.mu.RUnlock()
	if s == nil {
		return wsclient.ErrNotConnected
	}
	if err := s.SendMessage(t, data); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	return nil
}

// OnConnect rejoins the current or requested session; the gateway keeps
// no membership across connections.
func (c *Consumer) OnConnect() {
	c.mu.RLock()
	id := c.joining
	if c.session != nil {
		id = c.session.ID
	}
	c.mu.RUnlock()
	if id == "" {
		return
	}
	if err := c.send(wire.TypeJoinSession, joinSession{SessionID: id, User: c.self}); err != nil {
		c.logger.Warn().Err(err).Str("session", id).Msg("rejoin failed")
	}
}

// OnDisconnect drops presence state. Comments are kept until the rejoin
// replaces them.
func (c *Consumer) OnDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCursorsLocked()
	c.users = make(map[string]User)
}

func (c *Consumer) OnError(err error) {
	c.logger.Debug().Err(err).Msg("transport error")
}

func (c *Consumer) OnMessage(msg wire.Message) {
	var err error
	switch msg.Type {
	case wire.TypeSessionJoined:
		err = c.onSessionJoined(msg)
	case wire.TypeUserJoined:
		err = c.onUserJoined(msg)
	case wire.TypeUserLeft:
		err = c.onUserLeft(msg)
	case wire.TypeCursorMove:
		err = c.onCursorMove(msg)
	case wire.TypeCommentAdded, wire.TypeCommentUpdated:
		err = c.onComment(msg)
	case wire.TypeCommentDeleted:
		err = c.onCommentDeleted(msg)
	case wire.TypeError:
		if p, derr := wire.Decode[wire.ErrorPayload](msg); derr == nil {
			c.logger.Warn().Str("request", string(p.Request)).Str("error", p.Message).Msg("request rejected")
		}
	default:
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("message dropped")
	}
}

func (c *Consumer) onSessionJoined(msg wire.Message) error {
	p, err := wire.Decode[sessionJoined](msg)
	if err != nil {
		return err
	}
	if p.Session.ID == "" {
		return errors.New("session_joined without session id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	s := p.Session
	c.session = &s
	for _, u := range p.Users {
		c.users[u.ID] = u
	}
	sort.SliceStable(p.Comments, func(i, j int) bool { return p.Comments[i].CreatedAt < p.Comments[j].CreatedAt })
	c.comments.Replace(p.Comments)
	return nil
}

func (c *Consumer) onUserJoined(msg wire.Message) error {
	p, err := wire.Decode[userEvent](msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inSessionLocked(p.SessionID) || p.User.ID == "" {
		return nil
	}
	if p.User.JoinedAt == 0 {
		p.User.JoinedAt = msg.Timestamp
	}
	c.users[p.User.ID] = p.User
	return nil
}

func (c *Consumer) onUserLeft(msg wire.Message) error {
	p, err := wire.Decode[userLeft](msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inSessionLocked(p.SessionID) {
		return nil
	}
	delete(c.users, p.UserID)
	c.dropCursorLocked(p.UserID)
	return nil
}

func (c *Consumer) onCursorMove(msg wire.Message) error {
	cur, err := wire.Decode[Cursor](msg)
	if err != nil {
		return err
	}
	if cur.UserID == "" || cur.UserID == c.self.ID {
		return nil
	}
	if cur.Timestamp == 0 {
		cur.Timestamp = msg.Timestamp
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.inSessionLocked(cur.SessionID) {
		return nil
	}
	c.dropCursorLocked(cur.UserID)
	c.seq++
	entry := &cursorEntry{cursor: cur, seq: c.seq}
	userID, seq := cur.UserID, c.seq
	entry.timer = c.clock.AfterFunc(c.cursorIdle, func() { c.expire(userID, seq) })
	c.cursors[userID] = entry
	return nil
}

// expire removes a cursor unless it was refreshed after the timer started.
func (c *Consumer) expire(userID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.cursors[userID]; ok && e.seq == seq {
		delete(c.cursors, userID)
	}
}

func (c *Consumer) onComment(msg wire.Message) error {
	cm, err := wire.Decode[Comment](msg)
	if err != nil {
		return err
	}
	if cm.ID == "" {
		return errors.New("comment without id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inSessionLocked(cm.SessionID) {
		return nil
	}
	found := c.comments.Update(func(existing *Comment) bool {
		if existing.ID != cm.ID {
			return false
		}
		*existing = cm
		return true
	})
	if !found {
		if cm.CreatedAt == 0 {
			cm.CreatedAt = msg.Timestamp
		}
		c.comments.Push(cm)
	}
	return nil
}

func (c *Consumer) onCommentDeleted(msg wire.Message) error {
	ref, err := wire.Decode[commentRef](msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inSessionLocked(ref.SessionID) {
		return nil
	}
	c.comments.RemoveFunc(func(cm Comment) bool { return cm.ID == ref.CommentID })
	return nil
}

// inSessionLocked accepts messages for the current session. An empty
// session id on the message is taken as the current session.
func (c *Consumer) inSessionLocked(id string) bool {
	if c.session == nil {
		return false
	}
	return id == "" || id == c.session.ID
}

func (c *Consumer) dropCursorLocked(userID string) {
	if e, ok := c.cursors[userID]; ok {
		e.timer.Stop()
		delete(c.cursors, userID)
	}
}

func (c *Consumer) clearCursorsLocked() {
	for id, e := range c.cursors {
		e.timer.Stop()
		delete(c.cursors, id)
	}
}

func (c *Consumer) resetLocked() {
	c.clearCursorsLocked()
	c.session = nil
	c.joining = ""
	c.users = make(map[string]User)
	c.comments.Reset()
}

// Close stops every cursor timer. The consumer ignores cursor updates
// afterwards.
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.clearCursorsLocked()
}

// Session returns the current session, if any.
func (c *Consumer) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Users returns the participants ordered by join time.
func (c *Consumer) Users() []User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cursors returns the live cursors of other users, ordered by user id.
func (c *Consumer) Cursors() []Cursor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Cursor, 0, len(c.cursors))
	for _, e := range c.cursors {
		out = append(out, e.cursor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Comments returns the session comments, oldest first.
func (c *Consumer) Comments() []Comment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.comments.Oldest()
}

// View is a point-in-time copy of the session state.
type View struct {
	Session  *Session  `json:"session,omitempty" yaml:"session,omitempty"`
	Users    []User    `json:"users" yaml:"users"`
	Cursors  []Cursor  `json:"cursors" yaml:"cursors"`
	Comments []Comment `json:"comments" yaml:"comments"`
}

func (c *Consumer) View() View {
	v := View{Users: c.Users(), Cursors: c.Cursors(), Comments: c.Comments()}
	if s, ok := c.Session(); ok {
		v.Session = &s
	}
	return v
}
