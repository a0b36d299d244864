package collaboration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinic-live/internal/platform/websocket"
	"github.com/ehr/clinic-live/pkg/wire"
)

// Processor is the gateway side of the collaboration concern. A client is
// in at most one session at a time.
type Processor struct {
	hub    *websocket.Hub
	store  *Store
	logger zerolog.Logger

	mu      sync.Mutex
	members map[*websocket.Client]string // client -> session id
}

func NewProcessor(hub *websocket.Hub, store *Store, logger zerolog.Logger) *Processor {
	return &Processor{
		hub:     hub,
		store:   store,
		logger:  logger.With().Str("concern", string(wire.ConcernCollaboration)).Logger(),
		members: make(map[*websocket.Client]string),
	}
}

func (p *Processor) Join(*websocket.Client) ([]string, error) { return nil, nil }

func (p *Processor) Process(_ context.Context, c *websocket.Client, msg wire.Message) error {
	switch msg.Type {
	case wire.TypeCreateSession:
		req, err := wire.Decode[createSession](msg)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return errors.New("session name is required")
		}
		sess := p.store.Create(name, userOf(c, req.User).ID)
		p.logger.Info().Str("session", sess.ID).Str("user", c.UserID).Msg("session created")
		return p.join(c, sess.ID, req.User)

	case wire.TypeJoinSession:
		req, err := wire.Decode[joinSession](msg)
		if err != nil {
			return err
		}
		if req.SessionID == "" {
			return errors.New("sessionId is required")
		}
		return p.join(c, req.SessionID, req.User)

	case wire.TypeLeaveSession:
		p.leave(c)
		return nil

	case wire.TypeCursorMove:
		id, err := p.current(c)
		if err != nil {
			return err
		}
		cur, err := wire.Decode[Cursor](msg)
		if err != nil {
			return err
		}
		cur.SessionID = id
		cur.UserID = userOf(c, User{}).ID
		if cur.UserName == "" {
			cur.UserName = c.Name
		}
		if cur.Timestamp == 0 {
			cur.Timestamp = msg.Timestamp
		}
		_, err = p.hub.Emit(websocket.SessionTopic(id), wire.TypeCursorMove, cur, c)
		return err

	case wire.TypeAddComment:
		id, err := p.current(c)
		if err != nil {
			return err
		}
		req, err := wire.Decode[addComment](msg)
		if err != nil {
			return err
		}
		if strings.TrimSpace(req.Text) == "" {
			return errors.New("comment text is required")
		}
		u := userOf(c, User{})
		cm, err := p.store.AddComment(id, Comment{UserID: u.ID, UserName: u.Name, Text: req.Text, ElementID: req.ElementID})
		if err != nil {
			return err
		}
		_, err = p.hub.Emit(websocket.SessionTopic(id), wire.TypeCommentAdded, cm, nil)
		return err

	case wire.TypeUpdateComment:
		id, err := p.current(c)
		if err != nil {
			return err
		}
		req, err := wire.Decode[updateComment](msg)
		if err != nil {
			return err
		}
		if strings.TrimSpace(req.Text) == "" {
			return errors.New("comment text is required")
		}
		cm, err := p.store.UpdateComment(id, req.CommentID, userOf(c, User{}).ID, true, func(cm *Comment) { cm.Text = req.Text })
		if err != nil {
			return err
		}
		_, err = p.hub.Emit(websocket.SessionTopic(id), wire.TypeCommentUpdated, cm, nil)
		return err

	case wire.TypeResolveComment:
		id, err := p.current(c)
		if err != nil {
			return err
		}
		ref, err := wire.Decode[commentRef](msg)
		if err != nil {
			return err
		}
		cm, err := p.store.UpdateComment(id, ref.CommentID, "", false, func(cm *Comment) { cm.Resolved = true })
		if err != nil {
			return err
		}
		_, err = p.hub.Emit(websocket.SessionTopic(id), wire.TypeCommentUpdated, cm, nil)
		return err

	case wire.TypeDeleteComment:
		id, err := p.current(c)
		if err != nil {
			return err
		}
		ref, err := wire.Decode[commentRef](msg)
		if err != nil {
			return err
		}
		if err := p.store.DeleteComment(id, ref.CommentID, userOf(c, User{}).ID); err != nil {
			return err
		}
		_, err = p.hub.Emit(websocket.SessionTopic(id), wire.TypeCommentDeleted, commentRef{SessionID: id, CommentID: ref.CommentID}, nil)
		return err

	default:
		return fmt.Errorf("%w: %s", websocket.ErrUnsupported, msg.Type)
	}
}

// Leave takes a disconnecting client out of its session.
func (p *Processor) Leave(c *websocket.Client) {
	p.leave(c)
}

func (p *Processor) join(c *websocket.Client, sessionID string, claimed User) error {
	p.leave(c)

	u := userOf(c, claimed)
	snap, first, err := p.store.Join(sessionID, u)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.members[c] = sessionID
	p.mu.Unlock()

	topic := websocket.SessionTopic(sessionID)
	p.hub.Subscribe(c, topic)
	if err := p.hub.Reply(c, wire.TypeSessionJoined, snap); err != nil {
		return err
	}
	if first {
		for _, member := range snap.Users {
			if member.ID == u.ID {
				u = member
			}
		}
		if _, err := p.hub.Emit(topic, wire.TypeUserJoined, userEvent{SessionID: sessionID, User: u}, c); err != nil {
			return err
		}
	}
	p.logger.Debug().Str("session", sessionID).Str("user", u.ID).Msg("joined session")
	return nil
}

func (p *Processor) leave(c *websocket.Client) {
	p.mu.Lock()
	sessionID, ok := p.members[c]
	delete(p.members, c)
	p.mu.Unlock()
	if !ok {
		return
	}

	topic := websocket.SessionTopic(sessionID)
	p.hub.Unsubscribe(c, topic)
	userID := userOf(c, User{}).ID
	if p.store.Leave(sessionID, userID) {
		if _, err := p.hub.Emit(topic, wire.TypeUserLeft, userLeft{SessionID: sessionID, UserID: userID}, c); err != nil {
			p.logger.Warn().Err(err).Str("session", sessionID).Msg("announce user_left")
		}
	}
	p.logger.Debug().Str("session", sessionID).Str("user", userID).Msg("left session")
}

func (p *Processor) current(c *websocket.Client) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.members[c]
	if !ok {
		return "", ErrNoSession
	}
	return id, nil
}

// Sessions returns the number of live sessions.
func (p *Processor) Sessions() int { return p.store.Len() }

// Run sweeps sessions that stayed empty longer than idle until ctx is done.
func (p *Processor) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.store.Sweep(idle); n > 0 {
				p.logger.Info().Int("sessions", n).Msg("idle sessions removed")
			}
		}
	}
}

// userOf builds the participant record from the authenticated identity.
// Only the color is taken from the client's claim.
func userOf(c *websocket.Client, claimed User) User {
	id := c.UserID
	if id == "" {
		id = c.ID
	}
	name := c.Name
	if name == "" {
		name = claimed.Name
	}
	return User{ID: id, Name: name, Color: claimed.Color}
}
