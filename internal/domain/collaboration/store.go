package collaboration

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrNotAuthor       = errors.New("only the author can change this comment")
)

type room struct {
	session  Session
	members  map[string]int // user id -> open connections
	users    map[string]User
	comments []Comment
	emptyAt  time.Time
}

// Store holds collaboration sessions in memory. Safe for concurrent use.
type Store struct {
	maxComments int
	now         func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

func NewStore(maxComments int) *Store {
	if maxComments <= 0 {
		maxComments = MaxComments
	}
	return &Store{maxComments: maxComments, now: time.Now, rooms: make(map[string]*room)}
}

// Create opens an empty session.
func (s *Store) Create(name, createdBy string) Session {
	now := s.now()
	sess := Session{ID: uuid.NewString(), Name: name, CreatedBy: createdBy, CreatedAt: now.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[sess.ID] = &room{
		session: sess,
		members: make(map[string]int),
		users:   make(map[string]User),
		emptyAt: now,
	}
	return sess
}

// Join adds one connection of u and returns the session snapshot. first
// reports whether u had no other connection in the session.
func (s *Store) Join(id string, u User) (snap sessionJoined, first bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return sessionJoined{}, false, ErrSessionNotFound
	}
	r.members[u.ID]++
	first = r.members[u.ID] == 1
	if first {
		if u.JoinedAt == 0 {
			u.JoinedAt = s.now().UnixMilli()
		}
		r.users[u.ID] = u
	}
	return r.snapshotLocked(), first, nil
}

// Leave removes one connection of userID. last reports whether it was the
// user's final connection.
func (s *Store) Leave(id, userID string) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok || r.members[userID] == 0 {
		return false
	}
	r.members[userID]--
	if r.members[userID] > 0 {
		return false
	}
	delete(r.members, userID)
	delete(r.users, userID)
	if len(r.members) == 0 {
		r.emptyAt = s.now()
	}
	return true
}

func (s *Store) AddComment(id string, cm Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return Comment{}, ErrSessionNotFound
	}
	cm.ID = uuid.NewString()
	cm.SessionID = id
	cm.CreatedAt = s.now().UnixMilli()
	r.comments = append(r.comments, cm)
	if over := len(r.comments) - s.maxComments; over > 0 {
		r.comments = append([]Comment(nil), r.comments[over:]...)
	}
	return cm, nil
}

// UpdateComment applies fn to a comment. Only its author may edit the
// text; anyone may resolve.
func (s *Store) UpdateComment(id, commentID, userID string, edit bool, fn func(*Comment)) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return Comment{}, ErrSessionNotFound
	}
	for i := range r.comments {
		cm := &r.comments[i]
		if cm.ID != commentID {
			continue
		}
		if edit && cm.UserID != userID {
			return Comment{}, ErrNotAuthor
		}
		fn(cm)
		cm.UpdatedAt = s.now().UnixMilli()
		return *cm, nil
	}
	return Comment{}, ErrCommentNotFound
}

func (s *Store) DeleteComment(id, commentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return ErrSessionNotFound
	}
	for i, cm := range r.comments {
		if cm.ID != commentID {
			continue
		}
		if cm.UserID != userID {
			return ErrNotAuthor
		}
		r.comments = append(r.comments[:i], r.comments[i+1:]...)
		return nil
	}
	return ErrCommentNotFound
}

// Sweep drops sessions that have had no members for longer than idle and
// returns how many were removed.
func (s *Store) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.rooms {
		if len(r.members) == 0 && r.emptyAt.Before(cutoff) {
			delete(s.rooms, id)
			n++
		}
	}
	return n
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (r *room) snapshotLocked() sessionJoined {
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].JoinedAt < users[j].JoinedAt })
	return sessionJoined{
		Session:  r.session,
		Users:    users,
		Comments: append([]Comment(nil), r.comments...),
	}
}
