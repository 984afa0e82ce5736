// Package session implements the MCP session store: a serialized
// session_id -> Session map supporting creation, SSE attachment,
// rebinding a temporary id to a permanent one, push delivery, and idle
// sweeping. All operations run under a single lock; none await I/O
// while holding it.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tikaszar/playground-fabric/fserrors"
)

// Session is one MCP client's server-side state.
type Session struct {
	ID           string
	createdAt    time.Time
	lastActivity time.Time

	sse chan any // nil until attach_sse
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, createdAt: now, lastActivity: now}
}

// Store is the serialized session_id -> Session map.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create mints a new session, using preferred as its id if given and
// unused, otherwise generating one with google/uuid.
func (s *Store) Create(preferred string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := preferred
	if id == "" {
		id = uuid.NewString()
	}
	for {
		if _, taken := s.sessions[id]; !taken {
			break
		}
		id = uuid.NewString()
	}
	sess := newSession(id)
	s.sessions[id] = sess
	return sess
}

// AttachSSE replaces any prior sender for sessionID with ch.
func (s *Store) AttachSSE(sessionID string, ch chan any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fserrors.Wrap(fserrors.ConcernSession, fserrors.StageDispatch, fserrors.CodeSessionNotFound, nil)
	}
	sess.sse = ch
	sess.lastActivity = time.Now()
	return nil
}

// Rebind atomically renames oldID to newID, failing if newID already
// exists. The pre-existing session under oldID is preserved under
// newID with its SSE attachment intact.
func (s *Store) Rebind(oldID, newID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[newID]; exists {
		return nil, fserrors.Wrap(fserrors.ConcernSession, fserrors.StageRebind, fserrors.CodeRebindConflict, nil)
	}
	sess, ok := s.sessions[oldID]
	if !ok {
		return nil, fserrors.Wrap(fserrors.ConcernSession, fserrors.StageRebind, fserrors.CodeSessionNotFound, nil)
	}
	delete(s.sessions, oldID)
	sess.ID = newID
	sess.lastActivity = time.Now()
	s.sessions[newID] = sess
	return sess, nil
}

// SendTo pushes value into sessionID's SSE sender. The send happens
// while the store lock is held so it can never race a concurrent
// Remove/SweepIdle closing the same channel out from under it; the
// select's default case keeps this non-blocking, so the lock is never
// held waiting on I/O.
func (s *Store) SendTo(sessionID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fserrors.Wrap(fserrors.ConcernSession, fserrors.StageSend, fserrors.CodeSessionNotFound, nil)
	}
	if sess.sse == nil {
		return fserrors.Wrap(fserrors.ConcernSession, fserrors.StageSend, fserrors.CodeNoSseAttached, nil)
	}
	sess.lastActivity = time.Now()

	select {
	case sess.sse <- value:
		return nil
	default:
		return fserrors.Wrap(fserrors.ConcernSession, fserrors.StageSend, fserrors.CodeTimeout, nil)
	}
}

// Broadcast pushes value into every attached session's SSE sender,
// skipping sessions with no sender, best-effort. Sends happen under
// the store lock for the same reason SendTo's does: it keeps a
// concurrent Remove/SweepIdle from closing a channel mid-send.
func (s *Store) Broadcast(value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.sse == nil {
			continue
		}
		select {
		case sess.sse <- value:
		default:
		}
	}
}

// Remove drops sessionID, closing its SSE sender if attached so the
// stream handler terminates.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if sess.sse != nil {
		close(sess.sse)
	}
	delete(s.sessions, sessionID)
}

// Get returns the session for sessionID, if any.
func (s *Store) Get(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SweepIdle removes every session whose last activity is older than
// threshold. It does not synchronize with concurrent calls against
// those sessions; a racing call either completes against the
// about-to-be-removed session or observes SessionNotFound afterward.
func (s *Store) SweepIdle(threshold time.Duration) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.Sub(sess.lastActivity) > threshold {
			if sess.sse != nil {
				close(sess.sse)
			}
			delete(s.sessions, id)
		}
	}
}
