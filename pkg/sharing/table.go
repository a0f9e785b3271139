package sharing

import "sync"

// DefaultMaxSessions is the default maximum number of concurrent sessions.
const DefaultMaxSessions = 16

// Table indexes live sessions by session id and by call id.
type Table struct {
	sessions    map[string]*Session
	byCallID    map[string]string
	maxSessions int

	mu sync.RWMutex
}

// NewTable creates a session table.
// maxSessions limits the number of concurrent sessions (0 uses DefaultMaxSessions).
func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table{
		sessions:    make(map[string]*Session),
		byCallID:    make(map[string]string),
		maxSessions: maxSessions,
	}
}

// Add inserts s. Its call id must not be in use.
func (t *Table) Add(s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return ErrTableFull
	}
	if _, exists := t.sessions[s.id]; exists {
		return ErrDuplicateSession
	}
	if _, exists := t.byCallID[s.CallID()]; exists {
		return ErrDuplicateSession
	}
	t.sessions[s.id] = s
	t.byCallID[s.CallID()] = s.id
	return nil
}

// Remove deletes the session with id. Unknown ids are ignored.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return
	}
	delete(t.sessions, id)
	if t.byCallID[s.CallID()] == id {
		delete(t.byCallID, s.CallID())
	}
}

// FindByID returns the session with id, or nil.
func (t *Table) FindByID(id string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// FindByCallID returns the session of a dialog, or nil.
func (t *Table) FindByCallID(callID string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[t.byCallID[callID]]
}

// FindByRemote returns the sessions with a remote party.
func (t *Table) FindByRemote(remote string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []*Session
	for _, s := range t.sessions {
		if s.remote == remote {
			result = append(result, s)
		}
	}
	return result
}

// Count returns the number of sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// IsFull returns true if no more sessions can be added.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

// Snapshot returns the sessions in no particular order.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
