// Package engine owns the local view of (file, user) edit sessions:
// the active table, the bounded closed history, and the transitions
// between them.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is one local edit session. EndedAt is the zero time while
// the session is active; Close stamps it before the record leaves the
// active table, so a closed record with a zero EndedAt is corrupt.
type Session struct {
	ID           string
	FilePath     string
	User         string
	StartedAt    time.Time
	LastActivity time.Time
	EndedAt      time.Time
	HashBefore   string
	HashAfter    string
	ResumeCount  int
	IsCommented  bool
	IsMultiUser  bool
	CoEditors    []string
}

func (s *Session) Active() bool {
	return s.EndedAt.IsZero()
}

type key struct {
	path string
	user string
}

// Engine is safe for concurrent use. A single mutex guards both
// tables: the event path and the expiry sweep race on the same keys.
type Engine struct {
	resumeWindow time.Duration
	timeout      time.Duration
	maxAge       time.Duration
	historyLimit int
	now          func() time.Time

	mu     sync.Mutex
	active map[key]*Session
	closed map[key][]*Session
}

type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(resumeWindow, timeout, maxAge time.Duration, historyLimit int, opts ...Option) *Engine {
	e := &Engine{
		resumeWindow: resumeWindow,
		timeout:      timeout,
		maxAge:       maxAge,
		historyLimit: historyLimit,
		now:          time.Now,
		active:       make(map[key]*Session),
		closed:       make(map[key][]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SmartCreate returns the session now active for the key. An existing
// active session is returned unchanged (a second create is a duplicate
// collapse, not an error). A recently-closed, non-commented session is
// resumed in place. Otherwise a fresh session starts.
func (e *Engine) SmartCreate(path, user, hash string) Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := key{path, user}
	now := e.now()

	if s, ok := e.active[k]; ok {
		s.LastActivity = now
		return *s
	}

	if s := e.takeResumable(k, now); s != nil {
		s.EndedAt = time.Time{}
		s.HashAfter = ""
		s.HashBefore = hash
		s.LastActivity = now
		s.ResumeCount++
		e.active[k] = s
		log.Info().
			Str("sessionId", s.ID).
			Str("path", path).
			Str("user", user).
			Int("resumeCount", s.ResumeCount).
			Msg("session resumed")
		return *s
	}

	s := &Session{
		ID:           uuid.NewString(),
		FilePath:     path,
		User:         user,
		StartedAt:    now,
		LastActivity: now,
		HashBefore:   hash,
	}
	e.active[k] = s
	log.Info().
		Str("sessionId", s.ID).
		Str("path", path).
		Str("user", user).
		Msg("session started")
	return *s
}

// takeResumable removes and returns the most recently closed,
// resumable session for the key, or nil. Caller holds the lock.
func (e *Engine) takeResumable(k key, now time.Time) *Session {
	history := e.closed[k]
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		if s.IsCommented {
			continue
		}
		if s.EndedAt.IsZero() {
			// Closed without a close timestamp: corrupt, never resume.
			log.Warn().Str("sessionId", s.ID).Msg("closed session without end time, skipping")
			continue
		}
		if now.Sub(s.EndedAt) > e.resumeWindow {
			continue
		}
		e.closed[k] = append(history[:i], history[i+1:]...)
		return s
	}
	return nil
}

// Touch advances activity on the active session for the key.
func (e *Engine) Touch(path, user, hash string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.active[key{path, user}]
	if !ok {
		return Session{}, false
	}
	s.LastActivity = e.now()
	if hash != "" {
		s.HashAfter = hash
	}
	return *s, true
}

// Close ends the active session for the key. No active session is a
// legal no-op: double close is expected when detection paths race.
func (e *Engine) Close(path, user, hash string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked(key{path, user}, hash)
}

// closeLocked stamps EndedAt before any other mutation, then moves the
// record into bounded closed history. Caller holds the lock.
func (e *Engine) closeLocked(k key, hash string) (Session, bool) {
	s, ok := e.active[k]
	if !ok {
		return Session{}, false
	}

	s.EndedAt = e.now()
	if hash != "" {
		s.HashAfter = hash
	}
	delete(e.active, k)

	history := append(e.closed[k], s)
	if len(history) > e.historyLimit {
		history = history[len(history)-e.historyLimit:]
	}
	e.closed[k] = history

	log.Info().
		Str("sessionId", s.ID).
		Str("path", k.path).
		Str("user", k.user).
		Dur("duration", s.EndedAt.Sub(s.StartedAt)).
		Msg("session closed")
	return *s, true
}

// CloseExpired closes every active session past the inactivity timeout
// or the maximum age, and returns them for downstream event emission.
func (e *Engine) CloseExpired() []Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	// Closing mutates the active table, so iterate a snapshot.
	expired := make([]key, 0)
	for k, s := range e.active {
		if now.Sub(s.LastActivity) > e.timeout || now.Sub(s.StartedAt) > e.maxAge {
			expired = append(expired, k)
		}
	}

	closed := make([]Session, 0, len(expired))
	for _, k := range expired {
		if s, ok := e.closeLocked(k, ""); ok {
			closed = append(closed, s)
		}
	}
	return closed
}

// CloseAllForFile closes every active session on the path regardless
// of user. Used on deletion, where the (file, user) key can be
// ambiguous and no session may outlive its file.
func (e *Engine) CloseAllForFile(path string) []Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	matched := make([]key, 0)
	for k := range e.active {
		if k.path == path {
			matched = append(matched, k)
		}
	}

	closed := make([]Session, 0, len(matched))
	for _, k := range matched {
		if s, ok := e.closeLocked(k, ""); ok {
			closed = append(closed, s)
		}
	}
	return closed
}

// Transfer reassigns the active session's file identity across a
// rename, preserving identity, StartedAt, ResumeCount and co-editor
// state. A close+create here would fabricate two spurious sessions.
func (e *Engine) Transfer(oldPath, newPath, user, hash string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldKey := key{oldPath, user}
	s, ok := e.active[oldKey]
	if !ok {
		return Session{}, false
	}

	delete(e.active, oldKey)
	s.FilePath = newPath
	s.LastActivity = e.now()
	if hash != "" {
		s.HashAfter = hash
	}
	e.active[key{newPath, user}] = s

	log.Info().
		Str("sessionId", s.ID).
		Str("oldPath", oldPath).
		Str("newPath", newPath).
		Msg("session transferred")
	return *s, true
}

// MarkCommented retires the session: flips IsCommented on the active
// or the latest closed record for the id. Commented sessions are never
// resumable again.
func (e *Engine) MarkCommented(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.active {
		if s.ID == sessionID {
			s.IsCommented = true
			return true
		}
	}
	for _, history := range e.closed {
		for _, s := range history {
			if s.ID == sessionID {
				s.IsCommented = true
				return true
			}
		}
	}
	return false
}

// CloseByID closes the active session with the given id.
func (e *Engine) CloseByID(sessionID string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, s := range e.active {
		if s.ID == sessionID {
			return e.closeLocked(k, "")
		}
	}
	return Session{}, false
}

// SetEditors records the multi-user snapshot on the active session.
func (e *Engine) SetEditors(path, user string, isMultiUser bool, coEditors []string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.active[key{path, user}]
	if !ok {
		return Session{}, false
	}
	s.IsMultiUser = isMultiUser
	s.CoEditors = append([]string(nil), coEditors...)
	return *s, true
}

// FindActive returns the active session for the key.
func (e *Engine) FindActive(path, user string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.active[key{path, user}]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ActiveForFile returns every active session on the path.
func (e *Engine) ActiveForFile(path string) []Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions := make([]Session, 0)
	for k, s := range e.active {
		if k.path == path {
			sessions = append(sessions, *s)
		}
	}
	return sessions
}

// Snapshot returns a copy of the active table.
func (e *Engine) Snapshot() []Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	sessions := make([]Session, 0, len(e.active))
	for _, s := range e.active {
		sessions = append(sessions, *s)
	}
	return sessions
}

type Stats struct {
	Active int `json:"active"`
	Closed int `json:"closed"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	closed := 0
	for _, history := range e.closed {
		closed += len(history)
	}
	return Stats{Active: len(e.active), Closed: closed}
}
