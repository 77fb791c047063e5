package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type editorState struct {
	primary     string
	primarySeen time.Time
	coEditors   map[string]time.Time // user -> last seen
}

// EditorTracker resolves the primary editor when several OS users hold
// a file open at once. Sessions are keyed by a single user, so one of
// them has to own the session identity.
//
// The first user observed is primary and stays primary while seen.
// Once the primary has been absent past the grace period and co-editors
// remain, ownership moves to the most recently seen co-editor, with
// the lexicographically smallest username breaking exact ties.
//
// State is ephemeral: recomputed from process observation, never
// persisted.
type EditorTracker struct {
	grace time.Duration
	now   func() time.Time

	mu    sync.Mutex
	files map[string]*editorState
}

// Observation is the resolved editor set for one file.
type Observation struct {
	Primary     string
	CoEditors   []string
	IsMultiUser bool
	// PrimaryChanged is set when this observation reassigned ownership.
	PrimaryChanged bool
	// PreviousPrimary is the displaced owner when PrimaryChanged.
	PreviousPrimary string
}

func NewEditorTracker(grace time.Duration, opts ...func(*EditorTracker)) *EditorTracker {
	t := &EditorTracker{
		grace: grace,
		now:   time.Now,
		files: make(map[string]*editorState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithEditorClock overrides the time source, for tests.
func WithEditorClock(now func() time.Time) func(*EditorTracker) {
	return func(t *EditorTracker) { t.now = now }
}

// Observe records the users currently holding the file open and
// returns the resolved primary and co-editor set.
func (t *EditorTracker) Observe(path string, users []string) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	state, ok := t.files[path]
	if !ok {
		state = &editorState{coEditors: make(map[string]time.Time)}
		t.files[path] = state
	}

	seen := make(map[string]bool, len(users))
	for _, u := range users {
		seen[u] = true
	}

	if state.primary == "" && len(users) > 0 {
		state.primary = firstUser(users)
		state.primarySeen = now
	}

	if seen[state.primary] {
		state.primarySeen = now
	}
	for _, u := range users {
		if u != state.primary {
			state.coEditors[u] = now
		}
	}

	// Co-editors fade out the same way the primary does: unseen past
	// the grace period means gone, not a succession candidate.
	for u, seen := range state.coEditors {
		if now.Sub(seen) > t.grace {
			delete(state.coEditors, u)
		}
	}

	obs := Observation{Primary: state.primary}

	// Sticky primary: only reassign after the grace period, and only
	// when someone is there to take over.
	if state.primary != "" && !seen[state.primary] &&
		now.Sub(state.primarySeen) > t.grace && len(state.coEditors) > 0 {
		successor := mostRecentEditor(state.coEditors)
		obs.PrimaryChanged = true
		obs.PreviousPrimary = state.primary

		delete(state.coEditors, successor)
		state.primary = successor
		state.primarySeen = now
		obs.Primary = successor

		log.Info().
			Str("path", path).
			Str("from", obs.PreviousPrimary).
			Str("to", successor).
			Msg("primary editor reassigned")
	}

	for u := range state.coEditors {
		if u != state.primary {
			obs.CoEditors = append(obs.CoEditors, u)
		}
	}
	sort.Strings(obs.CoEditors)
	obs.IsMultiUser = len(obs.CoEditors) > 0

	return obs
}

// Primary returns the current primary editor for the path, if any.
func (t *EditorTracker) Primary(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.files[path]
	if !ok || state.primary == "" {
		return "", false
	}
	return state.primary, true
}

// TransferPath moves editor state across a rename so a mid-save shuffle
// does not reset primary ownership.
func (t *EditorTracker) TransferPath(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.files[oldPath]; ok {
		delete(t.files, oldPath)
		t.files[newPath] = state
	}
}

// Forget drops the per-file state, used when the file is gone.
func (t *EditorTracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, path)
}

// mostRecentEditor picks the co-editor with the latest last-seen time,
// lexicographically smallest username on an exact tie.
func mostRecentEditor(coEditors map[string]time.Time) string {
	var best string
	var bestSeen time.Time
	for u, seen := range coEditors {
		switch {
		case best == "", seen.After(bestSeen):
			best, bestSeen = u, seen
		case seen.Equal(bestSeen) && u < best:
			best = u
		}
	}
	return best
}

// firstUser picks deterministically when several users appear in the
// very first observation.
func firstUser(users []string) string {
	best := users[0]
	for _, u := range users[1:] {
		if u < best {
			best = u
		}
	}
	return best
}
