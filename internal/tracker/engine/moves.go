package engine

import (
	"sync"
	"time"

	"github.com/editwatch/session-server-go/internal/tracker/classify"
)

// MoveAction is the session impact of a rename, decided from the old
// and new file categories before any session is touched.
type MoveAction int

const (
	// MoveChainLink records the link for later resolution only.
	MoveChainLink MoveAction = iota
	// MovePendingSave marks a main file that went temporary, the
	// mid-save half of an Office save shuffle.
	MovePendingSave
	// MoveResolveToMain resolves the originating main file through the
	// temp map or the rename chain and transfers its session; when no
	// origin is found, a fresh session starts at the destination.
	MoveResolveToMain
	// MoveTransfer transfers the session directly and propagates
	// editor state.
	MoveTransfer
	// MoveNoop drops the rename entirely.
	MoveNoop
)

// ClassifyMove implements the category decision table. Save flows are
// observed empirically, not enumerable, so unrecognized combinations
// fall back to resolution whenever the destination is MAIN: a MAIN
// destination is never dropped silently.
func ClassifyMove(oldCat, newCat classify.Category) MoveAction {
	switch {
	case oldCat == classify.Temporary && newCat == classify.Temporary:
		return MoveChainLink
	case oldCat == classify.Main && newCat == classify.Temporary:
		return MovePendingSave
	case oldCat == classify.Temporary && newCat == classify.Main:
		return MoveResolveToMain
	case oldCat == classify.Main && newCat == classify.Main:
		return MoveTransfer
	case oldCat == classify.Temporary && newCat == classify.Ignore:
		return MoveNoop
	case oldCat == classify.Ignore && newCat == classify.Main:
		return MoveResolveToMain
	}
	if newCat == classify.Main {
		return MoveResolveToMain
	}
	return MoveNoop
}

type chainEntry struct {
	origin string
	at     time.Time
}

// RenameTracker remembers recent rename chains and which temp file a
// main file turned into, so a later temp→main rename can find the
// session it belongs to. Entries expire: a chain older than the TTL is
// stale context, not evidence.
type RenameTracker struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	chains     map[string]chainEntry // current path -> origin path
	tempOrigin map[string]chainEntry // temp path -> originating main path
}

func NewRenameTracker(ttl time.Duration, opts ...func(*RenameTracker)) *RenameTracker {
	t := &RenameTracker{
		ttl:        ttl,
		now:        time.Now,
		chains:     make(map[string]chainEntry),
		tempOrigin: make(map[string]chainEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithRenameClock overrides the time source, for tests.
func WithRenameClock(now func() time.Time) func(*RenameTracker) {
	return func(t *RenameTracker) { t.now = now }
}

// RecordChain links a rename. The chain collapses transitively: the
// new path points at the oldest known origin, not its direct
// predecessor.
func (t *RenameTracker) RecordChain(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	origin := oldPath
	if entry, ok := t.chains[oldPath]; ok {
		origin = entry.origin
	}
	t.chains[newPath] = chainEntry{origin: origin, at: t.now()}
}

// RecordMainToTemp remembers that a main file was renamed to a temp
// path mid-save.
func (t *RenameTracker) RecordMainToTemp(mainPath, tempPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	t.tempOrigin[tempPath] = chainEntry{origin: mainPath, at: t.now()}
	t.chains[tempPath] = chainEntry{origin: mainPath, at: t.now()}
}

// ResolveOrigin finds the main path a temp file descends from, by the
// temp map first and the rename chain second.
func (t *RenameTracker) ResolveOrigin(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	if entry, ok := t.tempOrigin[path]; ok {
		return entry.origin, true
	}
	if entry, ok := t.chains[path]; ok {
		return entry.origin, true
	}
	return "", false
}

// Forget drops chain state for a path once its rename resolved.
func (t *RenameTracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chains, path)
	delete(t.tempOrigin, path)
}

// prune drops expired entries. Caller holds the lock.
func (t *RenameTracker) prune() {
	cutoff := t.now().Add(-t.ttl)
	for p, entry := range t.chains {
		if entry.at.Before(cutoff) {
			delete(t.chains, p)
		}
	}
	for p, entry := range t.tempOrigin {
		if entry.at.Before(cutoff) {
			delete(t.tempOrigin, p)
		}
	}
}
