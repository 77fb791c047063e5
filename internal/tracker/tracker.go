// Package tracker wires the local pipeline: filesystem events in,
// classified and resolved against the session engine, normalized
// lifecycle events out to the authority.
package tracker

import (
	"context"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/config"
	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/tracker/classify"
	"github.com/editwatch/session-server-go/internal/tracker/delivery"
	"github.com/editwatch/session-server-go/internal/tracker/engine"
	"github.com/editwatch/session-server-go/internal/tracker/hash"
	"github.com/editwatch/session-server-go/internal/tracker/procscan"
	"github.com/editwatch/session-server-go/internal/tracker/watch"
)

// Tracker is the local agent: it owns the session engine and feeds the
// authority. Event handling is serialized through a single outbound
// worker so lifecycle events leave in the order they happened.
type Tracker struct {
	cfg        *config.TrackerConfig
	classifier *classify.Classifier
	engine     *engine.Engine
	editors    *engine.EditorTracker
	renames    *engine.RenameTracker
	hasher     *hash.Calculator
	scanner    *procscan.Scanner
	client     *delivery.Client

	outbound chan model.TrackerEvent
	done     chan struct{}
	wg       sync.WaitGroup

	mu           sync.Mutex
	lastSeenOpen map[string]time.Time
}

func New(
	cfg *config.TrackerConfig,
	classifier *classify.Classifier,
	eng *engine.Engine,
	editors *engine.EditorTracker,
	renames *engine.RenameTracker,
	hasher *hash.Calculator,
	scanner *procscan.Scanner,
	client *delivery.Client,
) *Tracker {
	return &Tracker{
		cfg:          cfg,
		classifier:   classifier,
		engine:       eng,
		editors:      editors,
		renames:      renames,
		hasher:       hasher,
		scanner:      scanner,
		client:       client,
		outbound:     make(chan model.TrackerEvent, 256),
		done:         make(chan struct{}),
		lastSeenOpen: make(map[string]time.Time),
	}
}

func (t *Tracker) Start() {
	t.wg.Add(2)
	go t.sendLoop()
	go t.checkLoop()
	log.Info().
		Str("trackerId", t.cfg.TrackerID).
		Dur("checkInterval", t.cfg.CheckInterval()).
		Msg("tracker started")
}

// Stop ends the background loops and drains queued deliveries.
func (t *Tracker) Stop() {
	close(t.done)
	t.wg.Wait()

	// Flush what the send loop left behind, close everything still
	// active, then drain the disk queue with a bounded timeout.
	for {
		select {
		case ev := <-t.outbound:
			t.deliverNow(ev)
			continue
		default:
		}
		break
	}
	for _, s := range t.engine.Snapshot() {
		if closed, ok := t.engine.Close(s.FilePath, s.User, ""); ok {
			t.deliverNow(t.buildEvent(model.EventClosed, closed))
		}
	}
	t.client.Drain(config.ShutdownDrainTimeout)
	log.Info().Msg("tracker stopped")
}

// HandleEvent is the entry point for watcher events.
func (t *Tracker) HandleEvent(ev watch.Event) {
	switch ev.Type {
	case watch.EventCreate:
		t.handleCreate(ev.Path)
	case watch.EventModify:
		t.handleModify(ev.Path)
	case watch.EventDelete:
		t.handleDelete(ev.Path)
	case watch.EventMove:
		t.handleMove(ev.OldPath, ev.Path)
	}
}

func (t *Tracker) handleCreate(path string) {
	switch t.classifier.Categorize(path) {
	case classify.Ignore:
		return
	case classify.Temporary:
		// Temp files never open sessions, but they are rename-chain
		// context.
		t.renames.RecordChain(path, path)
		return
	}
	if t.classifier.InIgnoredDir(path) {
		return
	}

	user, coEditors, isMulti := t.resolveEditors(path)
	fileHash := t.hashFor(path)

	s := t.engine.SmartCreate(path, user, fileHash)
	if isMulti {
		s, _ = t.engine.SetEditors(path, user, isMulti, coEditors)
	}
	t.enqueue(t.buildEvent(model.EventCreated, s))
}

func (t *Tracker) handleModify(path string) {
	switch t.classifier.Categorize(path) {
	case classify.Ignore, classify.Temporary:
		return
	}
	if t.classifier.InIgnoredDir(path) {
		return
	}

	user, coEditors, isMulti := t.resolveEditors(path)
	fileHash := t.hashFor(path)

	s, ok := t.engine.Touch(path, user, fileHash)
	if !ok {
		// Modification with no session: the tracker restarted or the
		// event raced the create. Start (or resume) one.
		s = t.engine.SmartCreate(path, user, fileHash)
		if isMulti {
			s, _ = t.engine.SetEditors(path, user, isMulti, coEditors)
		}
		t.enqueue(t.buildEvent(model.EventCreated, s))
		return
	}
	if isMulti {
		s, _ = t.engine.SetEditors(path, user, isMulti, coEditors)
	}
	t.enqueue(t.buildEvent(model.EventModified, s))
}

func (t *Tracker) handleDelete(path string) {
	cat := t.classifier.Categorize(path)
	if cat == classify.Ignore {
		return
	}
	if cat == classify.Temporary {
		t.renames.Forget(path)
		return
	}

	// The (file, user) key may not match the deleting user, so close
	// everything on the path: no session outlives its file.
	for _, s := range t.engine.CloseAllForFile(path) {
		ev := t.buildEvent(model.EventDeleted, s)
		t.enqueue(ev)
	}
	t.editors.Forget(path)
	t.forgetOpen(path)
}

func (t *Tracker) handleMove(oldPath, newPath string) {
	oldCat := t.classifier.Categorize(oldPath)
	newCat := t.classifier.Categorize(newPath)

	switch engine.ClassifyMove(oldCat, newCat) {
	case engine.MoveNoop:
		return

	case engine.MoveChainLink:
		t.renames.RecordChain(oldPath, newPath)

	case engine.MovePendingSave:
		// Main file went temporary: mid-save shuffle, hold for the
		// returning rename.
		t.renames.RecordMainToTemp(oldPath, newPath)

	case engine.MoveResolveToMain:
		origin := oldPath
		if resolved, ok := t.renames.ResolveOrigin(oldPath); ok {
			origin = resolved
		}
		t.transferOrCreate(origin, newPath)
		t.renames.Forget(oldPath)

	case engine.MoveTransfer:
		t.transferOrCreate(oldPath, newPath)
	}
}

// transferOrCreate moves the originating session to the destination
// path, or starts a fresh one when no session is found.
func (t *Tracker) transferOrCreate(originPath, newPath string) {
	user, coEditors, isMulti := t.resolveEditors(newPath)
	fileHash := t.hashFor(newPath)

	s, ok := t.engine.Transfer(originPath, newPath, user, fileHash)
	if !ok {
		// Another user may own the origin session.
		for _, candidate := range t.engine.ActiveForFile(originPath) {
			s, ok = t.engine.Transfer(originPath, newPath, candidate.User, fileHash)
			if ok {
				break
			}
		}
	}
	t.editors.TransferPath(originPath, newPath)

	if !ok {
		s = t.engine.SmartCreate(newPath, user, fileHash)
		if isMulti {
			s, _ = t.engine.SetEditors(newPath, user, isMulti, coEditors)
		}
		ev := t.buildEvent(model.EventCreated, s)
		t.enqueue(ev)
		return
	}

	ev := t.buildEvent(model.EventMoved, s)
	ev.OldFilePath = originPath
	ev.OldFileName = filepath.Base(originPath)
	t.enqueue(ev)
}

// MarkCommented retires a local session after the authority accepted a
// comment for it.
func (t *Tracker) MarkCommented(sessionID string) bool {
	return t.engine.MarkCommented(sessionID)
}

// CloseSession force-closes one local session, on authority request.
func (t *Tracker) CloseSession(sessionID string) bool {
	s, ok := t.engine.CloseByID(sessionID)
	if !ok {
		return false
	}
	t.enqueue(t.buildEvent(model.EventClosed, s))
	return true
}

// ActiveSessions exposes the active table to the agent API.
func (t *Tracker) ActiveSessions() []engine.Session {
	return t.engine.Snapshot()
}

func (t *Tracker) Stats() engine.Stats {
	return t.engine.Stats()
}

// checkLoop is the background cycle: expire idle sessions, observe the
// process table, close sessions whose file is no longer held open.
func (t *Tracker) checkLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.runCheck()
		}
	}
}

func (t *Tracker) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CheckInterval())
	defer cancel()

	for _, s := range t.engine.CloseExpired() {
		log.Info().Str("sessionId", s.ID).Str("path", s.FilePath).Msg("session expired")
		t.enqueue(t.buildEvent(model.EventClosed, s))
	}

	snapshot, err := t.scanner.Snapshot(ctx, func(path string) bool {
		return t.classifier.Categorize(path) == classify.Main
	})
	if err != nil {
		log.Warn().Err(err).Msg("process scan failed, skipping open-file check")
		return
	}

	now := time.Now()
	for _, s := range t.engine.Snapshot() {
		users := snapshot[s.FilePath]
		if len(users) > 0 {
			t.noteOpen(s.FilePath, now)
			obs := t.editors.Observe(s.FilePath, users)
			if obs.IsMultiUser {
				t.engine.SetEditors(s.FilePath, s.User, true, obs.CoEditors)
			}
			continue
		}

		// Nobody holds the file: wait the quiet period before closing,
		// a save can reopen the handle within moments.
		if now.Sub(t.lastOpen(s.FilePath, s.LastActivity)) < config.FileCloseQuietPeriod {
			continue
		}
		if closed, ok := t.engine.Close(s.FilePath, s.User, t.hashFor(s.FilePath)); ok {
			log.Info().Str("sessionId", closed.ID).Str("path", closed.FilePath).Msg("file no longer open, session closed")
			t.enqueue(t.buildEvent(model.EventClosed, closed))
		}
	}
}

func (t *Tracker) noteOpen(path string, at time.Time) {
	t.mu.Lock()
	t.lastSeenOpen[path] = at
	t.mu.Unlock()
}

func (t *Tracker) lastOpen(path string, fallback time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at, ok := t.lastSeenOpen[path]; ok {
		return at
	}
	return fallback
}

func (t *Tracker) forgetOpen(path string) {
	t.mu.Lock()
	delete(t.lastSeenOpen, path)
	t.mu.Unlock()
}

// resolveEditors picks the session-owning user for a path from the
// process table, falling back to the agent's own user when nothing is
// observable.
func (t *Tracker) resolveEditors(path string) (primary string, coEditors []string, isMulti bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	users, err := t.scanner.UsersWithOpen(ctx, path)
	if err != nil || len(users) == 0 {
		return fallbackUser(), nil, false
	}
	t.noteOpen(path, time.Now())

	obs := t.editors.Observe(path, users)
	return obs.Primary, obs.CoEditors, obs.IsMultiUser
}

func (t *Tracker) hashFor(path string) string {
	if !t.cfg.HashingEnabled {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.hasher.TryHash(ctx, path)
}

func (t *Tracker) buildEvent(eventType model.EventType, s engine.Session) model.TrackerEvent {
	ev := model.TrackerEvent{
		EventType:      eventType,
		FilePath:       s.FilePath,
		FileName:       filepath.Base(s.FilePath),
		UserID:         s.User,
		SessionID:      s.ID,
		ResumeCount:    s.ResumeCount,
		IsMultiUser:    s.IsMultiUser,
		CoEditors:      s.CoEditors,
		TrackerID:      t.cfg.TrackerID,
		EventTimestamp: time.Now().UTC(),
	}
	if h := hashOrNil(s, eventType); h != "" {
		ev.FileHash = &h
	}
	if !s.EndedAt.IsZero() {
		endedAt := s.EndedAt.UTC()
		ev.SessionEndedAt = &endedAt
	}
	return ev
}

func hashOrNil(s engine.Session, eventType model.EventType) string {
	if eventType == model.EventCreated {
		return s.HashBefore
	}
	if s.HashAfter != "" {
		return s.HashAfter
	}
	return s.HashBefore
}

func (t *Tracker) enqueue(ev model.TrackerEvent) {
	select {
	case t.outbound <- ev:
	default:
		// Full buffer: spill straight to disk rather than block the
		// event path.
		log.Warn().Str("filePath", ev.FilePath).Msg("outbound buffer full, queuing to disk")
		t.deliverLater(ev)
	}
}

func (t *Tracker) deliverLater(ev model.TrackerEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestBudget)
		defer cancel()
		t.client.Deliver(ctx, ev)
	}()
}

const requestBudget = 30 * time.Second

func (t *Tracker) sendLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case ev := <-t.outbound:
			t.deliverNow(ev)
		}
	}
}

func (t *Tracker) deliverNow(ev model.TrackerEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), requestBudget)
	defer cancel()
	t.client.Deliver(ctx, ev)
}

func fallbackUser() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "unknown"
	}
	return procscan.NormalizeUsername(u.Username)
}
