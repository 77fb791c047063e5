package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/database"
	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/repository"
	"github.com/editwatch/session-server-go/internal/sse"
)

// TxRunner runs a function inside a database transaction. *database.DB
// satisfies it; tests substitute a pass-through.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

var _ TxRunner = (*database.DB)(nil)

// ReconcileService turns the at-least-once tracker event stream into
// consistent session state. Every per-key mutation runs inside a
// transaction with the active-session row locked, so duplicate and
// near-simultaneous events for the same (user, file) key serialize
// instead of forking a second active session.
type ReconcileService struct {
	db           TxRunner
	userRepo     repository.UserRepository
	fileRepo     repository.FileRepository
	sessionRepo  repository.SessionRepository
	eventRepo    repository.EventRepository
	broker       *sse.Broker
	resumeWindow time.Duration
}

func NewReconcileService(
	db TxRunner,
	userRepo repository.UserRepository,
	fileRepo repository.FileRepository,
	sessionRepo repository.SessionRepository,
	eventRepo repository.EventRepository,
	broker *sse.Broker,
	resumeWindow time.Duration,
) *ReconcileService {
	return &ReconcileService{
		db:           db,
		userRepo:     userRepo,
		fileRepo:     fileRepo,
		sessionRepo:  sessionRepo,
		eventRepo:    eventRepo,
		broker:       broker,
		resumeWindow: resumeWindow,
	}
}

// ProcessEvent applies one tracker event and returns the session it
// resolved to (nil when a closed/deleted event found nothing to act
// on, which is a legal no-op, not an error).
func (s *ReconcileService) ProcessEvent(ctx context.Context, ev *model.TrackerEvent) (*model.FileSession, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	var session *model.FileSession
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		users := s.userRepo.WithTx(tx)
		files := s.fileRepo.WithTx(tx)
		sessions := s.sessionRepo.WithTx(tx)
		events := s.eventRepo.WithTx(tx)

		user, err := users.Upsert(ctx, ev.UserID)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}

		switch ev.EventType {
		case model.EventCreated:
			session, err = s.applyCreated(ctx, files, sessions, events, ev, user.ID)
		case model.EventModified:
			session, err = s.applyModified(ctx, files, sessions, events, ev, user.ID)
		case model.EventClosed:
			session, err = s.applyClosed(ctx, sessions, events, ev, user.ID)
		case model.EventDeleted:
			session, err = s.applyDeleted(ctx, files, sessions, events, ev, user.ID)
		case model.EventMoved:
			session, err = s.applyMoved(ctx, files, sessions, events, ev, user.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ev, session)
	return session, nil
}

func (s *ReconcileService) applyCreated(
	ctx context.Context,
	files repository.FileRepository,
	sessions repository.SessionRepository,
	events repository.EventRepository,
	ev *model.TrackerEvent,
	userID string,
) (*model.FileSession, error) {
	file, err := files.Upsert(ctx, ev.FilePath, ev.FileName)
	if err != nil {
		return nil, fmt.Errorf("upsert file: %w", err)
	}

	active, err := sessions.FindActiveByUserAndFile(ctx, userID, file.ID)
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	// Duplicate created events collapse into the existing session.
	// is_commented is never written on this path.
	if active != nil {
		if err := sessions.Touch(ctx, active.ID, ev.EventTimestamp, ev.FileHash, ev.ResumeCount); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		if err := s.applyEditors(ctx, sessions, active.ID, ev); err != nil {
			return nil, err
		}
		if _, err := events.Create(ctx, active.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
			return nil, fmt.Errorf("record event: %w", err)
		}
		return sessions.FindByID(ctx, active.ID)
	}

	if ev.ResumeCount > 0 {
		recent, err := sessions.FindRecentClosed(ctx, userID, file.ID, ev.EventTimestamp.Add(-s.resumeWindow))
		if err != nil {
			return nil, fmt.Errorf("find recent closed: %w", err)
		}
		if recent != nil {
			resumed, err := sessions.Resume(ctx, recent.ID, ev.EventTimestamp, ev.ResumeCount, ev.FileHash)
			if err != nil {
				return nil, fmt.Errorf("resume session: %w", err)
			}
			if resumed {
				if _, err := events.Create(ctx, recent.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
					return nil, fmt.Errorf("record event: %w", err)
				}
				return sessions.FindByID(ctx, recent.ID)
			}
		}
	}

	// A caller-supplied session identity is honored only when free.
	id := ev.SessionID
	if id != "" {
		existing, err := sessions.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check session id: %w", err)
		}
		if existing != nil {
			id = ""
		}
	}

	trackerID := optional(ev.TrackerID)
	created, err := sessions.Create(ctx, model.CreateFileSessionParams{
		ID:           id,
		UserID:       userID,
		FileID:       file.ID,
		TrackerID:    trackerID,
		StartedAt:    ev.EventTimestamp,
		LastActivity: ev.EventTimestamp,
		HashBefore:   ev.FileHash,
		ResumeCount:  ev.ResumeCount,
		IsMultiUser:  ev.IsMultiUser,
		CoEditors:    ev.CoEditors,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if _, err := events.Create(ctx, created.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	return created, nil
}

func (s *ReconcileService) applyModified(
	ctx context.Context,
	files repository.FileRepository,
	sessions repository.SessionRepository,
	events repository.EventRepository,
	ev *model.TrackerEvent,
	userID string,
) (*model.FileSession, error) {
	file, err := files.Upsert(ctx, ev.FilePath, ev.FileName)
	if err != nil {
		return nil, fmt.Errorf("upsert file: %w", err)
	}

	session, err := s.resolve(ctx, sessions, ev.SessionID, userID, file.ID)
	if err != nil {
		return nil, err
	}
	// A modified event with no session to land on starts one: trackers
	// can restart and lose state, the stream must still converge.
	if session == nil {
		return s.applyCreated(ctx, files, sessions, events, ev, userID)
	}

	if err := sessions.UpdateActivity(ctx, session.ID, ev.EventTimestamp, ev.FileHash, ev.ResumeCount); err != nil {
		return nil, fmt.Errorf("update activity: %w", err)
	}
	if err := s.applyEditors(ctx, sessions, session.ID, ev); err != nil {
		return nil, err
	}
	if _, err := events.Create(ctx, session.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	return sessions.FindByID(ctx, session.ID)
}

func (s *ReconcileService) applyClosed(
	ctx context.Context,
	sessions repository.SessionRepository,
	events repository.EventRepository,
	ev *model.TrackerEvent,
	userID string,
) (*model.FileSession, error) {
	session, err := sessions.FindByID(ctx, ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		log.Warn().
			Str("sessionId", ev.SessionID).
			Str("filePath", ev.FilePath).
			Msg("closed event for unknown session, ignoring")
		return nil, nil
	}

	endedAt := ev.EventTimestamp
	if ev.SessionEndedAt != nil {
		endedAt = *ev.SessionEndedAt
	}
	if err := sessions.Close(ctx, session.ID, endedAt, ev.FileHash); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if _, err := events.Create(ctx, session.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	return sessions.FindByID(ctx, session.ID)
}

func (s *ReconcileService) applyDeleted(
	ctx context.Context,
	files repository.FileRepository,
	sessions repository.SessionRepository,
	events repository.EventRepository,
	ev *model.TrackerEvent,
	userID string,
) (*model.FileSession, error) {
	file, err := files.FindByPath(ctx, ev.FilePath)
	if err != nil {
		return nil, fmt.Errorf("find file: %w", err)
	}
	if file == nil {
		return nil, nil
	}

	session, err := s.resolve(ctx, sessions, ev.SessionID, userID, file.ID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		if err := sessions.Close(ctx, session.ID, ev.EventTimestamp, ev.FileHash); err != nil {
			return nil, fmt.Errorf("close session: %w", err)
		}
		if _, err := events.Create(ctx, session.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
			return nil, fmt.Errorf("record event: %w", err)
		}
	}

	// No session may outlive its file: deletion closes every remaining
	// active session on the path, whatever user it is keyed by.
	others, err := sessions.ListActiveByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("list active by file: %w", err)
	}
	for _, other := range others {
		if err := sessions.Close(ctx, other.ID, ev.EventTimestamp, nil); err != nil {
			return nil, fmt.Errorf("close session: %w", err)
		}
		if _, err := events.Create(ctx, other.ID, ev.EventType, nil, ev.EventTimestamp); err != nil {
			return nil, fmt.Errorf("record event: %w", err)
		}
	}

	if session == nil {
		return nil, nil
	}
	return sessions.FindByID(ctx, session.ID)
}

// applyMoved transfers file identity across a rename. The session keeps
// its id, started_at and resume_count; only the file row's path moves.
func (s *ReconcileService) applyMoved(
	ctx context.Context,
	files repository.FileRepository,
	sessions repository.SessionRepository,
	events repository.EventRepository,
	ev *model.TrackerEvent,
	userID string,
) (*model.FileSession, error) {
	oldFile, err := files.FindByPath(ctx, ev.OldFilePath)
	if err != nil {
		return nil, fmt.Errorf("find old file: %w", err)
	}

	var file *model.File
	if oldFile != nil {
		existing, err := files.FindByPath(ctx, ev.FilePath)
		if err != nil {
			return nil, fmt.Errorf("find new file: %w", err)
		}
		if existing == nil {
			if err := files.UpdatePath(ctx, oldFile.ID, ev.FilePath, ev.FileName); err != nil {
				return nil, fmt.Errorf("update file path: %w", err)
			}
			file = oldFile
		} else {
			// Destination row already exists (a prior save created it).
			// Keep it and rehome the old file's active sessions onto it.
			file = existing
			if oldFile.ID != existing.ID {
				if err := s.rehomeSessions(ctx, sessions, events, oldFile.ID, existing.ID, ev.EventTimestamp); err != nil {
					return nil, err
				}
			}
		}
	} else {
		file, err = files.Upsert(ctx, ev.FilePath, ev.FileName)
		if err != nil {
			return nil, fmt.Errorf("upsert file: %w", err)
		}
	}

	session, err := s.resolve(ctx, sessions, ev.SessionID, userID, file.ID)
	if err != nil {
		return nil, err
	}
	if session == nil && oldFile != nil && oldFile.ID != file.ID {
		session, err = s.resolve(ctx, sessions, "", userID, oldFile.ID)
		if err != nil {
			return nil, err
		}
	}
	if session == nil {
		return s.applyCreated(ctx, files, sessions, events, ev, userID)
	}

	if err := sessions.UpdateActivity(ctx, session.ID, ev.EventTimestamp, ev.FileHash, ev.ResumeCount); err != nil {
		return nil, fmt.Errorf("update activity: %w", err)
	}
	if _, err := events.Create(ctx, session.ID, ev.EventType, ev.FileHash, ev.EventTimestamp); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	return sessions.FindByID(ctx, session.ID)
}

// rehomeSessions moves every active session from one file row to
// another, after a rename landed on a path that already had a row.
// When a user already holds an active session on the destination the
// stale one is closed instead, keeping the one-active-per-(user, file)
// key intact.
func (s *ReconcileService) rehomeSessions(
	ctx context.Context,
	sessions repository.SessionRepository,
	events repository.EventRepository,
	oldFileID, newFileID string,
	ts time.Time,
) error {
	active, err := sessions.ListActiveByFile(ctx, oldFileID)
	if err != nil {
		return fmt.Errorf("list active by file: %w", err)
	}
	for _, session := range active {
		existing, err := sessions.FindActiveByUserAndFile(ctx, session.UserID, newFileID)
		if err != nil {
			return fmt.Errorf("find active session: %w", err)
		}
		if existing != nil {
			if err := sessions.Close(ctx, session.ID, ts, nil); err != nil {
				return fmt.Errorf("close session: %w", err)
			}
			if _, err := events.Create(ctx, session.ID, model.EventClosed, nil, ts); err != nil {
				return fmt.Errorf("record event: %w", err)
			}
			continue
		}
		if err := sessions.UpdateFile(ctx, session.ID, newFileID); err != nil {
			return fmt.Errorf("update session file: %w", err)
		}
	}
	return nil
}

// resolve finds the target session: supplied identifier first, then the
// active session for the (user, file) key.
func (s *ReconcileService) resolve(
	ctx context.Context,
	sessions repository.SessionRepository,
	sessionID, userID, fileID string,
) (*model.FileSession, error) {
	if sessionID != "" {
		session, err := sessions.FindByID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		if session != nil {
			return session, nil
		}
	}
	session, err := sessions.FindActiveByUserAndFile(ctx, userID, fileID)
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

func (s *ReconcileService) applyEditors(
	ctx context.Context,
	sessions repository.SessionRepository,
	sessionID string,
	ev *model.TrackerEvent,
) error {
	if !ev.IsMultiUser && len(ev.CoEditors) == 0 {
		return nil
	}
	if err := sessions.SetEditors(ctx, sessionID, ev.IsMultiUser, ev.CoEditors); err != nil {
		return fmt.Errorf("set editors: %w", err)
	}
	return nil
}

func (s *ReconcileService) publish(ctx context.Context, ev *model.TrackerEvent, session *model.FileSession) {
	if s.broker == nil || session == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		log.Error().Err(err).Msg("marshal session for feed")
		return
	}
	if err := s.broker.Publish(ctx, sse.Event{Type: string(ev.EventType), Data: data}); err != nil {
		log.Warn().Err(err).Msg("publish session feed event")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
