package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/repository"
)

// TrackerNotifier tells the originating tracker that a session was
// commented, so the local record becomes non-resumable too. Best-effort:
// the tracker may be offline, and the database is the source of truth.
type TrackerNotifier interface {
	NotifyCommentCreated(ctx context.Context, trackerID, sessionID string) error
}

// CommentService enforces the one-comment-per-session rule and the
// comment-ends-session semantics.
type CommentService struct {
	db          TxRunner
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	commentRepo repository.CommentRepository
	notifier    TrackerNotifier
}

func NewCommentService(
	db TxRunner,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	commentRepo repository.CommentRepository,
	notifier TrackerNotifier,
) *CommentService {
	return &CommentService{
		db:          db,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		commentRepo: commentRepo,
		notifier:    notifier,
	}
}

func (s *CommentService) Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error) {
	if params.Content == "" {
		return nil, apperrors.MissingRequired("content")
	}
	if !model.ValidChangeType(params.ChangeType) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown change_type: %s", params.ChangeType))
	}

	var comment *model.Comment
	var trackerID string
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		users := s.userRepo.WithTx(tx)
		sessions := s.sessionRepo.WithTx(tx)
		comments := s.commentRepo.WithTx(tx)

		user, err := users.FindByID(ctx, params.UserID)
		if err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		if user == nil {
			return apperrors.NotFound("user")
		}

		session, err := sessions.FindByID(ctx, params.SessionID)
		if err != nil {
			return fmt.Errorf("find session: %w", err)
		}
		if session == nil {
			return apperrors.NotFound("session")
		}

		existing, err := comments.FindBySessionID(ctx, params.SessionID)
		if err != nil {
			return fmt.Errorf("find existing comment: %w", err)
		}
		if existing != nil {
			return apperrors.SessionCommented(params.SessionID)
		}

		// The comment is the authoritative end-of-session signal.
		if err := sessions.MarkCommented(ctx, session.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("mark commented: %w", err)
		}

		comment, err = comments.Create(ctx, params)
		if err != nil {
			return fmt.Errorf("create comment: %w", err)
		}

		if session.TrackerID != nil {
			trackerID = *session.TrackerID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && trackerID != "" {
		if err := s.notifier.NotifyCommentCreated(ctx, trackerID, params.SessionID); err != nil {
			log.Warn().Err(err).
				Str("trackerId", trackerID).
				Str("sessionId", params.SessionID).
				Msg("notify tracker of comment")
		}
	}

	log.Info().
		Str("sessionId", params.SessionID).
		Str("changeType", params.ChangeType).
		Msg("comment created, session retired")

	return comment, nil
}

func (s *CommentService) FindBySessionID(ctx context.Context, sessionID string) (*model.CommentWithUser, error) {
	return s.commentRepo.FindBySessionID(ctx, sessionID)
}

func (s *CommentService) List(ctx context.Context, changeType string, limit, offset int) ([]model.CommentWithUser, error) {
	if changeType != "" && !model.ValidChangeType(changeType) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown change_type: %s", changeType))
	}
	return s.commentRepo.ListWithUsers(ctx, changeType, limit, offset)
}
