package service

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/repository"
)

// QueryService is the read side of the authority: dashboards and
// tooling hang off these lookups.
type QueryService struct {
	userRepo    repository.UserRepository
	fileRepo    repository.FileRepository
	sessionRepo repository.SessionRepository
	eventRepo   repository.EventRepository
	commentRepo repository.CommentRepository
}

func NewQueryService(
	userRepo repository.UserRepository,
	fileRepo repository.FileRepository,
	sessionRepo repository.SessionRepository,
	eventRepo repository.EventRepository,
	commentRepo repository.CommentRepository,
) *QueryService {
	return &QueryService{
		userRepo:    userRepo,
		fileRepo:    fileRepo,
		sessionRepo: sessionRepo,
		eventRepo:   eventRepo,
		commentRepo: commentRepo,
	}
}

func (s *QueryService) ListSessions(ctx context.Context, activeOnly bool) ([]model.FileSession, error) {
	if activeOnly {
		return s.sessionRepo.ListActive(ctx)
	}
	return s.sessionRepo.List(ctx)
}

func (s *QueryService) SessionDetails(ctx context.Context, id string) (*model.SessionWithDetails, error) {
	details, err := s.sessionRepo.GetWithDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session details: %w", err)
	}
	if details == nil {
		return nil, apperrors.NotFound("session")
	}
	comment, err := s.commentRepo.FindBySessionID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session comment: %w", err)
	}
	details.Comment = comment
	return details, nil
}

// SessionsWithComments returns commented sessions joined with their
// comment, newest first.
func (s *QueryService) SessionsWithComments(ctx context.Context, limit, offset int) ([]model.SessionWithDetails, error) {
	details, err := s.sessionRepo.ListCommentedWithDetails(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list commented sessions: %w", err)
	}
	for i := range details {
		comment, err := s.commentRepo.FindBySessionID(ctx, details[i].ID)
		if err != nil {
			return nil, fmt.Errorf("session comment: %w", err)
		}
		details[i].Comment = comment
	}
	return details, nil
}

// CurrentEditors lists the users with an active session on the path.
func (s *QueryService) CurrentEditors(ctx context.Context, path string) ([]model.FileEditor, error) {
	file, err := s.fileRepo.FindByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("find file: %w", err)
	}
	if file == nil {
		return []model.FileEditor{}, nil
	}

	active, err := s.sessionRepo.ListActiveByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("list active by file: %w", err)
	}

	editors := make([]model.FileEditor, 0, len(active))
	for _, session := range active {
		user, err := s.userRepo.FindByID(ctx, session.UserID)
		if err != nil {
			return nil, fmt.Errorf("find user: %w", err)
		}
		if user == nil {
			continue
		}
		editors = append(editors, model.FileEditor{
			Username:     user.Username,
			SessionID:    session.ID,
			LastActivity: session.LastActivity,
		})
	}
	return editors, nil
}

// MultiUserFiles lists every file with more than one active session.
func (s *QueryService) MultiUserFiles(ctx context.Context) ([]model.MultiUserFile, error) {
	active, err := s.sessionRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	byFile := make(map[string][]model.FileSession)
	for _, session := range active {
		byFile[session.FileID] = append(byFile[session.FileID], session)
	}

	result := []model.MultiUserFile{}
	for fileID, group := range byFile {
		if len(group) < 2 {
			continue
		}
		file, err := s.fileRepo.FindByID(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("find file: %w", err)
		}
		if file == nil {
			continue
		}
		entry := model.MultiUserFile{
			FilePath: file.FilePath,
			FileName: file.FileName,
		}
		for _, session := range group {
			user, err := s.userRepo.FindByID(ctx, session.UserID)
			if err != nil {
				return nil, fmt.Errorf("find user: %w", err)
			}
			if user == nil {
				continue
			}
			entry.Editors = append(entry.Editors, model.FileEditor{
				Username:     user.Username,
				SessionID:    session.ID,
				LastActivity: session.LastActivity,
			})
		}
		result = append(result, entry)
	}
	return result, nil
}

// UserActivity returns a user's sessions, most recent first.
func (s *QueryService) UserActivity(ctx context.Context, username string) ([]model.FileSession, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}
	return s.sessionRepo.ListByUser(ctx, user.ID)
}

func (s *QueryService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.userRepo.List(ctx)
}

// UpdateUsername repairs a user's recorded name, normalizing the
// DOMAIN\user shape some trackers report before normalization was in
// place.
func (s *QueryService) UpdateUsername(ctx context.Context, userID, username string) (*model.User, error) {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		username = username[i+1:]
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.MissingRequired("username")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	if existing != nil && existing.ID != user.ID {
		return nil, apperrors.AlreadyExists("username")
	}

	if err := s.userRepo.UpdateUsername(ctx, userID, username); err != nil {
		return nil, fmt.Errorf("update username: %w", err)
	}
	user.Username = username
	return user, nil
}

func (s *QueryService) ListFiles(ctx context.Context) ([]model.File, error) {
	return s.fileRepo.List(ctx)
}

func (s *QueryService) ListEvents(ctx context.Context, limit, offset int) ([]model.FileEvent, error) {
	return s.eventRepo.List(ctx, limit, offset)
}
