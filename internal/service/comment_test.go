package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/repository"
)

type mockCommentRepo struct {
	mock.Mock
}

func (m *mockCommentRepo) Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error) {
	args := m.Called(ctx, params)
	if c := args.Get(0); c != nil {
		return c.(*model.Comment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCommentRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.CommentWithUser, error) {
	args := m.Called(ctx, sessionID)
	if c := args.Get(0); c != nil {
		return c.(*model.CommentWithUser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCommentRepo) ListWithUsers(ctx context.Context, changeType string, limit, offset int) ([]model.CommentWithUser, error) {
	args := m.Called(ctx, changeType, limit, offset)
	if l := args.Get(0); l != nil {
		return l.([]model.CommentWithUser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCommentRepo) WithTx(tx *sqlx.Tx) repository.CommentRepository { return m }

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyCommentCreated(ctx context.Context, trackerID, sessionID string) error {
	return m.Called(ctx, trackerID, sessionID).Error(0)
}

type commentFixture struct {
	users    *mockUserRepo
	sessions *mockSessionRepo
	comments *mockCommentRepo
	notifier *mockNotifier
	svc      *CommentService
}

func newCommentFixture() *commentFixture {
	f := &commentFixture{
		users:    &mockUserRepo{},
		sessions: &mockSessionRepo{},
		comments: &mockCommentRepo{},
		notifier: &mockNotifier{},
	}
	f.svc = NewCommentService(passthroughTx{}, f.users, f.sessions, f.comments, f.notifier)
	return f
}

func commentParams() model.CreateCommentParams {
	return model.CreateCommentParams{
		SessionID:  "sess-1",
		UserID:     "u1",
		Content:    "reworked the structural layout",
		ChangeType: "design_changes",
	}
}

func TestCommentCreate(t *testing.T) {
	ctx := context.Background()
	user := &model.User{ID: "u1", Username: "alice"}

	t.Run("retires the session and notifies its tracker", func(t *testing.T) {
		f := newCommentFixture()
		params := commentParams()
		trackerID := "tracker-1"
		session := &model.FileSession{ID: "sess-1", UserID: "u1", TrackerID: &trackerID}
		created := &model.Comment{ID: "c1", SessionID: "sess-1", UserID: "u1"}

		f.users.On("FindByID", ctx, "u1").Return(user, nil)
		f.sessions.On("FindByID", ctx, "sess-1").Return(session, nil)
		f.comments.On("FindBySessionID", ctx, "sess-1").Return(nil, nil)
		f.sessions.On("MarkCommented", ctx, "sess-1", mock.AnythingOfType("time.Time")).Return(nil)
		f.comments.On("Create", ctx, params).Return(created, nil)
		f.notifier.On("NotifyCommentCreated", ctx, "tracker-1", "sess-1").Return(nil)

		comment, err := f.svc.Create(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "c1", comment.ID)
		f.sessions.AssertExpectations(t)
		f.notifier.AssertExpectations(t)
	})

	t.Run("second comment on a session is refused", func(t *testing.T) {
		f := newCommentFixture()
		params := commentParams()
		session := &model.FileSession{ID: "sess-1", UserID: "u1"}
		existing := &model.CommentWithUser{Comment: model.Comment{ID: "c1", SessionID: "sess-1"}}

		f.users.On("FindByID", ctx, "u1").Return(user, nil)
		f.sessions.On("FindByID", ctx, "sess-1").Return(session, nil)
		f.comments.On("FindBySessionID", ctx, "sess-1").Return(existing, nil)

		_, err := f.svc.Create(ctx, params)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionCommented, apperrors.GetCode(err))
		f.sessions.AssertNotCalled(t, "MarkCommented", mock.Anything, mock.Anything, mock.Anything)
		f.comments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newCommentFixture()

		f.users.On("FindByID", ctx, "u1").Return(nil, nil)

		_, err := f.svc.Create(ctx, commentParams())
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newCommentFixture()

		f.users.On("FindByID", ctx, "u1").Return(user, nil)
		f.sessions.On("FindByID", ctx, "sess-1").Return(nil, nil)

		_, err := f.svc.Create(ctx, commentParams())
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("empty content is rejected before any lookup", func(t *testing.T) {
		f := newCommentFixture()
		params := commentParams()
		params.Content = ""

		_, err := f.svc.Create(ctx, params)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
		f.users.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("unknown change type is rejected", func(t *testing.T) {
		f := newCommentFixture()
		params := commentParams()
		params.ChangeType = "misc"

		_, err := f.svc.Create(ctx, params)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("notifier failure does not fail the comment", func(t *testing.T) {
		f := newCommentFixture()
		params := commentParams()
		trackerID := "tracker-1"
		session := &model.FileSession{ID: "sess-1", UserID: "u1", TrackerID: &trackerID}
		created := &model.Comment{ID: "c1", SessionID: "sess-1"}

		f.users.On("FindByID", ctx, "u1").Return(user, nil)
		f.sessions.On("FindByID", ctx, "sess-1").Return(session, nil)
		f.comments.On("FindBySessionID", ctx, "sess-1").Return(nil, nil)
		f.sessions.On("MarkCommented", ctx, "sess-1", mock.AnythingOfType("time.Time")).Return(nil)
		f.comments.On("Create", ctx, params).Return(created, nil)
		f.notifier.On("NotifyCommentCreated", ctx, "tracker-1", "sess-1").Return(assert.AnError)

		comment, err := f.svc.Create(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "c1", comment.ID)
	})

	t.Run("session without a tracker skips notification", func(t *testing.T) {
		f := newCommentFixture()
		params := commentParams()
		session := &model.FileSession{ID: "sess-1", UserID: "u1"}
		created := &model.Comment{ID: "c1", SessionID: "sess-1"}

		f.users.On("FindByID", ctx, "u1").Return(user, nil)
		f.sessions.On("FindByID", ctx, "sess-1").Return(session, nil)
		f.comments.On("FindBySessionID", ctx, "sess-1").Return(nil, nil)
		f.sessions.On("MarkCommented", ctx, "sess-1", mock.AnythingOfType("time.Time")).Return(nil)
		f.comments.On("Create", ctx, params).Return(created, nil)

		_, err := f.svc.Create(ctx, params)
		require.NoError(t, err)
		f.notifier.AssertNotCalled(t, "NotifyCommentCreated", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCommentList(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by change type", func(t *testing.T) {
		f := newCommentFixture()
		expected := []model.CommentWithUser{{Comment: model.Comment{ID: "c1"}}}

		f.comments.On("ListWithUsers", ctx, "bug_fixes", 50, 0).Return(expected, nil)

		got, err := f.svc.List(ctx, "bug_fixes", 50, 0)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	})

	t.Run("rejects a bad filter", func(t *testing.T) {
		f := newCommentFixture()

		_, err := f.svc.List(ctx, "misc", 50, 0)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})
}
