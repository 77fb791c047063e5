package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/editwatch/session-server-go/internal/model"
	"github.com/editwatch/session-server-go/internal/repository"
	"github.com/editwatch/session-server-go/internal/service"
)

type mockTrackerFetcher struct {
	mock.Mock
}

func (m *mockTrackerFetcher) BaseURLs() []string {
	args := m.Called()
	if u := args.Get(0); u != nil {
		return u.([]string)
	}
	return nil
}

func (m *mockTrackerFetcher) TrackerID(ctx context.Context, baseURL string) (string, error) {
	args := m.Called(ctx, baseURL)
	return args.String(0), args.Error(1)
}

func (m *mockTrackerFetcher) ActiveSessions(ctx context.Context, baseURL string) ([]service.TrackerActiveSession, error) {
	args := m.Called(ctx, baseURL)
	if s := args.Get(0); s != nil {
		return s.([]service.TrackerActiveSession), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.FileSession, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) FindActiveByUserAndFile(ctx context.Context, userID, fileID string) (*model.FileSession, error) {
	args := m.Called(ctx, userID, fileID)
	if s := args.Get(0); s != nil {
		return s.(*model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) FindRecentClosed(ctx context.Context, userID, fileID string, since time.Time) (*model.FileSession, error) {
	args := m.Called(ctx, userID, fileID, since)
	if s := args.Get(0); s != nil {
		return s.(*model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateFileSessionParams) (*model.FileSession, error) {
	args := m.Called(ctx, params)
	if s := args.Get(0); s != nil {
		return s.(*model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) Touch(ctx context.Context, id string, ts time.Time, hashBefore *string, resumeCount int) error {
	return m.Called(ctx, id, ts, hashBefore, resumeCount).Error(0)
}

func (m *mockSessionRepo) UpdateActivity(ctx context.Context, id string, ts time.Time, hashAfter *string, resumeCount int) error {
	return m.Called(ctx, id, ts, hashAfter, resumeCount).Error(0)
}

func (m *mockSessionRepo) Resume(ctx context.Context, id string, ts time.Time, resumeCount int, hashBefore *string) (bool, error) {
	args := m.Called(ctx, id, ts, resumeCount, hashBefore)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) Close(ctx context.Context, id string, endedAt time.Time, hashAfter *string) error {
	return m.Called(ctx, id, endedAt, hashAfter).Error(0)
}

func (m *mockSessionRepo) MarkCommented(ctx context.Context, id string, endedAt time.Time) error {
	return m.Called(ctx, id, endedAt).Error(0)
}

func (m *mockSessionRepo) SetEditors(ctx context.Context, id string, isMultiUser bool, coEditors []string) error {
	return m.Called(ctx, id, isMultiUser, coEditors).Error(0)
}

func (m *mockSessionRepo) UpdateFile(ctx context.Context, id, fileID string) error {
	return m.Called(ctx, id, fileID).Error(0)
}

func (m *mockSessionRepo) List(ctx context.Context) ([]model.FileSession, error) {
	args := m.Called(ctx)
	if l := args.Get(0); l != nil {
		return l.([]model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) ListActive(ctx context.Context) ([]model.FileSession, error) {
	args := m.Called(ctx)
	if l := args.Get(0); l != nil {
		return l.([]model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) ListActiveByFile(ctx context.Context, fileID string) ([]model.FileSession, error) {
	args := m.Called(ctx, fileID)
	if l := args.Get(0); l != nil {
		return l.([]model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) ListActiveByTracker(ctx context.Context, trackerID string) ([]model.FileSession, error) {
	args := m.Called(ctx, trackerID)
	if l := args.Get(0); l != nil {
		return l.([]model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) ListByUser(ctx context.Context, userID string) ([]model.FileSession, error) {
	args := m.Called(ctx, userID)
	if l := args.Get(0); l != nil {
		return l.([]model.FileSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) GetWithDetails(ctx context.Context, id string) (*model.SessionWithDetails, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*model.SessionWithDetails), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) ListCommentedWithDetails(ctx context.Context, limit, offset int) ([]model.SessionWithDetails, error) {
	args := m.Called(ctx, limit, offset)
	if l := args.Get(0); l != nil {
		return l.([]model.SessionWithDetails), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionRepo) DeleteUncommentedEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository { return m }

func TestOrphanSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("closes unconfirmed sessions past the grace window, keeps confirmed ones", func(t *testing.T) {
		sessions := &mockSessionRepo{}
		trackers := &mockTrackerFetcher{}
		job := NewOrphanSweepJob(sessions, trackers, 10*time.Minute, time.Hour)

		stale := time.Now().UTC().Add(-30 * time.Minute)
		trackers.On("BaseURLs").Return([]string{"http://tracker-a:8080"})
		trackers.On("TrackerID", mock.Anything, "http://tracker-a:8080").Return("tracker-a", nil)
		trackers.On("ActiveSessions", mock.Anything, "http://tracker-a:8080").Return([]service.TrackerActiveSession{
			{SessionID: "s-live", FilePath: "/share/report.docx", Username: "alice"},
		}, nil)
		sessions.On("ListActiveByTracker", mock.Anything, "tracker-a").Return([]model.FileSession{
			{ID: "s-live", UserID: "u1", LastActivity: stale},
			{ID: "s-orphan", UserID: "u2", LastActivity: stale},
		}, nil)
		sessions.On("Close", mock.Anything, "s-orphan", mock.AnythingOfType("time.Time"), (*string)(nil)).Return(nil)

		job.Sweep(ctx)

		sessions.AssertExpectations(t)
		sessions.AssertNotCalled(t, "Close", mock.Anything, "s-live", mock.Anything, mock.Anything)
	})

	t.Run("recently active sessions survive even unconfirmed", func(t *testing.T) {
		sessions := &mockSessionRepo{}
		trackers := &mockTrackerFetcher{}
		job := NewOrphanSweepJob(sessions, trackers, 10*time.Minute, time.Hour)

		trackers.On("BaseURLs").Return([]string{"http://tracker-a:8080"})
		trackers.On("TrackerID", mock.Anything, "http://tracker-a:8080").Return("tracker-a", nil)
		trackers.On("ActiveSessions", mock.Anything, "http://tracker-a:8080").Return(nil, nil)
		sessions.On("ListActiveByTracker", mock.Anything, "tracker-a").Return([]model.FileSession{
			{ID: "s-recent", UserID: "u1", LastActivity: time.Now().UTC().Add(-time.Minute)},
		}, nil)

		job.Sweep(ctx)

		sessions.AssertNotCalled(t, "Close", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unreachable trackers are skipped, their sessions untouched", func(t *testing.T) {
		sessions := &mockSessionRepo{}
		trackers := &mockTrackerFetcher{}
		job := NewOrphanSweepJob(sessions, trackers, 10*time.Minute, time.Hour)

		trackers.On("BaseURLs").Return([]string{"http://tracker-a:8080"})
		trackers.On("TrackerID", mock.Anything, "http://tracker-a:8080").Return("", assert.AnError)

		job.Sweep(ctx)

		sessions.AssertNotCalled(t, "ListActiveByTracker", mock.Anything, mock.Anything)
		sessions.AssertNotCalled(t, "Close", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("trackers reconcile independently for the same file", func(t *testing.T) {
		sessions := &mockSessionRepo{}
		trackers := &mockTrackerFetcher{}
		job := NewOrphanSweepJob(sessions, trackers, 10*time.Minute, time.Hour)

		stale := time.Now().UTC().Add(-30 * time.Minute)
		trackers.On("BaseURLs").Return([]string{"http://tracker-a:8080", "http://tracker-b:8080"})
		trackers.On("TrackerID", mock.Anything, "http://tracker-a:8080").Return("tracker-a", nil)
		trackers.On("TrackerID", mock.Anything, "http://tracker-b:8080").Return("tracker-b", nil)
		trackers.On("ActiveSessions", mock.Anything, "http://tracker-a:8080").Return([]service.TrackerActiveSession{
			{SessionID: "s-a", FilePath: "/share/report.docx", Username: "alice"},
		}, nil)
		trackers.On("ActiveSessions", mock.Anything, "http://tracker-b:8080").Return(nil, nil)
		sessions.On("ListActiveByTracker", mock.Anything, "tracker-a").Return([]model.FileSession{
			{ID: "s-a", UserID: "u1", LastActivity: stale},
		}, nil)
		sessions.On("ListActiveByTracker", mock.Anything, "tracker-b").Return([]model.FileSession{
			{ID: "s-b", UserID: "u2", LastActivity: stale},
		}, nil)
		sessions.On("Close", mock.Anything, "s-b", mock.AnythingOfType("time.Time"), (*string)(nil)).Return(nil)

		job.Sweep(ctx)

		sessions.AssertExpectations(t)
		sessions.AssertNotCalled(t, "Close", mock.Anything, "s-a", mock.Anything, mock.Anything)
	})

	t.Run("fetch failure leaves the tracker's sessions alone", func(t *testing.T) {
		sessions := &mockSessionRepo{}
		trackers := &mockTrackerFetcher{}
		job := NewOrphanSweepJob(sessions, trackers, 10*time.Minute, time.Hour)

		trackers.On("BaseURLs").Return([]string{"http://tracker-a:8080"})
		trackers.On("TrackerID", mock.Anything, "http://tracker-a:8080").Return("tracker-a", nil)
		trackers.On("ActiveSessions", mock.Anything, "http://tracker-a:8080").Return(nil, assert.AnError)

		job.Sweep(ctx)

		sessions.AssertNotCalled(t, "ListActiveByTracker", mock.Anything, mock.Anything)
	})
}
