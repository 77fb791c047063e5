package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/editwatch/session-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.FileSession, error)
	// FindActiveByUserAndFile returns the single active session for the
	// (user, file) pair, or nil. When run inside a transaction the row
	// is locked for update so concurrent events serialize on the key.
	FindActiveByUserAndFile(ctx context.Context, userID, fileID string) (*model.FileSession, error)
	// FindRecentClosed returns the most recently closed, non-commented
	// session for the pair with ended_at at or after since.
	FindRecentClosed(ctx context.Context, userID, fileID string, since time.Time) (*model.FileSession, error)
	Create(ctx context.Context, params model.CreateFileSessionParams) (*model.FileSession, error)
	// Touch advances last_activity and merges hash/resume-count state
	// into an existing active session (the idempotent duplicate-created
	// merge). is_commented is deliberately not part of the update.
	Touch(ctx context.Context, id string, ts time.Time, hashBefore *string, resumeCount int) error
	// UpdateActivity is the modified-event merge: advances
	// last_activity and hash_after.
	UpdateActivity(ctx context.Context, id string, ts time.Time, hashAfter *string, resumeCount int) error
	// Resume reopens a closed session in place. The statement refuses to
	// touch commented sessions; callers must treat resumed=false as
	// "create a new session instead".
	Resume(ctx context.Context, id string, ts time.Time, resumeCount int, hashBefore *string) (resumed bool, err error)
	// Close stamps ended_at (only if not already set) and records the
	// final hash. Closing an already-closed session is a no-op merge.
	Close(ctx context.Context, id string, endedAt time.Time, hashAfter *string) error
	MarkCommented(ctx context.Context, id string, endedAt time.Time) error
	SetEditors(ctx context.Context, id string, isMultiUser bool, coEditors []string) error
	// UpdateFile rebinds a session to another file row, used when a
	// move lands on a path that already has a row of its own. Callers
	// must ensure the (user, file) key is free of active sessions
	// first; the partial unique index rejects the rebind otherwise.
	UpdateFile(ctx context.Context, id, fileID string) error

	List(ctx context.Context) ([]model.FileSession, error)
	ListActive(ctx context.Context) ([]model.FileSession, error)
	ListActiveByFile(ctx context.Context, fileID string) ([]model.FileSession, error)
	ListActiveByTracker(ctx context.Context, trackerID string) ([]model.FileSession, error)
	ListByUser(ctx context.Context, userID string) ([]model.FileSession, error)

	GetWithDetails(ctx context.Context, id string) (*model.SessionWithDetails, error)
	ListCommentedWithDetails(ctx context.Context, limit, offset int) ([]model.SessionWithDetails, error)

	// DeleteUncommentedEndedBefore removes retired sessions (and their
	// event rows) past the retention horizon. Commented sessions are
	// kept indefinitely.
	DeleteUncommentedEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db   repoDB
	inTx bool
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx, inTx: true}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.FileSession, error) {
	var session model.FileSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM file_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindActiveByUserAndFile(ctx context.Context, userID, fileID string) (*model.FileSession, error) {
	query := `
		SELECT * FROM file_sessions
		WHERE user_id = $1 AND file_id = $2 AND ended_at IS NULL
		ORDER BY last_activity DESC
		LIMIT 1
	`
	if r.inTx {
		query += ` FOR UPDATE`
	}
	var session model.FileSession
	err := r.db.GetContext(ctx, &session, query, userID, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindRecentClosed(ctx context.Context, userID, fileID string, since time.Time) (*model.FileSession, error) {
	var session model.FileSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM file_sessions
		WHERE user_id = $1 AND file_id = $2
		AND ended_at IS NOT NULL
		AND ended_at >= $3
		AND is_commented = FALSE
		ORDER BY ended_at DESC
		LIMIT 1
	`, userID, fileID, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateFileSessionParams) (*model.FileSession, error) {
	coEditors := params.CoEditors
	if coEditors == nil {
		coEditors = []string{}
	}
	var session model.FileSession
	var err error
	if params.ID != "" {
		err = r.db.GetContext(ctx, &session, `
			INSERT INTO file_sessions
				(id, user_id, file_id, tracker_id, started_at, last_activity, ended_at,
				 hash_before, resume_count, is_multi_user, co_editors)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING *
		`, params.ID, params.UserID, params.FileID, params.TrackerID,
			params.StartedAt, params.LastActivity, params.EndedAt,
			params.HashBefore, params.ResumeCount, params.IsMultiUser, pq.Array(coEditors))
	} else {
		err = r.db.GetContext(ctx, &session, `
			INSERT INTO file_sessions
				(user_id, file_id, tracker_id, started_at, last_activity, ended_at,
				 hash_before, resume_count, is_multi_user, co_editors)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING *
		`, params.UserID, params.FileID, params.TrackerID,
			params.StartedAt, params.LastActivity, params.EndedAt,
			params.HashBefore, params.ResumeCount, params.IsMultiUser, pq.Array(coEditors))
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Touch(ctx context.Context, id string, ts time.Time, hashBefore *string, resumeCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET
			last_activity = GREATEST(last_activity, $2),
			hash_before = COALESCE($3, hash_before),
			resume_count = GREATEST(resume_count, $4)
		WHERE id = $1
	`, id, ts, hashBefore, resumeCount)
	return err
}

func (r *sessionRepo) UpdateFile(ctx context.Context, id, fileID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET file_id = $2 WHERE id = $1
	`, id, fileID)
	return err
}

func (r *sessionRepo) UpdateActivity(ctx context.Context, id string, ts time.Time, hashAfter *string, resumeCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET
			last_activity = GREATEST(last_activity, $2),
			hash_after = COALESCE($3, hash_after),
			resume_count = GREATEST(resume_count, $4)
		WHERE id = $1
	`, id, ts, hashAfter, resumeCount)
	return err
}

func (r *sessionRepo) Resume(ctx context.Context, id string, ts time.Time, resumeCount int, hashBefore *string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET
			ended_at = NULL,
			hash_after = NULL,
			last_activity = $2,
			resume_count = $3,
			hash_before = $4
		WHERE id = $1 AND is_commented = FALSE
	`, id, ts, resumeCount, hashBefore)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sessionRepo) Close(ctx context.Context, id string, endedAt time.Time, hashAfter *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET
			ended_at = COALESCE(ended_at, $2),
			hash_after = COALESCE($3, hash_after)
		WHERE id = $1
	`, id, endedAt, hashAfter)
	return err
}

func (r *sessionRepo) MarkCommented(ctx context.Context, id string, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET
			is_commented = TRUE,
			ended_at = COALESCE(ended_at, $2)
		WHERE id = $1
	`, id, endedAt)
	return err
}

func (r *sessionRepo) SetEditors(ctx context.Context, id string, isMultiUser bool, coEditors []string) error {
	if coEditors == nil {
		coEditors = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE file_sessions SET
			is_multi_user = $2,
			co_editors = $3
		WHERE id = $1
	`, id, isMultiUser, pq.Array(coEditors))
	return err
}

func (r *sessionRepo) List(ctx context.Context) ([]model.FileSession, error) {
	var sessions []model.FileSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM file_sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) ListActive(ctx context.Context) ([]model.FileSession, error) {
	var sessions []model.FileSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM file_sessions
		WHERE ended_at IS NULL
		ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) ListActiveByFile(ctx context.Context, fileID string) ([]model.FileSession, error) {
	var sessions []model.FileSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM file_sessions
		WHERE file_id = $1 AND ended_at IS NULL
		ORDER BY last_activity DESC
	`, fileID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) ListActiveByTracker(ctx context.Context, trackerID string) ([]model.FileSession, error) {
	var sessions []model.FileSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM file_sessions
		WHERE tracker_id = $1 AND ended_at IS NULL
		ORDER BY last_activity DESC
	`, trackerID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string) ([]model.FileSession, error) {
	var sessions []model.FileSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM file_sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) GetWithDetails(ctx context.Context, id string) (*model.SessionWithDetails, error) {
	var details model.SessionWithDetails
	err := r.db.GetContext(ctx, &details, `
		SELECT s.*, f.file_path, f.file_name, u.username
		FROM file_sessions s
		JOIN files f ON f.id = s.file_id
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &details, nil
}

func (r *sessionRepo) ListCommentedWithDetails(ctx context.Context, limit, offset int) ([]model.SessionWithDetails, error) {
	var details []model.SessionWithDetails
	err := r.db.SelectContext(ctx, &details, `
		SELECT s.*, f.file_path, f.file_name, u.username
		FROM file_sessions s
		JOIN files f ON f.id = s.file_id
		JOIN users u ON u.id = s.user_id
		WHERE s.is_commented = TRUE
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (r *sessionRepo) DeleteUncommentedEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM file_events
		WHERE session_id IN (
			SELECT id FROM file_sessions
			WHERE ended_at IS NOT NULL AND ended_at < $1 AND is_commented = FALSE
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM file_sessions
		WHERE ended_at IS NOT NULL AND ended_at < $1 AND is_commented = FALSE
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
