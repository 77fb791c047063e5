package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/editwatch/session-server-go/internal/model"
)

type CommentRepository interface {
	Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.CommentWithUser, error)
	// ListWithUsers returns comments newest first, optionally filtered
	// by change type (empty string means no filter).
	ListWithUsers(ctx context.Context, changeType string, limit, offset int) ([]model.CommentWithUser, error)

	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) CommentRepository
}

type commentRepo struct {
	db repoDB
}

func NewCommentRepository(db *sqlx.DB) CommentRepository {
	return &commentRepo{db: db}
}

func (r *commentRepo) WithTx(tx *sqlx.Tx) CommentRepository {
	return &commentRepo{db: tx}
}

func (r *commentRepo) Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error) {
	var comment model.Comment
	err := r.db.GetContext(ctx, &comment, `
		INSERT INTO comments (session_id, user_id, content, change_type)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.SessionID, params.UserID, params.Content, params.ChangeType)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.CommentWithUser, error) {
	var comment model.CommentWithUser
	err := r.db.GetContext(ctx, &comment, `
		SELECT c.*, u.username
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.session_id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepo) ListWithUsers(ctx context.Context, changeType string, limit, offset int) ([]model.CommentWithUser, error) {
	var comments []model.CommentWithUser
	var err error
	if changeType != "" {
		err = r.db.SelectContext(ctx, &comments, `
			SELECT c.*, u.username
			FROM comments c
			JOIN users u ON u.id = c.user_id
			WHERE c.change_type = $1
			ORDER BY c.created_at DESC
			LIMIT $2 OFFSET $3
		`, changeType, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &comments, `
			SELECT c.*, u.username
			FROM comments c
			JOIN users u ON u.id = c.user_id
			ORDER BY c.created_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	return comments, nil
}
