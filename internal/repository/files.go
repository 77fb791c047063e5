package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/editwatch/session-server-go/internal/model"
)

type FileRepository interface {
	FindByID(ctx context.Context, id string) (*model.File, error)
	FindByPath(ctx context.Context, path string) (*model.File, error)
	List(ctx context.Context) ([]model.File, error)
	// Upsert returns the existing file row for the path or creates one.
	Upsert(ctx context.Context, path, name string) (*model.File, error)
	// UpdatePath rebinds a file row to a new path, used when a rename
	// transfers a session across paths without closing it.
	UpdatePath(ctx context.Context, id string, path, name string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) FileRepository
}

type fileRepo struct {
	db repoDB
}

func NewFileRepository(db *sqlx.DB) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) WithTx(tx *sqlx.Tx) FileRepository {
	return &fileRepo{db: tx}
}

func (r *fileRepo) FindByID(ctx context.Context, id string) (*model.File, error) {
	var file model.File
	err := r.db.GetContext(ctx, &file, `
		SELECT * FROM files WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepo) FindByPath(ctx context.Context, path string) (*model.File, error) {
	var file model.File
	err := r.db.GetContext(ctx, &file, `
		SELECT * FROM files WHERE file_path = $1
	`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepo) List(ctx context.Context) ([]model.File, error) {
	var files []model.File
	err := r.db.SelectContext(ctx, &files, `
		SELECT * FROM files ORDER BY file_path
	`)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (r *fileRepo) Upsert(ctx context.Context, path, name string) (*model.File, error) {
	var file model.File
	err := r.db.GetContext(ctx, &file, `
		INSERT INTO files (file_path, file_name)
		VALUES ($1, $2)
		ON CONFLICT (file_path) DO UPDATE SET file_name = EXCLUDED.file_name
		RETURNING *
	`, path, name)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepo) UpdatePath(ctx context.Context, id string, path, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE files SET file_path = $2, file_name = $3 WHERE id = $1
	`, id, path, name)
	return err
}
