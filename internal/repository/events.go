package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/editwatch/session-server-go/internal/model"
)

type EventRepository interface {
	Create(ctx context.Context, sessionID string, eventType model.EventType, fileHash *string, ts time.Time) (*model.FileEvent, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.FileEvent, error)
	List(ctx context.Context, limit, offset int) ([]model.FileEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) EventRepository
}

type eventRepo struct {
	db repoDB
}

func NewEventRepository(db *sqlx.DB) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) WithTx(tx *sqlx.Tx) EventRepository {
	return &eventRepo{db: tx}
}

func (r *eventRepo) Create(ctx context.Context, sessionID string, eventType model.EventType, fileHash *string, ts time.Time) (*model.FileEvent, error) {
	var event model.FileEvent
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO file_events (session_id, event_type, file_hash, event_timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, sessionID, eventType, fileHash, ts)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepo) ListBySession(ctx context.Context, sessionID string) ([]model.FileEvent, error) {
	var events []model.FileEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM file_events
		WHERE session_id = $1
		ORDER BY event_timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepo) List(ctx context.Context, limit, offset int) ([]model.FileEvent, error) {
	var events []model.FileEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM file_events
		ORDER BY event_timestamp DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM file_events WHERE event_timestamp < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
