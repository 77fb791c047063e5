package model

import (
	"time"

	apperrors "github.com/editwatch/session-server-go/internal/errors"
)

type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventClosed   EventType = "closed"
	EventDeleted  EventType = "deleted"
	EventMoved    EventType = "moved"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventModified, EventClosed, EventDeleted, EventMoved:
		return true
	}
	return false
}

// FileEvent is one append-only audit record tied to a session.
type FileEvent struct {
	ID             string    `db:"id" json:"id"`
	SessionID      string    `db:"session_id" json:"sessionId"`
	EventType      EventType `db:"event_type" json:"eventType"`
	FileHash       *string   `db:"file_hash" json:"fileHash,omitempty"`
	EventTimestamp time.Time `db:"event_timestamp" json:"eventTimestamp"`
}

// TrackerEvent is the normalized lifecycle event a local tracker
// reports to the authority. Delivery is at-least-once; processing must
// treat redelivery as safe.
type TrackerEvent struct {
	EventType      EventType  `json:"event_type"`
	FilePath       string     `json:"file_path"`
	FileName       string     `json:"file_name"`
	UserID         string     `json:"user_id"`
	FileHash       *string    `json:"file_hash,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	ResumeCount    int        `json:"resume_count"`
	OldFilePath    string     `json:"old_file_path,omitempty"`
	OldFileName    string     `json:"old_file_name,omitempty"`
	IsMultiUser    bool       `json:"is_multi_user,omitempty"`
	CoEditors      []string   `json:"co_editors,omitempty"`
	TrackerID      string     `json:"tracker_id,omitempty"`
	SessionEndedAt *time.Time `json:"session_ended_at,omitempty"`
	EventTimestamp time.Time  `json:"event_timestamp"`
}

// Validate enforces the per-kind required fields at the boundary, so
// handlers never see a payload missing the fields its kind implies.
func (e *TrackerEvent) Validate() error {
	if !e.EventType.Valid() {
		return apperrors.UnknownEventType(string(e.EventType))
	}
	if e.FilePath == "" {
		return apperrors.MissingRequired("file_path")
	}
	if e.UserID == "" {
		return apperrors.MissingRequired("user_id")
	}
	if e.EventTimestamp.IsZero() {
		return apperrors.MissingRequired("event_timestamp")
	}

	switch e.EventType {
	case EventMoved:
		if e.OldFilePath == "" {
			return apperrors.MissingRequired("old_file_path")
		}
	case EventClosed:
		if e.SessionID == "" {
			return apperrors.MissingRequired("session_id")
		}
	}
	return nil
}
