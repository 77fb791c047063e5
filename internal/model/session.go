package model

import (
	"time"

	"github.com/lib/pq"
)

// FileSession is one continuous (possibly resumed) editing interval of
// one file by one primary user. At most one session per (user, file)
// pair may have a null EndedAt at any time.
type FileSession struct {
	ID           string         `db:"id" json:"id"`
	UserID       string         `db:"user_id" json:"userId"`
	FileID       string         `db:"file_id" json:"fileId"`
	TrackerID    *string        `db:"tracker_id" json:"trackerId,omitempty"`
	StartedAt    time.Time      `db:"started_at" json:"startedAt"`
	LastActivity time.Time      `db:"last_activity" json:"lastActivity"`
	EndedAt      *time.Time     `db:"ended_at" json:"endedAt,omitempty"`
	HashBefore   *string        `db:"hash_before" json:"hashBefore,omitempty"`
	HashAfter    *string        `db:"hash_after" json:"hashAfter,omitempty"`
	IsCommented  bool           `db:"is_commented" json:"isCommented"`
	ResumeCount  int            `db:"resume_count" json:"resumeCount"`
	IsMultiUser  bool           `db:"is_multi_user" json:"isMultiUser"`
	CoEditors    pq.StringArray `db:"co_editors" json:"coEditors,omitempty"`
}

func (s *FileSession) Active() bool {
	return s.EndedAt == nil
}

func (s *FileSession) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

type CreateFileSessionParams struct {
	// ID, when non-empty, requests a specific session identity. It is
	// honored only if not already in use.
	ID           string
	UserID       string
	FileID       string
	TrackerID    *string
	StartedAt    time.Time
	LastActivity time.Time
	EndedAt      *time.Time
	HashBefore   *string
	ResumeCount  int
	IsMultiUser  bool
	CoEditors    []string
}

// SessionWithDetails is the session joined with its file, user and
// optional comment for the query surface.
type SessionWithDetails struct {
	FileSession
	FilePath string           `db:"file_path" json:"filePath"`
	FileName string           `db:"file_name" json:"fileName"`
	Username string           `db:"username" json:"username"`
	Comment  *CommentWithUser `db:"-" json:"comment,omitempty"`
}

// FileEditor is one active editor of a file, for the current-editors view.
type FileEditor struct {
	Username     string    `db:"username" json:"username"`
	SessionID    string    `db:"session_id" json:"sessionId"`
	LastActivity time.Time `db:"last_activity" json:"lastActivity"`
}

// MultiUserFile is a file with more than one active session.
type MultiUserFile struct {
	FilePath string       `json:"filePath"`
	FileName string       `json:"fileName"`
	Editors  []FileEditor `json:"editors"`
}
