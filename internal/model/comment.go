package model

import "time"

// Comment annotates exactly one session. Creating a comment is the
// authoritative end-of-session signal: it forces EndedAt and flips
// IsCommented permanently.
type Comment struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"sessionId"`
	UserID     string    `db:"user_id" json:"userId"`
	Content    string    `db:"content" json:"content"`
	ChangeType string    `db:"change_type" json:"changeType"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

type CommentWithUser struct {
	Comment
	Username string `db:"username" json:"username"`
}

type CreateCommentParams struct {
	SessionID  string
	UserID     string
	Content    string
	ChangeType string
}

// ChangeTypes are the accepted categorical tags for a comment.
var ChangeTypes = []string{
	"technical_changes",
	"design_changes",
	"content_changes",
	"bug_fixes",
	"optimization",
	"refactoring",
	"new_feature",
	"documentation",
	"other",
}

func ValidChangeType(t string) bool {
	for _, ct := range ChangeTypes {
		if ct == t {
			return true
		}
	}
	return false
}
