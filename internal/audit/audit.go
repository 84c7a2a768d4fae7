package audit

import (
	"time"
)

// Action identifies what was done to a media object.
type Action string

const (
	ActionView   Action = "view"
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
)

// Entry is one audit record. Entries are append-only and immutable once
// written.
type Entry struct {
	Time       time.Time `json:"time"`
	Action     Action    `json:"action"`
	Role       string    `json:"role"`
	MediaID    string    `json:"mediaId"`
	ClientAddr string    `json:"clientAddr"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

// Log records media access events. Append failures must never abort the
// request that triggered them; callers log and move on.
type Log interface {
	Append(entry Entry) error
	// Read returns up to limit entries, newest first. A non-positive limit
	// returns everything.
	Read(limit int) ([]Entry, error)
}
