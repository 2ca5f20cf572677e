package domain

import (
	"time"
)

// Session anchors one conversation for a user. A user may have many;
// the "current" session is the most recently created one.
type Session struct {
	SessionID int64     `json:"session_id"`
	UserID    int64     `json:"user_id"`
	ChatState string    `json:"chat_state"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is the immutable record of one request/response pair.
// Written exactly once per completed pipeline run.
type LogEntry struct {
	LogID     int64     `json:"log_id"`
	UserID    int64     `json:"user_id"`
	SessionID int64     `json:"session_id"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange is one prior request/response pair, as fed back to the
// model when building prompts.
type Exchange struct {
	Request  string `json:"request"`
	Response string `json:"response"`
}
