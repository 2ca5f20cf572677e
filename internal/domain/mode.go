package domain

import (
	"time"
)

// Mode is a named per-user JSON document describing a behavioral
// context, e.g. "work" or "schedule". Unique per (user_id, mode_name).
type Mode struct {
	UserID      int64     `json:"user_id"`
	Name        string    `json:"mode_name"`
	Data        string    `json:"mode_data"`
	LastUpdated time.Time `json:"last_updated"`
}

// MemoryRecord is a named per-user JSON document holding recalled
// facts, e.g. "nutrition". A second namespace with the same shape and
// upsert semantics as Mode. Unique per (user_id, table_name).
type MemoryRecord struct {
	UserID      int64     `json:"user_id"`
	TableName   string    `json:"table_name"`
	Data        string    `json:"data"`
	LastUpdated time.Time `json:"last_updated"`
}
