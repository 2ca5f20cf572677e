// Package domain contains core domain types for the Elfrid backend.
package domain

import (
	"time"
)

// User represents a registered user. Users are provisioned out of band;
// the backend references them but never creates them.
type User struct {
	UserID     int64     `json:"user_id"`
	WorldModel string    `json:"world_model"`
	CreatedAt  time.Time `json:"created_at"`
}
