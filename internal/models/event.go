package models

import "time"

// Event represents a recorded account lifecycle action.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "account.login", "guest.flag"
	Level     string    `json:"level"` // e.g., "info", "warn", "error"
	Message   string    `json:"message"`
	UserID    *string   `json:"userId,omitempty"` // Nullable for sweeper events
	CreatedAt time.Time `json:"createdAt"`
}
