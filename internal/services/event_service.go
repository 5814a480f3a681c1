package services

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/isdelr/storefront-be/internal/clock"
	"github.com/isdelr/storefront-be/internal/models"
)

// Event types recorded for account lifecycle actions.
const (
	EventAccountRegister       = "account.register"
	EventAccountLogin          = "account.login"
	EventAccountPasswordChange = "account.password_change"
	EventGuestCreate           = "guest.create"
	EventGuestFlag             = "guest.flag"
	EventGuestPurge            = "guest.purge"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error
	GetEventsForUser(ctx context.Context, userID string, limit int) ([]models.Event, error)
}

// EventService records account events in the database.
type EventService struct {
	db    *sql.DB
	clock clock.Clock
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB, clk clock.Clock) *EventService {
	return &EventService{db: db, clock: clk}
}

// CreateEvent logs a new event to the database.
func (s *EventService) CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		UserID:    userID,
		CreatedAt: s.clock.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (id, user_id, type, level, message, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		event.ID, event.UserID, event.Type, event.Level, event.Message, event.CreatedAt)
	return err
}

// GetEventsForUser retrieves the most recent events recorded for a user.
func (s *EventService) GetEventsForUser(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, level, message, user_id, created_at FROM events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var event models.Event
		var uid sql.NullString
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &uid, &event.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			event.UserID = &uid.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
