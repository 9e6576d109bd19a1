package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated EventType = "ticket.created"
	EventTicketDeleted EventType = "ticket.deleted"
	EventUserSignup    EventType = "user.signup"
)

// Event is the envelope carried by every bus.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// TicketCreatedPayload is emitted after a ticket row is inserted.
type TicketCreatedPayload struct {
	TicketID    string `json:"ticketId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

// Actor identifies who triggered an event.
type Actor struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// TicketDeletedPayload is emitted after an owner deletes a ticket.
type TicketDeletedPayload struct {
	TicketID    string    `json:"ticketId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DeletedAt   time.Time `json:"deletedAt"`
	DeletedBy   Actor     `json:"deletedBy"`
}

// UserSignupPayload is emitted after a new account is created.
type UserSignupPayload struct {
	Email string `json:"email"`
}
