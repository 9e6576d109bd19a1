package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusTodo       TicketStatus = "TODO"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusDone       TicketStatus = "DONE"
)

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// CoercePriority maps free-form priority text onto a known level.
// Anything unrecognised becomes medium.
func CoercePriority(raw string) TicketPriority {
	switch TicketPriority(strings.ToLower(strings.TrimSpace(raw))) {
	case TicketPriorityLow:
		return TicketPriorityLow
	case TicketPriorityHigh:
		return TicketPriorityHigh
	default:
		return TicketPriorityMedium
	}
}

// UserRef is a populated user reference on a ticket.
type UserRef struct {
	ID    string
	Email string
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	CreatedBy     UserRef
	AssignedTo    *UserRef
	Priority      TicketPriority
	Deadline      *time.Time
	HelpfulNotes  string
	RelatedSkills []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Classification is the validated outcome of the AI classifier applied to a ticket.
type Classification struct {
	Priority      TicketPriority
	HelpfulNotes  string
	RelatedSkills []string
}
