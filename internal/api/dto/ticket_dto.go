package dto

import (
	"time"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UserRef is a populated user reference.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TicketResponse is the full ticket, shown to owners on creation and to moderators and admins.
type TicketResponse struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	Deadline      *time.Time            `json:"deadline"`
	HelpfulNotes  string                `json:"helpfulNotes"`
	RelatedSkills []string              `json:"relatedSkills"`
	CreatedBy     UserRef               `json:"createdBy"`
	AssignedTo    *UserRef              `json:"assignedTo"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	skills := t.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	resp := TicketResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		Deadline:      t.Deadline,
		HelpfulNotes:  t.HelpfulNotes,
		RelatedSkills: skills,
		CreatedBy:     UserRef{ID: t.CreatedBy.ID, Email: t.CreatedBy.Email},
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if t.AssignedTo != nil {
		resp.AssignedTo = &UserRef{ID: t.AssignedTo.ID, Email: t.AssignedTo.Email}
	}
	return resp
}
