package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/auth"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	apperrors "github.com/openhelpdesk/ai-helpdesk/pkg/util/errorutil"
)

// TicketService handles the user-facing ticket operations. Everything after
// creation is left to the assignment workflow.
type TicketService struct {
	tickets repository.TicketRepository
	bus     events.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Bus        events.Bus
	Logger     *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets: deps.TicketRepo,
		bus:     deps.Bus,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	Title       string
	Description string
}

// Create stores a TODO ticket with medium priority and no assignee, then emits ticket.created.
func (s *TicketService) Create(ctx context.Context, caller *auth.Principal, input CreateTicketInput) (*domain.Ticket, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	details := map[string]any{}
	if title == "" {
		details["title"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("title and description are required", details)
	}

	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusTodo,
		Priority:      domain.TicketPriorityMedium,
		CreatedBy:     domain.UserRef{ID: caller.UserID, Email: caller.Email},
		RelatedSkills: []string{},
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	publishEvent(ctx, s.bus, s.logger, events.EventTicketCreated, events.TicketCreatedPayload{
		TicketID:    ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		CreatedBy:   ticket.CreatedBy.ID,
	})
	return ticket, nil
}

// List returns the caller's own tickets, or every ticket for moderators and admins.
func (s *TicketService) List(ctx context.Context, caller *auth.Principal) ([]domain.Ticket, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	filter := repository.TicketFilter{}
	if !caller.Role.Privileged() {
		filter.CreatedBy = &caller.UserID
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// Get returns one ticket. Plain users only see their own; anything else is reported as missing.
func (s *TicketService) Get(ctx context.Context, caller *auth.Principal, ticketID string) (*domain.Ticket, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	if !validID(ticketID) {
		return nil, ticketNotFound(ticketID)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ticketNotFound(ticketID)
		}
		return nil, apperrors.MapError(err)
	}
	if !caller.Role.Privileged() && ticket.CreatedBy.ID != caller.UserID {
		return nil, ticketNotFound(ticketID)
	}
	return ticket, nil
}

// Delete removes a ticket created by the caller and emits ticket.deleted.
// Missing and foreign tickets both yield 404, whatever the caller's role.
func (s *TicketService) Delete(ctx context.Context, caller *auth.Principal, ticketID string) error {
	if caller == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !validID(ticketID) {
		return ticketNotFound(ticketID)
	}
	ticket, err := s.tickets.DeleteOwned(ctx, ticketID, caller.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ticketNotFound(ticketID)
		}
		return apperrors.MapError(err)
	}

	publishEvent(ctx, s.bus, s.logger, events.EventTicketDeleted, events.TicketDeletedPayload{
		TicketID:    ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		DeletedAt:   s.now().UTC(),
		DeletedBy: events.Actor{
			ID:    caller.UserID,
			Email: caller.Email,
			Role:  caller.Role,
		},
	})
	return nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func ticketNotFound(id string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"ticketId": id})
}
