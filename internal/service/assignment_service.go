package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/classifier"
	"github.com/openhelpdesk/ai-helpdesk/internal/config"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/mail"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	"github.com/openhelpdesk/ai-helpdesk/internal/skills"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

// WorkflowTicketCreated names the assignment workflow.
const WorkflowTicketCreated = "on-ticket-created"

// Assignment workflow steps, in execution order.
const (
	StepFetchTicket         workflow.Step = "fetch-ticket"
	StepMarkTodo            workflow.Step = "mark-todo"
	StepClassify            workflow.Step = "classify"
	StepApplyClassification workflow.Step = "apply-classification"
	StepAssignModerator     workflow.Step = "assign-moderator"
	StepSendAssignmentEmail workflow.Step = "send-assignment-email"
)

// AssignmentService classifies new tickets and routes them to a moderator.
type AssignmentService struct {
	engine        *workflow.Engine
	tickets       repository.TicketRepository
	users         repository.UserRepository
	classifier    classifier.Classifier
	mailer        mail.Mailer
	notifyFailure config.NotifyFailurePolicy
	logger        *zap.Logger
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	Engine              *workflow.Engine
	TicketRepo          repository.TicketRepository
	UserRepo            repository.UserRepository
	Classifier          classifier.Classifier
	Mailer              mail.Mailer
	NotifyFailurePolicy config.NotifyFailurePolicy
	Logger              *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	policy := deps.NotifyFailurePolicy
	if policy == "" {
		policy = config.NotifyFailureSwallow
	}
	return &AssignmentService{
		engine:        deps.Engine,
		tickets:       deps.TicketRepo,
		users:         deps.UserRepo,
		classifier:    deps.Classifier,
		mailer:        deps.Mailer,
		notifyFailure: policy,
		logger:        deps.Logger,
	}
}

type ticketSnapshot struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

type assignee struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// OnTicketCreated runs the assignment workflow for a ticket.created event.
// Each event id is one workflow instance; redelivery replays finished steps.
func (s *AssignmentService) OnTicketCreated(ctx context.Context, event events.Event) error {
	var payload events.TicketCreatedPayload
	if err := event.Decode(&payload); err != nil {
		return workflow.NonRetriable(err)
	}
	if payload.TicketID == "" {
		return workflow.NonRetriable(errors.New("ticket.created event without ticketId"))
	}

	run, err := s.engine.Start(ctx, WorkflowTicketCreated, workflow.InstanceID(WorkflowTicketCreated, event.ID))
	if err != nil {
		return err
	}
	run.Logger().Info("assignment workflow started", zap.String("ticket_id", payload.TicketID))
	return run.Finish(ctx, s.assign(ctx, run, payload.TicketID))
}

// classify retries the classifier under the step policy. Once the attempts are
// spent the ticket continues without a suggestion, and that outcome is cached
// so a redelivery does not call the classifier again.
func (s *AssignmentService) classify(ctx context.Context, run *workflow.Run, ticket ticketSnapshot) (*classifier.Suggestion, error) {
	suggestion, err := workflow.Do(ctx, run, StepClassify, func(ctx context.Context) (*classifier.Suggestion, error) {
		sug, err := s.classifier.Analyze(ctx, classifier.Input{Title: ticket.Title, Description: ticket.Description})
		if errors.Is(err, classifier.ErrDisabled) {
			return nil, workflow.NonRetriable(err)
		}
		return sug, err
	})
	if err == nil {
		return suggestion, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	run.Logger().Warn("classification unavailable, continuing without suggestion", zap.Error(err))
	if err := workflow.Remember[*classifier.Suggestion](ctx, run, StepClassify, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *AssignmentService) assign(ctx context.Context, run *workflow.Run, ticketID string) error {
	ticket, err := workflow.Do(ctx, run, StepFetchTicket, func(ctx context.Context) (ticketSnapshot, error) {
		t, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return ticketSnapshot{}, vanished(err, ticketID)
		}
		return ticketSnapshot{ID: t.ID, Title: t.Title, Description: t.Description, CreatedBy: t.CreatedBy.ID}, nil
	})
	if err != nil {
		return err
	}

	if _, err := workflow.Do(ctx, run, StepMarkTodo, func(ctx context.Context) (bool, error) {
		return true, vanished(s.tickets.MarkTodo(ctx, ticket.ID), ticket.ID)
	}); err != nil {
		return err
	}

	suggestion, err := s.classify(ctx, run, ticket)
	if err != nil {
		return err
	}

	relatedSkills, err := workflow.Do(ctx, run, StepApplyClassification, func(ctx context.Context) ([]string, error) {
		if suggestion == nil {
			return []string{}, vanished(s.tickets.SetRelatedSkills(ctx, ticket.ID, []string{}), ticket.ID)
		}
		c := suggestion.Classification()
		if err := s.tickets.ApplyClassification(ctx, ticket.ID, c); err != nil {
			return nil, vanished(err, ticket.ID)
		}
		return c.RelatedSkills, nil
	})
	if err != nil {
		return err
	}

	chosen, err := workflow.Do(ctx, run, StepAssignModerator, func(ctx context.Context) (*assignee, error) {
		user, err := s.selectAssignee(ctx, relatedSkills)
		if err != nil {
			return nil, err
		}
		var id *string
		if user != nil {
			id = &user.ID
		}
		if err := s.tickets.SetAssignee(ctx, ticket.ID, id); err != nil {
			return nil, vanished(err, ticket.ID)
		}
		return user, nil
	})
	if err != nil {
		return err
	}
	if chosen == nil {
		run.Logger().Warn("no moderator or admin available; ticket left unassigned", zap.String("ticket_id", ticket.ID))
		return nil
	}
	run.Logger().Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("assignee_id", chosen.ID),
		zap.String("assignee_role", string(chosen.Role)),
	)
	if chosen.Email == "" {
		return nil
	}

	_, err = workflow.Do(ctx, run, StepSendAssignmentEmail, func(ctx context.Context) (bool, error) {
		msg, err := assignmentMessage(chosen.Email, ticket.Title)
		if err == nil {
			err = s.mailer.Send(ctx, msg)
		}
		if err == nil {
			return true, nil
		}
		if s.notifyFailure == config.NotifyFailureSwallow {
			run.Logger().Warn("assignment email failed", zap.String("to", chosen.Email), zap.Error(err))
			return false, nil
		}
		return false, err
	})
	return err
}

// selectAssignee prefers the oldest moderator with a matching skill and falls
// back to the oldest admin. With no usable skills the moderator search is skipped.
func (s *AssignmentService) selectAssignee(ctx context.Context, relatedSkills []string) (*assignee, error) {
	if pattern, ok := skills.Pattern(relatedSkills); ok {
		user, err := s.users.FindModeratorBySkills(ctx, pattern)
		switch {
		case err == nil:
			return &assignee{ID: user.ID, Email: user.Email, Role: user.Role}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("find moderator: %w", err)
		}
	}

	admin, err := s.users.FindFirstByRole(ctx, domain.RoleAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find admin: %w", err)
	}
	return &assignee{ID: admin.ID, Email: admin.Email, Role: admin.Role}, nil
}

// vanished turns a missing ticket into a terminal workflow error.
func vanished(err error, ticketID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.NonRetriable(fmt.Errorf("ticket %s no longer exists", ticketID))
	}
	return err
}

func assignmentMessage(to, title string) (mail.Message, error) {
	text := fmt.Sprintf("You have been assigned a ticket: %s", title)
	html, err := mail.RenderMarkdown(fmt.Sprintf("You have been assigned a ticket: **%s**", escapeMarkdown(title)))
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{To: to, Subject: "New Ticket Assigned", Text: text, HTML: html}, nil
}
