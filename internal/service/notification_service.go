package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/mail"
	"github.com/openhelpdesk/ai-helpdesk/internal/repository"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

// WorkflowUserSignup names the welcome-email workflow.
const WorkflowUserSignup = "on-user-signup"

const (
	StepFetchUser        workflow.Step = "fetch-user"
	StepSendWelcomeEmail workflow.Step = "send-welcome-email"
)

// NotificationService reacts to signup and deletion events.
type NotificationService struct {
	engine *workflow.Engine
	users  repository.UserRepository
	mailer mail.Mailer
	logger *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(engine *workflow.Engine, users repository.UserRepository, mailer mail.Mailer, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		engine: engine,
		users:  users,
		mailer: mailer,
		logger: logger,
	}
}

// OnUserSignup sends the welcome email. A user deleted before the email goes
// out ends the workflow without retries.
func (n *NotificationService) OnUserSignup(ctx context.Context, event events.Event) error {
	var payload events.UserSignupPayload
	if err := event.Decode(&payload); err != nil {
		return workflow.NonRetriable(err)
	}
	if strings.TrimSpace(payload.Email) == "" {
		return workflow.NonRetriable(errors.New("user.signup event without email"))
	}

	run, err := n.engine.Start(ctx, WorkflowUserSignup, workflow.InstanceID(WorkflowUserSignup, event.ID))
	if err != nil {
		return err
	}
	return run.Finish(ctx, n.welcome(ctx, run, payload.Email))
}

func (n *NotificationService) welcome(ctx context.Context, run *workflow.Run, email string) error {
	recipient, err := workflow.Do(ctx, run, StepFetchUser, func(ctx context.Context) (string, error) {
		user, err := n.users.GetByEmail(ctx, email)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", workflow.NonRetriable(fmt.Errorf("user %s no longer exists", email))
		}
		if err != nil {
			return "", err
		}
		return user.Email, nil
	})
	if err != nil {
		return err
	}

	_, err = workflow.Do(ctx, run, StepSendWelcomeEmail, func(ctx context.Context) (bool, error) {
		msg, err := welcomeMessage(recipient)
		if err != nil {
			return false, err
		}
		return true, n.mailer.Send(ctx, msg)
	})
	return err
}

// OnTicketDeleted writes an audit record for a deleted ticket.
func (n *NotificationService) OnTicketDeleted(_ context.Context, event events.Event) error {
	var payload events.TicketDeletedPayload
	if err := event.Decode(&payload); err != nil {
		n.logger.Warn("malformed ticket.deleted event", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	n.logger.Info("ticket deleted",
		zap.String("ticket_id", payload.TicketID),
		zap.String("title", payload.Title),
		zap.String("deleted_by", payload.DeletedBy.ID),
		zap.String("deleted_by_email", payload.DeletedBy.Email),
		zap.String("deleted_by_role", string(payload.DeletedBy.Role)),
		zap.Time("deleted_at", payload.DeletedAt),
	)
	return nil
}

func welcomeMessage(to string) (mail.Message, error) {
	const body = "Hi,\n\nThanks for signing up. We are glad to have you onboard!"
	html, err := mail.RenderMarkdown(body)
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{To: to, Subject: "Welcome to the helpdesk", Text: body, HTML: html}, nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;",
)

// escapeMarkdown keeps user-supplied text from being read as markup.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
