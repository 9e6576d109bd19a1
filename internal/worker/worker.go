// Package worker binds workflow services to the event bus.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/service"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

// Services are the event consumers.
type Services struct {
	Assignment   *service.AssignmentService
	Notification *service.NotificationService
}

// Register subscribes every consumer to its event type.
func Register(bus events.Bus, svc Services, logger *zap.Logger) {
	if svc.Assignment != nil {
		bus.Subscribe(events.EventTicketCreated, consume(logger, service.WorkflowTicketCreated, svc.Assignment.OnTicketCreated))
	}
	if svc.Notification != nil {
		bus.Subscribe(events.EventUserSignup, consume(logger, service.WorkflowUserSignup, svc.Notification.OnUserSignup))
		bus.Subscribe(events.EventTicketDeleted, consume(logger, "ticket-deleted-audit", svc.Notification.OnTicketDeleted))
	}
}

// Start registers the consumers and runs the bus until ctx is cancelled.
func Start(ctx context.Context, bus events.Bus, svc Services, logger *zap.Logger) error {
	Register(bus, svc, logger)
	return bus.Run(ctx)
}

// consume maps workflow errors onto bus semantics: terminal failures are
// acknowledged, a busy instance and transient failures are redelivered.
func consume(logger *zap.Logger, name string, handler events.Handler) events.Handler {
	return func(ctx context.Context, event events.Event) error {
		err := handler(ctx, event)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, workflow.ErrInstanceBusy):
			logger.Debug("workflow instance busy, redelivering later",
				zap.String("workflow", name),
				zap.String("event_id", event.ID),
			)
			return err
		case workflow.IsNonRetriable(err):
			logger.Warn("workflow ended with terminal error",
				zap.String("workflow", name),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			return nil
		default:
			return err
		}
	}
}
