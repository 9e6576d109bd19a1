package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/openhelpdesk/ai-helpdesk/internal/classifier"
	"github.com/openhelpdesk/ai-helpdesk/internal/config"
	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

// submit creates a ticket as u and returns the ticket.created event.
func submit(t *testing.T, h *harness, u *domain.User) (*domain.Ticket, events.Event) {
	t.Helper()
	ticket, err := h.tickets.Create(context.Background(), principalOf(u), CreateTicketInput{
		Title:       "Can't log in",
		Description: "Auth fails after password reset",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := h.bus.Events(events.EventTicketCreated)
	return ticket, created[len(created)-1]
}

func outcome(t *testing.T, h *harness, event events.Event) workflow.Outcome {
	t.Helper()
	o, ok, _ := h.runs.Outcome(context.Background(), workflow.InstanceID(WorkflowTicketCreated, event.ID))
	if !ok {
		t.Fatal("no workflow outcome recorded")
	}
	return o
}

func TestAssignmentPicksMatchingModerator(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	h.store.AddUser("root@example.com", domain.RoleAdmin)
	h.store.AddUser("db@example.com", domain.RoleModerator, "PostgreSQL")
	oauth := h.store.AddUser("auth@example.com", domain.RoleModerator, "OAuth flows", "sessions")

	h.classifier.Suggestion = &classifier.Suggestion{
		Priority:      domain.TicketPriorityHigh,
		HelpfulNotes:  "Check the reset token invalidation.",
		RelatedSkills: []string{"oauth", "jwt"},
	}
	ticket, event := submit(t, h, user)

	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatalf("OnTicketCreated: %v", err)
	}

	got := h.store.Ticket(ticket.ID)
	if got.AssignedTo == nil || got.AssignedTo.ID != oauth.ID {
		t.Fatalf("assignedTo = %+v, want %s", got.AssignedTo, oauth.ID)
	}
	if got.Status != domain.TicketStatusInProgress || got.Priority != domain.TicketPriorityHigh {
		t.Errorf("status/priority = %s/%s", got.Status, got.Priority)
	}
	if got.HelpfulNotes == "" || len(got.RelatedSkills) != 2 {
		t.Errorf("classification not stored: %+v", got)
	}

	sent := h.mailer.Messages()
	if len(sent) != 1 || sent[0].To != "auth@example.com" || !strings.Contains(sent[0].Text, "Can't log in") {
		t.Fatalf("sent = %+v", sent)
	}
	if !strings.Contains(sent[0].HTML, "<strong>") {
		t.Errorf("html body not rendered: %q", sent[0].HTML)
	}
	if o := outcome(t, h, event); o.Status != workflow.OutcomeSucceeded {
		t.Errorf("outcome = %+v", o)
	}
}

func TestAssignmentRegexMetacharactersMatchLiterally(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	admin := h.store.AddUser("root@example.com", domain.RoleAdmin)
	h.store.AddUser("cpp@example.com", domain.RoleModerator, "C")
	cpp := h.store.AddUser("cplus@example.com", domain.RoleModerator, "Modern C++")

	h.classifier.Suggestion = &classifier.Suggestion{Priority: domain.TicketPriorityLow, RelatedSkills: []string{"c++"}}
	ticket, event := submit(t, h, user)
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	got := h.store.Ticket(ticket.ID)
	if got.AssignedTo == nil || got.AssignedTo.ID != cpp.ID {
		t.Fatalf("assignedTo = %+v, want c++ moderator (admin is %s)", got.AssignedTo, admin.ID)
	}
}

func TestAssignmentFallsBackToAdmin(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	h.store.AddUser("db@example.com", domain.RoleModerator, "PostgreSQL")
	admin := h.store.AddUser("root@example.com", domain.RoleAdmin)
	h.store.AddUser("root2@example.com", domain.RoleAdmin)

	h.classifier.Suggestion = &classifier.Suggestion{Priority: "urgent", RelatedSkills: []string{"kubernetes"}}
	ticket, event := submit(t, h, user)
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	got := h.store.Ticket(ticket.ID)
	if got.AssignedTo == nil || got.AssignedTo.ID != admin.ID {
		t.Fatalf("assignedTo = %+v, want first admin", got.AssignedTo)
	}
	if got.Priority != domain.TicketPriorityMedium {
		t.Errorf("priority = %q, want unknown value coerced to medium", got.Priority)
	}
}

func TestAssignmentWithoutStaffLeavesTicketUnassigned(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	h.classifier.Suggestion = &classifier.Suggestion{Priority: domain.TicketPriorityLow, RelatedSkills: []string{"go"}}

	ticket, event := submit(t, h, user)
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if got := h.store.Ticket(ticket.ID); got.AssignedTo != nil {
		t.Fatalf("assignedTo = %+v, want nil", got.AssignedTo)
	}
	if len(h.mailer.Messages()) != 0 {
		t.Error("email sent with no assignee")
	}
}

func TestAssignmentSurvivesClassifierFailure(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	h.store.AddUser("any@example.com", domain.RoleModerator, "everything")
	admin := h.store.AddUser("root@example.com", domain.RoleAdmin)
	h.classifier.Err = errors.New("upstream timeout")

	ticket, event := submit(t, h, user)
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatalf("OnTicketCreated: %v", err)
	}

	got := h.store.Ticket(ticket.ID)
	if len(got.RelatedSkills) != 0 {
		t.Errorf("relatedSkills = %v, want empty", got.RelatedSkills)
	}
	if got.Priority != domain.TicketPriorityMedium || got.Status != domain.TicketStatusTodo {
		t.Errorf("status/priority changed: %s/%s", got.Status, got.Priority)
	}
	if got.AssignedTo == nil || got.AssignedTo.ID != admin.ID {
		t.Errorf("empty skills must skip moderator search, assignedTo = %+v", got.AssignedTo)
	}
	// Retries: 2 in the harness policy.
	if h.classifier.Calls != 3 {
		t.Errorf("classifier calls = %d, want 3", h.classifier.Calls)
	}
	if o := outcome(t, h, event); o.Status != workflow.OutcomeSucceeded {
		t.Errorf("outcome = %+v", o)
	}

	// The give-up is cached: a redelivery does not ask the classifier again.
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if h.classifier.Calls != 3 {
		t.Errorf("classifier calls after redelivery = %d, want 3", h.classifier.Calls)
	}
}

func TestAssignmentRetriesTransientClassifierError(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	mod := h.store.AddUser("net@example.com", domain.RoleModerator, "networking")
	h.classifier.Suggestion = &classifier.Suggestion{Priority: domain.TicketPriorityHigh, RelatedSkills: []string{"networking"}}
	h.classifier.FailTimes = 2
	h.classifier.Err = context.DeadlineExceeded

	ticket, event := submit(t, h, user)
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatalf("OnTicketCreated: %v", err)
	}
	if h.classifier.Calls != 3 {
		t.Errorf("classifier calls = %d, want 3", h.classifier.Calls)
	}
	got := h.store.Ticket(ticket.ID)
	if got.Priority != domain.TicketPriorityHigh || got.Status != domain.TicketStatusInProgress {
		t.Errorf("status/priority = %s/%s, want IN_PROGRESS/high", got.Status, got.Priority)
	}
	if got.AssignedTo == nil || got.AssignedTo.ID != mod.ID {
		t.Errorf("assignedTo = %+v, want %s", got.AssignedTo, mod.ID)
	}
}

func TestAssignmentIsIdempotent(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	h.store.AddUser("a@example.com", domain.RoleModerator, "billing")
	h.store.AddUser("b@example.com", domain.RoleModerator, "billing")
	h.classifier.Suggestion = &classifier.Suggestion{Priority: domain.TicketPriorityMedium, RelatedSkills: []string{"Billing"}}

	ticket, event := submit(t, h, user)
	ctx := context.Background()
	if err := h.assign.OnTicketCreated(ctx, event); err != nil {
		t.Fatal(err)
	}
	first := h.store.Ticket(ticket.ID).AssignedTo.ID

	// Redelivery of the same event replays every step from the cache.
	if err := h.assign.OnTicketCreated(ctx, event); err != nil {
		t.Fatal(err)
	}
	if h.classifier.Calls != 1 || len(h.mailer.Messages()) != 1 {
		t.Errorf("replay re-executed steps: classifier=%d mails=%d", h.classifier.Calls, len(h.mailer.Messages()))
	}

	// A fresh event for the same ticket re-runs the steps and picks the same moderator.
	fresh, _ := events.NewEvent(events.EventTicketCreated, events.TicketCreatedPayload{TicketID: ticket.ID})
	if err := h.assign.OnTicketCreated(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	got := h.store.Ticket(ticket.ID)
	if got.AssignedTo.ID != first {
		t.Fatalf("assignee changed from %s to %s", first, got.AssignedTo.ID)
	}
	if got.CreatedBy.ID != user.ID {
		t.Fatalf("createdBy changed to %s", got.CreatedBy.ID)
	}
	if got.Status != domain.TicketStatusInProgress {
		t.Fatalf("status downgraded to %s", got.Status)
	}
}

func TestAssignmentDeletedTicketIsTerminal(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	event, _ := events.NewEvent(events.EventTicketCreated, events.TicketCreatedPayload{TicketID: uuid.NewString()})

	err := h.assign.OnTicketCreated(context.Background(), event)
	if !workflow.IsNonRetriable(err) {
		t.Fatalf("err = %v, want non-retriable", err)
	}
	if h.classifier.Calls != 0 {
		t.Errorf("classifier called for missing ticket")
	}
	if o := outcome(t, h, event); o.Status != workflow.OutcomeFailed {
		t.Errorf("outcome = %+v, want failed", o)
	}
}

func TestAssignmentNotifyFailurePolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   config.NotifyFailurePolicy
		wantErr  bool
		attempts int
	}{
		{"swallow", config.NotifyFailureSwallow, false, 1},
		{"fail", config.NotifyFailureFail, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.policy)
			user := h.store.AddUser("u@example.com", domain.RoleUser)
			h.store.AddUser("root@example.com", domain.RoleAdmin)
			h.classifier.Suggestion = &classifier.Suggestion{Priority: domain.TicketPriorityLow}
			h.mailer.Err = errBoom

			ticket, event := submit(t, h, user)
			err := h.assign.OnTicketCreated(context.Background(), event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if h.mailer.Attempts != tt.attempts {
				t.Errorf("send attempts = %d, want %d", h.mailer.Attempts, tt.attempts)
			}
			if h.store.Ticket(ticket.ID).AssignedTo == nil {
				t.Error("assignment lost when email failed")
			}
		})
	}
}

func TestAssignmentRejectsConcurrentDelivery(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	event, _ := events.NewEvent(events.EventTicketCreated, events.TicketCreatedPayload{TicketID: uuid.NewString()})

	run, err := h.engine.Start(context.Background(), WorkflowTicketCreated, workflow.InstanceID(WorkflowTicketCreated, event.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer run.Finish(context.Background(), nil)

	if err := h.assign.OnTicketCreated(context.Background(), event); !errors.Is(err, workflow.ErrInstanceBusy) {
		t.Fatalf("err = %v, want ErrInstanceBusy", err)
	}
}

func TestAssignmentRejectsMalformedEvent(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	event := events.Event{ID: "e1", Type: events.EventTicketCreated, Payload: []byte(`{"ticketId":`)}
	if err := h.assign.OnTicketCreated(context.Background(), event); !workflow.IsNonRetriable(err) {
		t.Fatalf("err = %v, want non-retriable", err)
	}
}

func TestAssignmentDoesNotRetryDisabledClassifier(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	user := h.store.AddUser("u@example.com", domain.RoleUser)
	h.store.AddUser("root@example.com", domain.RoleAdmin)
	h.classifier.Err = classifier.ErrDisabled

	_, event := submit(t, h, user)
	if err := h.assign.OnTicketCreated(context.Background(), event); err != nil {
		t.Fatalf("OnTicketCreated: %v", err)
	}
	if h.classifier.Calls != 1 {
		t.Errorf("classifier calls = %d, want 1", h.classifier.Calls)
	}
}
