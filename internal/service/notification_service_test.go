package service

import (
	"context"
	"testing"

	"github.com/openhelpdesk/ai-helpdesk/internal/config"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/workflow"
)

func TestOnUserSignupSendsWelcomeEmail(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	ctx := context.Background()
	if _, err := h.auth.Signup(ctx, "new@example.com", "pw", nil); err != nil {
		t.Fatal(err)
	}
	signup := h.bus.Events(events.EventUserSignup)[0]

	if err := h.notify.OnUserSignup(ctx, signup); err != nil {
		t.Fatalf("OnUserSignup: %v", err)
	}
	sent := h.mailer.Messages()
	if len(sent) != 1 || sent[0].To != "new@example.com" {
		t.Fatalf("sent = %+v", sent)
	}

	if err := h.notify.OnUserSignup(ctx, signup); err != nil {
		t.Fatal(err)
	}
	if len(h.mailer.Messages()) != 1 {
		t.Error("welcome email sent twice for one event")
	}
}

func TestOnUserSignupMissingUserIsTerminal(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	event, _ := events.NewEvent(events.EventUserSignup, events.UserSignupPayload{Email: "ghost@example.com"})
	if err := h.notify.OnUserSignup(context.Background(), event); !workflow.IsNonRetriable(err) {
		t.Fatalf("err = %v, want non-retriable", err)
	}
	if h.mailer.Attempts != 0 {
		t.Error("mail attempted for missing user")
	}
}

func TestOnUserSignupRetriesMailFailures(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	h.store.AddUser("new@example.com", "user")
	h.mailer.Err = errBoom
	event, _ := events.NewEvent(events.EventUserSignup, events.UserSignupPayload{Email: "new@example.com"})

	if err := h.notify.OnUserSignup(context.Background(), event); err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if h.mailer.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", h.mailer.Attempts)
	}
}

func TestOnTicketDeletedNeverFails(t *testing.T) {
	h := newHarness(t, config.NotifyFailureSwallow)
	event, _ := events.NewEvent(events.EventTicketDeleted, events.TicketDeletedPayload{TicketID: "t"})
	if err := h.notify.OnTicketDeleted(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	bad := events.Event{Type: events.EventTicketDeleted, Payload: []byte("nope")}
	if err := h.notify.OnTicketDeleted(context.Background(), bad); err != nil {
		t.Fatal(err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("*bold* <b>"); got != `\*bold\* &lt;b&gt;` {
		t.Fatalf("escapeMarkdown = %q", got)
	}
}
