package testutil

import (
	"context"
	"sync"

	"github.com/openhelpdesk/ai-helpdesk/internal/classifier"
	"github.com/openhelpdesk/ai-helpdesk/internal/events"
	"github.com/openhelpdesk/ai-helpdesk/internal/mail"
)

// Classifier returns a fixed suggestion or error and counts calls. With
// FailTimes set, Err is returned only for the first FailTimes calls.
type Classifier struct {
	mu         sync.Mutex
	Suggestion *classifier.Suggestion
	Err        error
	FailTimes  int
	Calls      int
}

func (c *Classifier) Analyze(context.Context, classifier.Input) (*classifier.Suggestion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil && (c.FailTimes == 0 || c.Calls <= c.FailTimes) {
		return nil, c.Err
	}
	if c.Suggestion == nil {
		return nil, classifier.ErrMalformed
	}
	s := *c.Suggestion
	return &s, nil
}

// Mailer records sent messages. When Err is set every send fails.
type Mailer struct {
	mu       sync.Mutex
	Err      error
	Sent     []mail.Message
	Attempts int
}

func (m *Mailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// Messages returns a copy of the delivered messages.
func (m *Mailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.Sent...)
}

// Bus records published events and lets tests deliver them synchronously.
type Bus struct {
	mu        sync.Mutex
	Err       error
	Published []events.Event
	handlers  map[events.EventType][]events.Handler
}

func (b *Bus) Publish(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.Published = append(b.Published, event)
	return nil
}

func (b *Bus) Subscribe(eventType events.EventType, handler events.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[events.EventType][]events.Handler)
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *Bus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Events returns published events of the given type.
func (b *Bus) Events(eventType events.EventType) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.Published {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Deliver runs every subscribed handler for event and returns the first error.
func (b *Bus) Deliver(ctx context.Context, event events.Event) error {
	b.mu.Lock()
	handlers := append([]events.Handler(nil), b.handlers[event.Type]...)
	b.mu.Unlock()
	var first error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
