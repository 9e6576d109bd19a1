// Package classifier asks a language model to triage a support ticket.
package classifier

import (
	"context"
	"errors"
)

// Input is the ticket text sent for classification.
type Input struct {
	Title       string
	Description string
}

// Classifier produces a triage suggestion for a ticket.
type Classifier interface {
	Analyze(ctx context.Context, in Input) (*Suggestion, error)
}

// ErrDisabled is returned when no model is configured.
var ErrDisabled = errors.New("classifier: not configured")

// Disabled is used when no API key is configured; every call fails so
// callers fall back to an unclassified ticket.
type Disabled struct{}

// Analyze always returns ErrDisabled.
func (Disabled) Analyze(context.Context, Input) (*Suggestion, error) {
	return nil, ErrDisabled
}
