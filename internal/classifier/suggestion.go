package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
	"github.com/openhelpdesk/ai-helpdesk/internal/skills"
)

// Suggestion is a validated classifier answer.
type Suggestion struct {
	Priority      domain.TicketPriority `json:"priority"`
	HelpfulNotes  string                `json:"helpfulNotes"`
	RelatedSkills []string              `json:"relatedSkills"`
}

// Classification converts the suggestion for persistence. Priority is
// coerced again so hand-built suggestions obey the same law as parsed ones.
func (s *Suggestion) Classification() domain.Classification {
	return domain.Classification{
		Priority:      domain.CoercePriority(string(s.Priority)),
		HelpfulNotes:  s.HelpfulNotes,
		RelatedSkills: append([]string{}, s.RelatedSkills...),
	}
}

// ErrMalformed marks model output that does not fit the suggestion schema.
var ErrMalformed = errors.New("classifier: malformed suggestion")

// wireSuggestion keeps every field raw so each one can be type-checked.
type wireSuggestion struct {
	Priority      json.RawMessage `json:"priority"`
	HelpfulNotes  json.RawMessage `json:"helpfulNotes"`
	RelatedSkills json.RawMessage `json:"relatedSkills"`
}

// ParseSuggestion validates raw model output. Markdown code fences around the
// JSON object are tolerated. Priority is coerced to a known level; a missing
// priority becomes medium. helpfulNotes must be a string when present and
// relatedSkills an array of strings when present.
func ParseSuggestion(raw string) (*Suggestion, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMalformed)
	}

	var wire wireSuggestion
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var s Suggestion

	var priority string
	if isPresent(wire.Priority) {
		if err := json.Unmarshal(wire.Priority, &priority); err != nil {
			return nil, fmt.Errorf("%w: priority is not a string", ErrMalformed)
		}
	}
	s.Priority = domain.CoercePriority(priority)

	if isPresent(wire.HelpfulNotes) {
		if err := json.Unmarshal(wire.HelpfulNotes, &s.HelpfulNotes); err != nil {
			return nil, fmt.Errorf("%w: helpfulNotes is not a string", ErrMalformed)
		}
	}

	var related []string
	if isPresent(wire.RelatedSkills) {
		if err := json.Unmarshal(wire.RelatedSkills, &related); err != nil {
			return nil, fmt.Errorf("%w: relatedSkills is not a list of strings", ErrMalformed)
		}
	}
	s.RelatedSkills = skills.Normalize(related)

	return &s, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = ""
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
