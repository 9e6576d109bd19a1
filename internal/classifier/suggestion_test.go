package classifier

import (
	"errors"
	"reflect"
	"testing"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      *Suggestion
		wantError bool
	}{
		{
			name: "plain json",
			raw:  `{"priority":"high","helpfulNotes":"Check the reset flow","relatedSkills":["Auth","OAuth"]}`,
			want: &Suggestion{Priority: domain.TicketPriorityHigh, HelpfulNotes: "Check the reset flow", RelatedSkills: []string{"Auth", "OAuth"}},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"priority\":\"low\",\"helpfulNotes\":\"n\",\"relatedSkills\":[\"css\"]}\n```",
			want: &Suggestion{Priority: domain.TicketPriorityLow, HelpfulNotes: "n", RelatedSkills: []string{"css"}},
		},
		{
			name: "unknown priority coerced",
			raw:  `{"priority":"critical","relatedSkills":[]}`,
			want: &Suggestion{Priority: domain.TicketPriorityMedium, RelatedSkills: []string{}},
		},
		{
			name: "missing fields",
			raw:  `{}`,
			want: &Suggestion{Priority: domain.TicketPriorityMedium, RelatedSkills: []string{}},
		},
		{
			name: "null skills",
			raw:  `{"priority":"high","relatedSkills":null}`,
			want: &Suggestion{Priority: domain.TicketPriorityHigh, RelatedSkills: []string{}},
		},
		{
			name: "blank skills dropped",
			raw:  `{"priority":"high","relatedSkills":[" ","React","react"]}`,
			want: &Suggestion{Priority: domain.TicketPriorityHigh, RelatedSkills: []string{"React"}},
		},
		{name: "skills not strings", raw: `{"relatedSkills":[1,2]}`, wantError: true},
		{name: "skills not array", raw: `{"relatedSkills":"go"}`, wantError: true},
		{name: "priority not string", raw: `{"priority":3}`, wantError: true},
		{name: "prose", raw: `I think this is high priority.`, wantError: true},
		{name: "empty", raw: "   ", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSuggestion(tt.raw)
			if tt.wantError {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("err = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSuggestion: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
