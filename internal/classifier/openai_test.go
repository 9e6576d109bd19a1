package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openhelpdesk/ai-helpdesk/internal/domain"
)

func TestOpenAIAnalyze(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Can't log in") {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{
					"role":    "assistant",
					"content": `{"priority":"HIGH","helpfulNotes":"Verify the reset token","relatedSkills":["authentication"]}`,
				},
			}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewOpenAI(server.URL+"/v1/", "sk-test", "test-model", 5*time.Second)
	got, err := client.Analyze(context.Background(), Input{Title: "Can't log in", Description: "Auth fails after password reset"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Priority != domain.TicketPriorityHigh {
		t.Errorf("priority = %q", got.Priority)
	}
	if len(got.RelatedSkills) != 1 || got.RelatedSkills[0] != "authentication" {
		t.Errorf("skills = %q", got.RelatedSkills)
	}
}

func TestOpenAIProviderError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	}))
	t.Cleanup(server.Close)

	client := NewOpenAI(server.URL, "k", "m", time.Second)
	_, err := client.Analyze(context.Background(), Input{Title: "t", Description: "d"})
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("err = %v, want provider message", err)
	}
}

func TestOpenAINoChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(server.Close)

	client := NewOpenAI(server.URL, "k", "m", time.Second)
	_, err := client.Analyze(context.Background(), Input{Title: "t", Description: "d"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestDisabled(t *testing.T) {
	if _, err := (Disabled{}).Analyze(context.Background(), Input{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}
