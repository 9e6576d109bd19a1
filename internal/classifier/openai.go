package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are an expert assistant that triages technical support tickets.
Respond with a single JSON object and nothing else: no markdown, no code fences, no commentary.
The object must have exactly these keys:
{"priority": "low" | "medium" | "high",
 "helpfulNotes": "markdown notes with troubleshooting steps and useful links for a moderator",
 "relatedSkills": ["short skill names required to resolve the ticket"]}`

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAI builds the client. baseURL is the API root, e.g. https://api.openai.com/v1.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze sends the ticket to the model and validates its answer.
func (c *OpenAI) Analyze(ctx context.Context, in Input) (*Suggestion, error) {
	wireRequest := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Analyze the following support ticket.\n\nTitle: %s\n\nDescription: %s", in.Title, in.Description)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("classifier: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classifier: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("classifier: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, readProviderError(httpResponse)
	}

	var wireResponse chatResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wireResponse); err != nil {
		return nil, fmt.Errorf("classifier: decoding response: %w", err)
	}
	if len(wireResponse.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return ParseSuggestion(wireResponse.Choices[0].Message.Content)
}

// readProviderError extracts {"error":{"message":...}} when present.
func readProviderError(httpResponse *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wireError); err == nil && wireError.Error.Message != "" {
		return fmt.Errorf("classifier: HTTP %d: %s", httpResponse.StatusCode, wireError.Error.Message)
	}
	return fmt.Errorf("classifier: HTTP %d", httpResponse.StatusCode)
}
