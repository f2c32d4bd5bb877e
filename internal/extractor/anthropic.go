package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fwextensions/sf-pools/internal/domain"
)

const (
	anthropicAPI = "https://api.anthropic.com/v1/messages"
	defaultModel = "claude-sonnet-4-20250514"
)

// Anthropic extracts schedules through the Anthropic Messages API
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
}

// AnthropicOption configures an Anthropic extractor
type AnthropicOption func(*Anthropic)

// WithModel overrides the model name
func WithModel(model string) AnthropicOption {
	return func(a *Anthropic) {
		if model != "" {
			a.model = model
		}
	}
}

// WithEndpoint overrides the API URL
func WithEndpoint(endpoint string) AnthropicOption {
	return func(a *Anthropic) {
		if endpoint != "" {
			a.endpoint = endpoint
		}
	}
}

// NewAnthropic creates an extractor; timeout bounds each extraction call
func NewAnthropic(apiKey string, timeout time.Duration, opts ...AnthropicOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	a := &Anthropic{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: anthropicAPI,
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Extract sends the PDF to the model and validates the reply
func (a *Anthropic) Extract(ctx context.Context, doc []byte, hints Hints) ([]domain.ExtractedFacility, error) {
	text, err := a.callAPI(ctx, doc, buildPrompt(hints))
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	return ParseResponse(text)
}

func buildPrompt(hints Hints) string {
	var sb strings.Builder

	sb.WriteString("Extract the pool schedule from this PDF. Return JSON only.\n\n")
	if hints.SourceURL != "" {
		sb.WriteString("Source document: ")
		sb.WriteString(hints.SourceURL)
		sb.WriteString("\n")
	}
	if hints.FacilityPageURL != "" {
		sb.WriteString("Facility page: ")
		sb.WriteString(hints.FacilityPageURL)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Return a JSON array with one object per pool in the document:
[
  {
    "poolName": "name exactly as printed",
    "address": "street address if printed",
    "season": "e.g. Summer 2025",
    "startDate": "YYYY-MM-DD",
    "endDate": "YYYY-MM-DD",
    "lastUpdated": "YYYY-MM-DD if the document has a revision date",
    "laneCount": 6,
    "programs": [
      {"programName": "Lap Swim", "dayOfWeek": "Monday", "startTime": "9:00a", "endTime": "11:00a", "lanes": 3, "notes": ""}
    ]
  }
]

Rules:
- One program entry per day; expand "Mon-Fri" into five entries
- dayOfWeek is the full English weekday name
- Times are 12-hour with a single-letter a/p suffix and no space, e.g. "6:30a", "12:00p"
- Copy programName verbatim from the document, do not normalize it
- Omit fields that are not printed in the document

Return ONLY the JSON, no other text.`)

	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) callAPI(ctx context.Context, doc []byte, prompt string) (string, error) {
	reqBody := apiRequest{
		Model:     a.model,
		MaxTokens: 16000,
		Messages: []apiMessage{
			{
				Role: "user",
				Content: []contentBlock{
					{
						Type: "document",
						Source: &blockSource{
							Type:      "base64",
							MediaType: "application/pdf",
							Data:      base64.StdEncoding.EncodeToString(doc),
						},
					},
					{Type: "text", Text: prompt},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}
	if apiResp.StopReason == "max_tokens" {
		return "", fmt.Errorf("response truncated at max_tokens")
	}

	var sb strings.Builder
	for _, c := range apiResp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response")
	}

	return sb.String(), nil
}
