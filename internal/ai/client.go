package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 120 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Per-operation sampling temperatures.
const (
	tempClassify = 0.3
	tempBrief    = 0.7
	tempArticle  = 0.8
	tempSafety   = 0.1
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("ai: api key not configured")

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a client. Empty baseURL or model fall back to defaults.
func NewClient(apiKey, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		backoff: initialBackoff,
	}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) Classify(ctx context.Context, title, excerpt string) (Classification, error) {
	var out Classification
	if err := c.complete(ctx, classifyPrompt(title, excerpt), tempClassify, &out); err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}
	if out.Relevance < 0 || out.Relevance > 10 {
		return Classification{}, fmt.Errorf("classify: relevance %v out of range 0-10", out.Relevance)
	}
	return out, nil
}

func (c *Client) Brief(ctx context.Context, title, excerpt string) (Brief, error) {
	var out Brief
	if err := c.complete(ctx, briefPrompt(title, excerpt), tempBrief, &out); err != nil {
		return Brief{}, fmt.Errorf("brief: %w", err)
	}
	return out, nil
}

func (c *Client) Article(ctx context.Context, title, excerpt string, sources []string) (Article, error) {
	var out Article
	if err := c.complete(ctx, articlePrompt(title, excerpt, sources), tempArticle, &out); err != nil {
		return Article{}, fmt.Errorf("article: %w", err)
	}
	if out.Content == "" {
		return Article{}, errors.New("article: model returned empty content")
	}
	return out, nil
}

func (c *Client) Safety(ctx context.Context, content string) (SafetyVerdict, error) {
	// isSafe must be present; a missing field would otherwise decode as unsafe
	// without saying why.
	var raw struct {
		IsSafe          *bool    `json:"isSafe"`
		Concerns        []string `json:"concerns"`
		Recommendations []string `json:"recommendations"`
	}
	if err := c.complete(ctx, safetyPrompt(content), tempSafety, &raw); err != nil {
		return SafetyVerdict{}, fmt.Errorf("safety: %w", err)
	}
	if raw.IsSafe == nil {
		return SafetyVerdict{}, errors.New("safety: model reply missing isSafe")
	}
	return SafetyVerdict{IsSafe: *raw.IsSafe, Concerns: raw.Concerns, Recommendations: raw.Recommendations}, nil
}

// complete sends one prompt and decodes the model's JSON reply into out.
func (c *Client) complete(ctx context.Context, prompt string, temperature float64, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		content, err := c.doChat(ctx, body)
		if err == nil {
			if err := json.Unmarshal([]byte(stripFence(content)), out); err != nil {
				return fmt.Errorf("decoding model reply: %w", err)
			}
			return nil
		}

		if !isRateLimit(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", errors.New("model returned no content")
	}
	return cr.Choices[0].Message.Content, nil
}

// stripFence removes a surrounding ```json fence some models add.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
