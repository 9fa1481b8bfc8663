package ai

import "context"

// Classification is the result of Classify. Relevance is on a 0-10 scale.
type Classification struct {
	Category  string  `json:"category"`
	Relevance float64 `json:"relevance"`
	Sentiment string  `json:"sentiment"`
	Summary   string  `json:"summary"`
}

type Brief struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints"`
	ActionItems []string `json:"actionItems"`
}

type Article struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Excerpt string   `json:"excerpt"`
	Tags    []string `json:"tags"`
}

type SafetyVerdict struct {
	IsSafe          bool     `json:"isSafe"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// Classifier is the model-backed capability the pipeline calls. Every method
// may fail on network or model errors.
type Classifier interface {
	Classify(ctx context.Context, title, excerpt string) (Classification, error)
	Brief(ctx context.Context, title, excerpt string) (Brief, error)
	Article(ctx context.Context, title, excerpt string, sources []string) (Article, error)
	Safety(ctx context.Context, content string) (SafetyVerdict, error)
}

// chatRequest is the OpenAI-compatible chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
