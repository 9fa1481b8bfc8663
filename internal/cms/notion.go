package cms

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

const (
	defaultNotionURL = "https://api.notion.com"
	notionVersion    = "2022-06-28"
	// Notion rejects rich_text objects longer than this.
	maxTextRunes = 2000
)

// NotionClient creates and updates pages in one Notion database.
type NotionClient struct {
	apiKey     string
	baseURL    string
	databaseID string
	httpClient *http.Client
}

// NewNotionClient creates a client. Empty baseURL uses the public API.
func NewNotionClient(apiKey, baseURL, databaseID string) *NotionClient {
	if baseURL == "" {
		baseURL = defaultNotionURL
	}
	return &NotionClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		databaseID: databaseID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type text struct {
	Content string `json:"content"`
}

type richText struct {
	Type string `json:"type,omitempty"`
	Text text   `json:"text"`
}

type named struct {
	Name string `json:"name"`
}

func (c *NotionClient) CreatePage(ctx context.Context, p Page) (string, error) {
	tags := make([]named, 0, len(p.Tags))
	for _, t := range p.Tags {
		tags = append(tags, named{Name: t})
	}

	props := map[string]any{
		"Title":     map[string]any{"title": []richText{{Text: text{Content: p.Title}}}},
		"Excerpt":   map[string]any{"rich_text": []richText{{Text: text{Content: truncateRunes(p.Excerpt, maxTextRunes)}}}},
		"Tags":      map[string]any{"multi_select": tags},
		"Published": map[string]any{"checkbox": p.Published},
	}
	if p.Category != "" {
		props["Category"] = map[string]any{"select": named{Name: p.Category}}
	}
	if p.Date != "" {
		props["Date"] = map[string]any{"date": map[string]string{"start": p.Date}}
	}

	var children []map[string]any
	for _, chunk := range chunkRunes(p.Content, maxTextRunes) {
		children = append(children, map[string]any{
			"object":    "block",
			"type":      "paragraph",
			"paragraph": map[string]any{"rich_text": []richText{{Type: "text", Text: text{Content: chunk}}}},
		})
	}

	body := map[string]any{
		"parent":     map[string]string{"database_id": c.databaseID},
		"properties": props,
		"children":   children,
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &out); err != nil {
		return "", fmt.Errorf("creating page: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("creating page: response has no page id")
	}
	return out.ID, nil
}

func (c *NotionClient) SetPublished(ctx context.Context, pageID string, published bool) error {
	body := map[string]any{
		"properties": map[string]any{
			"Published": map[string]any{"checkbox": published},
		},
	}
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("updating page %s: %w", pageID, err)
	}
	return nil
}

func (c *NotionClient) do(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func chunkRunes(s string, n int) []string {
	r := []rune(s)
	if len(r) == 0 {
		return nil
	}
	var chunks []string
	for len(r) > n {
		chunks = append(chunks, string(r[:n]))
		r = r[n:]
	}
	return append(chunks, string(r))
}
