package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are an editorial assistant for a newsroom. Always answer with a single JSON object and nothing else."

func classifyPrompt(title, excerpt string) string {
	return fmt.Sprintf(`Classify this news item.

Title: %s
Content: %s

Choose one category: politics, economy, society, royal, scandal, reform, other.
Give a relevance score from 0 to 10, the sentiment (positive, negative or neutral)
and a 2-3 sentence summary.

Respond in JSON:
{"category": "...", "relevance": 0, "sentiment": "...", "summary": "..."}`, title, excerpt)
}

func briefPrompt(title, excerpt string) string {
	return fmt.Sprintf(`Write a brief for this news item.

Title: %s
Excerpt: %s

Provide a headline, a 2-3 sentence summary, 3-5 key points and 2-3 follow-up
actions for readers.

Respond in JSON:
{"title": "...", "summary": "...", "keyPoints": ["..."], "actionItems": ["..."]}`, title, excerpt)
}

func articlePrompt(title, excerpt string, sources []string) string {
	return fmt.Sprintf(`Write a factual article of 800-1200 words based on this news item.

Title: %s
Excerpt: %s
Sources: %s

Cite the sources, keep claims verifiable and include a short excerpt and tags.

Respond in JSON:
{"title": "...", "content": "...", "excerpt": "...", "tags": ["..."]}`, title, excerpt, strings.Join(sources, ", "))
}

func safetyPrompt(content string) string {
	return fmt.Sprintf(`Review this content for safety and compliance:

%s

Check for hate speech or discrimination, incitement to violence, false
information, privacy violations and legal risk.

Respond in JSON:
{"isSafe": true, "concerns": ["..."], "recommendations": ["..."]}`, content)
}
