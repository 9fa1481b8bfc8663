package ingest

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/ledongthuc/pdf"
)

// ErrEmptyDocument is returned by FromPDF for documents without text.
var ErrEmptyDocument = errors.New("document has no extractable text")

// FromPDF builds a queue item from a PDF document, such as a press release.
// The first non-empty line becomes the title.
func FromPDF(path, source string) (queue.Item, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return queue.Item{}, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return queue.Item{}, fmt.Errorf("extracting pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return queue.Item{}, fmt.Errorf("reading pdf text: %w", err)
	}
	return itemFromText(string(raw), path, source, time.Now())
}

func itemFromText(text, path, source string, now time.Time) (queue.Item, error) {
	var title string
	var body []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if title == "" {
			title = line
			continue
		}
		body = append(body, line)
	}
	if title == "" {
		return queue.Item{}, ErrEmptyDocument
	}
	if source == "" {
		source = "pdf"
	}

	excerpt := strings.Join(strings.Fields(strings.Join(body, " ")), " ")
	if excerpt == "" {
		excerpt = title
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return queue.Item{
		ID:          itemID(source, now),
		Title:       title,
		Excerpt:     truncate(excerpt, maxExcerptRunes),
		URL:         "file://" + filepath.ToSlash(abs),
		Source:      source,
		PublishedAt: now.UTC().Format(time.RFC3339),
		Category:    "document",
	}, nil
}
