package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/newsdesk/internal/queue"
	"golang.org/x/sync/errgroup"
)

const (
	maxFeedBytes     = 10 << 20
	maxExcerptRunes  = 1000
	fetchConcurrency = 4
)

// URLChecker reports whether an item URL has been seen before.
type URLChecker interface {
	HasURL(url string) (bool, error)
}

// SourceReport is the outcome for one feed.
type SourceReport struct {
	Source     string `json:"source"`
	Fetched    int    `json:"fetched"`
	Enqueued   int    `json:"enqueued"`
	Duplicates int    `json:"duplicates"`
	Filtered   int    `json:"filtered"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes one Fetch.
type Report struct {
	Sources  []SourceReport `json:"sources"`
	Enqueued int            `json:"enqueued"`
}

// Fetcher pulls feeds and offers new items to the queue. Items whose URL is
// already known are skipped.
type Fetcher struct {
	cfg    FeedConfig
	queue  queue.Queue
	seen   URLChecker
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewFetcher creates a Fetcher. seen may be nil to disable deduplication.
func NewFetcher(cfg FeedConfig, q queue.Queue, seen URLChecker) *Fetcher {
	if cfg.PerSourceLimit <= 0 {
		cfg.PerSourceLimit = defaultPerSourceLimit
	}
	return &Fetcher{
		cfg:    cfg,
		queue:  q,
		seen:   seen,
		client: &http.Client{Timeout: 20 * time.Second},
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Sources returns the configured feeds.
func (f *Fetcher) Sources() []Source {
	return f.cfg.Sources
}

// Fetch reads every source whose name contains filter (case-insensitive; an
// empty filter selects all). A failing source is reported and never stops the
// others. The returned error is set only when the queue rejects an item.
func (f *Fetcher) Fetch(ctx context.Context, filter string) (Report, error) {
	var sources []Source
	for _, s := range f.cfg.Sources {
		if filter == "" || strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter)) {
			sources = append(sources, s)
		}
	}

	fetched := make([][]entry, len(sources))
	errs := make([]error, len(sources))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			entries, err := f.fetchFeed(gCtx, src.URL)
			if err != nil {
				errs[i] = err
				return nil
			}
			fetched[i] = entries
			return nil
		})
	}
	g.Wait()

	report := Report{Sources: make([]SourceReport, 0, len(sources))}
	batch := map[string]bool{}
	for i, src := range sources {
		sr := SourceReport{Source: src.Name}
		if errs[i] != nil {
			sr.Error = errs[i].Error()
			f.logger.Warn("feed fetch failed", "source", src.Name, "error", errs[i])
			report.Sources = append(report.Sources, sr)
			continue
		}

		entries := fetched[i]
		if len(entries) > f.cfg.PerSourceLimit {
			entries = entries[:f.cfg.PerSourceLimit]
		}
		sr.Fetched = len(entries)

		for _, e := range entries {
			if !matchesKeywords(f.cfg.Keywords, e.Title, e.Summary) {
				sr.Filtered++
				continue
			}
			dup, err := f.isDuplicate(e.Link, batch)
			if err != nil {
				f.logger.Warn("dedup lookup failed, enqueueing anyway", "source", src.Name, "error", err)
			}
			if dup {
				sr.Duplicates++
				continue
			}

			item := f.newItem(src, e)
			if err := f.queue.Enqueue(ctx, item); err != nil {
				report.Sources = append(report.Sources, sr)
				return report, fmt.Errorf("enqueueing %s: %w", item.ID, err)
			}
			if e.Link != "" {
				batch[e.Link] = true
			}
			sr.Enqueued++
			report.Enqueued++
		}

		f.logger.Info("feed ingested", "source", src.Name, "fetched", sr.Fetched, "enqueued", sr.Enqueued, "duplicates", sr.Duplicates)
		report.Sources = append(report.Sources, sr)
	}
	return report, nil
}

func (f *Fetcher) isDuplicate(link string, batch map[string]bool) (bool, error) {
	if link == "" {
		return false, nil
	}
	if batch[link] {
		return true, nil
	}
	if f.seen == nil {
		return false, nil
	}
	return f.seen.HasURL(link)
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) ([]entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "newsdesk/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}
	return parseFeed(io.LimitReader(resp.Body, maxFeedBytes))
}

func (f *Fetcher) newItem(src Source, e entry) queue.Item {
	published := e.Published
	if published == "" {
		published = f.now().UTC().Format(time.RFC3339)
	}
	return queue.Item{
		ID:          itemID(src.Name, f.now()),
		Title:       e.Title,
		Excerpt:     truncate(e.Summary, maxExcerptRunes),
		URL:         e.Link,
		Source:      src.Name,
		PublishedAt: published,
		Category:    src.Category,
	}
}

// itemID builds "<source>-<unixnano>-<random>". Uniqueness is not enforced.
func itemID(source string, now time.Time) string {
	slug := strings.Join(strings.Fields(strings.ToLower(source)), "-")
	if slug == "" {
		slug = "item"
	}
	return fmt.Sprintf("%s-%d-%s", slug, now.UnixNano(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

func matchesKeywords(keywords []string, title, excerpt string) bool {
	if len(keywords) == 0 {
		return true
	}
	t := strings.ToLower(title)
	x := strings.ToLower(excerpt)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if strings.Contains(t, k) || strings.Contains(x, k) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
