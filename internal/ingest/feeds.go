package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultPerSourceLimit = 10

// Source is one RSS or Atom feed.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// FeedConfig is the feed list file. An empty keyword list accepts every item.
type FeedConfig struct {
	Sources        []Source `yaml:"sources"`
	Keywords       []string `yaml:"keywords"`
	PerSourceLimit int      `yaml:"per_source_limit"`
}

// DefaultFeeds is used when no feed file exists.
func DefaultFeeds() FeedConfig {
	return FeedConfig{
		Sources: []Source{
			{Name: "BBC News", URL: "https://feeds.bbci.co.uk/news/rss.xml", Category: "news"},
			{Name: "The Guardian", URL: "https://www.theguardian.com/uk/rss", Category: "news"},
			{Name: "The Independent", URL: "https://www.independent.co.uk/news/uk/rss", Category: "news"},
			{Name: "Sky News", URL: "https://feeds.skynews.com/feeds/rss/home.xml", Category: "news"},
		},
		PerSourceLimit: defaultPerSourceLimit,
	}
}

// LoadFeeds reads the YAML feed file at path. A missing file yields DefaultFeeds.
func LoadFeeds(path string) (FeedConfig, error) {
	if path == "" {
		return DefaultFeeds(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultFeeds(), nil
	}
	if err != nil {
		return FeedConfig{}, fmt.Errorf("reading feeds file: %w", err)
	}

	var cfg FeedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FeedConfig{}, fmt.Errorf("parsing feeds file %s: %w", path, err)
	}
	for i, s := range cfg.Sources {
		if s.Name == "" || s.URL == "" {
			return FeedConfig{}, fmt.Errorf("feeds file %s: source %d needs name and url", path, i)
		}
	}
	if cfg.PerSourceLimit <= 0 {
		cfg.PerSourceLimit = defaultPerSourceLimit
	}
	return cfg, nil
}
