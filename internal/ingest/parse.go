package ingest

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// entry is a feed item in a format-neutral shape.
type entry struct {
	Title     string
	Link      string
	Summary   string
	Published string
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string `xml:"pubDate"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

// feedDoc decodes both RSS 2.0 (<rss><channel><item>) and Atom (<feed><entry>).
type feedDoc struct {
	XMLName xml.Name
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

// parseFeed decodes an RSS or Atom document. Non-UTF-8 encodings declared
// in the XML prolog are converted.
func parseFeed(r io.Reader) ([]entry, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var doc feedDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}

	var out []entry
	switch doc.XMLName.Local {
	case "rss":
		for _, it := range doc.Channel.Items {
			summary := it.Description
			if summary == "" {
				summary = it.Content
			}
			out = append(out, entry{
				Title:     strings.TrimSpace(it.Title),
				Link:      strings.TrimSpace(it.Link),
				Summary:   htmlToText(summary),
				Published: normalizeDate(it.PubDate),
			})
		}
	case "feed":
		for _, e := range doc.Entries {
			summary := e.Summary
			if summary == "" {
				summary = e.Content
			}
			published := e.Published
			if published == "" {
				published = e.Updated
			}
			out = append(out, entry{
				Title:     strings.TrimSpace(e.Title),
				Link:      atomHref(e.Links),
				Summary:   htmlToText(summary),
				Published: normalizeDate(published),
			})
		}
	default:
		return nil, fmt.Errorf("unsupported feed root <%s>", doc.XMLName.Local)
	}
	return out, nil
}

func atomHref(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

// htmlToText strips markup and collapses whitespace.
func htmlToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
}

// normalizeDate returns the date in RFC3339, or the raw value when it
// matches no known layout.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}
