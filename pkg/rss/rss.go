package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Item is one entry from a feed, normalized across RSS 2.0 and Atom.
type Item struct {
	FeedTitle string
	Title     string
	Link      string
	Summary   string
	Published time.Time
}

type Client struct {
	httpClient *http.Client
	userAgent  string
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "substack-digest-bot/1.0",
	}
}

const maxFeedBytes = 5 << 20

// Fetch downloads and parses one feed URL. Items are returned newest first.
func (c *Client) Fetch(ctx context.Context, feedURL string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss: fetch %s: unexpected status %d", feedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("rss: read %s: %w", feedURL, err)
	}

	items, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("rss: parse %s: %w", feedURL, err)
	}
	return items, nil
}

type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDoc struct {
	XMLName xml.Name `xml:"feed"`
	Title   string   `xml:"title"`
	Entries []struct {
		Title   string `xml:"title"`
		Links   []link `xml:"link"`
		Summary string `xml:"summary"`
		Content string `xml:"content"`
		Updated string `xml:"updated"`
		Publish string `xml:"published"`
	} `xml:"entry"`
}

type link struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Parse decodes raw feed bytes, trying RSS 2.0 first and Atom second.
func Parse(data []byte) ([]Item, error) {
	var rd rssDoc
	if err := xml.Unmarshal(data, &rd); err == nil && rd.XMLName.Local == "rss" {
		items := make([]Item, 0, len(rd.Channel.Items))
		for _, it := range rd.Channel.Items {
			items = append(items, Item{
				FeedTitle: strings.TrimSpace(rd.Channel.Title),
				Title:     strings.TrimSpace(it.Title),
				Link:      strings.TrimSpace(it.Link),
				Summary:   strings.TrimSpace(it.Description),
				Published: parseTime(it.PubDate),
			})
		}
		sortNewestFirst(items)
		return items, nil
	}

	var ad atomDoc
	if err := xml.Unmarshal(data, &ad); err == nil && ad.XMLName.Local == "feed" {
		items := make([]Item, 0, len(ad.Entries))
		for _, e := range ad.Entries {
			summary := e.Summary
			if summary == "" {
				summary = e.Content
			}
			published := e.Publish
			if published == "" {
				published = e.Updated
			}
			items = append(items, Item{
				FeedTitle: strings.TrimSpace(ad.Title),
				Title:     strings.TrimSpace(e.Title),
				Link:      pickLink(e.Links),
				Summary:   strings.TrimSpace(summary),
				Published: parseTime(published),
			})
		}
		sortNewestFirst(items)
		return items, nil
	}

	return nil, fmt.Errorf("rss: unrecognized feed format")
}

func pickLink(links []link) string {
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

var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
}
