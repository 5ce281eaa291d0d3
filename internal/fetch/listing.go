package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/sanitize"

	"github.com/PuerkitoBio/goquery"
)

// candidate is a listing entry before its content has been fetched.
type candidate struct {
	Title       string
	URL         string
	PublishedAt time.Time
	Category    core.Category
}

const (
	listingItemSelectors  = "article, .news-item, .post-item"
	listingTitleSelectors = "h1, h2, h3, .title, .headline"
)

func (f *Fetcher) fetchListing(ctx context.Context, section Section, now time.Time) ([]candidate, error) {
	switch section.Kind {
	case "", KindHTML:
		return f.fetchHTMLListing(ctx, section, now)
	case KindRSS:
		return f.fetchRSSListing(ctx, section, now)
	default:
		return nil, &FetchError{URL: section.URL, Err: fmt.Errorf("%w: %s", ErrUnknownSectionKind, section.Kind)}
	}
}

func (f *Fetcher) fetchHTMLListing(ctx context.Context, section Section, now time.Time) ([]candidate, error) {
	resp, err := f.get(ctx, section.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: section.URL, Err: fmt.Errorf("parse listing: %w", err)}
	}

	base, err := url.Parse(section.URL)
	if err != nil {
		return nil, &FetchError{URL: section.URL, Err: err}
	}

	return parseListing(doc, base, section.Category, now, f.opts.Location), nil
}

// parseListing extracts entries from a listing document. An identical URL
// appearing twice on the same page is kept once.
func parseListing(doc *goquery.Document, base *url.URL, category core.Category, now time.Time, loc *time.Location) []candidate {
	var entries []candidate
	seen := make(map[string]bool)

	doc.Find(listingItemSelectors).Each(func(_ int, item *goquery.Selection) {
		title := sanitize.Text(item.Find(listingTitleSelectors).First().Text())
		href, ok := item.Find("a[href]").First().Attr("href")
		if title == "" || !ok {
			return
		}

		link := resolveURL(base, href)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true

		entries = append(entries, candidate{
			Title:       title,
			URL:         link,
			PublishedAt: publishTimeHint(item, now, loc),
			Category:    category,
		})
	})

	return entries
}

// publishTimeHint prefers a datetime attribute, then a relative phrase in
// the entry text, then now.
func publishTimeHint(item *goquery.Selection, now time.Time, loc *time.Location) time.Time {
	if dt, ok := item.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, ok := ParseDatetime(dt, loc); ok {
			return t
		}
	}
	if t, ok := ParseRelativeTime(spacedText(item), now); ok {
		return t
	}
	return now
}

// spacedText joins the text nodes under sel with spaces. Selection.Text
// concatenates adjacent elements directly ("read8 hours ago").
func spacedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return strings.Join(parts, " ")
}

func (f *Fetcher) fetchRSSListing(ctx context.Context, section Section, now time.Time) ([]candidate, error) {
	resp, err := f.get(ctx, section.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := f.feeds.Parse(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: section.URL, Err: fmt.Errorf("parse feed: %w", err)}
	}

	base, _ := url.Parse(section.URL)
	var entries []candidate
	seen := make(map[string]bool)
	for _, item := range feed.Items {
		title := sanitize.Text(item.Title)
		link := resolveURL(base, strings.TrimSpace(item.Link))
		if title == "" || link == "" || seen[link] {
			continue
		}
		seen[link] = true

		published := now
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		}

		entries = append(entries, candidate{
			Title:       title,
			URL:         link,
			PublishedAt: published,
			Category:    section.Category,
		})
	}
	return entries, nil
}

// resolveURL returns href as an absolute http(s) URL, or "" if it cannot.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	ref.Fragment = ""
	if !isHTTPURL(ref.String()) {
		return ""
	}
	return ref.String()
}
