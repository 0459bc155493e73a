package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/pevans/buloradar/content"
)

// ImportResult counts what ImportFeed did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// FetchFeed fetches and parses a fact-checker RSS or Atom feed. gofeed
// detects the format.
func FetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.UserAgent = "buloradar/1.0"
	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// FeedItemToBulo converts a fact-check feed item into catalogue fields. The
// item link becomes both the bulo URL and its first source.
func FeedItemToBulo(item *gofeed.Item, feedTitle, platform string) NewBulo {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "(Sin título)"
	}

	description := htmlToText(item.Description)
	if description == "" {
		description = title
	}
	truth := htmlToText(item.Content)
	if truth == "" {
		truth = description
	}

	in := NewBulo{
		Title:       title,
		Description: description,
		Truth:       truth,
		Platform:    platform,
		DangerLevel: DangerMedium,
		Sources:     []content.Source{},
	}

	if len(item.Categories) > 0 {
		in.Category = strings.ToLower(strings.TrimSpace(item.Categories[0]))
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		in.URL = &link
		name := feedTitle
		if name == "" {
			name = link
		}
		in.Sources = append(in.Sources, content.Source{Name: name, URL: link})
	}
	if item.Image != nil && item.Image.URL != "" {
		imageURL := item.Image.URL
		in.ImageURL = &imageURL
	}

	switch {
	case item.PublishedParsed != nil:
		in.PublishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		in.PublishedAt = *item.UpdatedParsed
	default:
		in.PublishedAt = time.Now()
	}

	return in
}

// ImportFeed fetches url and catalogues every item not already stored.
// Items without a link are skipped since they cannot be deduplicated.
func ImportFeed(ctx context.Context, store *Store, url, platform string) (ImportResult, error) {
	var result ImportResult

	feed, err := FetchFeed(ctx, url)
	if err != nil {
		return result, err
	}

	for _, item := range feed.Items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		in := FeedItemToBulo(item, feed.Title, platform)
		if in.URL == nil {
			result.Skipped++
			continue
		}

		_, err := store.Create(in)
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, ErrDuplicateURL):
			result.Skipped++
		default:
			return result, fmt.Errorf("failed to import %q: %w", *in.URL, err)
		}
	}

	return result, nil
}

// htmlToText strips markup from feed bodies, which often embed HTML.
func htmlToText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
