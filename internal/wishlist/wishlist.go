// Package wishlist reads product links out of RSS, Atom and JSON feeds,
// such as a shop's wishlist or a saved-search feed.
package wishlist

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mmcdole/gofeed"
)

// Fetch downloads the feed at feedURL and returns its product links.
func Fetch(ctx context.Context, feedURL string) ([]string, error) {
	feed, err := gofeed.NewParser().ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return links(feed), nil
}

// Load returns the product links of src, which is either an http(s) feed
// URL or the path of a saved feed file.
func Load(ctx context.Context, src string) ([]string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return Fetch(ctx, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a feed document, such as an exported wishlist file, and
// returns its product links.
func Parse(r io.Reader) ([]string, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return links(feed), nil
}

// links returns each entry's link in feed order, without duplicates.
func links(feed *gofeed.Feed) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if link == "" {
			link = strings.TrimSpace(item.GUID)
			if !strings.HasPrefix(link, "http") {
				continue
			}
		}
		if seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}
