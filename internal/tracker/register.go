package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bryan-buckman/pricewatch/internal/database"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

// ErrInvalidURL is returned for URLs that cannot be tracked.
var ErrInvalidURL = errors.New("invalid product url")

// Register starts tracking rawURL. The new item has status new and is due
// immediately. Returns database.ErrDuplicateURL if the URL is already tracked.
func Register(ctx context.Context, store database.Store, rawURL string, checkEveryMinutes int, now time.Time) (*model.Item, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if _, err := store.GetItemByURL(ctx, rawURL); err == nil {
		return nil, database.ErrDuplicateURL
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", rawURL, err)
	}

	if checkEveryMinutes <= 0 {
		checkEveryMinutes = model.DefaultCheckEveryMinutes
	}
	now = now.UTC()
	item := &model.Item{
		URL:               rawURL,
		Site:              SiteTag(u.Hostname()),
		CheckEveryMinutes: checkEveryMinutes,
		NextCheckAt:       &now,
		Status:            model.StatusNew,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

var secondLevelLabels = map[string]bool{"co": true, "com": true, "net": true, "org": true, "ac": true, "gov": true}

// SiteTag derives a short site name from a host, e.g. www.ssense.com -> ssense.
func SiteTag(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	parts := strings.Split(host, ".")
	n := len(parts)
	switch {
	case n >= 3 && len(parts[n-1]) == 2 && secondLevelLabels[parts[n-2]]:
		return parts[n-3]
	case n >= 2:
		return parts[n-2]
	}
	return host
}
