// Package render fetches product pages over HTTP.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultUserAgent is sent when none is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

// ErrEmptyPage is returned when a page responds without a body.
var ErrEmptyPage = errors.New("empty response body")

// Options configures the HTTP renderer.
type Options struct {
	UserAgent string
	Timeout   time.Duration
}

// Renderer fetches pages with a shared colly collector. Cookies persist
// across requests for the lifetime of the renderer.
type Renderer struct {
	base *colly.Collector
}

// New creates a renderer.
func New(opts Options) *Renderer {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.Timeout)
	return &Renderer{base: c}
}

// Render returns the page markup at url. Non-2xx responses, transport
// errors and ctx expiry are all reported as errors.
//
// colly has no per-request context, so when ctx expires Render returns at
// once but the underlying request runs on until Options.Timeout and its
// response is discarded. Keep Timeout no longer than the caller's deadline.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	// Clones share the HTTP backend and cookie jar but not callbacks.
	c := r.base.Clone()
	c.OnRequest(func(req *colly.Request) {
		req.Headers.Set("Accept", "text/html,application/xhtml+xml")
		req.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	var body []byte
	c.OnResponse(func(resp *colly.Response) {
		body = resp.Body
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("render %s: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("render %s: %w", url, err)
		}
	}
	if len(body) == 0 {
		return "", fmt.Errorf("render %s: %w", url, ErrEmptyPage)
	}
	return string(body), nil
}
