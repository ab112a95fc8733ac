// Package extract turns a rendered product page into a structured record.
//
// Fields are resolved through a fixed chain of tiers: embedded schema.org
// Product data first, then an availability meta attribute, then a heuristic
// scan of the visible page. A field resolved by an earlier tier is never
// overwritten by a later one.
package extract

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bryan-buckman/pricewatch/internal/availability"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

var (
	// ErrNoData means neither a name nor a price could be identified.
	ErrNoData = errors.New("no product data")
	// ErrBotChallenge is returned for automated-challenge interstitials.
	ErrBotChallenge = fmt.Errorf("%w: bot challenge page", ErrNoData)
	// ErrCoercion means a resolved price is not a number.
	ErrCoercion = errors.New("price is not numeric")
)

// Record is the structured result of one extraction.
type Record struct {
	Name         string
	RawPrice     string // price token as found on the page
	Currency     string
	Availability model.Availability
}

// InStock collapses the tri-state availability to a boolean:
// only a confirmed in-stock signal is true, unknown reads as false.
func (r Record) InStock() bool {
	return r.Availability == model.InStock
}

// Price coerces the raw price token to a number. It returns nil and no error
// when no price was found, and nil with ErrCoercion when the token is not numeric.
func (r Record) Price() (*float64, error) {
	if r.RawPrice == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(r.RawPrice), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil, fmt.Errorf("%w: %q", ErrCoercion, r.RawPrice)
	}
	return &v, nil
}

var (
	challengeTitles  = []string{"just a moment", "attention required"}
	challengeMarkers = []string{"__cf_chl_", "cf-browser-verification"}
)

// Extract parses rendered HTML into a Record. It returns ErrNoData (or
// ErrBotChallenge, which wraps it) when the page yields neither a name nor a price.
// The result depends only on the input document.
func Extract(html string) (Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Record{}, fmt.Errorf("%w: parse html: %v", ErrNoData, err)
	}

	if isChallenge(doc, html) {
		return Record{}, ErrBotChallenge
	}

	var rec Record

	// Tier 1: schema.org Product data.
	for _, p := range productObjects(doc) {
		p.mergeInto(&rec)
	}

	// Tier 2: availability meta attribute.
	if !rec.Availability.Known() {
		rec.Availability = metaAvailability(doc)
	}

	// Tier 3: visible page heuristics.
	if !rec.Availability.Known() {
		rec.Availability = heuristicAvailability(doc)
	}

	if rec.Name == "" {
		rec.Name = fallbackName(doc)
	}

	if rec.Name == "" && rec.RawPrice == "" {
		return Record{}, ErrNoData
	}
	return rec, nil
}

func isChallenge(doc *goquery.Document, html string) bool {
	title := strings.ToLower(doc.Find("title").First().Text())
	for _, t := range challengeTitles {
		if strings.Contains(title, t) {
			return true
		}
	}
	lower := strings.ToLower(html)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func metaAvailability(doc *goquery.Document) model.Availability {
	if meta := doc.Find("meta[itemprop='availability']").First(); meta.Length() > 0 {
		return availability.Normalize(meta.AttrOr("content", ""))
	}
	if link := doc.Find("link[itemprop='availability']").First(); link.Length() > 0 {
		return availability.Normalize(link.AttrOr("href", ""))
	}
	return model.AvailabilityUnknown
}

func fallbackName(doc *goquery.Document) string {
	for _, sel := range []string{"meta[property='og:title']", "meta[name='twitter:title']"} {
		if name := cleanText(doc.Find(sel).First().AttrOr("content", "")); name != "" {
			return name
		}
	}
	h := doc.Find("h1, .product-title, [data-test='product-title']").First()
	return cleanText(h.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
