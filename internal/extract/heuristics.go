package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/bryan-buckman/pricewatch/internal/model"
)

var (
	soldOutCopy    = regexp.MustCompile(`(?i)\b(sold\s*out|out\s*of\s*stock|currently\s*unavailable|no\s*longer\s*available)\b`)
	affirmativeCTA = regexp.MustCompile(`(?i)\b(add\s*to\s*(bag|cart)|buy\s*now|checkout)\b`)
	negativeCTA    = regexp.MustCompile(`(?i)\b(sold\s*out|out\s*of\s*stock|notify\s*me|coming\s*soon|unavailable)\b`)
)

const (
	interactiveSelector = "button, [role='button'], a, [data-test], [data-testid]"

	// Size and variant pickers; shops disable the options that are out of stock.
	enabledSizeSelector = "button[data-size]:not([disabled]):not([aria-disabled='true']), " +
		"button[data-test*='size']:not([disabled]):not([aria-disabled='true']), " +
		"button[data-testid*='size']:not([disabled]):not([aria-disabled='true']), " +
		"[class*='size'] li:not(.disabled):not(.is-disabled) button:not([disabled])"
)

// heuristicAvailability reads stock state from the page UI.
func heuristicAvailability(doc *goquery.Document) model.Availability {
	if soldOutCopy.MatchString(visibleText(doc.Find("body"))) {
		return model.OutOfStock
	}

	var labels []string
	doc.Find(interactiveSelector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.ToLower(visibleText(s)); t != "" {
			labels = append(labels, t)
		}
	})
	joined := strings.Join(labels, " | ")
	if affirmativeCTA.MatchString(joined) {
		return model.InStock
	}
	if negativeCTA.MatchString(joined) {
		return model.OutOfStock
	}

	if doc.Find(enabledSizeSelector).Length() > 0 {
		return model.InStock
	}
	return model.AvailabilityUnknown
}

var invisibleElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// visibleText joins the rendered text of a selection with single spaces,
// skipping script-like elements.
func visibleText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if invisibleElements[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return cleanText(strings.Join(parts, " "))
}
