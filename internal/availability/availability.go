// Package availability maps raw stock signals to a tri-state value.
package availability

import (
	"strings"

	"github.com/bryan-buckman/pricewatch/internal/model"
)

// outOfStockMarkers are matched after case folding and removing hyphens and spaces.
var outOfStockMarkers = []string{
	"outofstock",
	"soldout",
	"preorder",
	"backorder",
	"discontinued",
	"unavailable",
}

// Normalize classifies a raw availability string or schema.org URI.
// Anything it does not recognize is unknown.
func Normalize(raw string) model.Availability {
	v := fold(raw)
	if v == "" {
		return model.AvailabilityUnknown
	}
	if strings.Contains(v, "instock") {
		return model.InStock
	}
	for _, m := range outOfStockMarkers {
		if strings.Contains(v, m) {
			return model.OutOfStock
		}
	}
	return model.AvailabilityUnknown
}

func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}
