package tracker

import (
	"github.com/bryan-buckman/pricewatch/internal/extract"
	"github.com/bryan-buckman/pricewatch/internal/model"
)

// Transition records what one processing attempt did to an item.
type Transition struct {
	From        model.Status
	To          model.Status
	AdoptedName bool
	Price       *float64 // coerced price from this attempt; nil if absent or not numeric
	PriceErr    error    // set when a resolved price failed coercion
}

// NameChanged reports whether the page now names a different product.
func (t Transition) NameChanged() bool {
	return t.To == model.StatusChanged
}

// Apply moves item to its next status. rec is nil when the fetch failed or
// the page yielded no data, which always lands in StatusError.
//
// A first resolved name is adopted without counting as a change. A resolved
// price replaces the current price; one that is not numeric clears it.
func Apply(item *model.Item, rec *extract.Record) Transition {
	t := Transition{From: item.Status}
	if rec == nil {
		t.To = model.StatusError
		item.Status = t.To
		return t
	}

	if rec.Name != "" && item.Name != "" && rec.Name != item.Name {
		t.To = model.StatusChanged
	} else {
		t.To = model.StatusOK
	}

	if item.Name == "" && rec.Name != "" {
		item.Name = rec.Name
		t.AdoptedName = true
	}

	if rec.RawPrice != "" {
		t.Price, t.PriceErr = rec.Price()
		item.CurrentPrice = t.Price
	}

	item.Status = t.To
	return t
}
