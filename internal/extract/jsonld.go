package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bryan-buckman/pricewatch/internal/availability"
)

// product is one schema.org Product object from an ld+json block.
type product map[string]interface{}

// productObjects returns every Product object embedded in the page, in
// document order. Blocks that fail to decode are skipped.
func productObjects(doc *goquery.Document) []product {
	var out []product
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		dec := json.NewDecoder(strings.NewReader(s.Text()))
		dec.UseNumber()
		var data interface{}
		if err := dec.Decode(&data); err != nil {
			return
		}
		out = collectProducts(data, out)
	})
	return out
}

// collectProducts walks top-level objects, lists and @graph containers.
func collectProducts(v interface{}, out []product) []product {
	switch t := v.(type) {
	case []interface{}:
		for _, e := range t {
			out = collectProducts(e, out)
		}
	case map[string]interface{}:
		if graph, ok := t["@graph"]; ok {
			return collectProducts(graph, out)
		}
		if isProductType(t["@type"]) {
			out = append(out, product(t))
		}
	}
	return out
}

func isProductType(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == "Product"
	case []interface{}:
		for _, e := range t {
			if s, ok := e.(string); ok && s == "Product" {
				return true
			}
		}
	}
	return false
}

// mergeInto fills the record's still-empty fields from this product.
func (p product) mergeInto(rec *Record) {
	if rec.Name == "" {
		rec.Name = cleanText(stringValue(p["name"]))
	}
	var offers []map[string]interface{}
	switch o := p["offers"].(type) {
	case map[string]interface{}:
		offers = append(offers, o)
	case []interface{}:
		for _, e := range o {
			if m, ok := e.(map[string]interface{}); ok {
				offers = append(offers, m)
			}
		}
	}
	for _, off := range offers {
		if rec.RawPrice == "" {
			rec.RawPrice = scalarValue(off["price"])
		}
		if rec.Currency == "" {
			rec.Currency = strings.TrimSpace(stringValue(off["priceCurrency"]))
		}
		if !rec.Availability.Known() {
			rec.Availability = availability.Normalize(stringValue(off["availability"]))
		}
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// scalarValue renders a JSON string or number; anything else is absent.
func scalarValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}
