package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PriceInfo is the first price found on a page.
type PriceInfo struct {
	Price    *float64
	Currency string
}

var (
	priceClassRe = regexp.MustCompile(`(?i)price`)
	priceTokenRe = regexp.MustCompile(`[$£€]?\s*(\d+(?:[.,]\d{2})?)`)
)

// priceSelectors are tried in order; only the first element of each is inspected.
var priceSelectors = []func(doc *goquery.Document) *goquery.Selection{
	func(doc *goquery.Document) *goquery.Selection { return firstClassMatch(doc, priceClassRe) },
	func(doc *goquery.Document) *goquery.Selection { return doc.Find(`[itemprop="price"]`).First() },
	func(doc *goquery.Document) *goquery.Selection { return doc.Find("[data-price]").First() },
}

// ExtractPrice returns the first currency-like amount from price-bearing markup. Multiple
// conflicting prices on a page are not reconciled.
func ExtractPrice(doc *goquery.Document) PriceInfo {
	if doc == nil {
		return PriceInfo{}
	}
	for _, find := range priceSelectors {
		el := find(doc)
		if el.Length() == 0 {
			continue
		}
		text := joinedText(el, "")
		m := priceTokenRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		var out PriceInfo
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
			out.Price = &v
		}
		out.Currency = currencyOf(text)
		return out
	}
	return PriceInfo{}
}

func currencyOf(text string) string {
	switch {
	case strings.Contains(text, "$"):
		return "USD"
	case strings.Contains(text, "£"):
		return "GBP"
	case strings.Contains(text, "€"):
		return "EUR"
	}
	return ""
}
