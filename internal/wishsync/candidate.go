package wishsync

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
)

const DefaultCurrency = "USD"

// Candidate is one product the extractor found on a page. It is never persisted
// directly: usable candidates become Items through reconciliation.
type Candidate struct {
	Valid    bool     `json:"valid"`
	Name     string   `json:"name,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"priceCurrency,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
	URL      string   `json:"url,omitempty"`
}

func ValidName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// ValidPrice accepts a missing price or any finite, non-negative one.
func ValidPrice(price *float64) bool {
	if price == nil {
		return true
	}
	p := *price
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0
}

// ValidCurrency accepts an empty code or a recognized three letter ISO 4217 code
// in any case.
func ValidCurrency(code string) bool {
	if code == "" {
		return true
	}
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(strings.ToUpper(code))
	return err == nil
}

// Validate reports whether c is usable and returns it normalized: trimmed name
// and an uppercase currency, defaulted when missing.
func Validate(c Candidate) (Candidate, bool) {
	c.Currency = strings.TrimSpace(c.Currency)
	if !c.Valid || !ValidName(c.Name) || !ValidPrice(c.Price) || !ValidCurrency(c.Currency) {
		return Candidate{}, false
	}

	c.Name = strings.TrimSpace(c.Name)
	c.Currency = strings.ToUpper(c.Currency)
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}

	return c, true
}

// Usable drops every candidate that fails Validate and normalizes the rest.
func Usable(cs []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if c, ok := Validate(c); ok {
			out = append(out, c)
		}
	}

	return out
}
