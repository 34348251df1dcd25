// Package currency implements the daemon's closed set of supported
// currencies and their Euro conversion, mirroring currency.c's
// currency_table: a small fixed list of codes, each with a decimal-digit
// count and a mutable Euro exchange rate.
package currency

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// entry is one row of the currency table.
type entry struct {
	name      string
	decDigits int
	desc      string
	rate      float64 // exchange rate to Euro; 0 means "unknown"
}

// RateSource is the external boundary this package consumes for exchange
// rates: something that can produce a fresh rate for a currency code, e.g.
// FileSource, which parses the cron-refreshed exchange-rate file. Reload
// reads a RateSource and applies each of its rates through SetRate.
type RateSource interface {
	// Rates returns the currently known rate for every currency it has an
	// opinion about, keyed by uppercase ISO code.
	Rates() (map[string]float64, error)
}

// Table is the concurrency-safe currency table. The zero value is not
// usable; use New.
type Table struct {
	mu      sync.RWMutex
	entries []entry
	onRate  func(currency string, rate float64)
}

// New creates the table seeded with the daemon's closed currency set. EUR
// is always first and always has rate 1.0, matching the original's "must
// be the first entry" comment. onRate, if non-nil, is invoked whenever
// SetRate actually changes a rate — the daemon wires this to the journal's
// exchange-rate record.
func New(onRate func(currency string, rate float64)) *Table {
	return &Table{
		entries: []entry{
			{name: "EUR", decDigits: 2, desc: "Euro", rate: 1.0},
			{name: "USD", decDigits: 2, desc: "US Dollar"},
			{name: "GBP", decDigits: 2, desc: "British Pound"},
			{name: "JPY", decDigits: 0, desc: "Yen"},
		},
		onRate: onRate,
	}
}

func (t *Table) find(code string) int {
	for i := range t.entries {
		if strings.EqualFold(t.entries[i].name, code) {
			return i
		}
	}
	return -1
}

// Valid reports whether code names a supported currency and, if so, returns
// the number of digits after its decimal point.
func (t *Table) Valid(code string) (decDigits int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.find(code)
	if i < 0 {
		return 0, false
	}
	return t.entries[i].decDigits, true
}

// Codes returns the supported currency codes in table order (EUR first).
func (t *Table) Codes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.name
	}
	return out
}

// Info returns the name, description and last-known Euro rate for the
// seq'th entry (0-based, table order), or ok=false once seq runs past the
// end — the Go equivalent of get_currency_info's NULL-terminated iteration.
func (t *Table) Info(seq int) (code, desc string, rate float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if seq < 0 || seq >= len(t.entries) {
		return "", "", 0, false
	}
	e := t.entries[seq]
	return e.name, e.desc, e.rate, true
}

// SetRate updates the known Euro exchange rate for code, ignoring unknown
// currencies and non-positive or implausible rates (matching the original
// parser's "0 < rate <= 10000" sanity bound). Returns whether it changed
// anything.
func (t *Table) SetRate(code string, rate float64) bool {
	if rate <= 0.0 || rate > 10000.0 {
		return false
	}
	t.mu.Lock()
	i := t.find(code)
	if i < 0 || t.entries[i].rate == rate {
		t.mu.Unlock()
		return false
	}
	t.entries[i].rate = rate
	name := t.entries[i].name
	t.mu.Unlock()

	if t.onRate != nil {
		t.onRate(name, rate)
	}
	return true
}

// Reload replaces every known rate with the ones src currently reports,
// leaving currencies src has no opinion on untouched. EUR's rate is never
// altered: the original table hardcodes it to 1.0 and the loader skips it
// by starting its scan at index 1.
func (t *Table) Reload(src RateSource) error {
	rates, err := src.Rates()
	if err != nil {
		return fmt.Errorf("currency: reloading exchange rates: %w", err)
	}
	for code, rate := range rates {
		if strings.EqualFold(code, "EUR") {
			continue
		}
		t.SetRate(code, rate)
	}
	return nil
}

// ConvertToEuro converts amount (a decimal string in currency) to a Euro
// amount string with 2 decimal digits, matching convert_currency's
// rounding. Returns "" if the currency's rate isn't known or amount isn't a
// valid decimal number.
func (t *Table) ConvertToEuro(currencyCode, amount string) string {
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return ""
	}

	t.mu.RLock()
	i := t.find(currencyCode)
	var rate float64
	if i >= 0 {
		rate = t.entries[i].rate
	}
	t.mu.RUnlock()
	if rate == 0 {
		return ""
	}

	if rate != 1.0 {
		value = value / rate
	}
	return fmt.Sprintf("%.2f", value)
}
