// Package money parses free-text monetary amounts with an optional currency
// marker. Parsing is best effort: a missing currency yields CurrencyUnknown,
// while a missing numeric part is a hard error the caller must handle.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-like currency code.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	CHF Currency = "CHF"
	GBP Currency = "GBP"

	// CurrencyUnknown marks an amount whose currency could not be detected.
	// It is a sentinel, not an error: callers substitute a per-user default.
	CurrencyUnknown Currency = "X"
)

// ErrNoAmount is returned when no numeric part can be extracted from the input.
var ErrNoAmount = errors.New("no numeric amount found")

// Amount is a parsed monetary value rounded to 2 decimal places.
// A negative value is an expense, a positive one an income.
type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func (a Amount) String() string {
	if a.Currency == CurrencyUnknown {
		return a.Value.StringFixed(2)
	}
	return fmt.Sprintf("%s %s", a.Value.StringFixed(2), a.Currency)
}

// IsExpense reports whether the amount is negative.
func (a Amount) IsExpense() bool {
	return a.Value.IsNegative()
}

type currencyInfo struct {
	code    Currency
	symbol  string
	name    string
	aliases []string
}

// Table order decides ties for code and symbol detection; aliases are matched
// by their position in the input instead.
var currencies = []currencyInfo{
	{EUR, "€", "Euro", []string{"E", "e", "€", "eur", "euro"}},
	{USD, "$", "US Dollar", []string{"U", "u", "$", "usd", "dollar"}},
	{CHF, "CHF", "Swiss Franc", []string{"C", "c", "chf", "franc", "Sfr.", "sfr.", "Sfr", "sfr"}},
	{GBP, "£", "British Pound", []string{"G", "g", "£", "gbp", "pound", "quid"}},
}

// Alias detection has to pick the marker closest to the start of the input,
// not the first currency in the table, so all aliases go into one alternation
// and the match is resolved back to its currency. Longer aliases come first in
// the pattern so "euro" wins over "e" at the same position.
var (
	aliasRe       *regexp.Regexp
	aliasCurrency = map[string]Currency{}
)

func init() {
	var aliases []string
	for _, ci := range currencies {
		for _, a := range ci.aliases {
			aliases = append(aliases, a)
			aliasCurrency[a] = ci.code
		}
	}
	sort.SliceStable(aliases, func(i, j int) bool {
		return len(aliases[i]) > len(aliases[j])
	})
	quoted := make([]string, len(aliases))
	for i, a := range aliases {
		quoted[i] = regexp.QuoteMeta(a)
	}
	aliasRe = regexp.MustCompile(strings.Join(quoted, "|"))
}

// Currencies returns the supported currency codes.
func Currencies() []Currency {
	codes := make([]Currency, len(currencies))
	for i, c := range currencies {
		codes[i] = c.code
	}
	return codes
}

// Symbol returns the display symbol of a currency, or its code when it has no
// dedicated symbol.
func Symbol(c Currency) string {
	for _, ci := range currencies {
		if ci.code == c {
			return ci.symbol
		}
	}
	return string(c)
}

// ParseCurrency resolves a currency code, symbol or alias to its canonical
// code. It returns CurrencyUnknown when nothing matches.
func ParseCurrency(s string) Currency {
	s = strings.TrimSpace(s)
	if s == "" {
		return CurrencyUnknown
	}
	upper := strings.ToUpper(s)
	for _, ci := range currencies {
		if upper == string(ci.code) || s == ci.symbol {
			return ci.code
		}
		for _, a := range ci.aliases {
			if s == a {
				return ci.code
			}
		}
	}
	return CurrencyUnknown
}

// Parse extracts the numeric value and the currency from a free-text amount,
// e.g. "-1,000.01 €" or "£1'009". The decimal separator is resolved from the
// trailing digit group: exactly three trailing digits after a separator are a
// thousands group, not a fraction. The literal "free" parses as zero.
func Parse(text string) (Amount, error) {
	cur := extractCurrency(text)

	num := extractNumber(text)
	if num == "" {
		return Amount{Currency: cur}, ErrNoAmount
	}

	value, err := parseNumber(num)
	if err != nil {
		return Amount{Currency: cur}, err
	}

	return Amount{Value: value.Round(2), Currency: cur}, nil
}

// extractCurrency searches the text for a currency marker: first a 3-letter
// code in any case, then a symbol, then the alias occurring earliest in the
// text.
func extractCurrency(text string) Currency {
	if text == "" {
		return CurrencyUnknown
	}

	upper := strings.ToUpper(text)
	for _, ci := range currencies {
		if strings.Contains(upper, string(ci.code)) {
			return ci.code
		}
	}
	for _, ci := range currencies {
		if strings.Contains(text, ci.symbol) {
			return ci.code
		}
	}
	if a := aliasRe.FindString(text); a != "" {
		return aliasCurrency[a]
	}

	return CurrencyUnknown
}

var (
	spacesRe = regexp.MustCompile(`[\s\x{00A0}]+`)

	// "1 000€50": euro sign used as the decimal marker.
	euroDecimalRe = regexp.MustCompile(`(\d[\d\s.,]*?)\s*€\s*(\d{1,2})(?:$|[^\d])`)

	// A number, possibly signed, with thousand/decimal separators.
	numberRe = regexp.MustCompile(`(-?\.?\d[\d\s.,']*)`)
)

// extractNumber pulls the numeric substring out of an amount string.
// Adapted from the price-parser heuristics.
func extractNumber(amount string) string {
	amount = spacesRe.ReplaceAllString(amount, " ")

	if strings.Count(amount, "€") == 1 {
		if m := euroDecimalRe.FindStringSubmatch(amount); m != nil {
			return strings.ReplaceAll(m[1], " ", "") + "€" + m[2]
		}
	}

	if m := numberRe.FindStringSubmatch(amount); m != nil {
		price := strings.TrimRight(m[1], ",.")
		if strings.Count(price, ".") == 1 {
			return strings.TrimSpace(price)
		}
		return strings.TrimSpace(strings.TrimLeft(price, ",."))
	}

	if strings.Contains(strings.ToLower(amount), "free") {
		return "0"
	}

	return ""
}

// parseNumber resolves the decimal separator and converts the cleaned string
// to a decimal value.
func parseNumber(number string) (decimal.Decimal, error) {
	number = strings.NewReplacer(" ", "", "'", "").Replace(strings.TrimSpace(number))

	sep := decimalSeparator(number)

	switch sep {
	case 0:
		number = strings.NewReplacer(".", "", ",", "").Replace(number)
	case '.':
		number = strings.ReplaceAll(number, ",", "")
	case ',':
		number = strings.ReplaceAll(number, ".", "")
		number = strings.ReplaceAll(number, ",", ".")
	default: // '€'
		number = strings.NewReplacer(".", "", ",", "").Replace(number)
		number = strings.ReplaceAll(number, "€", ".")
	}

	d, err := decimal.NewFromString(number)
	if err != nil {
		return decimal.Decimal{}, ErrNoAmount
	}
	return d, nil
}

// decimalSeparator returns the rune acting as the decimal separator, or 0 when
// the number has none. A separator followed by exactly three digits is a
// thousands separator: "1,000" is one thousand, "1,00" is one.
func decimalSeparator(number string) rune {
	idx := strings.LastIndexAny(number, ".,€")
	if idx < 0 {
		return 0
	}

	tail := number[idx:]
	sep, size := utf8.DecodeRuneInString(tail)
	digits := len(tail) - size
	for _, r := range tail[size:] {
		if r < '0' || r > '9' {
			return 0
		}
	}
	if digits == 0 || digits == 3 {
		return 0
	}

	return sep
}
