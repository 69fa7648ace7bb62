package fields

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xhad/contractiq/internal/models"
)

var currencyAliases = map[string]string{
	"$":       "USD",
	"US$":     "USD",
	"USD":     "USD",
	"DOLLAR":  "USD",
	"DOLLARS": "USD",
	"€":       "EUR",
	"EUR":     "EUR",
	"EURO":    "EUR",
	"EUROS":   "EUR",
	"£":       "GBP",
	"GBP":     "GBP",
	"POUND":   "GBP",
	"POUNDS":  "GBP",
	"¥":       "JPY",
	"JPY":     "JPY",
	"CAD":     "CAD",
	"C$":      "CAD",
	"AUD":     "AUD",
	"A$":      "AUD",
	"CHF":     "CHF",
	"INR":     "INR",
	"₹":       "INR",
}

const (
	currencyPrefix = `(US\$|C\$|A\$|\$|€|£|¥|₹|\b(?:USD|EUR|GBP|JPY|CAD|AUD|CHF|INR)\b)`
	amountPattern  = `(\d+(?:[.,']\d+| \d{3}\b)*)`
	scalePattern   = `(?:\s*(billion|million|thousand|bn|mm|m|k)\b)?`
	currencySuffix = `(?:\s*\b(USD|EUR|GBP|JPY|CAD|AUD|CHF|INR|dollars?|euros?|pounds?)\b)?`
)

var (
	prefixedMoney = regexp.MustCompile(`(?i)` + currencyPrefix + `\s?` + amountPattern + scalePattern + currencySuffix)
	suffixedMoney = regexp.MustCompile(`(?i)` + amountPattern + scalePattern + `\s*\b(USD|EUR|GBP|JPY|CAD|AUD|CHF|INR|dollars?|euros?|pounds?)\b`)
)

var scales = map[string]float64{
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"mm":       1e6,
	"million":  1e6,
	"bn":       1e9,
	"billion":  1e9,
}

// NormalizeCurrency maps a symbol, code or currency word to its ISO code.
func NormalizeCurrency(s string) (string, bool) {
	code, ok := currencyAliases[strings.ToUpper(strings.TrimSpace(s))]
	return code, ok
}

// ParseMoney finds the first monetary amount in s that carries an explicit
// currency. Amounts with conflicting currency markers or ambiguous digit
// grouping are reported as not found.
func ParseMoney(s string) (models.LiabilityCap, bool) {
	type hit struct {
		start                   int
		currency, amount, scale string
		suffix                  string
	}
	var candidates []hit
	if m := prefixedMoney.FindStringSubmatchIndex(s); m != nil {
		candidates = append(candidates, hit{
			start:    m[0],
			currency: sub(s, m, 1),
			amount:   sub(s, m, 2),
			scale:    sub(s, m, 3),
			suffix:   sub(s, m, 4),
		})
	}
	if m := suffixedMoney.FindStringSubmatchIndex(s); m != nil {
		candidates = append(candidates, hit{
			start:    m[0],
			amount:   sub(s, m, 1),
			scale:    sub(s, m, 2),
			currency: sub(s, m, 3),
		})
	}
	if len(candidates) == 0 {
		return models.LiabilityCap{}, false
	}
	h := candidates[0]
	if len(candidates) == 2 && candidates[1].start < h.start {
		h = candidates[1]
	}

	code, ok := NormalizeCurrency(h.currency)
	if !ok {
		return models.LiabilityCap{}, false
	}
	if h.suffix != "" {
		other, ok := NormalizeCurrency(h.suffix)
		if !ok || other != code {
			return models.LiabilityCap{}, false
		}
	}

	amount, ok := ParseAmount(h.amount)
	if !ok {
		return models.LiabilityCap{}, false
	}
	if h.scale != "" {
		amount *= scales[strings.ToLower(h.scale)]
	}
	return models.LiabilityCap{Amount: amount, Currency: code}, true
}

func sub(s string, m []int, group int) string {
	if m[2*group] < 0 {
		return ""
	}
	return s[m[2*group]:m[2*group+1]]
}

// ParseAmount normalizes thousands and decimal separators in both the
// 1,234.56 and 1.234,56 conventions.
func ParseAmount(s string) (float64, bool) {
	s = strings.NewReplacer(" ", "", "'", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	var intPart, frac string
	var sep string
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastDot > lastComma {
			intPart, frac, sep = s[:lastDot], s[lastDot+1:], ","
		} else {
			intPart, frac, sep = s[:lastComma], s[lastComma+1:], "."
		}
		if strings.ContainsAny(frac, ".,") || len(frac) == 0 {
			return 0, false
		}
	case lastComma >= 0:
		intPart, frac, sep = splitSingle(s, ",")
	case lastDot >= 0:
		intPart, frac, sep = splitSingle(s, ".")
	default:
		intPart = s
	}
	if intPart == "" && frac == "" {
		return 0, false
	}

	if sep != "" && strings.Contains(intPart, sep) {
		groups := strings.Split(intPart, sep)
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return 0, false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return 0, false
			}
		}
		intPart = strings.Join(groups, "")
	}

	num := intPart
	if frac != "" {
		num += "." + frac
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// splitSingle handles amounts with only one kind of separator. Repeated
// separators are thousands groups; a single one is a decimal mark when
// followed by one or two digits and a thousands mark when followed by three
// digits after a group of at most three. Anything else is ambiguous.
func splitSingle(s, mark string) (intPart, frac, groupSep string) {
	if strings.Count(s, mark) > 1 {
		return s, "", mark
	}
	i := strings.Index(s, mark)
	tail := s[i+1:]
	switch {
	case len(tail) >= 1 && len(tail) <= 2:
		return s[:i], tail, ""
	case len(tail) == 3 && i >= 1 && i <= 3 && mark == ",":
		return s, "", mark
	}
	return "", "", ""
}
