package scorer

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatEuro renders an amount the French way: "1 234,56 €", with the cents
// dropped when they are zero.
func FormatEuro(v float64) string {
	return FormatNumber(v, 2) + " €"
}

// FormatNumber renders v with at most decimals fraction digits, a comma as
// decimal separator and spaces between thousands.
func FormatNumber(v float64, decimals int32) string {
	s := decimal.NewFromFloat(v).Round(decimals).StringFixed(decimals)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}

func formatPercent(v float64) string {
	return FormatNumber(v, 1) + " %"
}

var unitLabels = map[string]string{
	"m2":      "€/m²",
	"ml":      "€/ml",
	"unite":   "€/unité",
	"forfait": "€ (forfait)",
}

func formatUnitPrice(v float64, unit string) string {
	label, ok := unitLabels[unit]
	if !ok {
		label = "€"
	}
	return FormatNumber(v, 2) + " " + label
}
