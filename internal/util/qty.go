package util

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	numberPattern   = regexp.MustCompile(`(\d{1,3}(?:[\s.,]\d{3})+|\d+(?:[.,]\d+)?)`)
	thousandsDot    = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	thousandsComma  = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	thousandsSpaced = regexp.MustCompile(`^\d{1,3}(?:\s\d{3})+$`)
)

// ParseQty reads the first number in a quantity cell ("1,000", "2.5 ea",
// "12 pcs"). It returns nil when the cell holds no number.
func ParseQty(input string) *decimal.Decimal {
	line := strings.ReplaceAll(input, "\u00A0", " ")
	token := numberPattern.FindString(line)
	if token == "" {
		return nil
	}

	parsed, err := decimal.NewFromString(normalizeNumericToken(strings.TrimSpace(token)))
	if err != nil {
		return nil
	}
	return &parsed
}

func normalizeNumericToken(token string) string {
	if thousandsSpaced.MatchString(token) {
		return reSpaces.ReplaceAllString(token, "")
	}
	if thousandsDot.MatchString(token) {
		return strings.ReplaceAll(token, ".", "")
	}
	if thousandsComma.MatchString(token) {
		return strings.ReplaceAll(token, ",", "")
	}
	if strings.Contains(token, ",") && !strings.Contains(token, ".") {
		return strings.ReplaceAll(token, ",", ".")
	}
	return token
}
