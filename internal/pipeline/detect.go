package pipeline

import (
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"porecon/internal"
)

// supplierKeys are the labels a PO header uses in front of the supplier
// name. When several are present the one listed last wins.
var supplierKeys = []string{
	"Vendor",
	"Supplier",
	"Provider",
	"From",
	"Sold By",
	"Remit To",
	"Seller",
}

var (
	supplierKeyMatcher = ahocorasick.NewStringMatcher(lowerAll(supplierKeys))
	supplierPatterns   = compileSupplierPatterns(supplierKeys)
)

func compileSupplierPatterns(keys []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(keys))
	for i, key := range keys {
		out[i] = regexp.MustCompile(`(?im)\b` + regexp.QuoteMeta(key) + `\b[ \t]*:?[ \t]*(\S.*?)(?:[ \t]{2,}|$)`)
	}
	return out
}

// DetectSupplier looks for a supplier label in the header text of a PO and
// returns the value that follows it, or UnknownSupplier. Cells on one line
// are expected to be separated by at least two spaces.
func DetectSupplier(headerText string) string {
	hits := supplierKeyMatcher.MatchThreadSafe([]byte(strings.ToLower(headerText)))
	if len(hits) == 0 {
		return internal.UnknownSupplier
	}

	present := make(map[int]bool, len(hits))
	for _, h := range hits {
		present[h] = true
	}

	supplier := internal.UnknownSupplier
	for i, re := range supplierPatterns {
		if !present[i] {
			continue
		}
		m := re.FindStringSubmatch(headerText)
		if m == nil {
			continue
		}
		if name := strings.TrimSpace(m[1]); name != "" {
			supplier = name
		}
	}
	return supplier
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
