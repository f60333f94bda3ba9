package pipeline

import (
	"context"
	"strings"

	"porecon/internal"
	"porecon/internal/catalog"
	"porecon/internal/util"
)

// Registry is the part of the product registry the matcher reads.
type Registry interface {
	SupplierHistory(ctx context.Context, supplier string) ([]internal.Mapping, error)
	Products(ctx context.Context) ([]internal.Product, error)
}

type MatchOptions struct {
	// Threshold is the minimum token-sort score (0-100) for a yellow match.
	Threshold int
	Fuzzy     bool
}

type Matcher struct {
	registry Registry
}

func NewMatcher(registry Registry) *Matcher {
	return &Matcher{registry: registry}
}

// FuzzyMatch returns one row per item, in item order. A SKU the supplier has
// used before is green with score 100. Otherwise the description is scored
// against every registry description; a best score at or above the threshold
// is yellow. Everything else is red with no warehouse code.
//
// Equal scores resolve to the lowest warehouse code. Scores are Indel based
// token-sort ratios rounded to the nearest integer.
func (m *Matcher) FuzzyMatch(ctx context.Context, items []internal.LineItem, supplier string, opts MatchOptions) ([]internal.MatchRow, error) {
	mappings, err := m.registry.SupplierHistory(ctx, supplier)
	if err != nil {
		return nil, err
	}
	history := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		history[strings.TrimSpace(mp.SupplierSKU)] = mp.WarehouseCode
	}

	var idx *catalog.Index
	rows := make([]internal.MatchRow, 0, len(items))
	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		desc := strings.TrimSpace(item.Description)
		row := internal.MatchRow{SKU: sku, Description: desc, Flag: internal.FlagRed}

		if code, ok := history[sku]; ok && sku != "" {
			row.WarehouseCode = util.StringPtr(code)
			row.Flag = internal.FlagGreen
			row.Score = 100
			rows = append(rows, row)
			continue
		}

		if opts.Fuzzy && desc != "" {
			if idx == nil {
				products, err := m.registry.Products(ctx)
				if err != nil {
					return nil, err
				}
				idx = catalog.BuildIndex(products)
			}
			if best, score, ok := idx.Best(desc); ok && score >= opts.Threshold {
				row.WarehouseCode = util.StringPtr(best.WarehouseCode)
				row.Flag = internal.FlagYellow
				row.Score = score
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GreenCheck reports whether no row is yellow or red. It is true for an
// empty slice.
func GreenCheck(rows []internal.MatchRow) bool {
	for _, r := range rows {
		if r.Flag == internal.FlagYellow || r.Flag == internal.FlagRed {
			return false
		}
	}
	return true
}
