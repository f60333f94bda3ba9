package catalog

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"porecon/internal"
	"porecon/internal/util"
)

// Index holds the registry descriptions pre-tokenized for token-sort
// scoring. Products are kept in warehouse code order, which is also the
// tie-break order for equal scores.
type Index struct {
	Products []internal.Product
	ByCode   map[string]internal.Product
	sorted   []string
}

func BuildIndex(products []internal.Product) *Index {
	ordered := make([]internal.Product, len(products))
	copy(ordered, products)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].WarehouseCode < ordered[j].WarehouseCode
	})

	idx := &Index{
		Products: ordered,
		ByCode:   make(map[string]internal.Product, len(ordered)),
		sorted:   make([]string, len(ordered)),
	}
	for i, p := range ordered {
		idx.ByCode[p.WarehouseCode] = p
		idx.sorted[i] = util.SortedTokens(p.Description)
	}
	return idx
}

func (idx *Index) Len() int {
	return len(idx.Products)
}

// Best returns the product whose description scores highest against
// description. Only a strictly higher score replaces the current best, so
// the first product in code order wins ties. ok is false when nothing scores
// above zero.
func (idx *Index) Best(description string) (best internal.Product, score int, ok bool) {
	query := util.SortedTokens(description)
	if query == "" {
		return internal.Product{}, 0, false
	}

	bestAt := -1
	for i, candidate := range idx.sorted {
		s := util.SortedRatio(query, candidate)
		if s > score {
			score = s
			bestAt = i
		}
	}
	if bestAt < 0 {
		return internal.Product{}, 0, false
	}
	return idx.Products[bestAt], score, true
}

// Suggest returns products whose description contains the characters of
// query in order, ignoring case and accents, closest first. Equal distances
// keep code order.
func (idx *Index) Suggest(query string, limit int) []internal.Product {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	descriptions := make([]string, len(idx.Products))
	for i, p := range idx.Products {
		descriptions[i] = p.Description
	}

	ranks := fuzzy.RankFindNormalizedFold(query, descriptions)
	sort.Stable(ranks)
	out := make([]internal.Product, 0, len(ranks))
	for _, r := range ranks {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, idx.Products[r.OriginalIndex])
	}
	return out
}
