package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"porecon/internal"
	"porecon/internal/util"
)

// Cell is a run of text on one line, positioned by its left and right edge.
type Cell struct {
	X     float64
	Right float64
	Text  string
}

// TextLine is one visual row of a page, cells ordered left to right.
type TextLine struct {
	Page  int
	Cells []Cell
}

func (l TextLine) Text() string {
	parts := make([]string, 0, len(l.Cells))
	for _, c := range l.Cells {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "  ")
}

type column int

const (
	colNone column = iota
	colQty
	colSKU
	colDescription
	colDrop
	colOther
)

var headerKeywords = []string{
	"sku", "qty", "quantity", "description", "desc", "unit price", "price",
	"unit", "total", "amount", "item", "ref", "part number", "pn", "cost",
}

var (
	headerMatcher = ahocorasick.NewStringMatcher(headerKeywords)

	qtyNames = set("qty", "quantity", "qty ordered", "quantity ordered", "ordered", "qnty")
	skuNames = set("sku", "part number", "part no", "part", "pn", "p/n", "ref", "reference",
		"item code", "item no", "item #", "part #", "product code", "code", "catalog no", "cat no")
	descNames = set("description", "desc", "item", "item description", "product",
		"product description", "details")
	otherNames = set("unit", "uom", "line", "no", "pos", "#", "um")
	dropWords  = []string{"price", "total", "amount", "cost"}

	summaryPrefixes = []string{"subtotal", "sub total", "total", "grand total", "tax", "vat", "shipping", "freight"}
	rePageFooter    = regexp.MustCompile(`(?i)^page\s+\d+(\s+of\s+\d+)?$`)
	reHeaderTrim    = regexp.MustCompile(`^[\s.:#*]+|[\s.:*]+$`)
)

func set(values ...string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func classifyHeader(text string) column {
	t := strings.ToLower(util.NormalizeSpaces(text))
	if t != "#" {
		t = reHeaderTrim.ReplaceAllString(t, "")
	}
	switch {
	case t == "":
		return colNone
	case qtyNames[t], strings.HasPrefix(t, "qty"), strings.HasPrefix(t, "quantity"):
		return colQty
	case skuNames[t]:
		return colSKU
	case descNames[t]:
		return colDescription
	case otherNames[t]:
		return colOther
	}
	for _, w := range dropWords {
		if strings.Contains(t, w) {
			return colDrop
		}
	}
	return colNone
}

type tableColumn struct {
	kind  column
	x     float64
	right float64
}

// headerColumns returns the table columns when line looks like a table
// header: at least two cells must name a known column and one of them must
// carry the SKU or the description.
func headerColumns(line TextLine) ([]tableColumn, bool) {
	if len(headerMatcher.MatchThreadSafe([]byte(strings.ToLower(line.Text())))) == 0 {
		return nil, false
	}

	cols := make([]tableColumn, 0, len(line.Cells))
	known, keyed := 0, false
	for _, c := range line.Cells {
		kind := classifyHeader(c.Text)
		if kind != colNone {
			known++
		}
		if kind == colSKU || kind == colDescription {
			keyed = true
		}
		cols = append(cols, tableColumn{kind: kind, x: c.X, right: c.Right})
	}
	if known < 2 || !keyed {
		return nil, false
	}

	// "Item" next to a real description column is the supplier's item code.
	descs, hasSKU := 0, false
	for _, col := range cols {
		descs += boolInt(col.kind == colDescription)
		hasSKU = hasSKU || col.kind == colSKU
	}
	if descs > 1 && !hasSKU {
		for i, c := range line.Cells {
			if strings.EqualFold(strings.TrimSpace(c.Text), "item") {
				cols[i].kind = colSKU
				break
			}
		}
	}
	return cols, true
}

// assign picks the column a cell belongs to: the one its span overlaps most,
// or the one with the nearest centre when it overlaps none.
func assign(cols []tableColumn, c Cell) int {
	best, bestOverlap := -1, 0.0
	for i, col := range cols {
		overlap := min(c.Right, col.right) - max(c.X, col.x)
		if overlap > bestOverlap {
			best, bestOverlap = i, overlap
		}
	}
	if best >= 0 {
		return best
	}

	center := (c.X + c.Right) / 2
	bestDist := 0.0
	for i, col := range cols {
		d := center - (col.x+col.right)/2
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isSummaryLine(line TextLine) bool {
	if len(line.Cells) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(line.Cells[0].Text))
	for _, p := range summaryPrefixes {
		if strings.HasPrefix(first, p) {
			return true
		}
	}
	return false
}

// BuildExtraction turns positioned text lines into the supplier and line
// items of a purchase order. Lines above the first table header on the first
// page form the header block searched for the supplier. Price, total, amount
// and cost columns are dropped; repeated headers, page footers and summary
// rows are skipped; a row with only a description continues the previous
// item's description.
func BuildExtraction(lines []TextLine) (internal.Extraction, error) {
	headerAt := make(map[int]int)
	firstHeader := -1
	for i, line := range lines {
		if _, ok := headerColumns(line); ok {
			if _, seen := headerAt[line.Page]; !seen {
				headerAt[line.Page] = i
			}
			if firstHeader < 0 {
				firstHeader = i
			}
		}
	}
	if firstHeader < 0 {
		return internal.Extraction{}, fmt.Errorf("%w: no table header found", ErrExtractionFailed)
	}

	headerText := make([]string, 0, firstHeader)
	firstPage := lines[firstHeader].Page
	for _, line := range lines[:firstHeader] {
		if line.Page == firstPage {
			headerText = append(headerText, line.Text())
		}
	}
	out := internal.Extraction{Supplier: DetectSupplier(strings.Join(headerText, "\n"))}

	var cols []tableColumn
	inTable := false
	lineNo := 0
	for i, line := range lines[firstHeader:] {
		i += firstHeader
		if found, ok := headerColumns(line); ok {
			cols = found
			inTable = true
			continue
		}
		if at, ok := headerAt[line.Page]; ok && i < at {
			continue
		}
		if i > 0 && lines[i-1].Page != line.Page {
			// Pages without their own header continue the previous table.
			_, ownHeader := headerAt[line.Page]
			inTable = !ownHeader && cols != nil
		}
		if !inTable || len(line.Cells) == 0 {
			continue
		}
		if rePageFooter.MatchString(strings.TrimSpace(line.Text())) {
			continue
		}
		if isSummaryLine(line) {
			inTable = false
			continue
		}

		row := readRow(cols, line)
		if row.sku == "" && row.qty == "" && row.description != "" && len(out.Items) > 0 {
			prev := &out.Items[len(out.Items)-1]
			prev.Description = util.NormalizeSpaces(prev.Description + " " + row.description)
			prev.RawRow = append(prev.RawRow, row.raw...)
			continue
		}
		if row.sku == "" && row.description == "" {
			continue
		}

		lineNo++
		out.Items = append(out.Items, internal.LineItem{
			LineNo:      lineNo,
			Qty:         util.ParseQty(row.qty),
			SKU:         row.sku,
			Description: row.description,
			RawRow:      row.raw,
		})
	}

	if len(out.Items) == 0 {
		return out, fmt.Errorf("%w: table has no line items", ErrExtractionFailed)
	}
	return out, nil
}

type tableRow struct {
	qty         string
	sku         string
	description string
	raw         []string
}

func readRow(cols []tableColumn, line TextLine) tableRow {
	parts := make([][]string, len(cols))
	row := tableRow{raw: make([]string, 0, len(line.Cells))}
	for _, c := range line.Cells {
		row.raw = append(row.raw, c.Text)
		if i := assign(cols, c); i >= 0 {
			parts[i] = append(parts[i], c.Text)
		}
	}

	for i, col := range cols {
		value := util.NormalizeSpaces(strings.Join(parts[i], " "))
		if value == "" {
			continue
		}
		switch col.kind {
		case colQty:
			row.qty = joinNonEmpty(row.qty, value)
		case colSKU:
			row.sku = joinNonEmpty(row.sku, value)
		case colDescription:
			row.description = joinNonEmpty(row.description, value)
		}
	}
	return row
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
