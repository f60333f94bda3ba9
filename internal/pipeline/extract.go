package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"porecon/internal"
)

// ErrExtractionFailed means the document could not be turned into a supplier
// and a non-empty list of line items.
var ErrExtractionFailed = errors.New("extraction failed")

// Extractor reads a purchase order document.
type Extractor interface {
	Extract(ctx context.Context, path string) (internal.Extraction, error)
}

// PDFExtractor reads text-based PDFs. Scanned documents have no text layer
// and fail extraction.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) (internal.Extraction, error) {
	lines, err := ReadPDFLines(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return internal.Extraction{}, ctx.Err()
		}
		return internal.Extraction{}, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, filepath.Base(path), err)
	}
	return BuildExtraction(lines)
}

const (
	// Gaps are measured in multiples of the font size.
	wordGap = 0.2
	cellGap = 1.2

	defaultFontSize = 10.0
)

// ReadPDFLines returns the text of every page as positioned lines, top of the
// page first.
func ReadPDFLines(ctx context.Context, path string) (lines []TextLine, err error) {
	defer func() {
		// The pdf reader panics on some malformed streams.
		if r := recover(); r != nil {
			lines, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		sort.SliceStable(rows, func(a, b int) bool {
			return rows[a].Position > rows[b].Position
		})
		for _, row := range rows {
			cells := mergeGlyphs(row.Content)
			if len(cells) == 0 {
				continue
			}
			lines = append(lines, TextLine{Page: i, Cells: cells})
		}
	}
	return lines, nil
}

// mergeGlyphs joins the text runs of one row into cells. Small gaps become a
// space inside a cell, wide gaps start a new cell.
func mergeGlyphs(texts pdf.TextHorizontal) []Cell {
	sorted := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t.S) != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var (
		cells []Cell
		cur   *Cell
		b     strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimSpace(b.String())
		if cur.Text != "" {
			cells = append(cells, *cur)
		}
		b.Reset()
		cur = nil
	}

	for _, t := range sorted {
		size := t.FontSize
		if size <= 0 {
			size = defaultFontSize
		}
		width := t.W
		if width <= 0 {
			width = size * 0.5 * float64(utf8.RuneCountInString(t.S))
		}

		if cur != nil {
			gap := t.X - cur.Right
			switch {
			case gap > size*cellGap:
				flush()
			case gap > size*wordGap:
				b.WriteByte(' ')
			}
		}
		if cur == nil {
			cur = &Cell{X: t.X}
		}
		b.WriteString(t.S)
		cur.Right = t.X + width
	}
	flush()
	return cells
}
