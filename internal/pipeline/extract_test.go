package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func glyph(x, w float64, s string) pdf.Text {
	return pdf.Text{X: x, W: w, FontSize: 10, S: s}
}

func TestMergeGlyphs(t *testing.T) {
	texts := pdf.TextHorizontal{
		glyph(100, 5, "2"),
		glyph(10, 5, "H"),
		glyph(15, 5, "e"),
		glyph(20, 5, "x"),
		glyph(25, 3, " "),
		glyph(28, 5, "b"),
		glyph(33, 5, "o"),
		glyph(38, 5, "l"),
		glyph(43, 5, "t"),
	}

	cells := mergeGlyphs(texts)
	require.Len(t, cells, 2)
	assert.Equal(t, Cell{X: 10, Right: 48, Text: "Hex bolt"}, cells[0])
	assert.Equal(t, "2", cells[1].Text)
	assert.InDelta(t, 100, cells[1].X, 1e-9)
}

func TestMergeGlyphsEstimatesMissingWidth(t *testing.T) {
	cells := mergeGlyphs(pdf.TextHorizontal{
		{X: 0, FontSize: 10, S: "AB"},
		{X: 10, FontSize: 10, S: "C"},
	})
	require.Len(t, cells, 1)
	assert.Equal(t, "ABC", cells[0].Text)
}

func TestPDFExtractorRejectsUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := NewPDFExtractor().Extract(context.Background(), path)
	require.ErrorIs(t, err, ErrExtractionFailed)
}
