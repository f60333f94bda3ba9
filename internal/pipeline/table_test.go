package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porecon/internal"
)

// line builds a TextLine from (x, right, text) triples.
func line(page int, cells ...any) TextLine {
	l := TextLine{Page: page}
	for i := 0; i+2 < len(cells); i += 3 {
		l.Cells = append(l.Cells, Cell{
			X:     float64(cells[i].(int)),
			Right: float64(cells[i+1].(int)),
			Text:  cells[i+2].(string),
		})
	}
	return l
}

func header(page int) TextLine {
	return line(page,
		50, 70, "Qty",
		100, 130, "SKU",
		200, 280, "Description",
		400, 450, "Unit Price",
		500, 530, "Total",
	)
}

func samplePO() []TextLine {
	return []TextLine{
		line(1, 50, 250, "ACME Industrial Supply"),
		line(1, 50, 150, "Vendor: ACME Corp", 400, 500, "PO-1001"),
		line(1, 50, 150, "Ship To: Main Warehouse"),
		header(1),
		line(1, 60, 66, "2", 100, 135, "AS-001", 200, 260, "Hex bolt M8", 420, 440, "5.00", 505, 530, "10.00"),
		line(1, 200, 240, "stainless"),
		line(1, 250, 300, "Page 1 of 2"),
		header(2),
		line(2, 55, 70, "1,000", 100, 135, "AS-002", 200, 240, "Washer", 420, 440, "0.01", 505, 530, "10.00"),
		line(2, 400, 440, "Subtotal", 505, 530, "20.00"),
		line(2, 50, 200, "Thank you for your business"),
	}
}

func TestBuildExtraction(t *testing.T) {
	ext, err := BuildExtraction(samplePO())
	require.NoError(t, err)

	assert.Equal(t, "ACME Corp", ext.Supplier)
	require.Len(t, ext.Items, 2)

	first := ext.Items[0]
	assert.Equal(t, 1, first.LineNo)
	assert.Equal(t, "AS-001", first.SKU)
	assert.Equal(t, "Hex bolt M8 stainless", first.Description)
	require.NotNil(t, first.Qty)
	assert.Equal(t, "2", first.Qty.String())

	second := ext.Items[1]
	assert.Equal(t, 2, second.LineNo)
	assert.Equal(t, "AS-002", second.SKU)
	assert.Equal(t, "Washer", second.Description)
	require.NotNil(t, second.Qty)
	assert.Equal(t, "1000", second.Qty.String())
}

func TestBuildExtractionUnknownSupplier(t *testing.T) {
	lines := samplePO()
	lines[1] = line(1, 50, 150, "Order date: 2024-01-01")

	ext, err := BuildExtraction(lines)
	require.NoError(t, err)
	assert.Equal(t, internal.UnknownSupplier, ext.Supplier)
}

func TestBuildExtractionWithoutTable(t *testing.T) {
	_, err := BuildExtraction([]TextLine{
		line(1, 50, 200, "Dear customer"),
		line(1, 50, 200, "Please find attached"),
	})
	require.ErrorIs(t, err, ErrExtractionFailed)

	_, err = BuildExtraction([]TextLine{header(1)})
	require.ErrorIs(t, err, ErrExtractionFailed)
}

func TestBuildExtractionItemColumnBecomesSKU(t *testing.T) {
	ext, err := BuildExtraction([]TextLine{
		line(1, 50, 80, "Item", 100, 180, "Description", 300, 340, "Quantity"),
		line(1, 50, 90, "77-A", 100, 170, "Copper pipe", 320, 330, "4"),
	})
	require.NoError(t, err)
	require.Len(t, ext.Items, 1)
	assert.Equal(t, "77-A", ext.Items[0].SKU)
	assert.Equal(t, "Copper pipe", ext.Items[0].Description)
	assert.Equal(t, "4", ext.Items[0].Qty.String())
}

func TestClassifyHeader(t *testing.T) {
	cases := map[string]column{
		"Qty":          colQty,
		"QUANTITY":     colQty,
		"Part Number":  colSKU,
		"PN":           colSKU,
		"Ref.":         colSKU,
		"Desc":         colDescription,
		"Item":         colDescription,
		"Unit Price":   colDrop,
		"Line Total":   colDrop,
		"Amount (USD)": colDrop,
		"UOM":          colOther,
		"Lorem":        colNone,
	}
	for in, want := range cases {
		assert.Equal(t, want, classifyHeader(in), in)
	}
}

func TestDetectSupplier(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"colon", "Purchase Order\nVendor: ACME Corp  Date: 2024-01-01", "ACME Corp"},
		{"no colon", "SUPPLIER Bolt Co", "Bolt Co"},
		{"later key wins", "Supplier: First Co\nSold By: Second Co", "Second Co"},
		{"no key", "Purchase Order 1001", internal.UnknownSupplier},
		{"empty value", "Vendor:", internal.UnknownSupplier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectSupplier(tc.text))
		})
	}
}
