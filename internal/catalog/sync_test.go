package catalog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"porecon/internal/storage"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), "Master Catalog.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestReadMasterCatalogFindsColumns(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"", "Wharehouse Code", "Official Description", "Keywords"},
		{0, "WH-1", "Hex  bolt", "hex, bolt"},
		{1, "", "no code", ""},
		{2, "WH-2", "Washer", "washer"},
	})

	products, err := ReadMasterCatalog(path)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "WH-1", products[0].WarehouseCode)
	assert.Equal(t, "Hex bolt", products[0].Description)
}

func TestReadMasterCatalogWithoutHeader(t *testing.T) {
	path := writeWorkbook(t, [][]any{{"a", "b"}, {"c", "d"}})
	_, err := ReadMasterCatalog(path)
	require.Error(t, err)
}

func TestImportXLSXUpserts(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "mappings.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AddProduct(ctx, "WH-1", "old"))

	path := writeWorkbook(t, [][]any{
		{"Warehouse Code", "Description"},
		{"WH-1", "Hex bolt"},
		{"WH-2", "Washer"},
	})
	svc := NewSyncService(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := svc.ImportXLSX(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	products, err := db.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Hex bolt", products[0].Description)

	last, err := db.GetMetadata(ctx, lastImportKey)
	require.NoError(t, err)
	assert.NotNil(t, last)
}
