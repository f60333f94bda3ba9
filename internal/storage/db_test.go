package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"porecon/internal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "Database", "mappings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.AddProduct(ctx, "WH-1", "Hex bolt"))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddProductRejectsDuplicates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddProduct(ctx, "WH-1", "Hex bolt"))
	err := db.AddProduct(ctx, " WH-1 ", "Another")
	require.ErrorIs(t, err, ErrDuplicateCode)

	products, err := db.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Hex bolt", products[0].Description)
}

func TestAddMappingOnMissingProductLeavesNoState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.AddMapping(ctx, "ACME Corp", "A-1", "WH-404")
	require.ErrorIs(t, err, ErrNotFound)

	history, err := db.SupplierHistory(ctx, "ACME Corp")
	require.NoError(t, err)
	assert.Empty(t, history)

	var suppliers int
	require.NoError(t, db.conn.QueryRow(`SELECT COUNT(*) FROM suppliers`).Scan(&suppliers))
	assert.Zero(t, suppliers)
}

func TestSupplierHistorySharesNormalizedKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddProduct(ctx, "WH-1", "Hex bolt"))
	require.NoError(t, db.AddProduct(ctx, "WH-2", "Hex nut"))
	require.NoError(t, db.AddMapping(ctx, "ACME Corp.", " A-1 ", "WH-1"))
	require.NoError(t, db.AddMapping(ctx, "acme-corp", "A-1", "WH-2"))

	history, err := db.SupplierHistory(ctx, "ACME CORP")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, internal.Mapping{Supplier: "ACME Corp.", SupplierSKU: "A-1", WarehouseCode: "WH-2"}, history[0])
}

func TestRemoveProductCascadesMappings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddProduct(ctx, "WH-1", "Hex bolt"))
	require.NoError(t, db.AddMapping(ctx, "Acme", "A-1", "WH-1"))
	require.NoError(t, db.RemoveProduct(ctx, "WH-1"))

	history, err := db.SupplierHistory(ctx, "Acme")
	require.NoError(t, err)
	assert.Empty(t, history)

	require.ErrorIs(t, db.RemoveProduct(ctx, "WH-1"), ErrNotFound)
}

func TestRegistryRowsAndSearch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.UpsertProducts(ctx, []internal.Product{
		{WarehouseCode: "WH-2", Description: "Stainless   washer"},
		{WarehouseCode: "WH-1", Description: "Hex bolt M8"},
		{WarehouseCode: " ", Description: "skipped"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, db.AddMapping(ctx, "Acme", "A-1", "WH-1"))
	require.NoError(t, db.AddMapping(ctx, "Bolt Co", "B-9", "WH-1"))

	rows, err := db.RegistryRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "WH-1", rows[0].WarehouseCode)
	assert.Len(t, rows[0].Mappings, 2)
	assert.Empty(t, rows[1].Mappings)
	assert.Equal(t, "Stainless washer", rows[1].Description)

	found, err := db.SearchProducts(ctx, "WASHER", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "WH-2", found[0].WarehouseCode)
}

func TestRunsMetadataAndInboundMail(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordRun(ctx, internal.RunRecord{
		ID: "run-1", File: "po.pdf", Supplier: "Acme", Outcome: "all_green",
		Stats: internal.ReviewStats{Green: 3}, DurationMs: 12,
	}))
	runs, err := db.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Stats.Green)

	value, err := db.GetMetadata(ctx, "last_backup")
	require.NoError(t, err)
	assert.Nil(t, value)
	require.NoError(t, db.SetMetadata(ctx, "last_backup", "x"))
	value, err = db.GetMetadata(ctx, "last_backup")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "x", *value)

	msg := internal.FetchedMailMessage{Provider: "imap", MessageID: "<1@x>"}
	seen, err := db.HasInboundMail(ctx, msg.Provider, msg.MessageID)
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, db.RecordInboundMail(ctx, msg, 2))
	seen, err = db.HasInboundMail(ctx, msg.Provider, msg.MessageID)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSnapshotProducesReadableCopy(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.AddProduct(ctx, "WH-1", "Hex bolt"))

	target := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.Snapshot(ctx, target))
	require.NoError(t, db.Snapshot(ctx, target), "existing target is replaced")

	copyDB, err := Open(ctx, target)
	require.NoError(t, err)
	defer copyDB.Close()
	products, err := copyDB.Products(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}
