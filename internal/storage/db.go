package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"porecon/internal"
	"porecon/internal/util"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateCode  = errors.New("warehouse code already exists")
	ErrInvalidMapping = errors.New("invalid mapping")
)

// DB is the product registry. A single *sql.DB pool is shared by every
// goroutine; each call checks out its own connection and transactions never
// cross calls.
type DB struct {
	conn *sql.DB
}

func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, d.conn, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}
	return nil
}

// SupplierHistory returns every confirmed SKU mapping for the supplier.
// Supplier names are compared by their normalized key.
func (d *DB) SupplierHistory(ctx context.Context, supplier string) ([]internal.Mapping, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT s.display_name, m.supplier_sku, m.warehouse_code
FROM mappings m JOIN suppliers s ON s.supplier_key = m.supplier_key
WHERE m.supplier_key = ?
ORDER BY m.supplier_sku`, util.NormalizeSupplierKey(supplier))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Mapping
	for rows.Next() {
		var m internal.Mapping
		if err := rows.Scan(&m.Supplier, &m.SupplierSKU, &m.WarehouseCode); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Products lists the registry ordered by warehouse code.
func (d *DB) Products(ctx context.Context) ([]internal.Product, error) {
	return d.queryProducts(ctx, `SELECT warehouse_code, description FROM products ORDER BY warehouse_code`)
}

// SearchProducts matches query against codes and descriptions, case-insensitively.
func (d *DB) SearchProducts(ctx context.Context, query string, limit int) ([]internal.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	return d.queryProducts(ctx, `
SELECT warehouse_code, description FROM products
WHERE lower(warehouse_code) LIKE ? OR lower(description) LIKE ?
ORDER BY warehouse_code LIMIT ?`, pattern, pattern, limit)
}

func (d *DB) queryProducts(ctx context.Context, query string, args ...any) ([]internal.Product, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Product
	for rows.Next() {
		var p internal.Product
		if err := rows.Scan(&p.WarehouseCode, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (d *DB) AddProduct(ctx context.Context, code, description string) error {
	code = strings.TrimSpace(code)
	description = util.NormalizeSpaces(description)
	if code == "" {
		return fmt.Errorf("add product: %w: empty warehouse code", ErrInvalidMapping)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := productExists(ctx, tx, code)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("add product %q: %w", code, ErrDuplicateCode)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO products (warehouse_code, description) VALUES (?, ?)`, code, description); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertProducts inserts or refreshes products in one transaction and
// returns how many rows were written.
func (d *DB) UpsertProducts(ctx context.Context, products []internal.Product) (int, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO products (warehouse_code, description) VALUES (?, ?)
ON CONFLICT(warehouse_code) DO UPDATE SET description = excluded.description`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for _, p := range products {
		code := strings.TrimSpace(p.WarehouseCode)
		if code == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, code, util.NormalizeSpaces(p.Description)); err != nil {
			return 0, err
		}
		written++
	}
	return written, tx.Commit()
}

// AddMapping records that supplier's SKU means warehouse code. The product
// must exist; the supplier row and the mapping are written together or not
// at all. An existing mapping for the same SKU is overwritten.
func (d *DB) AddMapping(ctx context.Context, supplier, sku, code string) error {
	key := util.NormalizeSupplierKey(supplier)
	sku = strings.TrimSpace(sku)
	code = strings.TrimSpace(code)
	if key == "" || sku == "" {
		return fmt.Errorf("add mapping: %w: supplier %q sku %q", ErrInvalidMapping, supplier, sku)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := productExists(ctx, tx, code)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("add mapping: product %q: %w", code, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO suppliers (supplier_key, display_name) VALUES (?, ?)
ON CONFLICT(supplier_key) DO NOTHING`, key, strings.TrimSpace(supplier)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO mappings (supplier_key, supplier_sku, warehouse_code) VALUES (?, ?, ?)
ON CONFLICT(supplier_key, supplier_sku) DO UPDATE SET
  warehouse_code = excluded.warehouse_code,
  updated_at = CURRENT_TIMESTAMP`, key, sku, code); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveProduct deletes a product and, by cascade, every mapping to it.
func (d *DB) RemoveProduct(ctx context.Context, code string) error {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM products WHERE warehouse_code = ?`, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("remove product %q: %w", code, ErrNotFound)
	}
	return nil
}

// RegistryRows returns each product with all of its supplier mappings.
func (d *DB) RegistryRows(ctx context.Context) ([]internal.RegistryRow, error) {
	products, err := d.Products(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := d.conn.QueryContext(ctx, `
SELECT m.warehouse_code, s.display_name, m.supplier_sku
FROM mappings m JOIN suppliers s ON s.supplier_key = m.supplier_key
ORDER BY s.display_name, m.supplier_sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byCode := make(map[string][]internal.Mapping)
	for rows.Next() {
		var m internal.Mapping
		if err := rows.Scan(&m.WarehouseCode, &m.Supplier, &m.SupplierSKU); err != nil {
			return nil, err
		}
		byCode[m.WarehouseCode] = append(byCode[m.WarehouseCode], m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]internal.RegistryRow, 0, len(products))
	for _, p := range products {
		out = append(out, internal.RegistryRow{Product: p, Mappings: byCode[p.WarehouseCode]})
	}
	return out, nil
}

func (d *DB) RecordRun(ctx context.Context, run internal.RunRecord) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO runs (id, file, supplier, outcome, green, yellow, red, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.File, run.Supplier, run.Outcome,
		run.Stats.Green, run.Stats.Yellow, run.Stats.Red, run.DurationMs)
	return err
}

func (d *DB) RecentRuns(ctx context.Context, limit int) ([]internal.RunRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, file, supplier, outcome, green, yellow, red, duration_ms
FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRecord
	for rows.Next() {
		var r internal.RunRecord
		if err := rows.Scan(&r.ID, &r.File, &r.Supplier, &r.Outcome,
			&r.Stats.Green, &r.Stats.Yellow, &r.Stats.Red, &r.DurationMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshot writes a consistent copy of the database to path.
func (d *DB) Snapshot(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := d.conn.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot registry: %w", err)
	}
	return nil
}

func (d *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func (d *DB) HasInboundMail(ctx context.Context, provider, messageID string) (bool, error) {
	var one int
	err := d.conn.QueryRowContext(ctx,
		`SELECT 1 FROM inbound_mail WHERE provider = ? AND message_id = ?`, provider, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (d *DB) RecordInboundMail(ctx context.Context, msg internal.FetchedMailMessage, attachments int) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO inbound_mail (provider, message_id, subject, sender, received_at, attachments)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, message_id) DO UPDATE SET attachments = excluded.attachments
`, msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, attachments)
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func productExists(ctx context.Context, q querier, code string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM products WHERE warehouse_code = ?`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
