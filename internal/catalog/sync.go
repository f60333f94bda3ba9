package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"porecon/internal"
	"porecon/internal/storage"
	"porecon/internal/util"
)

const lastImportKey = "catalog.last_import"

// SyncService loads a master catalog workbook into the registry.
type SyncService struct {
	db     *storage.DB
	logger *slog.Logger
}

func NewSyncService(db *storage.DB, logger *slog.Logger) *SyncService {
	return &SyncService{db: db, logger: logger}
}

// ImportXLSX upserts every product row of the workbook at path and returns
// how many were written. Existing descriptions are refreshed; mappings are
// left untouched.
func (s *SyncService) ImportXLSX(ctx context.Context, path string) (int, error) {
	products, err := ReadMasterCatalog(path)
	if err != nil {
		return 0, err
	}
	if len(products) == 0 {
		return 0, fmt.Errorf("master catalog %s: no product rows found", path)
	}

	written, err := s.db.UpsertProducts(ctx, products)
	if err != nil {
		return 0, err
	}
	if err := s.db.SetMetadata(ctx, lastImportKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("record catalog import time", "error", err)
	}
	s.logger.Info("master catalog imported", "path", path, "products", written)
	return written, nil
}

// ReadMasterCatalog reads the first sheet of a workbook with a warehouse code
// column and a description column. The header row may sit anywhere in the
// first few rows and may be preceded by an index column.
func ReadMasterCatalog(path string) ([]internal.Product, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("master catalog %s: workbook has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	codeIdx, descIdx, headerRow := -1, -1, -1
	for i, row := range rows {
		if i >= 5 {
			break
		}
		codeIdx, descIdx = inferCatalogColumns(row)
		if codeIdx >= 0 && descIdx >= 0 {
			headerRow = i
			break
		}
	}
	if headerRow < 0 {
		return nil, fmt.Errorf("master catalog %s: no code/description header", path)
	}

	var out []internal.Product
	for _, row := range rows[headerRow+1:] {
		code := pickCell(row, codeIdx)
		desc := util.NormalizeSpaces(pickCell(row, descIdx))
		if code == "" || desc == "" {
			continue
		}
		out = append(out, internal.Product{WarehouseCode: code, Description: desc})
	}
	return out, nil
}

func inferCatalogColumns(headers []string) (codeIdx, descIdx int) {
	codeIdx, descIdx = -1, -1
	for i, h := range headers {
		h = strings.ToLower(util.NormalizeSpaces(h))
		switch {
		case codeIdx < 0 && strings.Contains(h, "code"):
			codeIdx = i
		case descIdx < 0 && strings.Contains(h, "description"):
			descIdx = i
		}
	}
	return codeIdx, descIdx
}

func pickCell(cells []string, idx int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	return ""
}
