package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"porecon/internal"
	"porecon/internal/util"
)

type ExportRow struct {
	LineNo        int    `csv:"line_no"`
	SKU           string `csv:"sku"`
	Description   string `csv:"description"`
	Qty           string `csv:"qty"`
	WarehouseCode string `csv:"warehouse_code"`
	Flag          string `csv:"flag"`
	Score         int    `csv:"score"`
}

var exportHeaders = []string{"line_no", "sku", "description", "qty", "warehouse_code", "flag", "score"}

// BuildExportRows pairs each match row with the line item it came from.
// rows must be in item order, as FuzzyMatch returns them.
func BuildExportRows(items []internal.LineItem, rows []internal.MatchRow) []ExportRow {
	out := make([]ExportRow, 0, len(rows))
	for i, r := range rows {
		row := ExportRow{
			LineNo:        i + 1,
			SKU:           r.SKU,
			Description:   r.Description,
			WarehouseCode: util.DerefString(r.WarehouseCode),
			Flag:          string(r.Flag),
			Score:         r.Score,
		}
		if i < len(items) {
			row.LineNo = items[i].LineNo
			if items[i].Qty != nil {
				row.Qty = items[i].Qty.String()
			}
		}
		out = append(out, row)
	}
	return out
}

// Export writes rows to <dir>/<base>.<format> and returns the path.
// format is "xlsx" or "csv".
func Export(rows []ExportRow, dir, base, format string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))

	switch strings.ToLower(format) {
	case "csv":
		path := filepath.Join(dir, name+".csv")
		return path, ExportRowsToCSV(rows, path)
	case "xlsx", "":
		path := filepath.Join(dir, name+".xlsx")
		return path, ExportRowsToXLSX(rows, path)
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

func ExportRowsToCSV(rows []ExportRow, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ExportRowsToXLSX(rows []ExportRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.LineNo)
		set(2, row.SKU)
		set(3, row.Description)
		set(4, row.Qty)
		set(5, row.WarehouseCode)
		set(6, row.Flag)
		set(7, row.Score)
	}

	return f.SaveAs(outputPath)
}
