package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"mongobq/internal"
	"mongobq/internal/util"
)

// ExportBatchesToXLSX writes one run's batch ledger as a workbook for
// operators: one row per batch, failures and quarantine files included.
func ExportBatchesToXLSX(run internal.RunRow, rows []internal.BatchRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{
		"batch_number", "status", "attempted", "succeeded", "quarantined",
		"object_uri", "quarantine_file", "error", "duration_ms", "created_at",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.BatchNumber)
		set(2, row.Status)
		set(3, row.Attempted)
		set(4, row.Succeeded)
		set(5, row.Quarantined)
		set(6, util.DerefString(row.ObjectURI))
		set(7, util.DerefString(row.QuarantineFile))
		set(8, util.DerefString(row.Error))
		set(9, row.DurationMs)
		set(10, row.CreatedAt)
	}

	if _, err := f.NewSheet("run"); err != nil {
		return err
	}
	pairs := [][2]any{
		{"run_id", run.ID},
		{"source", run.Source},
		{"format", run.Format},
		{"status", run.Status},
		{"bound", run.Bound},
		{"attempted", run.Attempted},
		{"succeeded", run.Succeeded},
		{"quarantined", run.Quarantined},
		{"started_at", run.StartedAt},
		{"finished_at", util.DerefString(run.FinishedAt)},
	}
	for i, p := range pairs {
		for col, v := range p {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			_ = f.SetCellValue("run", cell, v)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
