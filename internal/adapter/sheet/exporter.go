package sheet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"esicmap/internal/domain"
)

// ExportSheetName is the sheet mapping results are written to.
const ExportSheetName = "ESIC-ISIC Mapping"

// ExportHeader returns the header row for results with k matches each.
func ExportHeader(k int) []string {
	header := []string{"ESIC Code", "Title of Category"}
	for i := 1; i <= k; i++ {
		header = append(header,
			fmt.Sprintf("Match %d ISIC Code", i),
			fmt.Sprintf("Match %d ISIC Description", i),
			fmt.Sprintf("Match %d Score", i),
		)
	}
	return header
}

// WriteResults writes one row per mapping result to a new workbook at path.
// The number of match column groups is the largest match count seen.
// progress, when non-nil, is called after each row.
func WriteResults(path string, results []domain.MappingResult, progress func(done int)) error {
	k := 0
	for _, r := range results {
		k = max(k, len(r.Matches))
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ExportSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(ExportSheetName)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}

	header := ExportHeader(k)
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := sw.SetRow("A1", row); err != nil {
		return err
	}

	for n, r := range results {
		row := make([]interface{}, 0, 2+3*len(r.Matches))
		row = append(row, r.ESICCode, r.Title)
		for _, m := range r.Matches {
			row = append(row, m.FullCode, m.Description, m.Score)
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", n+2, err)
		}
		if progress != nil {
			progress(n + 1)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
