package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"esicmap/internal/adapter/sheet"
	"esicmap/internal/logging"
	"esicmap/internal/port"
	"esicmap/internal/vector"
)

// ExportUseCase writes stored mapping results to a workbook.
type ExportUseCase struct {
	store  port.ResultStore
	logger *logging.Logger
}

func NewExportUseCase(store port.ResultStore, logger *logging.Logger) *ExportUseCase {
	return &ExportUseCase{store: store, logger: logger}
}

// ExportPath returns the workbook path results for key are written to.
func ExportPath(outputDir string, key vector.VariantKey) string {
	return filepath.Join(outputDir, key.String()+"_mapping_results.xlsx")
}

// Export writes the results stored under key to outputDir and returns the
// workbook path and row count. An empty result set still produces a
// workbook holding the header row.
func (u *ExportUseCase) Export(ctx context.Context, key vector.VariantKey, outputDir string, progress ProgressFunc) (string, int, error) {
	results, err := u.store.ListResults(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("list results: %w", err)
	}
	if len(results) == 0 {
		u.logger.Warn("no stored results for %s; run map first", key)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}
	path := ExportPath(outputDir, key)

	var report func(int)
	if progress != nil {
		report = func(done int) { progress(done, len(results)) }
	}
	if err := sheet.WriteResults(path, results, report); err != nil {
		return "", 0, fmt.Errorf("write %s: %w", path, err)
	}
	u.logger.Info("exported %d results to %s", len(results), path)
	return path, len(results), nil
}
