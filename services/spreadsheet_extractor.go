package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// SpreadsheetExtractor renders each non-empty sheet as
// "Sheet: <name>\n<csv>", sheets separated by a blank line. Workbooks
// excelize cannot open (old binary .xls) go to the fallback.
type SpreadsheetExtractor struct {
	fallback formatExtractor
}

func (e *SpreadsheetExtractor) Extract(ctx context.Context, path string) (*models.ExtractionResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if e.fallback == nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		logger.Debug("excelize could not open workbook, using fallback", "path", path, "error", err)
		return e.fallback.Extract(ctx, path)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		body, err := rowsToCSV(rows)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		sheets = append(sheets, "Sheet: "+name+"\n"+body)
	}

	return &models.ExtractionResult{Text: strings.Join(sheets, "\n\n"), Method: models.ExtractionMethodSpreadsheet}, nil
}

func rowsToCSV(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("failed to render csv: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
