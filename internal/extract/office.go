package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/xuri/excelize/v2"
)

const sheetSeparator = "===================="

func extractPptx(_ context.Context, data []byte) (string, error) {
	text, _, err := docconv.ConvertPptx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("converting pptx: %w", err)
	}
	return text, nil
}

// extractXlsx renders each sheet as a tab-delimited block between separator
// lines. Rows are padded to the widest row of their sheet.
func extractXlsx(ctx context.Context, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var parts []string
	for idx, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if idx > 0 {
			parts = append(parts, "")
		}
		parts = append(parts, fmt.Sprintf("%s Sheet: %s %s", sheetSeparator, escapeSheetTitle(sheet), sheetSeparator))

		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		width := 0
		for _, row := range rows {
			width = max(width, len(row))
		}

		for _, row := range rows {
			cells := make([]string, width)
			empty := true
			for i := range cells {
				if i < len(row) {
					cells[i] = escapeCell(row[i])
				}
				if cells[i] != "" {
					empty = false
				}
			}
			if empty {
				parts = append(parts, "")
				continue
			}
			parts = append(parts, strings.Join(cells, "\t"))
		}
	}

	parts = append(parts, sheetSeparator)
	return strings.Join(parts, "\n"), nil
}

// convertPDF shells out through docconv to pdftotext.
func convertPDF(_ context.Context, data []byte) (string, error) {
	text, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("converting pdf with pdftotext: %w", err)
	}
	return text, nil
}

func convertDocx(_ context.Context, data []byte) (string, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("converting docx: %w", err)
	}
	return text, nil
}
