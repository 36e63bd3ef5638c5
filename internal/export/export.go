// Package export renders import templates and failed rows as downloadable files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"catalog-import-service/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	productsSheet     = "Products"
	instructionsSheet = "Instructions"
	failuresSheet     = "Failures"
)

// WriteTemplateCSV writes the header row only
func WriteTemplateCSV(w io.Writer, template models.ImportTemplate) error {
	writer := csv.NewWriter(w)
	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Name
	}
	if err := writer.Write(headers); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteTemplateXLSX writes a Products sheet with styled headers, required
// columns marked with " *", and an Instructions sheet describing each column.
func WriteTemplateXLSX(w io.Writer, template models.ImportTemplate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", productsSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}

	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		header, style := col.Name, headerStyle
		if col.Required {
			header, style = col.Name+" *", requiredStyle
		}
		f.SetCellValue(productsSheet, cell, header)
		f.SetCellStyle(productsSheet, cell, cell, style)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(productsSheet, colName, colName, 20)
	}

	if _, err := f.NewSheet(instructionsSheet); err != nil {
		return err
	}
	f.SetCellValue(instructionsSheet, "A1", "Catalog Import Instructions")
	f.SetCellValue(instructionsSheet, "A3", "Rows sharing a product_handle become variants of the same product.")
	f.SetCellValue(instructionsSheet, "A4", "Every row needs an upid or a sku. Category, season, manufacturer, color and size names must match existing entries; unknown names can be mapped after validation.")

	f.SetCellValue(instructionsSheet, "A6", "Column")
	f.SetCellValue(instructionsSheet, "B6", "Description")
	f.SetCellValue(instructionsSheet, "C6", "Required")
	f.SetCellValue(instructionsSheet, "D6", "Type")
	f.SetCellValue(instructionsSheet, "E6", "Example")
	for i, col := range template.Columns {
		row := i + 7
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue(instructionsSheet, fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("B%d", row), col.Description)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("C%d", row), required)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("E%d", row), col.Example)
	}
	f.SetColWidth(instructionsSheet, "A", "A", 25)
	f.SetColWidth(instructionsSheet, "B", "B", 60)
	f.SetColWidth(instructionsSheet, "C", "E", 20)

	if idx, err := f.GetSheetIndex(productsSheet); err == nil {
		f.SetActiveSheet(idx)
	}
	return f.Write(w)
}

// WriteFailuresXLSX writes one line per row: its number, the raw cells in
// import column order (unknown columns last), and its joined errors.
func WriteFailuresXLSX(w io.Writer, rows []models.ImportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", failuresSheet); err != nil {
		return err
	}

	columns := failureColumns(rows)
	header := make([]interface{}, 0, len(columns)+3)
	header = append(header, "row", "status")
	for _, col := range columns {
		header = append(header, col)
	}
	header = append(header, "errors")
	if err := f.SetSheetRow(failuresSheet, "A1", &header); err != nil {
		return err
	}

	for i, row := range rows {
		values := make([]interface{}, 0, len(header))
		values = append(values, row.RowNumber, string(row.Status))
		for _, col := range columns {
			values = append(values, row.Raw[col])
		}
		values = append(values, JoinErrors(row.Errors))

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(failuresSheet, cell, &values); err != nil {
			return err
		}
	}

	last, _ := excelize.ColumnNumberToName(len(header))
	f.SetColWidth(failuresSheet, "A", "B", 10)
	f.SetColWidth(failuresSheet, "C", last, 20)
	f.SetColWidth(failuresSheet, last, last, 60)
	return f.Write(w)
}

// JoinErrors renders row errors as "field: message" separated by "; "
func JoinErrors(errs models.RowErrors) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Field != "" {
			parts = append(parts, e.Field+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func failureColumns(rows []models.ImportRow) []string {
	known := make(map[string]bool)
	var columns []string
	for _, col := range models.CatalogImportColumns() {
		known[col.Name] = true
		columns = append(columns, col.Name)
	}

	var extra []string
	for _, row := range rows {
		for col := range row.Raw {
			if !known[col] {
				known[col] = true
				extra = append(extra, col)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
