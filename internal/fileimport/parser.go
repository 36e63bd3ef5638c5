// Package fileimport tokenizes uploaded CSV and Excel files into rows keyed by
// normalized column names.
package fileimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"catalog-import-service/internal/models"

	"github.com/xuri/excelize/v2"
)

// PreferredSheet is read first when a workbook has several sheets
const PreferredSheet = "Products"

var ErrUnsupportedFormat = errors.New("unsupported file format")

// Row is one data line of the file. Number is the 1-based line in the file,
// so the header is line 1 and the first data row is line 2.
type Row struct {
	Number int
	Values models.RowValues
}

// Sheet is a parsed file
type Sheet struct {
	Headers []string
	Rows    []Row
}

// HasColumn reports whether the header row named column
func (s *Sheet) HasColumn(column string) bool {
	for _, h := range s.Headers {
		if h == column {
			return true
		}
	}
	return false
}

// FormatOf derives the import format from the file extension
func FormatOf(filename string) (models.ImportFormat, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		return models.ImportFormatCSV, nil
	case ".xlsx":
		return models.ImportFormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// Parse reads r according to the extension of filename
func Parse(r io.Reader, filename string) (*Sheet, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}
	if format == models.ImportFormatXLSX {
		return ParseXLSX(r)
	}
	return ParseCSV(r)
}

// ParseCSV parses a CSV file into rows
func ParseCSV(r io.Reader) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("file must have a header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	headers = normalizeHeaders(headers)

	sheet := &Sheet{Headers: headers}
	lineNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading line %d: %w", lineNum+1, err)
		}
		lineNum++
		if blank(record) {
			continue
		}
		sheet.Rows = append(sheet.Rows, Row{Number: lineNum, Values: toValues(headers, record)})
	}
	return sheet, nil
}

// ParseXLSX parses an Excel file into rows
func ParseXLSX(r io.Reader) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}
	sheetName := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, PreferredSheet) {
			sheetName = name
			break
		}
	}

	excelRows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(excelRows) == 0 {
		return nil, fmt.Errorf("file must have a header row")
	}

	headers := normalizeHeaders(excelRows[0])
	sheet := &Sheet{Headers: headers}
	for rowIdx, excelRow := range excelRows[1:] {
		if blank(excelRow) {
			continue
		}
		// 1-indexed, +1 for header
		sheet.Rows = append(sheet.Rows, Row{Number: rowIdx + 2, Values: toValues(headers, excelRow)})
	}
	return sheet, nil
}

// normalizeHeaders lowercases names and strips the " *" required marker
func normalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.TrimSpace(strings.ToLower(h))
		out[i] = strings.TrimSpace(strings.TrimSuffix(h, "*"))
	}
	return out
}

func toValues(headers, record []string) models.RowValues {
	values := make(models.RowValues, len(headers))
	for i, value := range record {
		if i < len(headers) && headers[i] != "" {
			values[headers[i]] = strings.TrimSpace(value)
		}
	}
	return values
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
