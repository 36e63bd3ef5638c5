package fileimport

import (
	"bytes"
	"strings"
	"testing"

	"catalog-import-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	input := "Product_Name *,UPID,sku,Barcode\n" +
		"Classic Tee, 0000000A1B2C3 ,TSH-1,4006381333931\n" +
		",,,\n" +
		"Classic Tee,,TSH-2,\n"

	sheet, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"product_name", "upid", "sku", "barcode"}, sheet.Headers)
	assert.True(t, sheet.HasColumn(models.ColumnProductName))
	require.Len(t, sheet.Rows, 2)

	assert.Equal(t, 2, sheet.Rows[0].Number)
	assert.Equal(t, "0000000A1B2C3", sheet.Rows[0].Values[models.ColumnUPID])
	assert.Equal(t, "Classic Tee", sheet.Rows[0].Values[models.ColumnProductName])

	// blank line 3 is skipped but numbering follows the file
	assert.Equal(t, 4, sheet.Rows[1].Number)
	assert.Equal(t, "TSH-2", sheet.Rows[1].Values[models.ColumnSKU])
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	sheet, err := ParseCSV(strings.NewReader("product_name,sku\n"))
	require.NoError(t, err)
	assert.Empty(t, sheet.Rows)

	_, err = ParseCSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseXLSX_PrefersProductsSheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "ignored"))
	_, err := f.NewSheet(PreferredSheet)
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow(PreferredSheet, "A1", &[]interface{}{"product_name *", "sku", "barcode"}))
	require.NoError(t, f.SetSheetRow(PreferredSheet, "A2", &[]interface{}{"Classic Tee", "TSH-1", "12345670"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	sheet, err := Parse(&buf, "catalog.XLSX")
	require.NoError(t, err)
	assert.Equal(t, []string{"product_name", "sku", "barcode"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)
	assert.Equal(t, 2, sheet.Rows[0].Number)
	assert.Equal(t, "12345670", sheet.Rows[0].Values[models.ColumnBarcode])
}

func TestFormatOf(t *testing.T) {
	format, err := FormatOf("a/b/catalog.csv")
	require.NoError(t, err)
	assert.Equal(t, models.ImportFormatCSV, format)

	_, err = FormatOf("catalog.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
