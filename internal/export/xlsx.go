package export

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-reader/internal/extraction"
)

// SheetName is the single sheet of the XLSX export
const SheetName = "Factura"

// XLSX renders an Excel workbook with one sheet
type XLSX struct{}

func (XLSX) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSX) Extension() string { return ".xlsx" }

// Render writes a bold header row and one data row. Numeric totals and known
// day counts are stored as numbers; everything else as text.
func (XLSX) Render(record *extraction.InvoiceRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("rendering xlsx: record is nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	for i, field := range extraction.Fields {
		header, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return nil, err
		}

		if err := f.SetCellValue(SheetName, header, field); err != nil {
			return nil, fmt.Errorf("writing header %s: %w", field, err)
		}
		if err := f.SetCellStyle(SheetName, header, header, headerStyle); err != nil {
			return nil, fmt.Errorf("styling header %s: %w", field, err)
		}

		var value any = record.Value(field)
		switch field {
		case extraction.FieldTotalAmount:
			if amount, ok := record.Amount(); ok {
				amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: amountFormat(amount)})
				if err != nil {
					return nil, fmt.Errorf("creating amount style: %w", err)
				}
				if err := f.SetCellStyle(SheetName, cell, cell, amountStyle); err != nil {
					return nil, fmt.Errorf("styling amount: %w", err)
				}
				value = amount.InexactFloat64()
			}
		case extraction.FieldDaysUntilDue:
			if record.DaysUntilDue.Status == extraction.DueKnown {
				value = record.DaysUntilDue.Days
			}
		}
		if err := f.SetCellValue(SheetName, cell, value); err != nil {
			return nil, fmt.Errorf("writing %s: %w", field, err)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(extraction.Fields))
	if err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetName, "A", lastCol, 20); err != nil {
		return nil, fmt.Errorf("setting column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// amountFormat groups thousands and shows every decimal place the amount was
// written with
func amountFormat(amount decimal.Decimal) *string {
	format := "#,##0"
	if places := -amount.Exponent(); places > 0 {
		format += "." + strings.Repeat("0", int(places))
	}
	return &format
}
