package export

import (
	"fmt"

	"github.com/gocarina/gocsv"

	"github.com/zombor/invoice-reader/internal/extraction"
)

// csvRow fixes the column order and header names of the CSV export
type csvRow struct {
	Provider      string `csv:"provider"`
	TotalAmount   string `csv:"total_amount"`
	InvoiceNumber string `csv:"invoice_number"`
	PurchaseDate  string `csv:"purchase_date"`
	DueDate       string `csv:"due_date"`
	Branch        string `csv:"branch"`
	DaysUntilDue  string `csv:"days_until_due"`
}

// CSV renders UTF-8 comma separated text
type CSV struct{}

func (CSV) ContentType() string { return "text/csv; charset=utf-8" }

func (CSV) Extension() string { return ".csv" }

// Render writes the header row and the record row
func (CSV) Render(record *extraction.InvoiceRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("rendering csv: record is nil")
	}

	rows := []*csvRow{{
		Provider:      record.Value(extraction.FieldProvider),
		TotalAmount:   record.Value(extraction.FieldTotalAmount),
		InvoiceNumber: record.Value(extraction.FieldInvoiceNumber),
		PurchaseDate:  record.Value(extraction.FieldPurchaseDate),
		DueDate:       record.Value(extraction.FieldDueDate),
		Branch:        record.Value(extraction.FieldBranch),
		DaysUntilDue:  record.Value(extraction.FieldDaysUntilDue),
	}}

	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, fmt.Errorf("rendering csv: %w", err)
	}
	return data, nil
}
