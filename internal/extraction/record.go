package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Field names of an InvoiceRecord, in column order.
const (
	FieldProvider      = "provider"
	FieldTotalAmount   = "total_amount"
	FieldInvoiceNumber = "invoice_number"
	FieldPurchaseDate  = "purchase_date"
	FieldDueDate       = "due_date"
	FieldBranch        = "branch"
	FieldDaysUntilDue  = "days_until_due"
)

// Fields lists every InvoiceRecord column in display order.
var Fields = []string{
	FieldProvider,
	FieldTotalAmount,
	FieldInvoiceNumber,
	FieldPurchaseDate,
	FieldDueDate,
	FieldBranch,
	FieldDaysUntilDue,
}

// Sentinel values for DaysUntilDue
const (
	NotSpecified = "not specified"
	DateError    = "error"
)

// DueStatus says which variant a DaysUntilDue holds
type DueStatus int

const (
	DueNotSpecified DueStatus = iota
	DueInvalid
	DueKnown
)

// DaysUntilDue is either a whole number of days or one of the sentinels
// "not specified" and "error".
type DaysUntilDue struct {
	Status DueStatus
	Days   int
}

// String renders the value the way it appears in exports
func (d DaysUntilDue) String() string {
	switch d.Status {
	case DueKnown:
		return strconv.Itoa(d.Days)
	case DueInvalid:
		return DateError
	default:
		return NotSpecified
	}
}

// MarshalJSON writes known values as numbers and sentinels as strings
func (d DaysUntilDue) MarshalJSON() ([]byte, error) {
	if d.Status == DueKnown {
		return json.Marshal(d.Days)
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts an integer or one of the sentinel strings
func (d *DaysUntilDue) UnmarshalJSON(data []byte) error {
	var days int
	if err := json.Unmarshal(data, &days); err == nil {
		*d = DaysUntilDue{Status: DueKnown, Days: days}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("days_until_due must be an integer or string: %w", err)
	}
	switch s {
	case NotSpecified, "":
		*d = DaysUntilDue{Status: DueNotSpecified}
	case DateError:
		*d = DaysUntilDue{Status: DueInvalid}
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("unknown days_until_due value %q", s)
		}
		*d = DaysUntilDue{Status: DueKnown, Days: n}
	}
	return nil
}

// InvoiceRecord is the canonical result of one extraction. Absent fields are nil.
type InvoiceRecord struct {
	Provider      *string      `json:"provider,omitempty"`
	TotalAmount   *string      `json:"total_amount,omitempty"`
	InvoiceNumber *string      `json:"invoice_number,omitempty"`
	PurchaseDate  *string      `json:"purchase_date,omitempty"`
	DueDate       *string      `json:"due_date,omitempty"`
	Branch        *string      `json:"branch,omitempty"`
	DaysUntilDue  DaysUntilDue `json:"days_until_due"`
}

// Value returns the rendered value of the named field, or "" when absent
func (r *InvoiceRecord) Value(field string) string {
	if field == FieldDaysUntilDue {
		return r.DaysUntilDue.String()
	}
	if p := r.slot(field); p != nil && *p != nil {
		return **p
	}
	return ""
}

// Values returns every field rendered in Fields order
func (r *InvoiceRecord) Values() []string {
	values := make([]string, len(Fields))
	for i, f := range Fields {
		values[i] = r.Value(f)
	}
	return values
}

// slot maps a projected field name to its storage
func (r *InvoiceRecord) slot(field string) **string {
	switch field {
	case FieldProvider:
		return &r.Provider
	case FieldTotalAmount:
		return &r.TotalAmount
	case FieldInvoiceNumber:
		return &r.InvoiceNumber
	case FieldPurchaseDate:
		return &r.PurchaseDate
	case FieldDueDate:
		return &r.DueDate
	case FieldBranch:
		return &r.Branch
	}
	return nil
}
