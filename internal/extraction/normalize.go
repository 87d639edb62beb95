package extraction

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the dd/mm/yyyy layout used for invoice dates. Single digit
// days and months are accepted.
const DateLayout = "2/1/2006"

const secondsPerDay = 24 * 60 * 60

// alias maps a key the model may reply with onto a record field
type alias struct {
	key   string
	field string
}

// aliases are checked in order after the canonical names. Models prompted in
// Spanish tend to echo the labels from the prompt.
var aliases = []alias{
	{"Proveedor", FieldProvider},
	{"Monto total", FieldTotalAmount},
	{"Número de factura", FieldInvoiceNumber},
	{"Numero de factura", FieldInvoiceNumber},
	{"Fecha de compra", FieldPurchaseDate},
	{"Fecha de compra (dd/mm/aaaa)", FieldPurchaseDate},
	{"Fecha de vencimiento", FieldDueDate},
	{"Fecha de vencimiento (si existe)", FieldDueDate},
	{"Sucursal", FieldBranch},
	{"Sucursal (si aparece)", FieldBranch},
}

// Normalize parses a carved candidate into an InvoiceRecord. The only error
// it returns is a *Failure of kind NoJSONFound or MalformedJSON. A due date
// that cannot be parsed is reported in-band through DaysUntilDue.
func Normalize(c Candidate, now time.Time) (*InvoiceRecord, error) {
	if !c.Found() {
		return nil, &Failure{Kind: NoJSONFound}
	}

	obj, err := decodeObject(c.String())
	if err != nil {
		return nil, NewFailure(MalformedJSON, err)
	}

	record := &InvoiceRecord{}
	for _, field := range Fields {
		if slot := record.slot(field); slot != nil {
			if v, ok := scalar(obj[field]); ok {
				*slot = &v
			}
		}
	}
	for _, a := range aliases {
		slot := record.slot(a.field)
		if *slot != nil {
			continue
		}
		if v, ok := scalar(obj[a.key]); ok {
			*slot = &v
		}
	}

	record.RefreshDaysUntilDue(now)
	return record, nil
}

// ParseDate parses a dd/mm/yyyy date at midnight in loc
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
}

// RefreshDaysUntilDue recomputes DaysUntilDue from DueDate as of now
func (r *InvoiceRecord) RefreshDaysUntilDue(now time.Time) {
	r.DaysUntilDue = daysUntilDue(r.DueDate, now)
}

func daysUntilDue(dueDate *string, now time.Time) DaysUntilDue {
	if dueDate == nil || strings.TrimSpace(*dueDate) == "" {
		return DaysUntilDue{Status: DueNotSpecified}
	}

	due, err := ParseDate(*dueDate, now.Location())
	if err != nil {
		return DaysUntilDue{Status: DueInvalid}
	}

	// Unix seconds avoid the ~292 year range of time.Duration
	return DaysUntilDue{
		Status: DueKnown,
		Days:   int((due.Unix() - now.Unix()) / secondsPerDay),
	}
}

func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("reply JSON is not an object")
	}
	return obj, nil
}

// scalar renders a decoded JSON value as text. Null, objects and arrays are
// treated as absent.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
