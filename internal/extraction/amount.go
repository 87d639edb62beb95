package extraction

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount parses total_amount as a decimal. Currency symbols and grouping
// separators are ignored; both "1.234,56" and "1,234.56" are understood.
// It returns false when the field is absent or not numeric.
func (r *InvoiceRecord) Amount() (decimal.Decimal, bool) {
	if r.TotalAmount == nil {
		return decimal.Zero, false
	}
	return ParseAmount(*r.TotalAmount)
}

// ParseAmount converts free-form money text into a decimal
func ParseAmount(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c == '.', c == ',':
			b.WriteRune(c)
		case c == '-' && b.Len() == 0:
			b.WriteRune(c)
		}
	}
	digits := b.String()
	if strings.Trim(digits, "-.,") == "" {
		return decimal.Zero, false
	}

	lastDot := strings.LastIndexByte(digits, '.')
	lastComma := strings.LastIndexByte(digits, ',')
	switch {
	case lastDot != -1 && lastComma != -1:
		if lastComma > lastDot {
			digits = strings.ReplaceAll(digits, ".", "")
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	case lastComma != -1:
		digits = singleSeparator(digits, ",")
	case lastDot != -1:
		digits = singleSeparator(digits, ".")
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// singleSeparator resolves text that uses only one kind of separator. A
// repeated separator, or a single one followed by exactly three digits after
// a non-zero integer part, is grouping. Anything else is a decimal point.
func singleSeparator(digits, sep string) string {
	i := strings.LastIndex(digits, sep)
	whole := strings.TrimLeft(digits[:i], "-")
	grouping := strings.Count(digits, sep) > 1 ||
		(len(digits)-i-1 == 3 && whole != "" && strings.Trim(whole, "0") != "")
	if grouping {
		return strings.ReplaceAll(digits, sep, "")
	}
	return strings.Replace(digits, sep, ".", 1)
}
